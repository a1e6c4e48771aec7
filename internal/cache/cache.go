package cache

import (
	"context"
	"time"

	"cuadrecaja/backend/internal/domain"
)

// PreviewCache stores computed cut previews keyed by window so repeated
// preview calls inside a short TTL do not re-aggregate the whole ledger.
type PreviewCache interface {
	Get(ctx context.Context, key string) (*domain.CutPreview, bool, error)
	Set(ctx context.Context, key string, value *domain.CutPreview, ttl time.Duration) error
}

type NoopPreviewCache struct{}

func (NoopPreviewCache) Get(_ context.Context, _ string) (*domain.CutPreview, bool, error) {
	return nil, false, nil
}

func (NoopPreviewCache) Set(_ context.Context, _ string, _ *domain.CutPreview, _ time.Duration) error {
	return nil
}
