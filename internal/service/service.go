package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"cuadrecaja/backend/internal/cache"
	"cuadrecaja/backend/internal/domain"
	"cuadrecaja/backend/internal/store"
	"cuadrecaja/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// saleRetryAttempts bounds the internal compare-and-swap retry loop in
// RecordSale. After this many lost races the ErrConflict surfaces to the
// caller, who must re-derive the quantity from a fresh stock read anyway.
const saleRetryAttempts = 3

type Service struct {
	repo               store.Repository
	previews           cache.PreviewCache
	venueID            string
	payrollRatePercent float64
	previewTTL         time.Duration
}

func New(repo store.Repository, previews cache.PreviewCache, venueID string, payrollRatePercent float64, previewTTL time.Duration) *Service {
	if venueID == "" {
		venueID = "main-venue"
	}
	if previews == nil {
		previews = cache.NoopPreviewCache{}
	}
	if payrollRatePercent < 0 {
		payrollRatePercent = 0
	}
	if previewTTL <= 0 {
		previewTTL = 15 * time.Second
	}

	return &Service{
		repo:               repo,
		previews:           previews,
		venueID:            venueID,
		payrollRatePercent: payrollRatePercent,
		previewTTL:         previewTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) (domain.ProductListResponse, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.ProductListResponse{}, err
	}

	var valueCents int64
	for _, p := range products {
		valueCents += p.StockQty * p.UnitCostCents
	}
	return domain.ProductListResponse{Products: products, InventoryValueCents: valueCents}, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.UnitCostCents < 0 || req.UnitPriceCents < 0 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrValidation
	}

	now := time.Now().UTC()
	product := domain.Product{
		ID:             xid.New("prd"),
		VenueID:        s.venueID,
		Code:           req.Code,
		Name:           req.Name,
		UnitCostCents:  req.UnitCostCents,
		UnitPriceCents: req.UnitPriceCents,
		StockQty:       req.InitialStock,
		InitialStock:   req.InitialStock,
		CreatedBy:      actor.Username,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", created.ID, fmt.Sprintf("code=%s,name=%s,stock=%d", created.Code, created.Name, created.StockQty))
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) GetProductByCode(ctx context.Context, code string) (domain.Product, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.Product{}, store.ErrValidation
	}
	product, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// UpdateProduct changes the descriptive fields only. Stock is off limits:
// the counter moves exclusively through ledger compensations.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.UnitCostCents != nil {
		if *req.UnitCostCents < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.UnitCostCents = *req.UnitCostCents
	}
	if req.UnitPriceCents != nil {
		if *req.UnitPriceCents < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.UnitPriceCents = *req.UnitPriceCents
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", saved.ID, fmt.Sprintf("name=%s,cost=%d,price=%d", saved.Name, saved.UnitCostCents, saved.UnitPriceCents))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", id, "")
	return nil
}

func (s *Service) RecordInflow(ctx context.Context, req domain.InflowCreateRequest) (domain.InflowEvent, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.InflowEvent{}, fmt.Errorf("authentication required")
	}
	if req.ProductID == "" || req.Quantity <= 0 {
		return domain.InflowEvent{}, store.ErrValidation
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.InflowEvent{}, err
	}

	now := time.Now().UTC()
	occurredAt := now
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	event := domain.InflowEvent{
		ID:          xid.New("inf"),
		VenueID:     s.venueID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    req.Quantity,
		OccurredAt:  occurredAt,
		RecordedBy:  actor.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateInflow(ctx, event)
	if err != nil {
		return domain.InflowEvent{}, err
	}

	s.logAudit(ctx, "inflow_record", created.ID, fmt.Sprintf("product=%s,qty=%d", created.ProductID, created.Quantity))
	return *created, nil
}

func (s *Service) EditInflow(ctx context.Context, id string, req domain.InflowUpdateRequest) (domain.InflowEvent, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.InflowEvent{}, fmt.Errorf("authentication required")
	}
	if req.Quantity <= 0 {
		return domain.InflowEvent{}, store.ErrValidation
	}

	existing, err := s.repo.GetInflow(ctx, id)
	if err != nil {
		return domain.InflowEvent{}, err
	}

	updated := *existing
	updated.Quantity = req.Quantity
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateInflow(ctx, updated)
	if err != nil {
		return domain.InflowEvent{}, err
	}

	s.logAudit(ctx, "inflow_edit", saved.ID, fmt.Sprintf("qty=%d->%d", existing.Quantity, saved.Quantity))
	return *saved, nil
}

func (s *Service) DeleteInflow(ctx context.Context, id string) error {
	if _, ok := ActorFromContext(ctx); !ok {
		return fmt.Errorf("authentication required")
	}
	if err := s.repo.DeleteInflow(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "inflow_delete", id, "")
	return nil
}

// RecordSale derives the sold quantity from the gap between the tracked stock
// and the operator's physical count, snapshots the product's current price and
// cost into the event, and commits the stock decrement as a compare-and-swap
// against the stock value the quantity was derived from. A lost race is
// retried with a fresh read a few times before ErrConflict surfaces.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleEvent, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SaleEvent{}, fmt.Errorf("authentication required")
	}
	if req.ProductID == "" || req.ObservedCount < 0 {
		return domain.SaleEvent{}, store.ErrValidation
	}

	var lastErr error
	for attempt := 0; attempt < saleRetryAttempts; attempt++ {
		product, err := s.repo.GetProduct(ctx, req.ProductID)
		if err != nil {
			return domain.SaleEvent{}, err
		}

		quantity := product.StockQty - req.ObservedCount
		if quantity == 0 {
			return domain.SaleEvent{}, store.ErrValidation
		}

		now := time.Now().UTC()
		occurredAt := now
		if req.OccurredAt != nil {
			occurredAt = req.OccurredAt.UTC()
		}

		event := domain.SaleEvent{
			ID:               xid.New("sale"),
			VenueID:          s.venueID,
			ProductID:        product.ID,
			ProductName:      product.Name,
			Quantity:         quantity,
			ObservedCount:    req.ObservedCount,
			PriceAtSaleCents: product.UnitPriceCents,
			CostAtSaleCents:  product.UnitCostCents,
			AmountCents:      quantity * product.UnitPriceCents,
			CogsCents:        quantity * product.UnitCostCents,
			OccurredAt:       occurredAt,
			RecordedBy:       actor.Username,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		created, err := s.repo.CreateSale(ctx, event, product.StockQty)
		if errors.Is(err, store.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return domain.SaleEvent{}, err
		}

		s.logAudit(ctx, "sale_record", created.ID, fmt.Sprintf("product=%s,qty=%d,amount=%d", created.ProductID, created.Quantity, created.AmountCents))
		return *created, nil
	}
	return domain.SaleEvent{}, lastErr
}

// EditSale rewrites the quantity of a captured sale. Amount and cogs are
// recomputed from the event's frozen price and cost, never from the product's
// current values; use RepriceSale to re-snapshot those deliberately.
func (s *Service) EditSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.SaleEvent, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.SaleEvent{}, fmt.Errorf("authentication required")
	}
	if req.Quantity == 0 {
		return domain.SaleEvent{}, store.ErrValidation
	}

	existing, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleEvent{}, err
	}

	updated := *existing
	updated.Quantity = req.Quantity
	updated.AmountCents = req.Quantity * existing.PriceAtSaleCents
	updated.CogsCents = req.Quantity * existing.CostAtSaleCents
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateSale(ctx, updated)
	if err != nil {
		return domain.SaleEvent{}, err
	}

	s.logAudit(ctx, "sale_edit", saved.ID, fmt.Sprintf("qty=%d->%d", existing.Quantity, saved.Quantity))
	return *saved, nil
}

// RepriceSale re-snapshots the sale's price and cost from the product's
// current values and recomputes amount and cogs. The quantity is unchanged,
// so the stock counter does not move.
func (s *Service) RepriceSale(ctx context.Context, id string) (domain.SaleEvent, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.SaleEvent{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleEvent{}, err
	}
	product, err := s.repo.GetProduct(ctx, existing.ProductID)
	if err != nil {
		return domain.SaleEvent{}, err
	}

	updated := *existing
	updated.PriceAtSaleCents = product.UnitPriceCents
	updated.CostAtSaleCents = product.UnitCostCents
	updated.AmountCents = existing.Quantity * product.UnitPriceCents
	updated.CogsCents = existing.Quantity * product.UnitCostCents
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateSale(ctx, updated)
	if err != nil {
		return domain.SaleEvent{}, err
	}

	s.logAudit(ctx, "sale_reprice", saved.ID, fmt.Sprintf("price=%d,cost=%d", saved.PriceAtSaleCents, saved.CostAtSaleCents))
	return *saved, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	if _, ok := ActorFromContext(ctx); !ok {
		return fmt.Errorf("authentication required")
	}
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "sale_delete", id, "")
	return nil
}

func (s *Service) QueryMovements(ctx context.Context, startDate string, endDate string, productID string) (domain.MovementListResponse, error) {
	from, to, err := parseWindow(startDate, endDate)
	if err != nil {
		return domain.MovementListResponse{}, err
	}

	inflows, err := s.repo.ListInflows(ctx, from, to, productID)
	if err != nil {
		return domain.MovementListResponse{}, err
	}
	sales, err := s.repo.ListSales(ctx, from, to, productID)
	if err != nil {
		return domain.MovementListResponse{}, err
	}
	return domain.MovementListResponse{Inflows: inflows, Sales: sales}, nil
}

func (s *Service) RecordCashEntry(ctx context.Context, req domain.CashEntryCreateRequest) (domain.CashEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashEntry{}, fmt.Errorf("authentication required")
	}

	date := strings.TrimSpace(req.Date)
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return domain.CashEntry{}, store.ErrValidation
	}
	if req.TotalPhysicalCashCents < 0 || req.TimeRevenueCents < 0 {
		return domain.CashEntry{}, store.ErrValidation
	}

	now := time.Now().UTC()
	entry := domain.CashEntry{
		ID:                     xid.New("cash"),
		VenueID:                s.venueID,
		Date:                   date,
		TotalPhysicalCashCents: req.TotalPhysicalCashCents,
		TimeRevenueCents:       req.TimeRevenueCents,
		ProductCashCents:       req.TotalPhysicalCashCents - req.TimeRevenueCents,
		RecordedBy:             actor.Username,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	created, err := s.repo.CreateCashEntry(ctx, entry)
	if err != nil {
		return domain.CashEntry{}, err
	}

	s.logAudit(ctx, "cash_entry_record", created.ID, fmt.Sprintf("date=%s,total=%d,time=%d", created.Date, created.TotalPhysicalCashCents, created.TimeRevenueCents))
	return *created, nil
}

func (s *Service) EditCashEntry(ctx context.Context, id string, req domain.CashEntryUpdateRequest) (domain.CashEntry, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.CashEntry{}, fmt.Errorf("authentication required")
	}

	existing, err := s.repo.GetCashEntry(ctx, id)
	if err != nil {
		return domain.CashEntry{}, err
	}

	updated := *existing
	if req.TotalPhysicalCashCents != nil {
		if *req.TotalPhysicalCashCents < 0 {
			return domain.CashEntry{}, store.ErrValidation
		}
		updated.TotalPhysicalCashCents = *req.TotalPhysicalCashCents
	}
	if req.TimeRevenueCents != nil {
		if *req.TimeRevenueCents < 0 {
			return domain.CashEntry{}, store.ErrValidation
		}
		updated.TimeRevenueCents = *req.TimeRevenueCents
	}
	updated.ProductCashCents = updated.TotalPhysicalCashCents - updated.TimeRevenueCents
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateCashEntry(ctx, updated)
	if err != nil {
		return domain.CashEntry{}, err
	}

	s.logAudit(ctx, "cash_entry_edit", saved.ID, fmt.Sprintf("date=%s,total=%d,time=%d", saved.Date, saved.TotalPhysicalCashCents, saved.TimeRevenueCents))
	return *saved, nil
}

func (s *Service) DeleteCashEntry(ctx context.Context, id string) error {
	if _, ok := ActorFromContext(ctx); !ok {
		return fmt.Errorf("authentication required")
	}
	if err := s.repo.DeleteCashEntry(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "cash_entry_delete", id, "")
	return nil
}

func (s *Service) ListCashEntries(ctx context.Context, fromDate string, toDate string) ([]domain.CashEntry, error) {
	if fromDate != "" {
		if _, err := time.Parse(domain.DateLayout, fromDate); err != nil {
			return nil, store.ErrValidation
		}
	}
	if toDate != "" {
		if _, err := time.Parse(domain.DateLayout, toDate); err != nil {
			return nil, store.ErrValidation
		}
	}
	return s.repo.ListCashEntries(ctx, fromDate, toDate)
}

func (s *Service) RecordTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Transaction{}, fmt.Errorf("authentication required")
	}
	if req.Kind != domain.TransactionKindExpense && req.Kind != domain.TransactionKindIncome {
		return domain.Transaction{}, store.ErrValidation
	}
	if req.AmountCents <= 0 {
		return domain.Transaction{}, store.ErrValidation
	}

	now := time.Now().UTC()
	occurredAt := now
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	tx := domain.Transaction{
		ID:          xid.New("txn"),
		VenueID:     s.venueID,
		Kind:        req.Kind,
		AmountCents: req.AmountCents,
		Description: strings.TrimSpace(req.Description),
		OccurredAt:  occurredAt,
		RecordedBy:  actor.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateTransaction(ctx, tx)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_record", created.ID, fmt.Sprintf("kind=%s,amount=%d", created.Kind, created.AmountCents))
	return *created, nil
}

func (s *Service) EditTransaction(ctx context.Context, id string, req domain.TransactionUpdateRequest) (domain.Transaction, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.Transaction{}, fmt.Errorf("authentication required")
	}

	existing, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}

	updated := *existing
	if req.AmountCents != nil {
		if *req.AmountCents <= 0 {
			return domain.Transaction{}, store.ErrValidation
		}
		updated.AmountCents = *req.AmountCents
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateTransaction(ctx, updated)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, "transaction_edit", saved.ID, fmt.Sprintf("amount=%d", saved.AmountCents))
	return *saved, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	if _, ok := ActorFromContext(ctx); !ok {
		return fmt.Errorf("authentication required")
	}
	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "transaction_delete", id, "")
	return nil
}

func (s *Service) ListTransactions(ctx context.Context, startDate string, endDate string, kind string) ([]domain.Transaction, error) {
	if kind != "" && kind != domain.TransactionKindExpense && kind != domain.TransactionKindIncome {
		return nil, store.ErrValidation
	}
	from, to, err := parseWindow(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, from, to, kind)
}

func (s *Service) ListAuditLogs(ctx context.Context, startDate string, endDate string, limit int) ([]domain.AuditLog, error) {
	from, to, err := parseWindow(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// parseWindow turns inclusive calendar dates into a half-open UTC instant
// range: [start 00:00:00, day after end 00:00:00). Empty dates leave the
// corresponding bound open.
func parseWindow(startDate string, endDate string) (time.Time, time.Time, error) {
	var from, to time.Time
	if startDate != "" {
		parsed, err := time.Parse(domain.DateLayout, startDate)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrValidation
		}
		from = parsed.UTC()
	}
	if endDate != "" {
		parsed, err := time.Parse(domain.DateLayout, endDate)
		if err != nil {
			return time.Time{}, time.Time{}, store.ErrValidation
		}
		to = parsed.UTC().AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, store.ErrValidation
	}
	return from, to, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if detail != "" {
		detail = fmt.Sprintf("entity=%s,%s", entityID, detail)
	} else {
		detail = fmt.Sprintf("entity=%s", entityID)
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:        xid.New("audit"),
		VenueID:   s.venueID,
		Actor:     actor.Username,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
