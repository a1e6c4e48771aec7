package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cuadrecaja/backend/internal/cache"
	"cuadrecaja/backend/internal/config"
	"cuadrecaja/backend/internal/httpapi"
	"cuadrecaja/backend/internal/service"
	"cuadrecaja/backend/internal/store"
	"cuadrecaja/backend/internal/store/memory"
	pgstore "cuadrecaja/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		} else {
			repo = pg
			closers = append(closers, pg.Close)
			log.Println("repository: postgres")
		}
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	previews := cache.PreviewCache(cache.NoopPreviewCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisPreviewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			previews = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	svc := service.New(repo, previews, cfg.VenueID, cfg.PayrollRatePercent, time.Duration(cfg.PreviewTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	auditCtx, auditCancel := context.WithCancel(context.Background())
	defer auditCancel()
	if cfg.StockAuditIntervalMinutes > 0 {
		go runStockAudit(auditCtx, svc, time.Duration(cfg.StockAuditIntervalMinutes)*time.Minute)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("ledger backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	auditCancel()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// runStockAudit periodically replays the movement ledger against the live
// stock counters and logs any drift. Results are reported through the
// service's own logging; this loop only drives the schedule.
func runStockAudit(ctx context.Context, svc *service.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, checkCancel := context.WithTimeout(ctx, 30*time.Second)
			report, err := svc.VerifyStockIntegrity(checkCtx)
			checkCancel()
			if err != nil {
				log.Printf("stock audit failed: %v", err)
				continue
			}
			log.Printf("stock audit: %d products checked, %d drifted", report.CheckedProducts, len(report.Drifted))
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	// The in-memory store is a dev/demo mode; only insist on a strong secret
	// when running against a real database.
	if cfg.DatabaseURL != "" && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
