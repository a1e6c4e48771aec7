package store

import (
	"context"
	"errors"
	"time"

	"cuadrecaja/backend/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("stock changed concurrently")
	ErrConsistency = errors.New("stock would become negative")
)

// Repository is the persistence contract for the ledger. Implementations must
// keep every stock compensation atomic: an event mutation and its stock delta
// commit together or not at all, and stock writes are conditional increments,
// never read-then-write. CreateSale additionally revalidates the expected
// stock value and returns ErrConflict when it lost the race.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	CreateInflow(ctx context.Context, event domain.InflowEvent) (*domain.InflowEvent, error)
	GetInflow(ctx context.Context, id string) (*domain.InflowEvent, error)
	UpdateInflow(ctx context.Context, event domain.InflowEvent) (*domain.InflowEvent, error)
	DeleteInflow(ctx context.Context, id string) error
	ListInflows(ctx context.Context, from time.Time, to time.Time, productID string) ([]domain.InflowEvent, error)

	CreateSale(ctx context.Context, event domain.SaleEvent, expectedStock int64) (*domain.SaleEvent, error)
	GetSale(ctx context.Context, id string) (*domain.SaleEvent, error)
	UpdateSale(ctx context.Context, event domain.SaleEvent) (*domain.SaleEvent, error)
	DeleteSale(ctx context.Context, id string) error
	ListSales(ctx context.Context, from time.Time, to time.Time, productID string) ([]domain.SaleEvent, error)

	CreateCashEntry(ctx context.Context, entry domain.CashEntry) (*domain.CashEntry, error)
	GetCashEntry(ctx context.Context, id string) (*domain.CashEntry, error)
	UpdateCashEntry(ctx context.Context, entry domain.CashEntry) (*domain.CashEntry, error)
	DeleteCashEntry(ctx context.Context, id string) error
	ListCashEntries(ctx context.Context, fromDate string, toDate string) ([]domain.CashEntry, error)

	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	ListTransactions(ctx context.Context, from time.Time, to time.Time, kind string) ([]domain.Transaction, error)

	CreateCut(ctx context.Context, cut domain.Cut) (*domain.Cut, error)
	GetCut(ctx context.Context, id string) (*domain.Cut, error)
	ListCuts(ctx context.Context, from time.Time, to time.Time) ([]domain.Cut, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
