package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cuadrecaja/backend/internal/domain"
	"cuadrecaja/backend/internal/store"
	"cuadrecaja/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, code, name, unit_cost_cents, unit_price_cents, stock_qty, initial_stock, created_by, created_at, updated_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, venue_id, code, name, unit_cost_cents, unit_price_cents, stock_qty, initial_stock, created_by, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id), &p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, venue_id, code, name, unit_cost_cents, unit_price_cents, stock_qty, initial_stock, created_by, created_at, updated_at
		FROM products
		WHERE code = $1
	`, code), &p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Code == "" || product.Name == "" {
		return nil, store.ErrValidation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, venue_id, code, name, unit_cost_cents, unit_price_cents, stock_qty, initial_stock, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.VenueID, product.Code, product.Name, product.UnitCostCents, product.UnitPriceCents,
		product.StockQty, product.InitialStock, product.CreatedBy, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := product
	return &created, nil
}

// UpdateProduct never touches stock_qty; the counter only moves through
// ledger compensations.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, unit_cost_cents = $3, unit_price_cents = $4, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.UnitCostCents, product.UnitPriceCents)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ID)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var refs int
	err = tx.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM inflow_events WHERE product_id = $1)
		     + (SELECT count(*) FROM sale_events WHERE product_id = $1)
	`, id).Scan(&refs)
	if err != nil {
		return err
	}
	if refs > 0 {
		return store.ErrValidation
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return tx.Commit()
}

// adjustStockTx applies a signed delta as one conditional UPDATE. The guard
// in the WHERE clause is what keeps the counter from going negative without
// a read-then-write race.
func adjustStockTx(ctx context.Context, tx *sql.Tx, productID string, delta int64) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty + $2, updated_at = now()
		WHERE id = $1 AND stock_qty + $2 >= 0
	`, productID, delta)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConsistency
}

func (s *Store) CreateInflow(ctx context.Context, event domain.InflowEvent) (*domain.InflowEvent, error) {
	if event.ID == "" || event.ProductID == "" || event.Quantity <= 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := adjustStockTx(ctx, tx, event.ProductID, event.Quantity); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inflow_events (id, venue_id, product_id, product_name, quantity, occurred_at, recorded_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, event.ID, event.VenueID, event.ProductID, event.ProductName, event.Quantity,
		event.OccurredAt, event.RecordedBy, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := event
	return &created, nil
}

func (s *Store) GetInflow(ctx context.Context, id string) (*domain.InflowEvent, error) {
	var ev domain.InflowEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, venue_id, product_id, product_name, quantity, occurred_at, recorded_by, created_at, updated_at
		FROM inflow_events
		WHERE id = $1
	`, id).Scan(&ev.ID, &ev.VenueID, &ev.ProductID, &ev.ProductName, &ev.Quantity, &ev.OccurredAt, &ev.RecordedBy, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (s *Store) UpdateInflow(ctx context.Context, event domain.InflowEvent) (*domain.InflowEvent, error) {
	if event.Quantity <= 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	var oldQty int64
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity FROM inflow_events WHERE id = $1 FOR UPDATE
	`, event.ID).Scan(&productID, &oldQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := adjustStockTx(ctx, tx, productID, event.Quantity-oldQty); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inflow_events
		SET quantity = $2, occurred_at = $3, updated_at = $4
		WHERE id = $1
	`, event.ID, event.Quantity, event.OccurredAt, event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetInflow(ctx, event.ID)
}

func (s *Store) DeleteInflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	var qty int64
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity FROM inflow_events WHERE id = $1 FOR UPDATE
	`, id).Scan(&productID, &qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	if err := adjustStockTx(ctx, tx, productID, -qty); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM inflow_events WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListInflows(ctx context.Context, from time.Time, to time.Time, productID string) ([]domain.InflowEvent, error) {
	from, to = windowBounds(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, product_id, product_name, quantity, occurred_at, recorded_by, created_at, updated_at
		FROM inflow_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND ($3 = '' OR product_id = $3)
		ORDER BY occurred_at, id
	`, from, to, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.InflowEvent, 0, 64)
	for rows.Next() {
		var ev domain.InflowEvent
		if err := rows.Scan(&ev.ID, &ev.VenueID, &ev.ProductID, &ev.ProductName, &ev.Quantity, &ev.OccurredAt, &ev.RecordedBy, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// CreateSale commits the event row and the stock decrement in one transaction.
// The UPDATE revalidates the stock value the quantity was derived from; zero
// rows affected means either the race was lost (ErrConflict) or the write
// would take the counter negative (ErrConsistency).
func (s *Store) CreateSale(ctx context.Context, event domain.SaleEvent, expectedStock int64) (*domain.SaleEvent, error) {
	if event.ID == "" || event.ProductID == "" || event.Quantity == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock_qty = stock_qty - $3, updated_at = now()
		WHERE id = $1 AND stock_qty = $2 AND stock_qty - $3 >= 0
	`, event.ProductID, expectedStock, event.Quantity)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT stock_qty FROM products WHERE id = $1`, event.ProductID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if current != expectedStock {
			return nil, store.ErrConflict
		}
		return nil, store.ErrConsistency
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sale_events (id, venue_id, product_id, product_name, quantity, observed_count,
			price_at_sale_cents, cost_at_sale_cents, amount_cents, cogs_cents, occurred_at, recorded_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, event.ID, event.VenueID, event.ProductID, event.ProductName, event.Quantity, event.ObservedCount,
		event.PriceAtSaleCents, event.CostAtSaleCents, event.AmountCents, event.CogsCents,
		event.OccurredAt, event.RecordedBy, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := event
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SaleEvent, error) {
	var ev domain.SaleEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, venue_id, product_id, product_name, quantity, observed_count,
			price_at_sale_cents, cost_at_sale_cents, amount_cents, cogs_cents, occurred_at, recorded_by, created_at, updated_at
		FROM sale_events
		WHERE id = $1
	`, id).Scan(&ev.ID, &ev.VenueID, &ev.ProductID, &ev.ProductName, &ev.Quantity, &ev.ObservedCount,
		&ev.PriceAtSaleCents, &ev.CostAtSaleCents, &ev.AmountCents, &ev.CogsCents, &ev.OccurredAt, &ev.RecordedBy, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ev, nil
}

func (s *Store) UpdateSale(ctx context.Context, event domain.SaleEvent) (*domain.SaleEvent, error) {
	if event.Quantity == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	var oldQty int64
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity FROM sale_events WHERE id = $1 FOR UPDATE
	`, event.ID).Scan(&productID, &oldQty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := adjustStockTx(ctx, tx, productID, oldQty-event.Quantity); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sale_events
		SET quantity = $2, price_at_sale_cents = $3, cost_at_sale_cents = $4,
		    amount_cents = $5, cogs_cents = $6, occurred_at = $7, updated_at = $8
		WHERE id = $1
	`, event.ID, event.Quantity, event.PriceAtSaleCents, event.CostAtSaleCents,
		event.AmountCents, event.CogsCents, event.OccurredAt, event.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSale(ctx, event.ID)
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var productID string
	var qty int64
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity FROM sale_events WHERE id = $1 FOR UPDATE
	`, id).Scan(&productID, &qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	if err := adjustStockTx(ctx, tx, productID, qty); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_events WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, productID string) ([]domain.SaleEvent, error) {
	from, to = windowBounds(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, product_id, product_name, quantity, observed_count,
			price_at_sale_cents, cost_at_sale_cents, amount_cents, cogs_cents, occurred_at, recorded_by, created_at, updated_at
		FROM sale_events
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND ($3 = '' OR product_id = $3)
		ORDER BY occurred_at, id
	`, from, to, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.SaleEvent, 0, 64)
	for rows.Next() {
		var ev domain.SaleEvent
		if err := rows.Scan(&ev.ID, &ev.VenueID, &ev.ProductID, &ev.ProductName, &ev.Quantity, &ev.ObservedCount,
			&ev.PriceAtSaleCents, &ev.CostAtSaleCents, &ev.AmountCents, &ev.CogsCents, &ev.OccurredAt, &ev.RecordedBy, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) CreateCashEntry(ctx context.Context, entry domain.CashEntry) (*domain.CashEntry, error) {
	if entry.ID == "" || entry.Date == "" {
		return nil, store.ErrValidation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_entries (id, venue_id, entry_date, total_physical_cash_cents, time_revenue_cents, product_cash_cents, recorded_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.VenueID, entry.Date, entry.TotalPhysicalCashCents, entry.TimeRevenueCents,
		entry.ProductCashCents, entry.RecordedBy, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		// entry_date carries a unique constraint: one count per calendar day.
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := entry
	return &created, nil
}

func (s *Store) GetCashEntry(ctx context.Context, id string) (*domain.CashEntry, error) {
	var e domain.CashEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, venue_id, entry_date, total_physical_cash_cents, time_revenue_cents, product_cash_cents, recorded_by, created_at, updated_at
		FROM cash_entries
		WHERE id = $1
	`, id).Scan(&e.ID, &e.VenueID, &e.Date, &e.TotalPhysicalCashCents, &e.TimeRevenueCents, &e.ProductCashCents, &e.RecordedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *Store) UpdateCashEntry(ctx context.Context, entry domain.CashEntry) (*domain.CashEntry, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cash_entries
		SET total_physical_cash_cents = $2, time_revenue_cents = $3, product_cash_cents = $4, updated_at = $5
		WHERE id = $1
	`, entry.ID, entry.TotalPhysicalCashCents, entry.TimeRevenueCents, entry.ProductCashCents, entry.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCashEntry(ctx, entry.ID)
}

func (s *Store) DeleteCashEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cash_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCashEntries(ctx context.Context, fromDate string, toDate string) ([]domain.CashEntry, error) {
	if fromDate == "" {
		fromDate = "0001-01-01"
	}
	if toDate == "" {
		toDate = "9999-12-31"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, entry_date, total_physical_cash_cents, time_revenue_cents, product_cash_cents, recorded_by, created_at, updated_at
		FROM cash_entries
		WHERE entry_date >= $1 AND entry_date <= $2
		ORDER BY entry_date
	`, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CashEntry, 0, 32)
	for rows.Next() {
		var e domain.CashEntry
		if err := rows.Scan(&e.ID, &e.VenueID, &e.Date, &e.TotalPhysicalCashCents, &e.TimeRevenueCents, &e.ProductCashCents, &e.RecordedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.ID == "" || tx.AmountCents <= 0 {
		return nil, store.ErrValidation
	}
	if tx.Kind != domain.TransactionKindExpense && tx.Kind != domain.TransactionKindIncome {
		return nil, store.ErrValidation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal_transactions (id, venue_id, kind, amount_cents, description, occurred_at, recorded_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, tx.ID, tx.VenueID, tx.Kind, tx.AmountCents, tx.Description, tx.OccurredAt, tx.RecordedBy, tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	created := tx
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, venue_id, kind, amount_cents, description, occurred_at, recorded_by, created_at, updated_at
		FROM journal_transactions
		WHERE id = $1
	`, id).Scan(&t.ID, &t.VenueID, &t.Kind, &t.AmountCents, &t.Description, &t.OccurredAt, &t.RecordedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.AmountCents <= 0 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE journal_transactions
		SET amount_cents = $2, description = $3, updated_at = $4
		WHERE id = $1
	`, tx.ID, tx.AmountCents, tx.Description, tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetTransaction(ctx, tx.ID)
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM journal_transactions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, from time.Time, to time.Time, kind string) ([]domain.Transaction, error) {
	from, to = windowBounds(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, kind, amount_cents, description, occurred_at, recorded_by, created_at, updated_at
		FROM journal_transactions
		WHERE occurred_at >= $1 AND occurred_at < $2
		  AND ($3 = '' OR kind = $3)
		ORDER BY occurred_at, id
	`, from, to, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.VenueID, &t.Kind, &t.AmountCents, &t.Description, &t.OccurredAt, &t.RecordedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.OccurredAt = t.OccurredAt.UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// CreateCut is idempotent by id. ON CONFLICT DO NOTHING followed by a
// re-read means a retried confirm returns the archived row unchanged.
func (s *Store) CreateCut(ctx context.Context, cut domain.Cut) (*domain.Cut, error) {
	if cut.ID == "" {
		return nil, store.ErrValidation
	}

	breakdown, err := json.Marshal(cut.ProductBreakdown)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cuts (id, venue_id, start_date, end_date, total_revenue_cents, total_cogs_cents,
			total_time_cents, total_physical_cash_cents, physical_product_cash_cents, reconciliation_diff_cents,
			total_other_income_cents, total_expenses_cents, suggested_payroll_cents, input_payroll_cents,
			cash_adjustment_cents, actual_payroll_paid_cents, net_profit_cents, product_breakdown, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO NOTHING
	`, cut.ID, cut.VenueID, cut.StartDate, cut.EndDate, cut.TotalRevenueCents, cut.TotalCogsCents,
		cut.TotalTimeCents, cut.TotalPhysicalCashCents, cut.PhysicalProductCashCents, cut.ReconciliationDiffCents,
		cut.TotalOtherIncomeCents, cut.TotalExpensesCents, cut.SuggestedPayrollCents, cut.InputPayrollCents,
		cut.CashAdjustmentCents, cut.ActualPayrollPaidCents, cut.NetProfitCents, breakdown, cut.CreatedBy, cut.CreatedAt)
	if err != nil {
		return nil, err
	}

	return s.GetCut(ctx, cut.ID)
}

func (s *Store) GetCut(ctx context.Context, id string) (*domain.Cut, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, venue_id, start_date, end_date, total_revenue_cents, total_cogs_cents,
			total_time_cents, total_physical_cash_cents, physical_product_cash_cents, reconciliation_diff_cents,
			total_other_income_cents, total_expenses_cents, suggested_payroll_cents, input_payroll_cents,
			cash_adjustment_cents, actual_payroll_paid_cents, net_profit_cents, product_breakdown, created_by, created_at
		FROM cuts
		WHERE id = $1
	`, id)

	cut, err := scanCut(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return cut, nil
}

func (s *Store) ListCuts(ctx context.Context, from time.Time, to time.Time) ([]domain.Cut, error) {
	from, to = windowBounds(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, start_date, end_date, total_revenue_cents, total_cogs_cents,
			total_time_cents, total_physical_cash_cents, physical_product_cash_cents, reconciliation_diff_cents,
			total_other_income_cents, total_expenses_cents, suggested_payroll_cents, input_payroll_cents,
			cash_adjustment_cents, actual_payroll_paid_cents, net_profit_cents, product_breakdown, created_by, created_at
		FROM cuts
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cuts := make([]domain.Cut, 0, 16)
	for rows.Next() {
		cut, err := scanCut(rows)
		if err != nil {
			return nil, err
		}
		cuts = append(cuts, *cut)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cuts, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, venue_id, actor, action, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, entry.VenueID, entry.Actor, entry.Action, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	from, to = windowBounds(from, to)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue_id, actor, action, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.VenueID, &entry.Actor, &entry.Action, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (username) DO NOTHING
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, p *domain.Product) error {
	return row.Scan(&p.ID, &p.VenueID, &p.Code, &p.Name, &p.UnitCostCents, &p.UnitPriceCents, &p.StockQty, &p.InitialStock, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
}

func scanCut(row rowScanner) (*domain.Cut, error) {
	var cut domain.Cut
	var breakdown []byte
	err := row.Scan(&cut.ID, &cut.VenueID, &cut.StartDate, &cut.EndDate, &cut.TotalRevenueCents, &cut.TotalCogsCents,
		&cut.TotalTimeCents, &cut.TotalPhysicalCashCents, &cut.PhysicalProductCashCents, &cut.ReconciliationDiffCents,
		&cut.TotalOtherIncomeCents, &cut.TotalExpensesCents, &cut.SuggestedPayrollCents, &cut.InputPayrollCents,
		&cut.CashAdjustmentCents, &cut.ActualPayrollPaidCents, &cut.NetProfitCents, &breakdown, &cut.CreatedBy, &cut.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &cut.ProductBreakdown); err != nil {
			return nil, err
		}
	}
	cut.CreatedAt = cut.CreatedAt.UTC()
	return &cut, nil
}

func windowBounds(from time.Time, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return from, to
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
