package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cuadrecaja/backend/internal/domain"
	"cuadrecaja/backend/internal/store"
	"cuadrecaja/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productIDByCode map[string]string
	inflows         map[string]domain.InflowEvent
	sales           map[string]domain.SaleEvent
	cashEntries     map[string]domain.CashEntry
	cashEntryByDate map[string]string
	transactions    map[string]domain.Transaction
	cuts            map[string]domain.Cut
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"operator", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		productIDByCode: make(map[string]string),
		inflows:         make(map[string]domain.InflowEvent),
		sales:           make(map[string]domain.SaleEvent),
		cashEntries:     make(map[string]domain.CashEntry),
		cashEntryByDate: make(map[string]string),
		transactions:    make(map[string]domain.Transaction),
		cuts:            make(map[string]domain.Cut),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	seed := []domain.Product{
		{Code: "CERV-AGUILA", Name: "Cerveza Aguila 330ml", UnitCostCents: 180000, UnitPriceCents: 350000, StockQty: 48},
		{Code: "CERV-CLUB", Name: "Cerveza Club Colombia 330ml", UnitCostCents: 220000, UnitPriceCents: 400000, StockQty: 36},
		{Code: "GASEOSA", Name: "Gaseosa 400ml", UnitCostCents: 120000, UnitPriceCents: 250000, StockQty: 24},
		{Code: "AGUA", Name: "Agua en botella 600ml", UnitCostCents: 80000, UnitPriceCents: 200000, StockQty: 30},
		{Code: "SNACK-PAPAS", Name: "Papas de paquete", UnitCostCents: 150000, UnitPriceCents: 300000, StockQty: 20},
	}
	for _, p := range seed {
		p.ID = xid.New("prd")
		p.VenueID = "main-venue"
		p.InitialStock = p.StockQty
		p.CreatedBy = "seed"
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.productIDByCode[p.Code] = p.ID
	}
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productIDByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := s.products[id]
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Code == "" || product.Name == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.productIDByCode[product.Code]; exists {
		return nil, store.ErrValidation
	}

	s.products[product.ID] = product
	s.productIDByCode[product.Code] = product.ID
	created := product
	return &created, nil
}

// UpdateProduct changes name, cost and price only. The stock counter and the
// code of the stored product always win over whatever the caller passed in.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" {
		return nil, store.ErrValidation
	}

	existing.Name = product.Name
	existing.UnitCostCents = product.UnitCostCents
	existing.UnitPriceCents = product.UnitPriceCents
	existing.UpdatedAt = product.UpdatedAt
	s.products[product.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return store.ErrNotFound
	}
	for _, ev := range s.inflows {
		if ev.ProductID == id {
			return store.ErrValidation
		}
	}
	for _, ev := range s.sales {
		if ev.ProductID == id {
			return store.ErrValidation
		}
	}

	delete(s.products, id)
	delete(s.productIDByCode, product.Code)
	return nil
}

// adjustStockLocked applies a signed delta to a product's stock counter. The
// caller must hold the write lock so the read-check-write below is a single
// atomic step with respect to every other mutation.
func (s *Store) adjustStockLocked(productID string, delta int64, at time.Time) error {
	product, exists := s.products[productID]
	if !exists {
		return store.ErrNotFound
	}
	next := product.StockQty + delta
	if next < 0 {
		return store.ErrConsistency
	}
	product.StockQty = next
	product.UpdatedAt = at
	s.products[productID] = product
	return nil
}

func (s *Store) CreateInflow(_ context.Context, event domain.InflowEvent) (*domain.InflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" || event.ProductID == "" || event.Quantity <= 0 {
		return nil, store.ErrValidation
	}
	if err := s.adjustStockLocked(event.ProductID, event.Quantity, event.CreatedAt); err != nil {
		return nil, err
	}

	s.inflows[event.ID] = event
	created := event
	return &created, nil
}

func (s *Store) GetInflow(_ context.Context, id string) (*domain.InflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.inflows[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyEvent := event
	return &copyEvent, nil
}

func (s *Store) UpdateInflow(_ context.Context, event domain.InflowEvent) (*domain.InflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.inflows[event.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if event.Quantity <= 0 {
		return nil, store.ErrValidation
	}

	delta := event.Quantity - old.Quantity
	if err := s.adjustStockLocked(old.ProductID, delta, event.UpdatedAt); err != nil {
		return nil, err
	}

	old.Quantity = event.Quantity
	old.OccurredAt = event.OccurredAt
	old.UpdatedAt = event.UpdatedAt
	s.inflows[old.ID] = old
	updated := old
	return &updated, nil
}

func (s *Store) DeleteInflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.inflows[id]
	if !exists {
		return store.ErrNotFound
	}
	if err := s.adjustStockLocked(old.ProductID, -old.Quantity, time.Now().UTC()); err != nil {
		return err
	}
	delete(s.inflows, id)
	return nil
}

func (s *Store) ListInflows(_ context.Context, from time.Time, to time.Time, productID string) ([]domain.InflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.InflowEvent, 0)
	for _, ev := range s.inflows {
		if !inWindow(ev.OccurredAt, from, to) {
			continue
		}
		if productID != "" && ev.ProductID != productID {
			continue
		}
		events = append(events, ev)
	}
	sortByOccurredAt(events, func(e domain.InflowEvent) (time.Time, string) { return e.OccurredAt, e.ID })
	return events, nil
}

// CreateSale records a counted sale. The stock mutation is a compare-and-swap:
// if the product's stock no longer equals expectedStock the whole operation
// fails with ErrConflict and the caller must re-derive the quantity from a
// fresh read.
func (s *Store) CreateSale(_ context.Context, event domain.SaleEvent, expectedStock int64) (*domain.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" || event.ProductID == "" || event.Quantity == 0 {
		return nil, store.ErrValidation
	}
	product, exists := s.products[event.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.StockQty != expectedStock {
		return nil, store.ErrConflict
	}
	if err := s.adjustStockLocked(event.ProductID, -event.Quantity, event.CreatedAt); err != nil {
		return nil, err
	}

	s.sales[event.ID] = event
	created := event
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SaleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyEvent := event
	return &copyEvent, nil
}

// UpdateSale rewrites a sale's quantity. Amount and cogs on the incoming
// event were recomputed by the caller from the event's captured price and
// cost; the stock compensation here is old quantity minus new quantity.
func (s *Store) UpdateSale(_ context.Context, event domain.SaleEvent) (*domain.SaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.sales[event.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if event.Quantity == 0 {
		return nil, store.ErrValidation
	}

	delta := old.Quantity - event.Quantity
	if err := s.adjustStockLocked(old.ProductID, delta, event.UpdatedAt); err != nil {
		return nil, err
	}

	old.Quantity = event.Quantity
	old.PriceAtSaleCents = event.PriceAtSaleCents
	old.CostAtSaleCents = event.CostAtSaleCents
	old.AmountCents = event.AmountCents
	old.CogsCents = event.CogsCents
	old.OccurredAt = event.OccurredAt
	old.UpdatedAt = event.UpdatedAt
	s.sales[old.ID] = old
	updated := old
	return &updated, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.sales[id]
	if !exists {
		return store.ErrNotFound
	}
	if err := s.adjustStockLocked(old.ProductID, old.Quantity, time.Now().UTC()); err != nil {
		return err
	}
	delete(s.sales, id)
	return nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, productID string) ([]domain.SaleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.SaleEvent, 0)
	for _, ev := range s.sales {
		if !inWindow(ev.OccurredAt, from, to) {
			continue
		}
		if productID != "" && ev.ProductID != productID {
			continue
		}
		events = append(events, ev)
	}
	sortByOccurredAt(events, func(e domain.SaleEvent) (time.Time, string) { return e.OccurredAt, e.ID })
	return events, nil
}

func (s *Store) CreateCashEntry(_ context.Context, entry domain.CashEntry) (*domain.CashEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" || entry.Date == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.cashEntryByDate[entry.Date]; exists {
		return nil, store.ErrValidation
	}

	s.cashEntries[entry.ID] = entry
	s.cashEntryByDate[entry.Date] = entry.ID
	created := entry
	return &created, nil
}

func (s *Store) GetCashEntry(_ context.Context, id string) (*domain.CashEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.cashEntries[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) UpdateCashEntry(_ context.Context, entry domain.CashEntry) (*domain.CashEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.cashEntries[entry.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// The date key never changes on update; only the amounts do.
	old.TotalPhysicalCashCents = entry.TotalPhysicalCashCents
	old.TimeRevenueCents = entry.TimeRevenueCents
	old.ProductCashCents = entry.ProductCashCents
	old.UpdatedAt = entry.UpdatedAt
	s.cashEntries[old.ID] = old
	updated := old
	return &updated, nil
}

func (s *Store) DeleteCashEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.cashEntries[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(s.cashEntries, id)
	delete(s.cashEntryByDate, old.Date)
	return nil
}

func (s *Store) ListCashEntries(_ context.Context, fromDate string, toDate string) ([]domain.CashEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CashEntry, 0)
	for _, e := range s.cashEntries {
		if fromDate != "" && e.Date < fromDate {
			continue
		}
		if toDate != "" && e.Date > toDate {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b domain.CashEntry) int {
		return cmpString(a.Date, b.Date)
	})
	return entries, nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" || tx.AmountCents <= 0 {
		return nil, store.ErrValidation
	}
	if tx.Kind != domain.TransactionKindExpense && tx.Kind != domain.TransactionKindIncome {
		return nil, store.ErrValidation
	}

	s.transactions[tx.ID] = tx
	created := tx
	return &created, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyTx := tx
	return &copyTx, nil
}

func (s *Store) UpdateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.transactions[tx.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if tx.AmountCents <= 0 {
		return nil, store.ErrValidation
	}

	old.AmountCents = tx.AmountCents
	old.Description = tx.Description
	old.UpdatedAt = tx.UpdatedAt
	s.transactions[old.ID] = old
	updated := old
	return &updated, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, from time.Time, to time.Time, kind string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := make([]domain.Transaction, 0)
	for _, tx := range s.transactions {
		if !inWindow(tx.OccurredAt, from, to) {
			continue
		}
		if kind != "" && tx.Kind != kind {
			continue
		}
		txs = append(txs, tx)
	}
	sortByOccurredAt(txs, func(t domain.Transaction) (time.Time, string) { return t.OccurredAt, t.ID })
	return txs, nil
}

// CreateCut is idempotent by id: a second create with the same id returns the
// already archived cut untouched. Cuts are immutable, there is no update or
// delete path.
func (s *Store) CreateCut(_ context.Context, cut domain.Cut) (*domain.Cut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cut.ID == "" {
		return nil, store.ErrValidation
	}
	if existing, exists := s.cuts[cut.ID]; exists {
		return cloneCut(existing), nil
	}

	cut.ProductBreakdown = slices.Clone(cut.ProductBreakdown)
	s.cuts[cut.ID] = cut
	return cloneCut(cut), nil
}

func (s *Store) GetCut(_ context.Context, id string) (*domain.Cut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cut, exists := s.cuts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneCut(cut), nil
}

func (s *Store) ListCuts(_ context.Context, from time.Time, to time.Time) ([]domain.Cut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cuts := make([]domain.Cut, 0)
	for _, cut := range s.cuts {
		if !inWindow(cut.CreatedAt, from, to) {
			continue
		}
		cuts = append(cuts, *cloneCut(cut))
	}
	sortByOccurredAt(cuts, func(c domain.Cut) (time.Time, string) { return c.CreatedAt, c.ID })
	return cuts, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0)
	for _, entry := range s.auditLogs {
		if !inWindow(entry.CreatedAt, from, to) {
			continue
		}
		logs = append(logs, entry)
	}
	slices.SortFunc(logs, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrValidation
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneCut(cut domain.Cut) *domain.Cut {
	copyCut := cut
	copyCut.ProductBreakdown = slices.Clone(cut.ProductBreakdown)
	return &copyCut
}

func inWindow(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func sortByOccurredAt[T any](items []T, key func(T) (time.Time, string)) {
	slices.SortFunc(items, func(a, b T) int {
		at, aid := key(a)
		bt, bid := key(b)
		if at.Equal(bt) {
			return cmpString(aid, bid)
		}
		if at.Before(bt) {
			return -1
		}
		return 1
	})
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
