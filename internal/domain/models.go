package domain

import "time"

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

const (
	TransactionKindExpense = "expense"
	TransactionKindIncome  = "income"
)

// DateLayout is the calendar-date format used by cash entries and cut windows.
const DateLayout = "2006-01-02"

type Product struct {
	ID             string    `json:"id"`
	VenueID        string    `json:"venue_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	UnitCostCents  int64     `json:"unit_cost_cents"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	StockQty       int64     `json:"stock_qty"`
	InitialStock   int64     `json:"initial_stock"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	InitialStock   int64  `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	UnitCostCents  *int64  `json:"unit_cost_cents,omitempty"`
	UnitPriceCents *int64  `json:"unit_price_cents,omitempty"`
}

type ProductListResponse struct {
	Products            []Product `json:"products"`
	InventoryValueCents int64     `json:"inventory_value_cents"`
}

// InflowEvent is a stock arrival. Creating, editing or deleting one adjusts
// the product stock counter by the corresponding delta in the same unit.
type InflowEvent struct {
	ID          string    `json:"id"`
	VenueID     string    `json:"venue_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int64     `json:"quantity"`
	OccurredAt  time.Time `json:"occurred_at"`
	RecordedBy  string    `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SaleEvent is a counted sale: quantity is derived from the gap between the
// tracked stock and a physical count, so it can be negative when the count
// finds surplus. PriceAtSaleCents and CostAtSaleCents are frozen at capture
// time; edits recompute amount and cogs from these, never from the product.
type SaleEvent struct {
	ID               string    `json:"id"`
	VenueID          string    `json:"venue_id"`
	ProductID        string    `json:"product_id"`
	ProductName      string    `json:"product_name"`
	Quantity         int64     `json:"quantity"`
	ObservedCount    int64     `json:"observed_count"`
	PriceAtSaleCents int64     `json:"price_at_sale_cents"`
	CostAtSaleCents  int64     `json:"cost_at_sale_cents"`
	AmountCents      int64     `json:"amount_cents"`
	CogsCents        int64     `json:"cogs_cents"`
	OccurredAt       time.Time `json:"occurred_at"`
	RecordedBy       string    `json:"recorded_by"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type InflowCreateRequest struct {
	ProductID  string     `json:"product_id"`
	Quantity   int64      `json:"quantity"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

type InflowUpdateRequest struct {
	Quantity int64 `json:"quantity"`
}

type SaleCreateRequest struct {
	ProductID     string     `json:"product_id"`
	ObservedCount int64      `json:"observed_count"`
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
}

type SaleUpdateRequest struct {
	Quantity int64 `json:"quantity"`
}

type MovementListResponse struct {
	Inflows []InflowEvent `json:"inflows"`
	Sales   []SaleEvent   `json:"sales"`
}

// CashEntry is a daily cash count. Date is a UTC calendar date and unique per
// venue. ProductCashCents is derived (total minus time revenue) and may be
// negative; negative values are reported, never rejected.
type CashEntry struct {
	ID                     string    `json:"id"`
	VenueID                string    `json:"venue_id"`
	Date                   string    `json:"date"`
	TotalPhysicalCashCents int64     `json:"total_physical_cash_cents"`
	TimeRevenueCents       int64     `json:"time_revenue_cents"`
	ProductCashCents       int64     `json:"product_cash_cents"`
	RecordedBy             string    `json:"recorded_by"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type CashEntryCreateRequest struct {
	Date                   string `json:"date"`
	TotalPhysicalCashCents int64  `json:"total_physical_cash_cents"`
	TimeRevenueCents       int64  `json:"time_revenue_cents"`
}

type CashEntryUpdateRequest struct {
	TotalPhysicalCashCents *int64 `json:"total_physical_cash_cents,omitempty"`
	TimeRevenueCents       *int64 `json:"time_revenue_cents,omitempty"`
}

type Transaction struct {
	ID          string    `json:"id"`
	VenueID     string    `json:"venue_id"`
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
	RecordedBy  string    `json:"recorded_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TransactionCreateRequest struct {
	Kind        string     `json:"kind"`
	AmountCents int64      `json:"amount_cents"`
	Description string     `json:"description"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
}

type TransactionUpdateRequest struct {
	AmountCents *int64  `json:"amount_cents,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CutLine is one product row of a cut's frozen breakdown.
type CutLine struct {
	ProductID     string `json:"product_id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	UnitsSold     int64  `json:"units_sold"`
	UnitsIn       int64  `json:"units_in"`
	RevenueCents  int64  `json:"revenue_cents"`
	CogsCents     int64  `json:"cogs_cents"`
	StockSnapshot int64  `json:"stock_snapshot"`
}

// CutPreview is the stateless reconciliation result for a window. Confirming
// a cut recomputes all of this from scratch before persisting.
type CutPreview struct {
	StartDate                string    `json:"start_date"`
	EndDate                  string    `json:"end_date"`
	TotalRevenueCents        int64     `json:"total_revenue_cents"`
	TotalCogsCents           int64     `json:"total_cogs_cents"`
	TotalTimeCents           int64     `json:"total_time_cents"`
	TotalPhysicalCashCents   int64     `json:"total_physical_cash_cents"`
	PhysicalProductCashCents int64     `json:"physical_product_cash_cents"`
	ReconciliationDiffCents  int64     `json:"reconciliation_diff_cents"`
	TotalOtherIncomeCents    int64     `json:"total_other_income_cents"`
	TotalExpensesCents       int64     `json:"total_expenses_cents"`
	SuggestedPayrollCents    int64     `json:"suggested_payroll_cents"`
	CashEntryCount           int       `json:"cash_entry_count"`
	ProductBreakdown         []CutLine `json:"product_breakdown"`
	ComputedAt               time.Time `json:"computed_at"`
}

// Cut is an immutable archived reconciliation. It never changes after
// creation; there is no update or delete operation anywhere in the system.
type Cut struct {
	ID                       string    `json:"id"`
	VenueID                  string    `json:"venue_id"`
	StartDate                string    `json:"start_date"`
	EndDate                  string    `json:"end_date"`
	TotalRevenueCents        int64     `json:"total_revenue_cents"`
	TotalCogsCents           int64     `json:"total_cogs_cents"`
	TotalTimeCents           int64     `json:"total_time_cents"`
	TotalPhysicalCashCents   int64     `json:"total_physical_cash_cents"`
	PhysicalProductCashCents int64     `json:"physical_product_cash_cents"`
	ReconciliationDiffCents  int64     `json:"reconciliation_diff_cents"`
	TotalOtherIncomeCents    int64     `json:"total_other_income_cents"`
	TotalExpensesCents       int64     `json:"total_expenses_cents"`
	SuggestedPayrollCents    int64     `json:"suggested_payroll_cents"`
	InputPayrollCents        int64     `json:"input_payroll_cents"`
	CashAdjustmentCents      int64     `json:"cash_adjustment_cents"`
	ActualPayrollPaidCents   int64     `json:"actual_payroll_paid_cents"`
	NetProfitCents           int64     `json:"net_profit_cents"`
	ProductBreakdown         []CutLine `json:"product_breakdown"`
	CreatedBy                string    `json:"created_by"`
	CreatedAt                time.Time `json:"created_at"`
}

type CutWindowRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type CutConfirmRequest struct {
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	InputPayrollCents int64  `json:"input_payroll_cents"`
}

type ProfitLossSummary struct {
	From                   string `json:"from"`
	To                     string `json:"to"`
	CutCount               int    `json:"cut_count"`
	TotalRevenueCents      int64  `json:"total_revenue_cents"`
	TotalCogsCents         int64  `json:"total_cogs_cents"`
	TotalTimeCents         int64  `json:"total_time_cents"`
	TotalOtherIncomeCents  int64  `json:"total_other_income_cents"`
	TotalExpensesCents     int64  `json:"total_expenses_cents"`
	TotalPayrollPaidCents  int64  `json:"total_payroll_paid_cents"`
	TotalAdjustmentsCents  int64  `json:"total_adjustments_cents"`
	NetProfitCents         int64  `json:"net_profit_cents"`
	AverageDiffCents       int64  `json:"average_diff_cents"`
	NegativeDiffCutCount   int    `json:"negative_diff_cut_count"`
}

// StockAuditEntry reports drift between a product's stock counter and the
// value obtained by replaying its full event log.
type StockAuditEntry struct {
	ProductID  string `json:"product_id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	StockQty   int64  `json:"stock_qty"`
	ReplayQty  int64  `json:"replay_qty"`
	DriftUnits int64  `json:"drift_units"`
}

type StockAuditReport struct {
	CheckedProducts int               `json:"checked_products"`
	Drifted         []StockAuditEntry `json:"drifted"`
	CheckedAt       time.Time         `json:"checked_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID        string    `json:"id"`
	VenueID   string    `json:"venue_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
