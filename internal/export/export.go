// Package export renders flat ledger records as CSV or printable
// spreadsheet HTML. It receives fully computed rows and applies no business
// rules of its own.
package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"cuadrecaja/backend/internal/domain"
)

func ProductsToCSV(products []domain.Product) string {
	lines := []string{"code,name,unit_cost_cents,unit_price_cents,stock_qty"}
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("%s,%s,%d,%d,%d",
			csvEscape(p.Code), csvEscape(p.Name), p.UnitCostCents, p.UnitPriceCents, p.StockQty))
	}
	return strings.Join(lines, "\n") + "\n"
}

func CutToCSV(cut domain.Cut) string {
	lines := []string{
		"section,key,value",
		fmt.Sprintf("summary,start_date,%s", cut.StartDate),
		fmt.Sprintf("summary,end_date,%s", cut.EndDate),
		fmt.Sprintf("summary,total_revenue_cents,%d", cut.TotalRevenueCents),
		fmt.Sprintf("summary,total_cogs_cents,%d", cut.TotalCogsCents),
		fmt.Sprintf("summary,total_time_cents,%d", cut.TotalTimeCents),
		fmt.Sprintf("summary,total_physical_cash_cents,%d", cut.TotalPhysicalCashCents),
		fmt.Sprintf("summary,physical_product_cash_cents,%d", cut.PhysicalProductCashCents),
		fmt.Sprintf("summary,reconciliation_diff_cents,%d", cut.ReconciliationDiffCents),
		fmt.Sprintf("summary,total_other_income_cents,%d", cut.TotalOtherIncomeCents),
		fmt.Sprintf("summary,total_expenses_cents,%d", cut.TotalExpensesCents),
		fmt.Sprintf("summary,suggested_payroll_cents,%d", cut.SuggestedPayrollCents),
		fmt.Sprintf("summary,input_payroll_cents,%d", cut.InputPayrollCents),
		fmt.Sprintf("summary,cash_adjustment_cents,%d", cut.CashAdjustmentCents),
		fmt.Sprintf("summary,actual_payroll_paid_cents,%d", cut.ActualPayrollPaidCents),
		fmt.Sprintf("summary,net_profit_cents,%d", cut.NetProfitCents),
	}
	for _, line := range cut.ProductBreakdown {
		lines = append(lines, fmt.Sprintf("product,%s,%s,%d,%d,%d,%d,%d",
			csvEscape(line.Code), csvEscape(line.Name), line.UnitsSold, line.UnitsIn,
			line.RevenueCents, line.CogsCents, line.StockSnapshot))
	}
	return strings.Join(lines, "\n") + "\n"
}

// cutHTMLTmpl renders a printable cut sheet. All user-controlled fields are
// auto-escaped by html/template to prevent XSS.
var cutHTMLTmpl = template.Must(template.New("cut-sheet").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Cut {{.StartDate}} to {{.EndDate}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>Cut {{.StartDate}} to {{.EndDate}}</h2>
  <p>Revenue: {{.TotalRevenueCents}} | COGS: {{.TotalCogsCents}} | Time: {{.TotalTimeCents}}</p>
  <p>Physical cash: {{.TotalPhysicalCashCents}} | Product cash: {{.PhysicalProductCashCents}} | Difference: {{.ReconciliationDiffCents}}</p>
  <p>Other income: {{.TotalOtherIncomeCents}} | Expenses: {{.TotalExpensesCents}}</p>
  <p>Payroll suggested: {{.SuggestedPayrollCents}} | Input: {{.InputPayrollCents}} | Adjustment: {{.CashAdjustmentCents}} | Paid: {{.ActualPayrollPaidCents}}</p>
  <p>Net profit: {{.NetProfitCents}}</p>

  <h3>Products</h3>
  <table>
    <thead><tr><th>Code</th><th>Name</th><th>Sold</th><th>In</th><th>Revenue</th><th>COGS</th><th>Stock</th></tr></thead>
    <tbody>{{range .ProductBreakdown}}<tr><td>{{.Code}}</td><td>{{.Name}}</td><td style="text-align:right;">{{.UnitsSold}}</td><td style="text-align:right;">{{.UnitsIn}}</td><td style="text-align:right;">{{.RevenueCents}}</td><td style="text-align:right;">{{.CogsCents}}</td><td style="text-align:right;">{{.StockSnapshot}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func CutToPrintableHTML(cut domain.Cut) string {
	var buf bytes.Buffer
	if err := cutHTMLTmpl.Execute(&buf, cut); err != nil {
		// Fallback: return a plain-text error page rather than leaking internal details.
		return "<!doctype html><html><body><p>Report rendering error.</p></body></html>"
	}
	return buf.String()
}

func csvEscape(field string) string {
	if !strings.ContainsAny(field, ",\"\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
