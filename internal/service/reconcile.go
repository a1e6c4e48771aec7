package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"cuadrecaja/backend/internal/domain"
	"cuadrecaja/backend/internal/store"
	"cuadrecaja/backend/internal/xid"
)

// PreviewCut computes the reconciliation for a window without writing
// anything. Results are cached briefly; the ledger is mutable, so the TTL
// stays short and ConfirmCut never reads from this cache.
func (s *Service) PreviewCut(ctx context.Context, req domain.CutWindowRequest) (domain.CutPreview, error) {
	if req.StartDate == "" || req.EndDate == "" {
		return domain.CutPreview{}, store.ErrValidation
	}

	key := fmt.Sprintf("cut-preview:%s:%s:%s", s.venueID, req.StartDate, req.EndDate)
	if cached, found, err := s.previews.Get(ctx, key); err == nil && found {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: preview cache get failed: %v", err)
	}

	preview, err := s.computeCut(ctx, req.StartDate, req.EndDate)
	if err != nil {
		return domain.CutPreview{}, err
	}

	if err := s.previews.Set(ctx, key, &preview, s.previewTTL); err != nil {
		log.Printf("[service] WARN: preview cache set failed: %v", err)
	}
	return preview, nil
}

// ConfirmCut turns a window into an immutable archived cut. Every event set
// is re-read and every stock snapshot re-fetched here, immediately before
// persisting; nothing is carried over from an earlier preview.
func (s *Service) ConfirmCut(ctx context.Context, req domain.CutConfirmRequest) (domain.Cut, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Cut{}, fmt.Errorf("admin role required")
	}
	if req.StartDate == "" || req.EndDate == "" {
		return domain.Cut{}, store.ErrValidation
	}
	if req.InputPayrollCents <= 0 {
		return domain.Cut{}, store.ErrValidation
	}

	preview, err := s.computeCut(ctx, req.StartDate, req.EndDate)
	if err != nil {
		return domain.Cut{}, err
	}
	if preview.CashEntryCount == 0 {
		return domain.Cut{}, store.ErrValidation
	}

	// A shortfall (negative difference) is charged against the payroll paid
	// out; a surplus is not.
	cashAdjustment := int64(0)
	if preview.ReconciliationDiffCents < 0 {
		cashAdjustment = -preview.ReconciliationDiffCents
	}
	actualPaid := req.InputPayrollCents - cashAdjustment

	netProfit := preview.TotalRevenueCents - preview.TotalCogsCents +
		preview.TotalOtherIncomeCents + preview.TotalTimeCents -
		preview.TotalExpensesCents - actualPaid

	now := time.Now().UTC()
	cut := domain.Cut{
		ID:                       xid.New("cut"),
		VenueID:                  s.venueID,
		StartDate:                preview.StartDate,
		EndDate:                  preview.EndDate,
		TotalRevenueCents:        preview.TotalRevenueCents,
		TotalCogsCents:           preview.TotalCogsCents,
		TotalTimeCents:           preview.TotalTimeCents,
		TotalPhysicalCashCents:   preview.TotalPhysicalCashCents,
		PhysicalProductCashCents: preview.PhysicalProductCashCents,
		ReconciliationDiffCents:  preview.ReconciliationDiffCents,
		TotalOtherIncomeCents:    preview.TotalOtherIncomeCents,
		TotalExpensesCents:       preview.TotalExpensesCents,
		SuggestedPayrollCents:    preview.SuggestedPayrollCents,
		InputPayrollCents:        req.InputPayrollCents,
		CashAdjustmentCents:      cashAdjustment,
		ActualPayrollPaidCents:   actualPaid,
		NetProfitCents:           netProfit,
		ProductBreakdown:         preview.ProductBreakdown,
		CreatedBy:                actor.Username,
		CreatedAt:                now,
	}

	created, err := s.repo.CreateCut(ctx, cut)
	if err != nil {
		return domain.Cut{}, err
	}

	s.logAudit(ctx, "cut_confirm", created.ID, fmt.Sprintf("window=%s..%s,diff=%d,paid=%d", created.StartDate, created.EndDate, created.ReconciliationDiffCents, created.ActualPayrollPaidCents))
	return *created, nil
}

func (s *Service) GetCut(ctx context.Context, id string) (domain.Cut, error) {
	cut, err := s.repo.GetCut(ctx, id)
	if err != nil {
		return domain.Cut{}, err
	}
	return *cut, nil
}

func (s *Service) ListCuts(ctx context.Context, startDate string, endDate string) ([]domain.Cut, error) {
	from, to, err := parseWindow(startDate, endDate)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCuts(ctx, from, to)
}

// ProfitLossSummary aggregates archived cuts created inside the range. Only
// cuts count toward profit: the live ledger is mutable and its numbers are
// not settled until a cut freezes them.
func (s *Service) ProfitLossSummary(ctx context.Context, startDate string, endDate string) (domain.ProfitLossSummary, error) {
	from, to, err := parseWindow(startDate, endDate)
	if err != nil {
		return domain.ProfitLossSummary{}, err
	}

	cuts, err := s.repo.ListCuts(ctx, from, to)
	if err != nil {
		return domain.ProfitLossSummary{}, err
	}

	summary := domain.ProfitLossSummary{From: startDate, To: endDate, CutCount: len(cuts)}
	var diffSum int64
	for _, cut := range cuts {
		summary.TotalRevenueCents += cut.TotalRevenueCents
		summary.TotalCogsCents += cut.TotalCogsCents
		summary.TotalTimeCents += cut.TotalTimeCents
		summary.TotalOtherIncomeCents += cut.TotalOtherIncomeCents
		summary.TotalExpensesCents += cut.TotalExpensesCents
		summary.TotalPayrollPaidCents += cut.ActualPayrollPaidCents
		summary.TotalAdjustmentsCents += cut.CashAdjustmentCents
		summary.NetProfitCents += cut.NetProfitCents
		diffSum += cut.ReconciliationDiffCents
		if cut.ReconciliationDiffCents < 0 {
			summary.NegativeDiffCutCount++
		}
	}
	if len(cuts) > 0 {
		summary.AverageDiffCents = diffSum / int64(len(cuts))
	}
	return summary, nil
}

// VerifyStockIntegrity replays the full event log for every product and
// reports counters that drifted from initial + inflows - sales.
func (s *Service) VerifyStockIntegrity(ctx context.Context) (domain.StockAuditReport, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.StockAuditReport{}, err
	}
	inflows, err := s.repo.ListInflows(ctx, time.Time{}, time.Time{}, "")
	if err != nil {
		return domain.StockAuditReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, time.Time{}, time.Time{}, "")
	if err != nil {
		return domain.StockAuditReport{}, err
	}

	inflowByProduct := make(map[string]int64)
	for _, ev := range inflows {
		inflowByProduct[ev.ProductID] += ev.Quantity
	}
	soldByProduct := make(map[string]int64)
	for _, ev := range sales {
		soldByProduct[ev.ProductID] += ev.Quantity
	}

	report := domain.StockAuditReport{
		CheckedProducts: len(products),
		Drifted:         []domain.StockAuditEntry{},
		CheckedAt:       time.Now().UTC(),
	}
	for _, p := range products {
		replay := p.InitialStock + inflowByProduct[p.ID] - soldByProduct[p.ID]
		if replay == p.StockQty {
			continue
		}
		report.Drifted = append(report.Drifted, domain.StockAuditEntry{
			ProductID:  p.ID,
			Code:       p.Code,
			Name:       p.Name,
			StockQty:   p.StockQty,
			ReplayQty:  replay,
			DriftUnits: p.StockQty - replay,
		})
	}
	if len(report.Drifted) > 0 {
		log.Printf("[service] WARN: stock integrity audit found %d drifted products", len(report.Drifted))
	}
	return report, nil
}

// computeCut runs the reconciliation steps over a window: filter the four
// record sets, aggregate, difference, and suggest payroll. It is pure with
// respect to the ledger: nothing is written and nothing is cached here.
func (s *Service) computeCut(ctx context.Context, startDate string, endDate string) (domain.CutPreview, error) {
	from, to, err := parseWindow(startDate, endDate)
	if err != nil {
		return domain.CutPreview{}, err
	}

	sales, err := s.repo.ListSales(ctx, from, to, "")
	if err != nil {
		return domain.CutPreview{}, err
	}
	inflows, err := s.repo.ListInflows(ctx, from, to, "")
	if err != nil {
		return domain.CutPreview{}, err
	}
	entries, err := s.repo.ListCashEntries(ctx, startDate, endDate)
	if err != nil {
		return domain.CutPreview{}, err
	}
	transactions, err := s.repo.ListTransactions(ctx, from, to, "")
	if err != nil {
		return domain.CutPreview{}, err
	}

	preview := domain.CutPreview{
		StartDate:      startDate,
		EndDate:        endDate,
		CashEntryCount: len(entries),
		ComputedAt:     time.Now().UTC(),
	}

	type lineAgg struct {
		unitsSold int64
		unitsIn   int64
		revenue   int64
		cogs      int64
	}
	byProduct := make(map[string]*lineAgg)
	agg := func(productID string) *lineAgg {
		line, ok := byProduct[productID]
		if !ok {
			line = &lineAgg{}
			byProduct[productID] = line
		}
		return line
	}

	for _, sale := range sales {
		preview.TotalRevenueCents += sale.AmountCents
		preview.TotalCogsCents += sale.CogsCents
		line := agg(sale.ProductID)
		line.unitsSold += sale.Quantity
		line.revenue += sale.AmountCents
		line.cogs += sale.CogsCents
	}
	for _, inflow := range inflows {
		agg(inflow.ProductID).unitsIn += inflow.Quantity
	}
	for _, entry := range entries {
		preview.TotalPhysicalCashCents += entry.TotalPhysicalCashCents
		preview.TotalTimeCents += entry.TimeRevenueCents
		preview.PhysicalProductCashCents += entry.ProductCashCents
	}
	for _, tx := range transactions {
		switch tx.Kind {
		case domain.TransactionKindIncome:
			preview.TotalOtherIncomeCents += tx.AmountCents
		case domain.TransactionKindExpense:
			preview.TotalExpensesCents += tx.AmountCents
		}
	}

	preview.ReconciliationDiffCents = preview.PhysicalProductCashCents - preview.TotalRevenueCents
	preview.SuggestedPayrollCents = preview.TotalTimeCents +
		int64(math.Round(float64(preview.PhysicalProductCashCents)*s.payrollRatePercent/100))

	// Snapshot the live stock counters for every product that moved. The
	// breakdown keeps products with activity only, matching what the cut
	// freezes.
	lines := make([]domain.CutLine, 0, len(byProduct))
	for productID, line := range byProduct {
		if line.unitsSold == 0 && line.unitsIn == 0 {
			continue
		}
		product, err := s.repo.GetProduct(ctx, productID)
		if err != nil {
			return domain.CutPreview{}, err
		}
		lines = append(lines, domain.CutLine{
			ProductID:     productID,
			Code:          product.Code,
			Name:          product.Name,
			UnitsSold:     line.unitsSold,
			UnitsIn:       line.unitsIn,
			RevenueCents:  line.revenue,
			CogsCents:     line.cogs,
			StockSnapshot: product.StockQty,
		})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Name < lines[j].Name
	})
	preview.ProductBreakdown = lines

	return preview, nil
}
