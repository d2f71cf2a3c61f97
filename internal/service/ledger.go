package service

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
)

type BreakdownQuery struct {
	Period models.Period
	Search string
	Filter models.PaymentFilter
}

// Summarize derives a technician's totals from a snapshot. It is a pure
// function of its inputs: the same snapshot always gives the same summary.
func Summarize(snap models.Snapshot, technicianID string, period models.Period) models.TechnicianSummary {
	lines := ticketLines(snap, technicianID, period)
	return summarizeLines(snap, technicianID, period, lines)
}

// Breakdown lists the per-ticket lines behind a summary. Search and filter
// only narrow the list; they never change the totals.
func Breakdown(snap models.Snapshot, technicianID string, q BreakdownQuery) []models.TicketLine {
	lines := ticketLines(snap, technicianID, q.Period)
	return FilterLines(lines, q.Search, q.Filter)
}

// SummaryWithLines returns both views from a single pass.
func SummaryWithLines(snap models.Snapshot, technicianID string, q BreakdownQuery) (models.TechnicianSummary, []models.TicketLine) {
	lines := ticketLines(snap, technicianID, q.Period)
	summary := summarizeLines(snap, technicianID, q.Period, lines)
	return summary, FilterLines(lines, q.Search, q.Filter)
}

// FilterLines matches search case-insensitively against client name, device
// title and ticket code.
func FilterLines(lines []models.TicketLine, search string, filter models.PaymentFilter) []models.TicketLine {
	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]models.TicketLine, 0, len(lines))
	for _, l := range lines {
		if needle != "" &&
			!strings.Contains(strings.ToLower(l.ClientName), needle) &&
			!strings.Contains(strings.ToLower(l.Title), needle) &&
			!strings.Contains(strings.ToLower(l.Code), needle) {
			continue
		}
		if (filter == models.FilterPaid || filter == models.FilterPending) && l.PaymentStatus != filter {
			continue
		}
		out = append(out, l)
	}
	return out
}

func ticketLines(snap models.Snapshot, technicianID string, period models.Period) []models.TicketLine {
	agg := NewPaymentAggregator(snap.Payments)
	revenue := agg.TicketTotals(period)

	seen := map[string]bool{}
	lines := []models.TicketLine{}
	for _, t := range snap.Tickets {
		if !t.RepairedBy(technicianID) || seen[t.ID] {
			continue
		}
		seen[t.ID] = true

		rev := money.Round2(revenue[t.ID])
		if !period.IsZero() && !rev.IsPositive() {
			continue
		}

		line := models.TicketLine{
			TicketID:             t.ID,
			Code:                 t.Code,
			Title:                t.Title,
			ClientName:           t.RequesterName,
			Status:               t.Status,
			Revenue:              rev,
			CommissionPercentage: t.CommissionPercentage,
			TechnicianShare:      decimal.Zero,
			OwnerShare:           decimal.Zero,
			PaymentStatus:        models.FilterPending,
			PayoutCoverage:       models.CoverageNone,
			PaidOut:              decimal.Zero,
			ResolvedAt:           lineDate(t),
		}
		if agg.HasValidatedPayment(t.ID) {
			line.PaymentStatus = models.FilterPaid
		}

		switch {
		case !t.CommissionPercentage.Valid:
			line.CommissionState = models.CommissionPendingRate
		case !rev.IsPositive():
			line.CommissionState = models.CommissionAwaitingPayment
		default:
			split := CalculateCommission(decimal.NullDecimal{Decimal: rev, Valid: true}, t.CommissionPercentage)
			line.TechnicianShare = split.TechnicianShare
			line.OwnerShare = split.OwnerShare
			line.CommissionState = models.CommissionEarned
		}
		lines = append(lines, line)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lineBefore(lines[i], lines[j])
	})
	allocatePayouts(lines, totalPayouts(snap.Payouts, technicianID, period))
	return lines
}

// allocatePayouts covers earned commissions oldest first with the paid-out
// pool. Coverage is informational; the balance comes from the totals.
func allocatePayouts(lines []models.TicketLine, pool decimal.Decimal) {
	for i := range lines {
		share := lines[i].TechnicianShare
		if !share.IsPositive() {
			continue
		}
		covered := decimal.Min(pool, share)
		if covered.IsNegative() {
			covered = decimal.Zero
		}
		pool = pool.Sub(covered)
		lines[i].PaidOut = covered
		switch {
		case covered.Equal(share):
			lines[i].PayoutCoverage = models.CoveragePaidOut
		case covered.IsPositive():
			lines[i].PayoutCoverage = models.CoveragePartial
		default:
			lines[i].PayoutCoverage = models.CoverageUnpaid
		}
	}
}

func summarizeLines(snap models.Snapshot, technicianID string, period models.Period, lines []models.TicketLine) models.TechnicianSummary {
	s := models.TechnicianSummary{
		TechnicianID:                technicianID,
		TechnicianName:              technicianName(snap.Tickets, technicianID),
		TotalRepaired:               len(lines),
		TotalRevenue:                decimal.Zero,
		TotalCommission:             decimal.Zero,
		AverageCommissionPercentage: decimal.Zero,
	}
	weighted := decimal.Zero
	for _, l := range lines {
		s.TotalRevenue = s.TotalRevenue.Add(l.Revenue)
		s.TotalCommission = s.TotalCommission.Add(l.TechnicianShare)
		if l.CommissionState == models.CommissionPendingRate {
			s.PendingRateCount++
		}
		if l.CommissionPercentage.Valid {
			weighted = weighted.Add(l.CommissionPercentage.Decimal.Mul(l.TechnicianShare))
		}
	}
	s.TotalRevenue = money.Round2(s.TotalRevenue)
	s.TotalCommission = money.Round2(s.TotalCommission)
	s.TotalPaidOut = money.Round2(totalPayouts(snap.Payouts, technicianID, period))
	s.OutstandingBalance = money.Max(decimal.Zero, s.TotalCommission.Sub(s.TotalPaidOut))
	s.OverPaid = money.Max(decimal.Zero, s.TotalPaidOut.Sub(s.TotalCommission))
	if s.TotalCommission.IsPositive() {
		s.AverageCommissionPercentage = money.Round2(weighted.Div(s.TotalCommission))
	}
	return s
}

func totalPayouts(payouts []models.Payout, technicianID string, period models.Period) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payouts {
		if p.TechnicianID != technicianID || p.ID == "" || p.Amount.IsNegative() {
			continue
		}
		if !period.Contains(p.CreatedAt) {
			continue
		}
		total = total.Add(p.Amount)
	}
	return total
}

func technicianName(tickets []models.Ticket, technicianID string) string {
	for _, t := range tickets {
		if t.AssignedAgentID == technicianID && t.AssignedAgentName != "" {
			return t.AssignedAgentName
		}
	}
	return ""
}

func lineDate(t models.Ticket) *time.Time {
	if t.ResolvedAt != nil {
		return t.ResolvedAt
	}
	return t.CreatedAt
}

func lineBefore(a, b models.TicketLine) bool {
	switch {
	case a.ResolvedAt == nil && b.ResolvedAt == nil:
	case a.ResolvedAt == nil:
		return false
	case b.ResolvedAt == nil:
		return true
	case !a.ResolvedAt.Equal(*b.ResolvedAt):
		return a.ResolvedAt.Before(*b.ResolvedAt)
	}
	return a.TicketID < b.TicketID
}
