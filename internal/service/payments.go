package service

import (
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
)

// PaymentScope narrows an aggregation. Empty fields do not filter.
type PaymentScope struct {
	TicketID  string
	TicketIDs map[string]struct{}
	Period    models.Period
}

func (s PaymentScope) match(p models.Payment) bool {
	if s.TicketID != "" && p.TicketID != s.TicketID {
		return false
	}
	if s.TicketIDs != nil {
		if _, ok := s.TicketIDs[p.TicketID]; !ok {
			return false
		}
	}
	return s.Period.Contains(p.CreatedAt)
}

// PaymentAggregator sums client payments. Only VALIDATED records count.
type PaymentAggregator struct {
	payments  []models.Payment
	validated map[string]bool
}

// NewPaymentAggregator keeps the first payment seen for each id.
func NewPaymentAggregator(payments []models.Payment) *PaymentAggregator {
	a := &PaymentAggregator{payments: make([]models.Payment, 0, len(payments)), validated: map[string]bool{}}
	seen := make(map[string]bool, len(payments))
	for _, p := range payments {
		if p.ID != "" {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
		}
		a.payments = append(a.payments, p)
		if counts(p) {
			a.validated[p.TicketID] = true
		}
	}
	return a
}

func (a *PaymentAggregator) SumValidated(scope PaymentScope) decimal.Decimal {
	total := decimal.Zero
	for _, p := range a.payments {
		if counts(p) && scope.match(p) {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// HasValidatedPayment drives the "paid" badge of a ticket.
func (a *PaymentAggregator) HasValidatedPayment(ticketID string) bool {
	return a.validated[ticketID]
}

// TicketTotals returns validated revenue per ticket within period.
func (a *PaymentAggregator) TicketTotals(period models.Period) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, p := range a.payments {
		if !counts(p) || !period.Contains(p.CreatedAt) {
			continue
		}
		out[p.TicketID] = out[p.TicketID].Add(p.Amount)
	}
	return out
}

// TechnicianTicketIDs is the technician scope: payments carry no technician,
// so the scope is the set of tickets assigned to them.
func TechnicianTicketIDs(tickets []models.Ticket, technicianID string) map[string]struct{} {
	ids := map[string]struct{}{}
	for _, t := range tickets {
		if t.AssignedAgentID == technicianID {
			ids[t.ID] = struct{}{}
		}
	}
	return ids
}

func counts(p models.Payment) bool {
	return p.Status == models.PaymentValidated && p.ID != "" && !p.Amount.IsNegative()
}
