package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
)

const (
	FindingOverPaid      = "OVERPAID"
	FindingMissingRate   = "MISSING_RATE"
	FindingOrphanPayment = "ORPHAN_PAYMENT"
)

// AuditFinding reports a data problem the display clamp would hide.
type AuditFinding struct {
	Kind         string          `json:"kind"`
	TechnicianID string          `json:"technician_id,omitempty"`
	TicketID     string          `json:"ticket_id,omitempty"`
	PaymentID    string          `json:"payment_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Message      string          `json:"message"`
}

// Audit walks every technician in the snapshot. Over-payment is judged on the
// technician's whole history; period only scopes orphan payments. Findings are
// sorted by kind, then technician, ticket and payment id.
func Audit(snap models.Snapshot, period models.Period) []AuditFinding {
	var findings []AuditFinding

	techs := map[string]struct{}{}
	for _, t := range snap.Tickets {
		if t.AssignedAgentID != "" {
			techs[t.AssignedAgentID] = struct{}{}
		}
	}
	for _, p := range snap.Payouts {
		techs[p.TechnicianID] = struct{}{}
	}
	for id := range techs {
		s := Summarize(snap, id, models.Period{})
		if s.OverPaid.IsPositive() {
			findings = append(findings, AuditFinding{
				Kind:         FindingOverPaid,
				TechnicianID: id,
				Amount:       s.OverPaid,
				Message:      "payouts exceed earned commission",
			})
		}
	}

	known := map[string]bool{}
	for _, t := range snap.Tickets {
		known[t.ID] = true
		if t.DeviceStatus == models.DeviceRepaired && t.AssignedAgentID != "" && !t.CommissionPercentage.Valid {
			findings = append(findings, AuditFinding{
				Kind:         FindingMissingRate,
				TechnicianID: t.AssignedAgentID,
				TicketID:     t.ID,
				Amount:       decimal.Zero,
				Message:      "repaired ticket has no commission percentage",
			})
		}
	}
	for _, p := range snap.Payments {
		if p.Status == models.PaymentValidated && !known[p.TicketID] && period.Contains(p.CreatedAt) {
			findings = append(findings, AuditFinding{
				Kind:      FindingOrphanPayment,
				TicketID:  p.TicketID,
				PaymentID: p.ID,
				Amount:    p.Amount,
				Message:   "validated payment references an unknown ticket",
			})
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.TechnicianID != b.TechnicianID {
			return a.TechnicianID < b.TechnicianID
		}
		if a.TicketID != b.TicketID {
			return a.TicketID < b.TicketID
		}
		return a.PaymentID < b.PaymentID
	})
	return findings
}
