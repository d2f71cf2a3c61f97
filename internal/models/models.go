package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Ticket struct {
	ID                   string              `json:"id"`
	Code                 string              `json:"code"`
	Title                string              `json:"title"`
	Status               TicketStatus        `json:"status"`
	DeviceStatus         DeviceStatus        `json:"device_status"`
	RequesterName        string              `json:"requester_name,omitempty"`
	AssignedAgentID      string              `json:"assigned_agent_id,omitempty"`
	AssignedAgentName    string              `json:"assigned_agent_name,omitempty"`
	CommissionPercentage decimal.NullDecimal `json:"commission_percentage"`
	Price                decimal.NullDecimal `json:"price"`
	CreatedAt            *time.Time          `json:"created_at,omitempty"`
	ResolvedAt           *time.Time          `json:"resolved_at,omitempty"`
}

// RepairedBy reports whether the ticket counts toward technicianID's ledger.
func (t Ticket) RepairedBy(technicianID string) bool {
	return technicianID != "" && t.AssignedAgentID == technicianID && t.DeviceStatus == DeviceRepaired
}

type Payment struct {
	ID        string          `json:"id"`
	TicketID  string          `json:"ticket_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    PaymentStatus   `json:"status"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

// Payout is money handed to a technician against earned commission.
type Payout struct {
	ID           string          `json:"id"`
	TechnicianID string          `json:"technician_id"`
	Amount       decimal.Decimal `json:"amount"`
	Method       PayoutMethod    `json:"method"`
	Comment      string          `json:"comment,omitempty"`
	RecordedBy   string          `json:"recorded_by,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
}

type Snapshot struct {
	Tickets  []Ticket  `json:"tickets"`
	Payments []Payment `json:"payments"`
	Payouts  []Payout  `json:"payouts"`
}

// Period is an inclusive time window; a nil bound is open.
type Period struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

func (p Period) IsZero() bool {
	return p.Start == nil && p.End == nil
}

// Contains never places a missing timestamp inside a bounded period.
func (p Period) Contains(ts *time.Time) bool {
	if p.IsZero() {
		return true
	}
	if ts == nil {
		return false
	}
	if p.Start != nil && ts.Before(*p.Start) {
		return false
	}
	if p.End != nil && ts.After(*p.End) {
		return false
	}
	return true
}

type TechnicianSummary struct {
	TechnicianID                string          `json:"technician_id"`
	TechnicianName              string          `json:"technician_name,omitempty"`
	TotalRepaired               int             `json:"total_repaired"`
	TotalRevenue                decimal.Decimal `json:"total_revenue"`
	TotalCommission             decimal.Decimal `json:"total_commission"`
	TotalPaidOut                decimal.Decimal `json:"total_paid_out"`
	OutstandingBalance          decimal.Decimal `json:"outstanding_balance"`
	OverPaid                    decimal.Decimal `json:"over_paid"`
	AverageCommissionPercentage decimal.Decimal `json:"average_commission_percentage"`
	PendingRateCount            int             `json:"pending_rate_count"`
}

// TicketLine is one row of a technician's per-ticket breakdown.
type TicketLine struct {
	TicketID             string              `json:"ticket_id"`
	Code                 string              `json:"code"`
	Title                string              `json:"title"`
	ClientName           string              `json:"client_name"`
	Status               TicketStatus        `json:"status"`
	Revenue              decimal.Decimal     `json:"revenue"`
	CommissionPercentage decimal.NullDecimal `json:"commission_percentage"`
	TechnicianShare      decimal.Decimal     `json:"technician_share"`
	OwnerShare           decimal.Decimal     `json:"owner_share"`
	CommissionState      CommissionState     `json:"commission_state"`
	PaymentStatus        PaymentFilter       `json:"payment_status"`
	PayoutCoverage       PayoutCoverage      `json:"payout_coverage"`
	PaidOut              decimal.Decimal     `json:"paid_out"`
	ResolvedAt           *time.Time          `json:"resolved_at,omitempty"`
}
