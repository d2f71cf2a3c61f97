package models

// Raw records mirror the backend payloads before normalization. Fields the
// backend serializes inconsistently (numbers as strings, dates as strings or
// epoch seconds) are typed any.
type RawTicket struct {
	ID                   any    `json:"id" yaml:"id"`
	Code                 string `json:"code" yaml:"code"`
	Title                string `json:"title" yaml:"title"`
	Status               string `json:"status" yaml:"status"`
	DeviceStatus         string `json:"deviceStatus" yaml:"deviceStatus"`
	RequesterName        string `json:"requesterName" yaml:"requesterName"`
	AssignedAgentID      any    `json:"assignedAgentId" yaml:"assignedAgentId"`
	AssignedAgentName    string `json:"assignedAgentName" yaml:"assignedAgentName"`
	CommissionPercentage any    `json:"commissionPercentage" yaml:"commissionPercentage"`
	Price                any    `json:"price" yaml:"price"`
	CreatedAt            any    `json:"createdAt" yaml:"createdAt"`
	ResolvedAt           any    `json:"resolvedAt" yaml:"resolvedAt"`
}

type RawPayment struct {
	ID        any    `json:"id" yaml:"id"`
	TicketID  any    `json:"ticketId" yaml:"ticketId"`
	Amount    any    `json:"amount" yaml:"amount"`
	Status    string `json:"status" yaml:"status"`
	CreatedAt any    `json:"createdAt" yaml:"createdAt"`
}

type RawPayout struct {
	ID           any    `json:"id" yaml:"id"`
	TechnicianID any    `json:"technicianId" yaml:"technicianId"`
	Amount       any    `json:"amount" yaml:"amount"`
	Method       string `json:"method" yaml:"method"`
	Comment      string `json:"comment" yaml:"comment"`
	CreatedAt    any    `json:"createdAt" yaml:"createdAt"`
}

type RawSnapshot struct {
	Tickets  []RawTicket  `json:"tickets" yaml:"tickets"`
	Payments []RawPayment `json:"payments" yaml:"payments"`
	Payouts  []RawPayout  `json:"payouts" yaml:"payouts"`
}
