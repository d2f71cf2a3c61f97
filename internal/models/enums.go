package models

import "strings"

type TicketStatus string

const (
	TicketPending    TicketStatus = "PENDING"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketResolved   TicketStatus = "RESOLVED"
	TicketRejected   TicketStatus = "REJECTED"
)

var TicketStatuses = []TicketStatus{TicketPending, TicketInProgress, TicketResolved, TicketRejected}

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketPending, TicketInProgress, TicketResolved, TicketRejected:
		return true
	}
	return false
}

// ParseTicketStatus also accepts the French labels the shop UI sends.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	switch normalizeEnum(raw) {
	case "PENDING", "EN_ATTENTE":
		return TicketPending, true
	case "IN_PROGRESS", "EN_COURS":
		return TicketInProgress, true
	case "RESOLVED", "RESOLU":
		return TicketResolved, true
	case "REJECTED", "REJETE":
		return TicketRejected, true
	}
	return TicketPending, false
}

type DeviceStatus string

const (
	DeviceNotStarted DeviceStatus = "NOT_STARTED"
	DeviceInRepair   DeviceStatus = "IN_REPAIR"
	DeviceRepaired   DeviceStatus = "REPAIRED"
)

var DeviceStatuses = []DeviceStatus{DeviceNotStarted, DeviceInRepair, DeviceRepaired}

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceNotStarted, DeviceInRepair, DeviceRepaired:
		return true
	}
	return false
}

func ParseDeviceStatus(raw string) (DeviceStatus, bool) {
	switch normalizeEnum(raw) {
	case "NOT_STARTED", "PAS_COMMENCE":
		return DeviceNotStarted, true
	case "IN_REPAIR", "EN_COURS_REPARATION":
		return DeviceInRepair, true
	case "REPAIRED", "BIEN_REPARE":
		return DeviceRepaired, true
	}
	return DeviceNotStarted, false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentValidated PaymentStatus = "VALIDATED"
	PaymentRejected  PaymentStatus = "REJECTED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentValidated, PaymentRejected:
		return true
	}
	return false
}

func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch normalizeEnum(raw) {
	case "PENDING", "EN_ATTENTE":
		return PaymentPending, true
	case "VALIDATED", "VALIDE":
		return PaymentValidated, true
	case "REJECTED", "REJETE":
		return PaymentRejected, true
	}
	return PaymentPending, false
}

type PayoutMethod string

const (
	PayoutCash     PayoutMethod = "CASH"
	PayoutTransfer PayoutMethod = "TRANSFER"
	PayoutOther    PayoutMethod = "OTHER"
)

func (m PayoutMethod) Valid() bool {
	switch m {
	case PayoutCash, PayoutTransfer, PayoutOther:
		return true
	}
	return false
}

func ParsePayoutMethod(raw string) (PayoutMethod, bool) {
	switch normalizeEnum(raw) {
	case "CASH", "ESPECES":
		return PayoutCash, true
	case "TRANSFER", "VIREMENT":
		return PayoutTransfer, true
	case "OTHER", "AUTRE":
		return PayoutOther, true
	}
	return PayoutOther, false
}

// PaymentFilter selects breakdown lines by client payment state.
type PaymentFilter string

const (
	FilterAll     PaymentFilter = "ALL"
	FilterPaid    PaymentFilter = "PAID"
	FilterPending PaymentFilter = "PENDING"
)

func ParsePaymentFilter(raw string) (PaymentFilter, bool) {
	switch normalizeEnum(raw) {
	case "", "ALL":
		return FilterAll, true
	case "PAID", "PAYE":
		return FilterPaid, true
	case "PENDING", "EN_ATTENTE":
		return FilterPending, true
	}
	return FilterAll, false
}

type CommissionState string

const (
	// CommissionEarned: rate set and revenue collected.
	CommissionEarned CommissionState = "EARNED"
	// CommissionPendingRate: no commission percentage on the ticket yet.
	CommissionPendingRate CommissionState = "PENDING_RATE"
	// CommissionAwaitingPayment: rate set, nothing validated yet.
	CommissionAwaitingPayment CommissionState = "AWAITING_PAYMENT"
)

type PayoutCoverage string

const (
	CoveragePaidOut PayoutCoverage = "PAID_OUT"
	CoveragePartial PayoutCoverage = "PARTIAL"
	CoverageUnpaid  PayoutCoverage = "UNPAID"
	CoverageNone    PayoutCoverage = "NONE"
)

func normalizeEnum(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_", "É", "E", "È", "E").Replace(s)
	return s
}
