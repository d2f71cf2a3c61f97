package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrExceedsOutstanding = errors.New("amount exceeds outstanding balance")
	// ErrAmountBelowCent is an ErrInvalidAmount for positive amounts that
	// round to zero cents.
	ErrAmountBelowCent = fmt.Errorf("%w: below one cent", ErrInvalidAmount)
)

// PayoutRejection is returned when a proposed payout fails the guard.
type PayoutRejection struct {
	Reason      error
	Requested   decimal.Decimal
	Outstanding decimal.Decimal
}

func (e *PayoutRejection) Error() string {
	if errors.Is(e.Reason, ErrExceedsOutstanding) {
		return fmt.Sprintf("%s: requested %s, outstanding %s", e.Reason, e.Requested.StringFixed(2), e.Outstanding.StringFixed(2))
	}
	return e.Reason.Error()
}

func (e *PayoutRejection) Unwrap() error {
	return e.Reason
}

// ParseAmount reads a proposed payout amount and rounds it to cents.
// Non-numeric, zero and negative values are rejected with ErrInvalidAmount,
// positive values under half a cent with ErrAmountBelowCent.
func ParseAmount(v any) (decimal.Decimal, error) {
	d, ok := money.Parse(v)
	if !ok {
		return decimal.Zero, &PayoutRejection{Reason: ErrInvalidAmount, Requested: decimal.Zero}
	}
	if !d.IsPositive() {
		return decimal.Zero, &PayoutRejection{Reason: ErrInvalidAmount, Requested: d}
	}
	rounded := money.Round2(d)
	if !rounded.IsPositive() {
		return decimal.Zero, &PayoutRejection{Reason: ErrAmountBelowCent, Requested: d}
	}
	return rounded, nil
}

// CheckPayout validates amount against a summary computed from live records.
// The summary must cover the technician's whole history, not a period.
func CheckPayout(summary models.TechnicianSummary, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &PayoutRejection{Reason: ErrInvalidAmount, Requested: amount, Outstanding: summary.OutstandingBalance}
	}
	if amount.GreaterThan(summary.OutstandingBalance) {
		return &PayoutRejection{Reason: ErrExceedsOutstanding, Requested: amount, Outstanding: summary.OutstandingBalance}
	}
	return nil
}

// GuardSnapshot re-derives the balance from snap and checks amount.
func GuardSnapshot(snap models.Snapshot, technicianID string, amount decimal.Decimal) (models.TechnicianSummary, error) {
	summary := Summarize(snap, technicianID, models.Period{})
	return summary, CheckPayout(summary, amount)
}
