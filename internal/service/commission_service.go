package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/cache"
	"github.com/repairdesk/backend/internal/models"
)

var ErrTechnicianRequired = errors.New("technician id required")

type TicketFilter struct {
	Status       string
	DeviceStatus string
	TechnicianID string
	Query        string
}

type PaymentQuery struct {
	TicketID     string
	TechnicianID string
	Status       string
}

// Sources are expected to return complete snapshots, not pages.
type TicketSource interface {
	ListTickets(ctx context.Context, filter TicketFilter) ([]models.Ticket, error)
}

type PaymentSource interface {
	ListPayments(ctx context.Context, q PaymentQuery) ([]models.Payment, error)
	SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) (technicianID string, err error)
}

// PayoutSource lists payouts; an empty technicianID lists all of them.
type PayoutSource interface {
	ListPayouts(ctx context.Context, technicianID string, period models.Period) ([]models.Payout, error)
}

// PayoutRecorder must run check and the insert while holding an exclusive
// per-technician lock, with check reading the technician's records inside
// that lock. A non-nil error from check aborts the insert.
type PayoutRecorder interface {
	RecordPayout(ctx context.Context, p models.Payout, check func(models.Snapshot) error) (models.Payout, error)
}

type Store interface {
	TicketSource
	PaymentSource
	PayoutSource
	PayoutRecorder
}

type PayoutRequest struct {
	TechnicianID string
	Amount       any
	Method       models.PayoutMethod
	Comment      string
	RecordedBy   string
}

// PayoutDecision is the outcome of a dry-run validation.
type PayoutDecision struct {
	Allowed   bool                     `json:"allowed"`
	Requested decimal.Decimal          `json:"requested"`
	Summary   models.TechnicianSummary `json:"summary"`
}

type CommissionService struct {
	Store  Store
	Cache  cache.SummaryCache
	Logger zerolog.Logger
	Now    func() time.Time
}

func (s *CommissionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CommissionService) cache() cache.SummaryCache {
	if s.Cache == nil {
		return cache.NopCache{}
	}
	return s.Cache
}

// TechnicianSnapshot loads every record that can affect technicianID.
func (s *CommissionService) TechnicianSnapshot(ctx context.Context, technicianID string) (models.Snapshot, error) {
	tickets, err := s.Store.ListTickets(ctx, TicketFilter{TechnicianID: technicianID})
	if err != nil {
		return models.Snapshot{}, err
	}
	payments, err := s.Store.ListPayments(ctx, PaymentQuery{TechnicianID: technicianID})
	if err != nil {
		return models.Snapshot{}, err
	}
	payouts, err := s.Store.ListPayouts(ctx, technicianID, models.Period{})
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{Tickets: tickets, Payments: payments, Payouts: payouts}, nil
}

func (s *CommissionService) Summary(ctx context.Context, technicianID string, period models.Period) (models.TechnicianSummary, error) {
	technicianID = strings.TrimSpace(technicianID)
	if technicianID == "" {
		return models.TechnicianSummary{}, ErrTechnicianRequired
	}
	if cached, hit, err := s.cache().Get(ctx, technicianID, period); err != nil {
		s.Logger.Warn().Err(err).Str("technician_id", technicianID).Msg("summary cache read failed")
	} else if hit {
		return cached, nil
	}
	generation, genErr := s.cache().Generation(ctx, technicianID)
	if genErr != nil {
		s.Logger.Warn().Err(genErr).Str("technician_id", technicianID).Msg("summary cache generation read failed")
	}

	snap, err := s.TechnicianSnapshot(ctx, technicianID)
	if err != nil {
		return models.TechnicianSummary{}, err
	}
	summary := Summarize(snap, technicianID, period)
	if genErr == nil {
		if err := s.cache().Set(ctx, summary, period, generation); err != nil {
			s.Logger.Warn().Err(err).Str("technician_id", technicianID).Msg("summary cache write failed")
		}
	}
	return summary, nil
}

func (s *CommissionService) Breakdown(ctx context.Context, technicianID string, q BreakdownQuery) ([]models.TicketLine, error) {
	technicianID = strings.TrimSpace(technicianID)
	if technicianID == "" {
		return nil, ErrTechnicianRequired
	}
	snap, err := s.TechnicianSnapshot(ctx, technicianID)
	if err != nil {
		return nil, err
	}
	return Breakdown(snap, technicianID, q), nil
}

func (s *CommissionService) Payouts(ctx context.Context, technicianID string, period models.Period) ([]models.Payout, error) {
	technicianID = strings.TrimSpace(technicianID)
	if technicianID == "" {
		return nil, ErrTechnicianRequired
	}
	return s.Store.ListPayouts(ctx, technicianID, period)
}

// ValidatePayout is a dry run of the guard against freshly loaded records.
// Its answer can be stale by the time the payout is submitted; RecordPayout
// checks again under the technician lock.
func (s *CommissionService) ValidatePayout(ctx context.Context, technicianID string, amount any) (PayoutDecision, error) {
	technicianID = strings.TrimSpace(technicianID)
	if technicianID == "" {
		return PayoutDecision{}, ErrTechnicianRequired
	}
	requested, err := ParseAmount(amount)
	if err != nil {
		return PayoutDecision{Requested: requested}, err
	}
	snap, err := s.TechnicianSnapshot(ctx, technicianID)
	if err != nil {
		return PayoutDecision{}, err
	}
	summary, err := GuardSnapshot(snap, technicianID, requested)
	decision := PayoutDecision{Allowed: err == nil, Requested: requested, Summary: summary}
	return decision, err
}

func (s *CommissionService) RecordPayout(ctx context.Context, req PayoutRequest) (models.Payout, error) {
	technicianID := strings.TrimSpace(req.TechnicianID)
	if technicianID == "" {
		return models.Payout{}, ErrTechnicianRequired
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return models.Payout{}, err
	}
	method := req.Method
	if !method.Valid() {
		method = models.PayoutOther
	}
	createdAt := s.now()
	payout := models.Payout{
		ID:           uuid.NewString(),
		TechnicianID: technicianID,
		Amount:       amount,
		Method:       method,
		Comment:      strings.TrimSpace(req.Comment),
		RecordedBy:   strings.TrimSpace(req.RecordedBy),
		CreatedAt:    &createdAt,
	}

	saved, err := s.Store.RecordPayout(ctx, payout, func(snap models.Snapshot) error {
		_, err := GuardSnapshot(snap, technicianID, amount)
		return err
	})
	if err != nil {
		var rejection *PayoutRejection
		if errors.As(err, &rejection) {
			s.Logger.Info().
				Str("technician_id", technicianID).
				Str("requested", rejection.Requested.StringFixed(2)).
				Str("outstanding", rejection.Outstanding.StringFixed(2)).
				Msg("payout rejected")
		}
		return models.Payout{}, err
	}

	s.Invalidate(ctx, technicianID)
	s.Logger.Info().
		Str("technician_id", technicianID).
		Str("payout_id", saved.ID).
		Str("amount", saved.Amount.StringFixed(2)).
		Str("method", string(saved.Method)).
		Msg("payout recorded")
	return saved, nil
}

// SetPaymentStatus validates or rejects a client payment and drops cached
// summaries of the ticket's technician.
func (s *CommissionService) SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) error {
	technicianID, err := s.Store.SetPaymentStatus(ctx, paymentID, status)
	if err != nil {
		return err
	}
	if technicianID != "" {
		s.Invalidate(ctx, technicianID)
	}
	return nil
}

func (s *CommissionService) Dashboard(ctx context.Context) (Dashboard, error) {
	snap, err := s.fullSnapshot(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return BuildDashboard(snap), nil
}

func (s *CommissionService) Audit(ctx context.Context, period models.Period) ([]AuditFinding, error) {
	snap, err := s.fullSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return Audit(snap, period), nil
}

func (s *CommissionService) fullSnapshot(ctx context.Context) (models.Snapshot, error) {
	tickets, err := s.Store.ListTickets(ctx, TicketFilter{})
	if err != nil {
		return models.Snapshot{}, err
	}
	payments, err := s.Store.ListPayments(ctx, PaymentQuery{})
	if err != nil {
		return models.Snapshot{}, err
	}
	payouts, err := s.Store.ListPayouts(ctx, "", models.Period{})
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{Tickets: tickets, Payments: payments, Payouts: payouts}, nil
}

// Invalidate drops cached summaries and discards any summary computed before
// the call that has not been written yet. Failures are logged, not returned:
// a stale entry expires with its TTL.
func (s *CommissionService) Invalidate(ctx context.Context, technicianIDs ...string) {
	for _, id := range technicianIDs {
		if id == "" {
			continue
		}
		if err := s.cache().InvalidateTechnician(ctx, id); err != nil {
			s.Logger.Warn().Err(err).Str("technician_id", id).Msg("summary cache invalidation failed")
		}
	}
}
