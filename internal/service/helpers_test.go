package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func nullDec(t *testing.T, s string) decimal.NullDecimal {
	t.Helper()
	return decimal.NullDecimal{Decimal: dec(t, s), Valid: true}
}

func at(day int) *time.Time {
	ts := time.Date(2024, 5, day, 10, 0, 0, 0, time.UTC)
	return &ts
}

func repaired(id, tech string, pct string, t *testing.T) models.Ticket {
	tk := models.Ticket{
		ID:              id,
		Code:            "TCK-" + id,
		Title:           "Phone " + id,
		Status:          models.TicketResolved,
		DeviceStatus:    models.DeviceRepaired,
		RequesterName:   "Client " + id,
		AssignedAgentID: tech,
	}
	if pct != "" {
		tk.CommissionPercentage = nullDec(t, pct)
	}
	return tk
}

func validated(id, ticketID, amount string, day int, t *testing.T) models.Payment {
	return models.Payment{ID: id, TicketID: ticketID, Amount: dec(t, amount), Status: models.PaymentValidated, CreatedAt: at(day)}
}

func assertDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(t, want)) {
		t.Fatalf("%s: expected %s got %s", name, want, got)
	}
}

var errNotFound = errors.New("not found")

// memStore is an in-memory Store; RecordPayout serializes on a mutex.
type memStore struct {
	mu   sync.Mutex
	snap models.Snapshot
	// checks counts guard invocations
	checks int
}

func (m *memStore) ListTickets(_ context.Context, f TicketFilter) ([]models.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Ticket
	for _, t := range m.snap.Tickets {
		if f.TechnicianID != "" && t.AssignedAgentID != f.TechnicianID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) ListPayments(_ context.Context, q PaymentQuery) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := TechnicianTicketIDs(m.snap.Tickets, q.TechnicianID)
	var out []models.Payment
	for _, p := range m.snap.Payments {
		if q.TicketID != "" && p.TicketID != q.TicketID {
			continue
		}
		if q.TechnicianID != "" {
			if _, ok := ids[p.TicketID]; !ok {
				continue
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) SetPaymentStatus(_ context.Context, id string, status models.PaymentStatus) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.snap.Payments {
		if p.ID != id {
			continue
		}
		m.snap.Payments[i].Status = status
		for _, t := range m.snap.Tickets {
			if t.ID == p.TicketID {
				return t.AssignedAgentID, nil
			}
		}
		return "", nil
	}
	return "", errNotFound
}

func (m *memStore) ListPayouts(_ context.Context, tech string, period models.Period) ([]models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payout
	for _, p := range m.snap.Payouts {
		if tech != "" && p.TechnicianID != tech {
			continue
		}
		if !period.Contains(p.CreatedAt) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) RecordPayout(_ context.Context, p models.Payout, check func(models.Snapshot) error) (models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	snap := models.Snapshot{
		Tickets:  append([]models.Ticket(nil), m.snap.Tickets...),
		Payments: append([]models.Payment(nil), m.snap.Payments...),
		Payouts:  append([]models.Payout(nil), m.snap.Payouts...),
	}
	if err := check(snap); err != nil {
		return models.Payout{}, err
	}
	m.snap.Payouts = append(m.snap.Payouts, p)
	return p, nil
}

// countingCache records invalidations.
type countingCache struct {
	mu          sync.Mutex
	entries     map[string]models.TechnicianSummary
	generations map[string]int64
	invalidated []string
}

func (c *countingCache) Get(_ context.Context, tech string, _ models.Period) (models.TechnicianSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[tech]
	return s, ok, nil
}

func (c *countingCache) Generation(_ context.Context, tech string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[tech], nil
}

func (c *countingCache) Set(_ context.Context, s models.TechnicianSummary, _ models.Period, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[s.TechnicianID] != generation {
		return nil
	}
	if c.entries == nil {
		c.entries = map[string]models.TechnicianSummary{}
	}
	c.entries[s.TechnicianID] = s
	return nil
}

func (c *countingCache) InvalidateTechnician(_ context.Context, tech string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tech)
	if c.generations == nil {
		c.generations = map[string]int64{}
	}
	c.generations[tech]++
	c.invalidated = append(c.invalidated, tech)
	return nil
}
