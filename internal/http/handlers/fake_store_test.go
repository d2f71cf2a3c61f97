package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/service"
)

type fakeStore struct {
	mu      sync.Mutex
	snap    models.Snapshot
	pingErr error
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetTicket(_ context.Context, id string) (models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.snap.Tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Ticket{}, pgx.ErrNoRows
}

func (f *fakeStore) ListTickets(_ context.Context, filter service.TicketFilter) ([]models.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Ticket
	for _, t := range f.snap.Tickets {
		if filter.TechnicianID != "" && t.AssignedAgentID != filter.TechnicianID {
			continue
		}
		if filter.Status != "" && string(t.Status) != filter.Status {
			continue
		}
		if filter.DeviceStatus != "" && string(t.DeviceStatus) != filter.DeviceStatus {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) ListPayments(_ context.Context, q service.PaymentQuery) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := service.TechnicianTicketIDs(f.snap.Tickets, q.TechnicianID)
	var out []models.Payment
	for _, p := range f.snap.Payments {
		if q.TicketID != "" && p.TicketID != q.TicketID {
			continue
		}
		if q.TechnicianID != "" {
			if _, ok := ids[p.TicketID]; !ok {
				continue
			}
		}
		if q.Status != "" && string(p.Status) != q.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) SetPaymentStatus(_ context.Context, id string, status models.PaymentStatus) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.snap.Payments {
		if p.ID == id {
			f.snap.Payments[i].Status = status
			for _, t := range f.snap.Tickets {
				if t.ID == p.TicketID {
					return t.AssignedAgentID, nil
				}
			}
			return "", nil
		}
	}
	return "", pgx.ErrNoRows
}

func (f *fakeStore) ListPayouts(_ context.Context, tech string, period models.Period) ([]models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payout
	for _, p := range f.snap.Payouts {
		if (tech == "" || p.TechnicianID == tech) && period.Contains(p.CreatedAt) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordPayout(_ context.Context, p models.Payout, check func(models.Snapshot) error) (models.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := check(f.snap); err != nil {
		return models.Payout{}, err
	}
	f.snap.Payouts = append(f.snap.Payouts, p)
	return p, nil
}

// ImportTickets upserts by id like the database store.
func (f *fakeStore) ImportTickets(_ context.Context, tickets []models.Ticket) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tickets {
		replaced := false
		for i := range f.snap.Tickets {
			if f.snap.Tickets[i].ID == t.ID {
				f.snap.Tickets[i] = t
				replaced = true
				break
			}
		}
		if !replaced {
			f.snap.Tickets = append(f.snap.Tickets, t)
		}
	}
	return int64(len(tickets)), nil
}

func (f *fakeStore) ImportPayments(_ context.Context, payments []models.Payment) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range payments {
		replaced := false
		for i := range f.snap.Payments {
			if f.snap.Payments[i].ID == p.ID {
				f.snap.Payments[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			f.snap.Payments = append(f.snap.Payments, p)
		}
	}
	return int64(len(payments)), nil
}

// mapCache is an in-memory summary cache keyed by technician only.
type mapCache struct {
	mu          sync.Mutex
	entries     map[string]models.TechnicianSummary
	generations map[string]int64
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]models.TechnicianSummary{}, generations: map[string]int64{}}
}

func (m *mapCache) Generation(_ context.Context, tech string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[tech], nil
}

func (m *mapCache) Get(_ context.Context, tech string, _ models.Period) (models.TechnicianSummary, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[tech]
	return s, ok, nil
}

func (m *mapCache) Set(_ context.Context, s models.TechnicianSummary, _ models.Period, generation int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generations[s.TechnicianID] != generation {
		return nil
	}
	m.entries[s.TechnicianID] = s
	return nil
}

func (m *mapCache) InvalidateTechnician(_ context.Context, tech string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, tech)
	m.generations[tech]++
	return nil
}

var errFakeDown = errors.New("connection refused")

// seededStore holds one technician with 150.00 earned and a second ticket
// still waiting for its rate.
func seededStore() *fakeStore {
	resolved := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	return &fakeStore{snap: models.Snapshot{
		Tickets: []models.Ticket{
			{
				ID: "A", Code: "TCK-A", Title: "iPhone 12", Status: models.TicketResolved, DeviceStatus: models.DeviceRepaired,
				RequesterName: "Amina", AssignedAgentID: "tech-1", AssignedAgentName: "Youssef",
				CommissionPercentage: decimal.NewNullDecimal(decimal.NewFromInt(30)),
				Price:                decimal.NewNullDecimal(decimal.NewFromInt(500)),
				ResolvedAt:           &resolved,
			},
			{
				ID: "B", Code: "TCK-B", Title: "Galaxy S21", Status: models.TicketResolved, DeviceStatus: models.DeviceRepaired,
				RequesterName: "Karim", AssignedAgentID: "tech-1",
				ResolvedAt: &resolved,
			},
		},
		Payments: []models.Payment{
			{ID: "p1", TicketID: "A", Amount: decimal.NewFromInt(500), Status: models.PaymentValidated, CreatedAt: &resolved},
			{ID: "p2", TicketID: "B", Amount: decimal.NewFromInt(80), Status: models.PaymentPending, CreatedAt: &resolved},
		},
	}}
}
