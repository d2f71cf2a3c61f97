package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
	"github.com/repairdesk/backend/internal/service"
	"github.com/repairdesk/backend/internal/utils"
)

//go:embed schema.sql
var schemaSQL string

const payoutLockNamespace = "payout"

type Store struct {
	Pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Migrate applies schema.sql. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const ticketColumns = `id, code, title, status, device_status, requester_name, assigned_agent_id, assigned_agent_name,
	commission_percentage::text, price::text, created_at, resolved_at`

func (s *Store) ListTickets(ctx context.Context, filter service.TicketFilter) ([]models.Ticket, error) {
	return listTickets(ctx, s.Pool, filter)
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

func listTickets(ctx context.Context, q querier, filter service.TicketFilter) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	var wheres []string
	if filter.Status != "" {
		args = append(args, filter.Status)
		wheres = append(wheres, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DeviceStatus != "" {
		args = append(args, filter.DeviceStatus)
		wheres = append(wheres, fmt.Sprintf("device_status = $%d", len(args)))
	}
	if filter.TechnicianID != "" {
		args = append(args, filter.TechnicianID)
		wheres = append(wheres, fmt.Sprintf("assigned_agent_id = $%d", len(args)))
	}
	if filter.Query != "" {
		args = append(args, containsPattern(filter.Query))
		n := len(args)
		wheres = append(wheres, fmt.Sprintf(`(code ILIKE $%[1]d ESCAPE '\' OR title ILIKE $%[1]d ESCAPE '\' OR requester_name ILIKE $%[1]d ESCAPE '\' OR id ILIKE $%[1]d ESCAPE '\')`, n))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY COALESCE(resolved_at, created_at) ASC NULLS LAST, id ASC"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		t            models.Ticket
		status       string
		deviceStatus string
		pct          *string
		price        *string
	)
	if err := row.Scan(&t.ID, &t.Code, &t.Title, &status, &deviceStatus, &t.RequesterName, &t.AssignedAgentID, &t.AssignedAgentName,
		&pct, &price, &t.CreatedAt, &t.ResolvedAt); err != nil {
		return models.Ticket{}, err
	}
	t.Status = models.TicketStatus(status)
	t.DeviceStatus = models.DeviceStatus(deviceStatus)
	t.CommissionPercentage = numeric(pct)
	t.Price = numeric(price)
	return t, nil
}

func (s *Store) ListPayments(ctx context.Context, q service.PaymentQuery) ([]models.Payment, error) {
	return listPayments(ctx, s.Pool, q)
}

func listPayments(ctx context.Context, q querier, pq service.PaymentQuery) ([]models.Payment, error) {
	query := `SELECT p.id, p.ticket_id, p.amount::text, p.status, p.created_at FROM payments p`
	var args []any
	var wheres []string
	if pq.TicketID != "" {
		args = append(args, pq.TicketID)
		wheres = append(wheres, fmt.Sprintf("p.ticket_id = $%d", len(args)))
	}
	if pq.TechnicianID != "" {
		args = append(args, pq.TechnicianID)
		wheres = append(wheres, fmt.Sprintf("p.ticket_id IN (SELECT id FROM tickets WHERE assigned_agent_id = $%d)", len(args)))
	}
	if pq.Status != "" {
		args = append(args, pq.Status)
		wheres = append(wheres, fmt.Sprintf("p.status = $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY p.created_at ASC NULLS LAST, p.id ASC"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		var (
			p      models.Payment
			amount string
			status string
		)
		if err := rows.Scan(&p.ID, &p.TicketID, &amount, &status, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Amount, _ = money.Parse(amount)
		p.Status = models.PaymentStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetPaymentStatus returns the technician assigned to the payment's ticket,
// or pgx.ErrNoRows when the payment does not exist.
func (s *Store) SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) (string, error) {
	var technicianID *string
	err := s.Pool.QueryRow(ctx, `
		UPDATE payments p SET status = $1
		WHERE p.id = $2
		RETURNING (SELECT t.assigned_agent_id FROM tickets t WHERE t.id = p.ticket_id)
	`, string(status), paymentID).Scan(&technicianID)
	if err != nil {
		return "", err
	}
	if technicianID == nil {
		return "", nil
	}
	return *technicianID, nil
}

func (s *Store) ListPayouts(ctx context.Context, technicianID string, period models.Period) ([]models.Payout, error) {
	return listPayouts(ctx, s.Pool, technicianID, period)
}

func listPayouts(ctx context.Context, q querier, technicianID string, period models.Period) ([]models.Payout, error) {
	query := `SELECT id, technician_id, amount::text, method, comment, recorded_by, created_at FROM payouts`
	var args []any
	var wheres []string
	if technicianID != "" {
		args = append(args, technicianID)
		wheres = append(wheres, fmt.Sprintf("technician_id = $%d", len(args)))
	}
	if period.Start != nil {
		args = append(args, *period.Start)
		wheres = append(wheres, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if period.End != nil {
		args = append(args, *period.End)
		wheres = append(wheres, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payout
	for rows.Next() {
		var (
			p         models.Payout
			amount    string
			method    string
			createdAt time.Time
		)
		if err := rows.Scan(&p.ID, &p.TechnicianID, &amount, &method, &p.Comment, &p.RecordedBy, &createdAt); err != nil {
			return nil, err
		}
		p.Amount, _ = money.Parse(amount)
		p.Method = models.PayoutMethod(method)
		ts := createdAt.UTC()
		p.CreatedAt = &ts
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordPayout inserts p after check accepts the technician's records. The
// records are read and the row written under a transaction-scoped advisory
// lock on the technician, so two concurrent payouts cannot both pass check
// against the same balance.
func (s *Store) RecordPayout(ctx context.Context, p models.Payout, check func(models.Snapshot) error) (models.Payout, error) {
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, utils.AdvisoryLockKey(payoutLockNamespace, p.TechnicianID)); err != nil {
			return fmt.Errorf("lock technician %s: %w", p.TechnicianID, err)
		}
		snap, err := technicianSnapshot(ctx, tx, p.TechnicianID)
		if err != nil {
			return err
		}
		if err := check(snap); err != nil {
			return err
		}

		var createdAt time.Time
		err = tx.QueryRow(ctx, `
			INSERT INTO payouts (id, technician_id, amount, method, comment, recorded_by, created_at)
			VALUES ($1, $2, $3::numeric, $4, $5, $6, COALESCE($7, NOW()))
			RETURNING created_at
		`, p.ID, p.TechnicianID, p.Amount.StringFixed(2), string(p.Method), p.Comment, p.RecordedBy, p.CreatedAt).Scan(&createdAt)
		if err != nil {
			return err
		}
		ts := createdAt.UTC()
		p.CreatedAt = &ts
		return nil
	})
	if err != nil {
		return models.Payout{}, err
	}
	return p, nil
}

func technicianSnapshot(ctx context.Context, q querier, technicianID string) (models.Snapshot, error) {
	tickets, err := listTickets(ctx, q, service.TicketFilter{TechnicianID: technicianID})
	if err != nil {
		return models.Snapshot{}, err
	}
	payments, err := listPayments(ctx, q, service.PaymentQuery{TechnicianID: technicianID})
	if err != nil {
		return models.Snapshot{}, err
	}
	payouts, err := listPayouts(ctx, q, technicianID, models.Period{})
	if err != nil {
		return models.Snapshot{}, err
	}
	return models.Snapshot{Tickets: tickets, Payments: payments, Payouts: payouts}, nil
}

// ImportTickets upserts tickets by id. Rows are copied into a text staging
// table first so NUMERIC columns are cast by the server.
func (s *Store) ImportTickets(ctx context.Context, tickets []models.Ticket) (int64, error) {
	rows := make([][]any, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, []any{
			t.ID, t.Code, t.Title, string(t.Status), string(t.DeviceStatus), t.RequesterName, t.AssignedAgentID, t.AssignedAgentName,
			numericText(t.CommissionPercentage), numericText(t.Price), t.CreatedAt, t.ResolvedAt,
		})
	}
	var affected int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			CREATE TEMP TABLE tickets_import (
				id TEXT, code TEXT, title TEXT, status TEXT, device_status TEXT, requester_name TEXT,
				assigned_agent_id TEXT, assigned_agent_name TEXT, commission_percentage TEXT, price TEXT,
				created_at TIMESTAMPTZ, resolved_at TIMESTAMPTZ
			) ON COMMIT DROP`)
		if err != nil {
			return err
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"tickets_import"}, []string{
			"id", "code", "title", "status", "device_status", "requester_name", "assigned_agent_id", "assigned_agent_name",
			"commission_percentage", "price", "created_at", "resolved_at",
		}, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO tickets (id, code, title, status, device_status, requester_name, assigned_agent_id, assigned_agent_name,
				commission_percentage, price, created_at, resolved_at)
			SELECT DISTINCT ON (id) id, code, title, status, device_status, requester_name, assigned_agent_id, assigned_agent_name,
				commission_percentage::numeric, price::numeric, created_at, resolved_at
			FROM tickets_import
			ORDER BY id
			ON CONFLICT (id) DO UPDATE SET
				code = EXCLUDED.code,
				title = EXCLUDED.title,
				status = EXCLUDED.status,
				device_status = EXCLUDED.device_status,
				requester_name = EXCLUDED.requester_name,
				assigned_agent_id = EXCLUDED.assigned_agent_id,
				assigned_agent_name = EXCLUDED.assigned_agent_name,
				commission_percentage = EXCLUDED.commission_percentage,
				price = EXCLUDED.price,
				created_at = EXCLUDED.created_at,
				resolved_at = EXCLUDED.resolved_at
		`)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// ImportPayments upserts payments by id.
func (s *Store) ImportPayments(ctx context.Context, payments []models.Payment) (int64, error) {
	rows := make([][]any, 0, len(payments))
	for _, p := range payments {
		rows = append(rows, []any{p.ID, p.TicketID, p.Amount.String(), string(p.Status), p.CreatedAt})
	}
	var affected int64
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			CREATE TEMP TABLE payments_import (
				id TEXT, ticket_id TEXT, amount TEXT, status TEXT, created_at TIMESTAMPTZ
			) ON COMMIT DROP`)
		if err != nil {
			return err
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"payments_import"}, []string{"id", "ticket_id", "amount", "status", "created_at"}, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO payments (id, ticket_id, amount, status, created_at)
			SELECT DISTINCT ON (id) id, ticket_id, amount::numeric, status, created_at
			FROM payments_import
			ORDER BY id
			ON CONFLICT (id) DO UPDATE SET
				ticket_id = EXCLUDED.ticket_id,
				amount = EXCLUDED.amount,
				status = EXCLUDED.status,
				created_at = EXCLUDED.created_at
		`)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches q literally anywhere in a column.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}

func numeric(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	return money.ParseNull(*s)
}

func numericText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
