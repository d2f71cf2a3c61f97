package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
)

// ErrIncompleteRecord marks a record dropped from aggregation because a
// required field (id, amount, owner reference) is missing or unusable.
var ErrIncompleteRecord = errors.New("incomplete record")

const (
	IssueIncompleteRecord = "INCOMPLETE_RECORD"
	IssueInvalidField     = "INVALID_FIELD"
)

type RecordIssue struct {
	Code     string `json:"code"`
	Record   string `json:"record"`
	Index    int    `json:"index"`
	RecordID string `json:"record_id,omitempty"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
	Excluded bool   `json:"excluded"`
}

func (i RecordIssue) Error() string {
	id := i.RecordID
	if id == "" {
		id = "#" + strconv.Itoa(i.Index)
	}
	return fmt.Sprintf("%s %s: %s %s", i.Record, id, i.Field, i.Reason)
}

func (i RecordIssue) Unwrap() error {
	if i.Excluded {
		return ErrIncompleteRecord
	}
	return nil
}

var percentRange = struct{ min, max decimal.Decimal }{decimal.Zero, decimal.NewFromInt(100)}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer is the only place raw payloads are parsed. Everything past it
// works on typed records and never re-checks field formats.
type Normalizer struct {
	Logger zerolog.Logger
}

// Normalize uses a silent logger.
func Normalize(raw models.RawSnapshot) (models.Snapshot, []RecordIssue) {
	return Normalizer{Logger: zerolog.Nop()}.Normalize(raw)
}

func (n Normalizer) Normalize(raw models.RawSnapshot) (models.Snapshot, []RecordIssue) {
	var (
		snap   models.Snapshot
		issues []RecordIssue
	)
	snap.Tickets = make([]models.Ticket, 0, len(raw.Tickets))
	for i, rt := range raw.Tickets {
		t, errs := normalizeTicket(i, rt)
		issues = append(issues, errs...)
		if t != nil {
			snap.Tickets = append(snap.Tickets, *t)
		}
	}
	snap.Payments = make([]models.Payment, 0, len(raw.Payments))
	for i, rp := range raw.Payments {
		p, errs := normalizePayment(i, rp)
		issues = append(issues, errs...)
		if p != nil {
			snap.Payments = append(snap.Payments, *p)
		}
	}
	snap.Payouts = make([]models.Payout, 0, len(raw.Payouts))
	for i, ro := range raw.Payouts {
		p, errs := normalizePayout(i, ro)
		issues = append(issues, errs...)
		if p != nil {
			snap.Payouts = append(snap.Payouts, *p)
		}
	}

	for _, issue := range issues {
		n.Logger.Warn().
			Str("record", issue.Record).
			Str("record_id", issue.RecordID).
			Int("index", issue.Index).
			Str("field", issue.Field).
			Bool("excluded", issue.Excluded).
			Msg(issue.Reason)
	}
	return snap, issues
}

func normalizeTicket(idx int, rt models.RawTicket) (*models.Ticket, []RecordIssue) {
	var issues []RecordIssue
	issue := func(field, reason string, excluded bool, id string) {
		code := IssueInvalidField
		if excluded {
			code = IssueIncompleteRecord
		}
		issues = append(issues, RecordIssue{Code: code, Record: "ticket", Index: idx, RecordID: id, Field: field, Reason: reason, Excluded: excluded})
	}

	id := ParseID(rt.ID)
	if id == "" {
		issue("id", "missing id", true, "")
		return nil, issues
	}

	t := models.Ticket{
		ID:                id,
		Code:              strings.TrimSpace(rt.Code),
		Title:             strings.TrimSpace(rt.Title),
		RequesterName:     strings.TrimSpace(rt.RequesterName),
		AssignedAgentID:   ParseID(rt.AssignedAgentID),
		AssignedAgentName: strings.TrimSpace(rt.AssignedAgentName),
		Status:            models.TicketPending,
		DeviceStatus:      models.DeviceNotStarted,
	}
	if rt.Status != "" {
		st, ok := models.ParseTicketStatus(rt.Status)
		if !ok {
			issue("status", fmt.Sprintf("unknown status %q", rt.Status), false, id)
		}
		t.Status = st
	}
	if rt.DeviceStatus != "" {
		ds, ok := models.ParseDeviceStatus(rt.DeviceStatus)
		if !ok {
			issue("deviceStatus", fmt.Sprintf("unknown device status %q", rt.DeviceStatus), false, id)
		}
		t.DeviceStatus = ds
	}

	if present(rt.Price) {
		price, ok := money.Parse(rt.Price)
		switch {
		case !ok:
			issue("price", "not a number", false, id)
		case price.IsNegative():
			issue("price", "negative", false, id)
		default:
			t.Price = decimal.NullDecimal{Decimal: price, Valid: true}
		}
	}
	if present(rt.CommissionPercentage) {
		pct, ok := money.Parse(rt.CommissionPercentage)
		switch {
		case !ok:
			issue("commissionPercentage", "not a number", false, id)
		case pct.LessThan(percentRange.min) || pct.GreaterThan(percentRange.max):
			issue("commissionPercentage", "outside [0,100]", false, id)
		default:
			t.CommissionPercentage = decimal.NullDecimal{Decimal: pct, Valid: true}
		}
	}

	var ok bool
	if t.CreatedAt, ok = ParseTime(rt.CreatedAt); !ok {
		issue("createdAt", "unparseable timestamp", false, id)
	}
	if t.ResolvedAt, ok = ParseTime(rt.ResolvedAt); !ok {
		issue("resolvedAt", "unparseable timestamp", false, id)
	}
	return &t, issues
}

func normalizePayment(idx int, rp models.RawPayment) (*models.Payment, []RecordIssue) {
	id := ParseID(rp.ID)
	exclude := func(field, reason string) (*models.Payment, []RecordIssue) {
		return nil, []RecordIssue{{Code: IssueIncompleteRecord, Record: "payment", Index: idx, RecordID: id, Field: field, Reason: reason, Excluded: true}}
	}
	if id == "" {
		return exclude("id", "missing id")
	}
	ticketID := ParseID(rp.TicketID)
	if ticketID == "" {
		return exclude("ticketId", "missing ticket reference")
	}
	amount, ok := money.Parse(rp.Amount)
	if !ok {
		return exclude("amount", "missing or not a number")
	}
	if amount.IsNegative() {
		return exclude("amount", "negative")
	}

	var issues []RecordIssue
	p := models.Payment{ID: id, TicketID: ticketID, Amount: amount, Status: models.PaymentPending}
	if rp.Status != "" {
		st, ok := models.ParsePaymentStatus(rp.Status)
		if !ok {
			issues = append(issues, RecordIssue{Code: IssueInvalidField, Record: "payment", Index: idx, RecordID: id, Field: "status", Reason: fmt.Sprintf("unknown status %q", rp.Status)})
		}
		p.Status = st
	}
	if p.CreatedAt, ok = ParseTime(rp.CreatedAt); !ok {
		issues = append(issues, RecordIssue{Code: IssueInvalidField, Record: "payment", Index: idx, RecordID: id, Field: "createdAt", Reason: "unparseable timestamp"})
	}
	return &p, issues
}

func normalizePayout(idx int, ro models.RawPayout) (*models.Payout, []RecordIssue) {
	id := ParseID(ro.ID)
	exclude := func(field, reason string) (*models.Payout, []RecordIssue) {
		return nil, []RecordIssue{{Code: IssueIncompleteRecord, Record: "payout", Index: idx, RecordID: id, Field: field, Reason: reason, Excluded: true}}
	}
	if id == "" {
		return exclude("id", "missing id")
	}
	techID := ParseID(ro.TechnicianID)
	if techID == "" {
		return exclude("technicianId", "missing technician reference")
	}
	amount, ok := money.Parse(ro.Amount)
	if !ok {
		return exclude("amount", "missing or not a number")
	}
	if amount.IsNegative() {
		return exclude("amount", "negative")
	}

	var issues []RecordIssue
	p := models.Payout{ID: id, TechnicianID: techID, Amount: amount, Method: models.PayoutOther, Comment: strings.TrimSpace(ro.Comment)}
	if ro.Method != "" {
		m, ok := models.ParsePayoutMethod(ro.Method)
		if !ok {
			issues = append(issues, RecordIssue{Code: IssueInvalidField, Record: "payout", Index: idx, RecordID: id, Field: "method", Reason: fmt.Sprintf("unknown method %q", ro.Method)})
		}
		p.Method = m
	}
	if p.CreatedAt, ok = ParseTime(ro.CreatedAt); !ok {
		issues = append(issues, RecordIssue{Code: IssueInvalidField, Record: "payout", Index: idx, RecordID: id, Field: "createdAt", Reason: "unparseable timestamp"})
	}
	return &p, issues
}

// ParseID accepts string and numeric identifiers. Whole floats come from
// JSON numbers and are printed without a fraction.
func ParseID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ""
		}
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return ""
	}
}

// ParseTime returns (nil, true) for an absent value and (nil, false) for a
// value that is present but cannot be read.
func ParseTime(v any) (*time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case time.Time:
		if t.IsZero() {
			return nil, true
		}
		u := t.UTC()
		return &u, true
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil, true
		}
		u := t.UTC()
		return &u, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, true
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				u := ts.UTC()
				return &u, true
			}
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			u := time.Unix(secs, 0).UTC()
			return &u, true
		}
		return nil, false
	default:
		d, ok := money.Parse(v)
		if !ok {
			return nil, false
		}
		u := time.Unix(d.IntPart(), 0).UTC()
		return &u, true
	}
}

func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}
