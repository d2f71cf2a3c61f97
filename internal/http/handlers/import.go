package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/service"
)

type ImportCounts struct {
	Parsed   int `json:"parsed"`
	Inserted int `json:"inserted"`
	Excluded int `json:"excluded"`
}

type ImportSummary struct {
	Tickets  ImportCounts          `json:"tickets"`
	Payments ImportCounts          `json:"payments"`
	Issues   []service.RecordIssue `json:"issues"`
	Errors   []string              `json:"errors"`
}

// @Summary Import CSV data
// @Description Upload tickets and/or payments CSV files. Rows are upserted by id.
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param tickets formData file false "tickets.csv"
// @Param payments formData file false "payments.csv"
// @Success 200 {object} ImportSummary
// @Failure 400 {object} map[string]any
// @Router /api/import [post]
func (h *Handler) Import(c *gin.Context) {
	ticketsFile, _ := c.FormFile("tickets")
	paymentsFile, _ := c.FormFile("payments")
	if ticketsFile == nil && paymentsFile == nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tickets or payments file required", nil)
		return
	}
	for _, f := range []*multipart.FileHeader{ticketsFile, paymentsFile} {
		if f != nil && !validateExt(f.Filename) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "all files must be .csv", f.Filename)
			return
		}
	}

	summary := ImportSummary{Issues: []service.RecordIssue{}, Errors: []string{}}
	var raw models.RawSnapshot
	if ticketsFile != nil {
		rows, errs := parseTicketsCSV(ticketsFile)
		raw.Tickets = rows
		summary.Errors = append(summary.Errors, errs...)
	}
	if paymentsFile != nil {
		rows, errs := parsePaymentsCSV(paymentsFile)
		raw.Payments = rows
		summary.Errors = append(summary.Errors, errs...)
	}
	if len(summary.Errors) > 0 {
		writeError(c, http.StatusBadRequest, "CSV_PARSE_ERROR", "CSV validation errors", summary.Errors)
		return
	}

	snap, issues := h.Normalizer.Normalize(raw)
	summary.Issues = append(summary.Issues, issues...)
	summary.Tickets.Parsed = len(raw.Tickets)
	summary.Payments.Parsed = len(raw.Payments)
	for _, issue := range issues {
		if !issue.Excluded {
			continue
		}
		switch issue.Record {
		case "ticket":
			summary.Tickets.Excluded++
		case "payment":
			summary.Payments.Excluded++
		}
	}

	ctx := c.Request.Context()
	previous := h.currentAssignees(ctx, snap.Tickets)
	if len(snap.Tickets) > 0 {
		inserted, err := h.Store.ImportTickets(ctx, snap.Tickets)
		if err != nil {
			h.writeServiceError(c, err, "Failed to insert tickets")
			return
		}
		summary.Tickets.Inserted = int(inserted)
	}
	if len(snap.Payments) > 0 {
		inserted, err := h.Store.ImportPayments(ctx, snap.Payments)
		if err != nil {
			h.writeServiceError(c, err, "Failed to insert payments")
			return
		}
		summary.Payments.Inserted = int(inserted)
	}

	h.Service.Invalidate(ctx, h.affectedTechnicians(ctx, snap, previous)...)
	h.Logger.Info().
		Int("tickets", summary.Tickets.Inserted).
		Int("payments", summary.Payments.Inserted).
		Int("issues", len(summary.Issues)).
		Msg("import finished")
	c.JSON(http.StatusOK, summary)
}

// currentAssignees returns the technicians the imported tickets are assigned
// to before the upsert, so a reassignment evicts the previous owner too.
func (h *Handler) currentAssignees(ctx context.Context, tickets []models.Ticket) []string {
	var out []string
	for _, t := range tickets {
		existing, err := h.Store.GetTicket(ctx, t.ID)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				h.Logger.Warn().Err(err).Str("ticket_id", t.ID).Msg("failed to read previous assignee")
			}
			continue
		}
		if existing.AssignedAgentID != "" && existing.AssignedAgentID != t.AssignedAgentID {
			out = append(out, existing.AssignedAgentID)
		}
	}
	return out
}

// affectedTechnicians lists technicians whose cached summaries the import may
// have made stale: previous assignees plus current ones. Payments are
// resolved to technicians through their tickets.
func (h *Handler) affectedTechnicians(ctx context.Context, snap models.Snapshot, previous []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range previous {
		add(id)
	}
	known := map[string]bool{}
	for _, t := range snap.Tickets {
		known[t.ID] = true
		add(t.AssignedAgentID)
	}
	for _, p := range snap.Payments {
		if known[p.TicketID] {
			continue
		}
		known[p.TicketID] = true
		t, err := h.Store.GetTicket(ctx, p.TicketID)
		if err != nil {
			continue
		}
		add(t.AssignedAgentID)
	}
	return out
}

func parseTicketsCSV(file *multipart.FileHeader) ([]models.RawTicket, []string) {
	records, index, errs := readCSV(file)
	if records == nil {
		return nil, errs
	}
	var out []models.RawTicket
	for _, rec := range records {
		out = append(out, models.RawTicket{
			ID:                   getFieldAny(rec, index, "id", "ticket_id", "ticket id"),
			Code:                 getFieldAny(rec, index, "code", "ticket_code", "reference"),
			Title:                getFieldAny(rec, index, "title", "device", "appareil", "titre"),
			Status:               getFieldAny(rec, index, "status", "statut"),
			DeviceStatus:         getFieldAny(rec, index, "device_status", "devicestatus", "statut appareil"),
			RequesterName:        getFieldAny(rec, index, "requester_name", "requestername", "client", "client_name", "nom client"),
			AssignedAgentID:      getFieldAny(rec, index, "assigned_agent_id", "assignedagentid", "technician_id", "reparateur_id"),
			AssignedAgentName:    getFieldAny(rec, index, "assigned_agent_name", "assignedagentname", "technician", "reparateur"),
			CommissionPercentage: getFieldAny(rec, index, "commission_percentage", "commissionpercentage", "commission", "pourcentage"),
			Price:                getFieldAny(rec, index, "price", "prix"),
			CreatedAt:            getFieldAny(rec, index, "created_at", "createdat", "created", "date"),
			ResolvedAt:           getFieldAny(rec, index, "resolved_at", "resolvedat", "resolved"),
		})
	}
	return out, errs
}

func parsePaymentsCSV(file *multipart.FileHeader) ([]models.RawPayment, []string) {
	records, index, errs := readCSV(file)
	if records == nil {
		return nil, errs
	}
	var out []models.RawPayment
	for _, rec := range records {
		out = append(out, models.RawPayment{
			ID:        getFieldAny(rec, index, "id", "payment_id", "paiement_id"),
			TicketID:  getFieldAny(rec, index, "ticket_id", "ticketid", "ticket"),
			Amount:    getFieldAny(rec, index, "amount", "montant"),
			Status:    getFieldAny(rec, index, "status", "statut"),
			CreatedAt: getFieldAny(rec, index, "created_at", "createdat", "date"),
		})
	}
	return out, errs
}

// readCSV returns nil records only when the header cannot be read.
func readCSV(file *multipart.FileHeader) ([][]string, map[string]int, []string) {
	f, err := file.Open()
	if err != nil {
		return nil, nil, []string{err.Error()}
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	headers, err := reader.Read()
	if err != nil {
		return nil, nil, []string{file.Filename + ": failed to read header"}
	}
	index := headerIndex(headers)
	var errs []string
	records := [][]string{}
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, file.Filename+": "+err.Error())
			continue
		}
		records = append(records, rec)
	}
	return records, index, errs
}

func headerIndex(headers []string) map[string]int {
	idx := map[string]int{}
	for i, h := range headers {
		idx[normalizeHeader(h)] = i
	}
	return idx
}

func getField(rec []string, idx map[string]int, name string) string {
	pos, ok := idx[name]
	if !ok || pos >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[pos])
}

func getFieldAny(rec []string, idx map[string]int, names ...string) string {
	for _, name := range names {
		if v := getField(rec, idx, normalizeHeader(name)); v != "" {
			return v
		}
	}
	return ""
}

func normalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.TrimSpace(h))
}

func validateExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
