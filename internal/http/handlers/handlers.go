package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
	"github.com/repairdesk/backend/internal/service"
)

// Store is what the handlers need beyond the commission service.
type Store interface {
	service.Store
	Ping(ctx context.Context) error
	GetTicket(ctx context.Context, id string) (models.Ticket, error)
	ImportTickets(ctx context.Context, tickets []models.Ticket) (int64, error)
	ImportPayments(ctx context.Context, payments []models.Payment) (int64, error)
}

type Handler struct {
	Store      Store
	Service    *service.CommissionService
	Normalizer service.Normalizer
	Validator  *validator.Validate
	Logger     zerolog.Logger
	Formatter  money.Formatter
	Currency   string
}

type SummaryResponse struct {
	models.TechnicianSummary
	Formatted map[string]string `json:"formatted"`
}

type CommissionResponse struct {
	TicketID             string                 `json:"ticket_id"`
	Price                decimal.NullDecimal    `json:"price"`
	CommissionPercentage decimal.NullDecimal    `json:"commission_percentage"`
	TechnicianShare      decimal.Decimal        `json:"technician_share"`
	OwnerShare           decimal.Decimal        `json:"owner_share"`
	State                models.CommissionState `json:"state"`
	Formatted            map[string]string      `json:"formatted"`
}

type PayoutRequest struct {
	Amount     any    `json:"amount"`
	Method     string `json:"method" validate:"max=32"`
	Comment    string `json:"comment" validate:"max=500"`
	RecordedBy string `json:"recorded_by" validate:"max=100"`
}

type PaymentStatusRequest struct {
	Status string `json:"status" validate:"omitempty,max=32"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List tickets
// @Tags tickets
// @Produce json
// @Param status query string false "Ticket status"
// @Param device_status query string false "Device status"
// @Param technician_id query string false "Assigned technician"
// @Param q query string false "Search code, title or client"
// @Success 200 {object} map[string]any
// @Router /api/tickets [get]
func (h *Handler) TicketsList(c *gin.Context) {
	filter := service.TicketFilter{
		TechnicianID: strings.TrimSpace(c.Query("technician_id")),
		Query:        strings.TrimSpace(c.Query("q")),
	}
	if raw := c.Query("status"); raw != "" {
		st, ok := models.ParseTicketStatus(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unknown ticket status", raw)
			return
		}
		filter.Status = string(st)
	}
	if raw := c.Query("device_status"); raw != "" {
		ds, ok := models.ParseDeviceStatus(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unknown device status", raw)
			return
		}
		filter.DeviceStatus = string(ds)
	}

	items, err := h.Store.ListTickets(c.Request.Context(), filter)
	if err != nil {
		h.writeServiceError(c, err, "Failed to list tickets")
		return
	}
	if items == nil {
		items = []models.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// @Summary Commission split of one ticket
// @Tags tickets
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} CommissionResponse
// @Router /api/tickets/{id}/commission [get]
func (h *Handler) TicketCommission(c *gin.Context) {
	t, err := h.Store.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeServiceError(c, err, "Failed to get ticket")
		return
	}
	split := service.TicketCommission(t)
	state := models.CommissionEarned
	if !t.CommissionPercentage.Valid {
		state = models.CommissionPendingRate
	}
	c.JSON(http.StatusOK, CommissionResponse{
		TicketID:             t.ID,
		Price:                t.Price,
		CommissionPercentage: t.CommissionPercentage,
		TechnicianShare:      split.TechnicianShare,
		OwnerShare:           split.OwnerShare,
		State:                state,
		Formatted: map[string]string{
			"price":            h.format(t.Price.Decimal),
			"technician_share": h.format(split.TechnicianShare),
			"owner_share":      h.format(split.OwnerShare),
		},
	})
}

// @Summary List client payments
// @Tags payments
// @Produce json
// @Param ticket_id query string false "Ticket ID"
// @Param technician_id query string false "Technician ID"
// @Param status query string false "Payment status"
// @Success 200 {object} map[string]any
// @Router /api/payments [get]
func (h *Handler) PaymentsList(c *gin.Context) {
	q := service.PaymentQuery{
		TicketID:     strings.TrimSpace(c.Query("ticket_id")),
		TechnicianID: strings.TrimSpace(c.Query("technician_id")),
	}
	if raw := c.Query("status"); raw != "" {
		st, ok := models.ParsePaymentStatus(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unknown payment status", raw)
			return
		}
		q.Status = string(st)
	}
	items, err := h.Store.ListPayments(c.Request.Context(), q)
	if err != nil {
		h.writeServiceError(c, err, "Failed to list payments")
		return
	}
	if items == nil {
		items = []models.Payment{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// @Summary Dashboard counters
// @Tags dashboard
// @Produce json
// @Success 200 {object} service.Dashboard
// @Router /api/dashboard [get]
func (h *Handler) Dashboard(c *gin.Context) {
	d, err := h.Service.Dashboard(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err, "Failed to build dashboard")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dashboard":                   d,
		"validated_revenue_formatted": h.format(d.ValidatedRevenue),
	})
}

// @Summary Technician commission summary
// @Tags technicians
// @Produce json
// @Param id path string true "Technician ID"
// @Param start query string false "Inclusive start (YYYY-MM-DD or RFC3339)"
// @Param end query string false "Inclusive end (YYYY-MM-DD or RFC3339)"
// @Success 200 {object} SummaryResponse
// @Router /api/technicians/{id}/summary [get]
func (h *Handler) TechnicianSummary(c *gin.Context) {
	period, ok := h.period(c)
	if !ok {
		return
	}
	s, err := h.Service.Summary(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		h.writeServiceError(c, err, "Failed to compute summary")
		return
	}
	c.JSON(http.StatusOK, h.summaryResponse(s))
}

// @Summary Technician per-ticket breakdown
// @Tags technicians
// @Produce json
// @Param id path string true "Technician ID"
// @Param start query string false "Inclusive start"
// @Param end query string false "Inclusive end"
// @Param q query string false "Search client, device or code"
// @Param payment_status query string false "ALL, PAID or PENDING"
// @Success 200 {object} map[string]any
// @Router /api/technicians/{id}/tickets [get]
func (h *Handler) TechnicianTickets(c *gin.Context) {
	period, ok := h.period(c)
	if !ok {
		return
	}
	filter, ok := models.ParsePaymentFilter(c.Query("payment_status"))
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "payment_status must be ALL, PAID or PENDING", c.Query("payment_status"))
		return
	}
	lines, err := h.Service.Breakdown(c.Request.Context(), c.Param("id"), service.BreakdownQuery{
		Period: period,
		Search: c.Query("q"),
		Filter: filter,
	})
	if err != nil {
		h.writeServiceError(c, err, "Failed to compute breakdown")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": lines, "count": len(lines)})
}

// @Summary Technician payout history
// @Tags payouts
// @Produce json
// @Param id path string true "Technician ID"
// @Success 200 {object} map[string]any
// @Router /api/technicians/{id}/payouts [get]
func (h *Handler) TechnicianPayouts(c *gin.Context) {
	period, ok := h.period(c)
	if !ok {
		return
	}
	items, err := h.Service.Payouts(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		h.writeServiceError(c, err, "Failed to list payouts")
		return
	}
	if items == nil {
		items = []models.Payout{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// @Summary Check a payout against the outstanding balance
// @Tags payouts
// @Accept json
// @Produce json
// @Param id path string true "Technician ID"
// @Success 200 {object} service.PayoutDecision
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/technicians/{id}/payouts/validate [post]
func (h *Handler) ValidatePayout(c *gin.Context) {
	var req PayoutRequest
	if !h.bind(c, &req) {
		return
	}
	decision, err := h.Service.ValidatePayout(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		h.writeServiceError(c, err, "Failed to validate payout")
		return
	}
	c.JSON(http.StatusOK, decision)
}

// @Summary Record a payout
// @Tags payouts
// @Accept json
// @Produce json
// @Param id path string true "Technician ID"
// @Success 201 {object} models.Payout
// @Failure 400 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/technicians/{id}/payouts [post]
func (h *Handler) CreatePayout(c *gin.Context) {
	var req PayoutRequest
	if !h.bind(c, &req) {
		return
	}
	method := models.PayoutOther
	if strings.TrimSpace(req.Method) != "" {
		m, ok := models.ParsePayoutMethod(req.Method)
		if !ok {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "method must be CASH, TRANSFER or OTHER", req.Method)
			return
		}
		method = m
	}
	payout, err := h.Service.RecordPayout(c.Request.Context(), service.PayoutRequest{
		TechnicianID: c.Param("id"),
		Amount:       req.Amount,
		Method:       method,
		Comment:      req.Comment,
		RecordedBy:   req.RecordedBy,
	})
	if err != nil {
		h.writeServiceError(c, err, "Failed to record payout")
		return
	}
	c.JSON(http.StatusCreated, payout)
}

// @Summary Validate or reject a client payment
// @Tags payments
// @Accept json
// @Produce json
// @Param id path string true "Payment ID"
// @Success 200 {object} map[string]any
// @Router /api/payments/{id}/validate [post]
func (h *Handler) SetPaymentStatus(c *gin.Context) {
	var req PaymentStatusRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	status := models.PaymentValidated
	if strings.TrimSpace(req.Status) != "" {
		st, ok := models.ParsePaymentStatus(req.Status)
		if !ok {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Unknown payment status", req.Status)
			return
		}
		status = st
	}
	id := c.Param("id")
	if err := h.Service.SetPaymentStatus(c.Request.Context(), id, status); err != nil {
		h.writeServiceError(c, err, "Failed to update payment")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": status})
}

// @Summary Data audit
// @Tags audit
// @Produce json
// @Param start query string false "Inclusive start"
// @Param end query string false "Inclusive end"
// @Success 200 {object} map[string]any
// @Router /api/audit [get]
func (h *Handler) Audit(c *gin.Context) {
	period, ok := h.period(c)
	if !ok {
		return
	}
	findings, err := h.Service.Audit(c.Request.Context(), period)
	if err != nil {
		h.writeServiceError(c, err, "Failed to run audit")
		return
	}
	if findings == nil {
		findings = []service.AuditFinding{}
	}
	c.JSON(http.StatusOK, gin.H{"items": findings, "count": len(findings)})
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return false
	}
	if h.Validator != nil {
		if err := h.Validator.Struct(req); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", err.Error())
			return false
		}
	}
	return true
}

func (h *Handler) period(c *gin.Context) (models.Period, bool) {
	p, err := service.ParsePeriod(c.Query("start"), c.Query("end"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_PERIOD", "Invalid date range", err.Error())
		return models.Period{}, false
	}
	return p, true
}

func (h *Handler) summaryResponse(s models.TechnicianSummary) SummaryResponse {
	return SummaryResponse{
		TechnicianSummary: s,
		Formatted: map[string]string{
			"total_revenue":       h.format(s.TotalRevenue),
			"total_commission":    h.format(s.TotalCommission),
			"total_paid_out":      h.format(s.TotalPaidOut),
			"outstanding_balance": h.format(s.OutstandingBalance),
		},
	}
}

func (h *Handler) format(d decimal.Decimal) string {
	return h.Formatter.Format(d, h.Currency)
}

func (h *Handler) writeServiceError(c *gin.Context, err error, message string) {
	var rejection *service.PayoutRejection
	switch {
	case errors.As(err, &rejection) && errors.Is(err, service.ErrExceedsOutstanding):
		writeError(c, http.StatusConflict, "EXCEEDS_OUTSTANDING", rejection.Error(), gin.H{
			"requested":   rejection.Requested.StringFixed(2),
			"outstanding": rejection.Outstanding.StringFixed(2),
		})
	case errors.Is(err, service.ErrAmountBelowCent):
		writeError(c, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be at least 0.01", nil)
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(c, http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be a positive number", nil)
	case errors.Is(err, service.ErrTechnicianRequired):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Technician id required", nil)
	case errors.Is(err, pgx.ErrNoRows):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "TIMEOUT", message, err.Error())
	default:
		h.Logger.Error().Err(err).Str("request_path", c.Request.URL.Path).Msg(message)
		writeError(c, http.StatusInternalServerError, "DB_ERROR", message, err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
