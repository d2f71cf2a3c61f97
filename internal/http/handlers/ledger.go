package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/service"
)

// ComputeRequest carries a raw snapshot as the upstream backend serves it.
type ComputeRequest struct {
	TechnicianID   string             `json:"technician_id" validate:"required,max=100"`
	Start          string             `json:"start"`
	End            string             `json:"end"`
	Search         string             `json:"q" validate:"max=200"`
	PaymentStatus  string             `json:"payment_status"`
	ProposedAmount any                `json:"proposed_amount"`
	Snapshot       models.RawSnapshot `json:"snapshot"`
}

type ComputeResponse struct {
	Summary  SummaryResponse         `json:"summary"`
	Lines    []models.TicketLine     `json:"lines"`
	Issues   []service.RecordIssue   `json:"issues"`
	Decision *service.PayoutDecision `json:"decision,omitempty"`
	Rejected *ErrorBody              `json:"rejected,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// @Summary Compute a ledger from a raw snapshot
// @Description Stateless: nothing is read from or written to the database.
// @Tags ledger
// @Accept json
// @Produce json
// @Success 200 {object} ComputeResponse
// @Failure 400 {object} map[string]any
// @Router /api/ledger/compute [post]
func (h *Handler) ComputeLedger(c *gin.Context) {
	var req ComputeRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", err.Error())
		return
	}
	if h.Validator != nil {
		if err := h.Validator.Struct(req); err != nil {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", err.Error())
			return
		}
	}
	period, err := service.ParsePeriod(req.Start, req.End)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_PERIOD", "Invalid date range", err.Error())
		return
	}
	filter, ok := models.ParsePaymentFilter(req.PaymentStatus)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "payment_status must be ALL, PAID or PENDING", req.PaymentStatus)
		return
	}

	snap, issues := h.Normalizer.Normalize(req.Snapshot)
	summary, lines := service.SummaryWithLines(snap, req.TechnicianID, service.BreakdownQuery{
		Period: period,
		Search: req.Search,
		Filter: filter,
	})
	if issues == nil {
		issues = []service.RecordIssue{}
	}
	resp := ComputeResponse{
		Summary: h.summaryResponse(summary),
		Lines:   lines,
		Issues:  issues,
	}

	if req.ProposedAmount != nil {
		amount, err := service.ParseAmount(req.ProposedAmount)
		if err == nil {
			var guarded models.TechnicianSummary
			guarded, err = service.GuardSnapshot(snap, req.TechnicianID, amount)
			resp.Decision = &service.PayoutDecision{Allowed: err == nil, Requested: amount, Summary: guarded}
		}
		if err != nil {
			resp.Rejected = rejectionBody(err)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func rejectionBody(err error) *ErrorBody {
	switch {
	case errors.Is(err, service.ErrExceedsOutstanding):
		return &ErrorBody{Code: "EXCEEDS_OUTSTANDING", Message: err.Error()}
	case errors.Is(err, service.ErrInvalidAmount):
		return &ErrorBody{Code: "INVALID_AMOUNT", Message: err.Error()}
	}
	return &ErrorBody{Code: "REJECTED", Message: err.Error()}
}
