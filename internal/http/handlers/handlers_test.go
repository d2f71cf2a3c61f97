package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/repairdesk/backend/internal/cache"
	"github.com/repairdesk/backend/internal/models"
	"github.com/repairdesk/backend/internal/money"
	"github.com/repairdesk/backend/internal/service"
)

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newTestRouter(store *fakeStore) *gin.Engine {
	return newCachedTestRouter(store, nil)
}

func newCachedTestRouter(store *fakeStore, summaries cache.SummaryCache) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := &service.CommissionService{Store: store, Cache: summaries, Logger: zerolog.Nop()}
	h := &Handler{
		Store:      store,
		Service:    svc,
		Normalizer: service.Normalizer{Logger: zerolog.Nop()},
		Validator:  validator.New(),
		Logger:     zerolog.Nop(),
		Formatter:  money.NewFormatter("fr", "MAD"),
		Currency:   "MAD",
	}
	r := gin.New()
	api := r.Group("/api")
	api.GET("/tickets", h.TicketsList)
	api.GET("/tickets/:id/commission", h.TicketCommission)
	api.GET("/payments", h.PaymentsList)
	api.GET("/dashboard", h.Dashboard)
	api.GET("/technicians/:id/summary", h.TechnicianSummary)
	api.GET("/technicians/:id/tickets", h.TechnicianTickets)
	api.GET("/technicians/:id/payouts", h.TechnicianPayouts)
	api.POST("/technicians/:id/payouts/validate", h.ValidatePayout)
	api.POST("/technicians/:id/payouts", h.CreatePayout)
	api.POST("/payments/:id/validate", h.SetPaymentStatus)
	api.POST("/import", h.Import)
	api.POST("/ledger/compute", h.ComputeLedger)
	api.GET("/audit", h.Audit)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func expectDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s got %s", name, want, got)
	}
}

func TestTechnicianSummary(t *testing.T) {
	r := newTestRouter(seededStore())
	w := doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp SummaryResponse
	decodeBody(t, w, &resp)
	expectDecimal(t, "commission", resp.TotalCommission, "150")
	expectDecimal(t, "outstanding", resp.OutstandingBalance, "150")
	if resp.TotalRepaired != 2 || resp.PendingRateCount != 1 {
		t.Fatalf("unexpected counts %+v", resp.TechnicianSummary)
	}
	if resp.Formatted["outstanding_balance"] != "150,00 MAD" {
		t.Fatalf("unexpected formatted balance %q", resp.Formatted["outstanding_balance"])
	}
}

func TestTechnicianSummaryInvalidPeriod(t *testing.T) {
	r := newTestRouter(seededStore())
	w := doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/summary?start=2024-06-01&end=2024-05-01", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var env errorEnvelope
	decodeBody(t, w, &env)
	if env.Error.Code != "INVALID_PERIOD" {
		t.Fatalf("unexpected code %s", env.Error.Code)
	}
}

func TestCreatePayoutGuard(t *testing.T) {
	store := seededStore()
	r := newTestRouter(store)

	w := doJSON(t, r, http.MethodPost, "/api/technicians/tech-1/payouts", `{"amount":"100","method":"especes","recorded_by":"owner"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var payout models.Payout
	decodeBody(t, w, &payout)
	if payout.Method != models.PayoutCash || payout.ID == "" {
		t.Fatalf("unexpected payout %+v", payout)
	}

	w = doJSON(t, r, http.MethodPost, "/api/technicians/tech-1/payouts", `{"amount":60}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var env errorEnvelope
	decodeBody(t, w, &env)
	if env.Error.Code != "EXCEEDS_OUTSTANDING" || env.Error.Details["requested"] != "60.00" || env.Error.Details["outstanding"] != "50.00" {
		t.Fatalf("unexpected error %+v", env.Error)
	}

	w = doJSON(t, r, http.MethodPost, "/api/technicians/tech-1/payouts", `{"amount":"abc"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	decodeBody(t, w, &env)
	if env.Error.Code != "INVALID_AMOUNT" {
		t.Fatalf("unexpected code %s", env.Error.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/technicians/tech-1/payouts", `{"amount":50}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/summary", "")
	var resp SummaryResponse
	decodeBody(t, w, &resp)
	expectDecimal(t, "outstanding", resp.OutstandingBalance, "0")

	w = doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/payouts", "")
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 2 {
		t.Fatalf("expected 2 payouts, got %d", list.Count)
	}
}

func TestCreatePayoutRejectsSubCentAmount(t *testing.T) {
	store := seededStore()
	r := newTestRouter(store)
	w := doJSON(t, r, http.MethodPost, "/api/technicians/tech-1/payouts", `{"amount":"0.004"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var env errorEnvelope
	decodeBody(t, w, &env)
	if env.Error.Code != "INVALID_AMOUNT" || env.Error.Message != "Amount must be at least 0.01" {
		t.Fatalf("unexpected error %+v", env.Error)
	}
	if len(store.snap.Payouts) != 0 {
		t.Fatalf("rejected payout must not be recorded")
	}
}

func TestCreatePayoutRejectsUnknownMethod(t *testing.T) {
	r := newTestRouter(seededStore())
	w := doJSON(t, r, http.MethodPost, "/api/technicians/tech-1/payouts", `{"amount":10,"method":"crypto"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestValidatePayoutDoesNotRecord(t *testing.T) {
	store := seededStore()
	r := newTestRouter(store)
	w := doJSON(t, r, http.MethodPost, "/api/technicians/tech-1/payouts/validate", `{"amount":150}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var decision service.PayoutDecision
	decodeBody(t, w, &decision)
	if !decision.Allowed {
		t.Fatalf("expected allowed")
	}
	if len(store.snap.Payouts) != 0 {
		t.Fatalf("validation must not record payouts")
	}
}

func TestTechnicianTicketsFilter(t *testing.T) {
	r := newTestRouter(seededStore())
	w := doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/tickets?payment_status=PENDING", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Items []models.TicketLine `json:"items"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Items) != 1 || resp.Items[0].TicketID != "B" || resp.Items[0].CommissionState != models.CommissionPendingRate {
		t.Fatalf("unexpected lines %+v", resp.Items)
	}

	w = doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/tickets?payment_status=maybe", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTicketCommission(t *testing.T) {
	r := newTestRouter(seededStore())
	w := doJSON(t, r, http.MethodGet, "/api/tickets/A/commission", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp CommissionResponse
	decodeBody(t, w, &resp)
	expectDecimal(t, "technician", resp.TechnicianShare, "150")
	expectDecimal(t, "owner", resp.OwnerShare, "350")

	w = doJSON(t, r, http.MethodGet, "/api/tickets/B/commission", "")
	decodeBody(t, w, &resp)
	if resp.State != models.CommissionPendingRate {
		t.Fatalf("expected pending rate, got %s", resp.State)
	}

	w = doJSON(t, r, http.MethodGet, "/api/tickets/Z/commission", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSetPaymentStatus(t *testing.T) {
	store := seededStore()
	r := newTestRouter(store)
	w := doJSON(t, r, http.MethodPost, "/api/payments/p2/validate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.snap.Payments[1].Status != models.PaymentValidated {
		t.Fatalf("expected payment to be validated")
	}

	w = doJSON(t, r, http.MethodPost, "/api/payments/p2/validate", `{"status":"rejete"}`)
	if w.Code != http.StatusOK || store.snap.Payments[1].Status != models.PaymentRejected {
		t.Fatalf("expected payment to be rejected, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/payments/nope/validate", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListsAndDashboard(t *testing.T) {
	r := newTestRouter(seededStore())

	w := doJSON(t, r, http.MethodGet, "/api/tickets?status=resolu&technician_id=tech-1", "")
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 2 {
		t.Fatalf("expected 2 tickets, got %d", list.Count)
	}
	if w := doJSON(t, r, http.MethodGet, "/api/tickets?status=lost", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/payments?technician_id=tech-1&status=VALIDATED", "")
	decodeBody(t, w, &list)
	if list.Count != 1 {
		t.Fatalf("expected 1 payment, got %d", list.Count)
	}

	w = doJSON(t, r, http.MethodGet, "/api/dashboard", "")
	var dash struct {
		Dashboard service.Dashboard `json:"dashboard"`
	}
	decodeBody(t, w, &dash)
	expectDecimal(t, "revenue", dash.Dashboard.ValidatedRevenue, "500")
	if dash.Dashboard.PendingPayments != 1 {
		t.Fatalf("expected 1 pending payment, got %d", dash.Dashboard.PendingPayments)
	}

	w = doJSON(t, r, http.MethodGet, "/api/audit", "")
	var audit struct {
		Items []service.AuditFinding `json:"items"`
	}
	decodeBody(t, w, &audit)
	if len(audit.Items) != 1 || audit.Items[0].Kind != service.FindingMissingRate {
		t.Fatalf("unexpected findings %+v", audit.Items)
	}
}

func TestComputeLedger(t *testing.T) {
	r := newTestRouter(&fakeStore{})
	body := `{
		"technician_id": "7",
		"proposed_amount": "200",
		"snapshot": {
			"tickets": [
				{"id": 1, "status": "RESOLVED", "deviceStatus": "REPAIRED", "assignedAgentId": 7, "commissionPercentage": "30", "price": "500"},
				{"id": 2, "status": "RESOLVED", "deviceStatus": "REPAIRED", "assignedAgentId": 7}
			],
			"payments": [
				{"id": 10, "ticketId": 1, "amount": "250.00", "status": "VALIDATED"},
				{"id": 11, "ticketId": 1, "amount": 250, "status": "VALIDATED"},
				{"id": 12, "ticketId": 1, "amount": "abc", "status": "VALIDATED"}
			],
			"payouts": [
				{"id": 20, "technicianId": 7, "amount": 100}
			]
		}
	}`
	w := doJSON(t, r, http.MethodPost, "/api/ledger/compute", body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Summary  SummaryResponse       `json:"summary"`
		Lines    []models.TicketLine   `json:"lines"`
		Issues   []service.RecordIssue `json:"issues"`
		Rejected *ErrorBody            `json:"rejected"`
	}
	decodeBody(t, w, &resp)
	expectDecimal(t, "commission", resp.Summary.TotalCommission, "150")
	expectDecimal(t, "outstanding", resp.Summary.OutstandingBalance, "50")
	if len(resp.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(resp.Lines))
	}
	if len(resp.Issues) != 1 || resp.Issues[0].RecordID != "12" {
		t.Fatalf("expected issue on payment 12, got %+v", resp.Issues)
	}
	if resp.Rejected == nil || resp.Rejected.Code != "EXCEEDS_OUTSTANDING" {
		t.Fatalf("expected rejection, got %+v", resp.Rejected)
	}

	w = doJSON(t, r, http.MethodPost, "/api/ledger/compute", `{"snapshot":{}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without technician, got %d", w.Code)
	}
}

func TestImportCSV(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(store)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	tickets := "id,code,title,status,device_status,client,technician_id,commission_percentage,price\n" +
		"A,TCK-A,iPhone 12,Résolu,BIEN_REPARE,Amina,tech-1,30,\"500,00\"\n" +
		",TCK-X,Nokia,RESOLVED,REPAIRED,Omar,tech-1,30,100\n"
	payments := "\ufeffid,ticket_id,montant,statut,date\np1,A,500,VALIDE,2024-05-02\np2,A,abc,VALIDE,2024-05-02\n"
	for name, content := range map[string]string{"tickets": tickets, "payments": payments} {
		part, err := writer.CreateFormFile(name, name+".csv")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, "/api/import", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary ImportSummary
	decodeBody(t, w, &summary)
	if summary.Tickets.Parsed != 2 || summary.Tickets.Inserted != 1 || summary.Tickets.Excluded != 1 {
		t.Fatalf("unexpected ticket counts %+v", summary.Tickets)
	}
	if summary.Payments.Inserted != 1 || summary.Payments.Excluded != 1 {
		t.Fatalf("unexpected payment counts %+v", summary.Payments)
	}
	if store.snap.Tickets[0].Status != models.TicketResolved {
		t.Fatalf("expected French status to be normalized, got %s", store.snap.Tickets[0].Status)
	}
	expectDecimal(t, "price", store.snap.Tickets[0].Price.Decimal, "500")
}

func TestImportReassignmentEvictsPreviousTechnician(t *testing.T) {
	store := seededStore()
	summaries := newMapCache()
	r := newCachedTestRouter(store, summaries)

	w := doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/summary", "")
	var resp SummaryResponse
	decodeBody(t, w, &resp)
	expectDecimal(t, "commission before import", resp.TotalCommission, "150")
	if _, ok, _ := summaries.Get(context.Background(), "tech-1", models.Period{}); !ok {
		t.Fatalf("expected tech-1 summary to be cached")
	}

	tickets := "id,code,title,status,device_status,client,technician_id,commission_percentage,price\n" +
		"A,TCK-A,iPhone 12,RESOLVED,REPAIRED,Amina,tech-2,30,500\n"
	req := newMultipartRequest(t, "/api/import", map[string]string{"tickets": tickets})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/technicians/tech-1/summary", "")
	decodeBody(t, w, &resp)
	expectDecimal(t, "tech-1 commission after import", resp.TotalCommission, "0")

	w = doJSON(t, r, http.MethodGet, "/api/technicians/tech-2/summary", "")
	decodeBody(t, w, &resp)
	expectDecimal(t, "tech-2 commission after import", resp.TotalCommission, "150")
}

func newMultipartRequest(t *testing.T, path string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := writer.CreateFormFile(name, name+".csv")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestImportRequiresCSV(t *testing.T) {
	r := newTestRouter(&fakeStore{})
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, _ := writer.CreateFormFile("tickets", "tickets.xlsx")
	_, _ = part.Write([]byte("id\n1\n"))
	_ = writer.Close()

	req, _ := http.NewRequest(http.MethodPost, "/api/import", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestParseTicketsCSVHeaderAliases(t *testing.T) {
	content := "Ticket_ID,Appareil,Reparateur_ID,Pourcentage,Prix\nT1,Pixel 7,tech-9,12.5,199.99\n"
	fh := makeMultipartFile(t, "tickets", "tickets.csv", content)
	rows, errs := parseTicketsCSV(fh)
	if len(errs) > 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(rows))
	}
	if rows[0].ID != "T1" || rows[0].Title != "Pixel 7" || rows[0].AssignedAgentID != "tech-9" || rows[0].Price != "199.99" {
		t.Fatalf("unexpected row %+v", rows[0])
	}
}

func makeMultipartFile(t *testing.T, fieldName, filename, content string) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	reader := multipart.NewReader(&buf, writer.Boundary())
	form, err := reader.ReadForm(int64(buf.Len()))
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	files := form.File[fieldName]
	if len(files) == 0 {
		t.Fatalf("no file headers found")
	}
	return files[0]
}
