package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Leiito98/glowshot-ledger/internal/checkout"
	domainErr "github.com/Leiito98/glowshot-ledger/internal/domain/errors"
	"github.com/Leiito98/glowshot-ledger/internal/jobs"
	"github.com/Leiito98/glowshot-ledger/internal/payment"
	"github.com/Leiito98/glowshot-ledger/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// ---- mocks ----

type MockCheckout struct {
	Err     error
	gotKind payment.Kind
}

func (m *MockCheckout) CreateCheckout(_ context.Context, id checkout.Identity, planID string, kind payment.Kind) (*checkout.Session, error) {
	m.gotKind = kind
	if m.Err != nil {
		return nil, m.Err
	}
	return &checkout.Session{
		CheckoutURL: "https://pay.example/" + planID,
		SessionID:   "sess_" + id.UserID,
		Gateway:     payment.MercadoPago,
		Amount:      decimal.NewFromInt(11700),
		Currency:    "ARS",
	}, nil
}

type MockCredits struct {
	credits map[string]int
	plans   map[string]string
}

func (m *MockCredits) GetCredits(_ context.Context, userID string) (int, error) {
	return m.credits[userID], nil
}

func (m *MockCredits) GetPlan(_ context.Context, userID string) (string, error) {
	p, ok := m.plans[userID]
	if !ok {
		return "", domainErr.ErrNotFound
	}
	return p, nil
}

type MockJobs struct {
	jobs      map[string]jobs.JobView
	callbacks []jobs.Callback
	Err       error
}

func (m *MockJobs) SubmitJob(_ context.Context, userID, inputRef, _ string) (*jobs.TrainingJob, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &jobs.TrainingJob{TrainingID: "tr_1", UserID: userID, InputRef: inputRef, Status: jobs.StatusStarting}, nil
}

func (m *MockJobs) PollStatus(_ context.Context, jobID string) (jobs.JobView, error) {
	v, ok := m.jobs[jobID]
	if !ok {
		return jobs.JobView{JobID: jobID, Status: jobs.StatusNotFound}, nil
	}
	return v, nil
}

func (m *MockJobs) OnCallback(_ context.Context, cb jobs.Callback) error {
	if m.Err != nil {
		return m.Err
	}
	m.callbacks = append(m.callbacks, cb)
	return nil
}

type MockLedger struct {
	Result payment.Result
	Err    error
	events []payment.VerifiedEvent
}

func (m *MockLedger) Reconcile(_ context.Context, ev payment.VerifiedEvent) (payment.Result, error) {
	m.events = append(m.events, ev)
	return m.Result, m.Err
}

type MockProcessor struct {
	Event *payment.VerifiedEvent
	Err   error
}

func (m *MockProcessor) Kind() payment.Kind { return payment.Paddle }

func (m *MockProcessor) VerifyAndParse(context.Context, webhook.Request) (*payment.VerifiedEvent, error) {
	return m.Event, m.Err
}

type MockVerifier struct {
	Err error
}

func (m *MockVerifier) Verify(http.Header, []byte) error { return m.Err }

// ---- helpers ----

type testServer struct {
	checkout *MockCheckout
	credits  *MockCredits
	jobs     *MockJobs
	ledger   *MockLedger
	proc     *MockProcessor
	verifier *MockVerifier
	router   *gin.Engine
}

func newTestServer(t *testing.T, devMode bool) *testServer {
	t.Helper()
	auth, err := NewAuthenticator(testSecret, "", "")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	s := &testServer{
		checkout: &MockCheckout{},
		credits:  &MockCredits{credits: map[string]int{"user-1": 42}, plans: map[string]string{"user-1": "standard"}},
		jobs:     &MockJobs{jobs: map[string]jobs.JobView{}},
		ledger:   &MockLedger{},
		proc:     &MockProcessor{},
		verifier: &MockVerifier{},
	}
	s.router = NewRouter(Deps{
		Auth:             auth,
		Checkout:         s.checkout,
		Credits:          s.credits,
		Jobs:             s.jobs,
		Ledger:           s.ledger,
		Webhooks:         webhook.NewRegistry(s.proc),
		CallbackVerifier: s.verifier,
		DevMode:          devMode,
	})
	return s
}

func token(t *testing.T, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "email": sub + "@example.com", "exp": time.Now().Add(ttl).Unix()}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (s *testServer) do(method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

// ---- tests ----

func TestHealthz(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name   string
		bearer string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "not-a-jwt", http.StatusUnauthorized},
		{"expired", token(t, "user-1", -time.Hour), http.StatusUnauthorized},
		{"valid", token(t, "user-1", time.Hour), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodGet, "/api/credits", tt.bearer, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	w := s.do(http.MethodGet, "/api/credits", token(t, "user-1", time.Hour), nil)
	if got := decode(t, w)["credits"]; got != float64(42) {
		t.Errorf("credits = %v, want 42", got)
	}
}

func TestAuthenticator_WrongSecret(t *testing.T) {
	auth, _ := NewAuthenticator("other-secret", "", "")
	if _, _, err := auth.Verify(token(t, "user-1", time.Hour)); !errors.Is(err, domainErr.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := NewAuthenticator("", "", ""); !errors.Is(err, domainErr.ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}

func TestGetPlan(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(http.MethodGet, "/api/plan", token(t, "user-1", time.Hour), nil); w.Code != http.StatusOK || decode(t, w)["planId"] != "standard" {
		t.Fatalf("plan = %d %s", w.Code, w.Body.String())
	}
	if w := s.do(http.MethodGet, "/api/plan", token(t, "user-2", time.Hour), nil); w.Code != http.StatusNotFound {
		t.Fatalf("plan for user without one = %d", w.Code)
	}
}

func TestCreateCheckout(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantCode string
	}{
		{"ok", nil, http.StatusOK, ""},
		{"unknown plan", &domainErr.ValidationError{Field: "planId", Reason: "unknown plan"}, http.StatusBadRequest, "invalid_input"},
		{"unconfigured gateway", &domainErr.ConfigurationError{Setting: "MP_ACCESS_TOKEN"}, http.StatusInternalServerError, "misconfigured"},
		{"gateway rejected", &domainErr.GatewayError{Gateway: "mercadopago", StatusCode: 400, Diagnostic: "invalid unit_price"}, http.StatusBadGateway, "gateway_rejected"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			s.checkout.Err = tt.err
			w := s.do(http.MethodPost, "/api/checkout", token(t, "user-1", time.Hour), map[string]string{"planId": "basic", "gateway": "MercadoPago"})
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			body := decode(t, w)
			if tt.err == nil {
				if body["checkoutUrl"] != "https://pay.example/basic" {
					t.Errorf("checkoutUrl = %v", body["checkoutUrl"])
				}
				if s.checkout.gotKind != payment.MercadoPago {
					t.Errorf("gateway = %q, want lower-cased mercadopago", s.checkout.gotKind)
				}
				return
			}
			if body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
			if tt.wantCode == "gateway_rejected" && body["diagnostic"] != "invalid unit_price" {
				t.Errorf("diagnostic not surfaced: %v", body)
			}
		})
	}
}

func TestCreateCheckout_BadJSON(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(http.MethodPost, "/api/checkout", token(t, "user-1", time.Hour), "{not json"); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPaymentWebhook(t *testing.T) {
	ev := &payment.VerifiedEvent{Gateway: payment.Paddle, PaymentID: "txn_1", Status: payment.StatusApproved}

	tests := []struct {
		name      string
		procErr   error
		event     *payment.VerifiedEvent
		ledgerErr error
		want      int
	}{
		{"transient upstream failure", webhook.Transient(payment.Paddle, webhook.ReasonUpstreamFetchFailed, errors.New("503")), nil, nil, http.StatusInternalServerError},
		{"bad signature", webhook.Permanent(payment.Paddle, webhook.ReasonSignatureMismatch, nil), nil, nil, http.StatusUnauthorized},
		{"missing signature", webhook.Permanent(payment.Paddle, webhook.ReasonMissingSignature, nil), nil, nil, http.StatusUnauthorized},
		{"malformed", webhook.Permanent(payment.Paddle, webhook.ReasonBadFormat, nil), nil, nil, http.StatusBadRequest},
		{"ignored topic", nil, nil, nil, http.StatusOK},
		{"credited", nil, ev, nil, http.StatusOK},
		{"missing correlation acked", nil, ev, domainErr.ErrMissingCorrelation, http.StatusOK},
		{"credit failure acked", nil, ev, fmt.Errorf("%w: db down", domainErr.ErrCreditPersistence), http.StatusOK},
		{"record failure retried", nil, ev, errors.New("connection lost"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, false)
			s.proc.Err = tt.procErr
			s.proc.Event = tt.event
			s.ledger.Err = tt.ledgerErr

			w := s.do(http.MethodPost, "/webhooks/paddle", "", `{"event_type":"transaction.completed"}`)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			wantCalls := 0
			if tt.procErr == nil && tt.event != nil {
				wantCalls = 1
			}
			if len(s.ledger.events) != wantCalls {
				t.Errorf("reconcile calls = %d, want %d", len(s.ledger.events), wantCalls)
			}
		})
	}
}

func TestWebhook_OversizedBodyRejected(t *testing.T) {
	s := newTestServer(t, false)
	s.proc.Event = &payment.VerifiedEvent{Gateway: payment.Paddle, PaymentID: "txn_big", Status: payment.StatusApproved}
	big := `{"pad":"` + strings.Repeat("x", maxWebhookBody) + `"}`

	w := s.do(http.MethodPost, "/webhooks/paddle", "", big)
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "body too large" {
		t.Fatalf("paddle = %d %s", w.Code, w.Body.String())
	}
	if len(s.ledger.events) != 0 {
		t.Errorf("oversized webhook reached the ledger")
	}

	w = s.do(http.MethodPost, "/webhooks/replicate", "", big)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replicate = %d", w.Code)
	}
	if len(s.jobs.callbacks) != 0 {
		t.Errorf("oversized callback was applied")
	}

	// exactly at the limit is still read whole
	atLimit := `{"a":"` + strings.Repeat("x", maxWebhookBody-8) + `"}`
	if w := s.do(http.MethodPost, "/webhooks/paddle", "", atLimit); w.Code != http.StatusOK {
		t.Fatalf("at limit = %d %s", w.Code, w.Body.String())
	}
}

func TestPaymentWebhook_UnconfiguredGateway(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(http.MethodPost, "/webhooks/stripe", "", `{}`); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestJobs(t *testing.T) {
	s := newTestServer(t, false)
	s.jobs.jobs["tr_mine"] = jobs.JobView{JobID: "tr_mine", Status: jobs.StatusCompleted, ResultURL: "https://blob/user-1/tr_mine.tar", OwnerID: "user-1"}
	s.jobs.jobs["tr_other"] = jobs.JobView{JobID: "tr_other", Status: jobs.StatusCompleted, ResultURL: "https://blob/user-2/tr_other.tar", OwnerID: "user-2"}
	tok := token(t, "user-1", time.Hour)

	w := s.do(http.MethodPost, "/api/jobs", tok, map[string]string{"inputRef": "https://x/images.zip"})
	if w.Code != http.StatusAccepted || decode(t, w)["jobId"] != "tr_1" {
		t.Fatalf("submit = %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/jobs/tr_mine", tok, nil)
	if body := decode(t, w); body["status"] != "completed" || body["resultUrl"] == nil {
		t.Errorf("own job = %v", body)
	}

	w = s.do(http.MethodGet, "/api/jobs/tr_other", tok, nil)
	body := decode(t, w)
	if body["status"] != "not_found" || body["resultUrl"] != nil {
		t.Errorf("other user's job leaked: %v", body)
	}

	w = s.do(http.MethodGet, "/api/jobs/unknown", tok, nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "not_found" {
		t.Errorf("unknown job = %d %s", w.Code, w.Body.String())
	}

	s.jobs.Err = domainErr.ErrInsufficientCredits
	if w := s.do(http.MethodPost, "/api/jobs", tok, map[string]string{"inputRef": "https://x/images.zip"}); w.Code != http.StatusPaymentRequired {
		t.Errorf("insufficient credits = %d", w.Code)
	}
}

func TestReplicateWebhook(t *testing.T) {
	s := newTestServer(t, false)

	if w := s.do(http.MethodPost, "/webhooks/replicate", "", `{"id":"tr_1","status":"processing"}`); w.Code != http.StatusOK {
		t.Fatalf("callback = %d", w.Code)
	}
	if len(s.jobs.callbacks) != 1 || s.jobs.callbacks[0].Status != "processing" {
		t.Fatalf("callbacks = %+v", s.jobs.callbacks)
	}

	if w := s.do(http.MethodPost, "/webhooks/replicate", "", `{"status":"processing"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing id = %d", w.Code)
	}

	s.verifier.Err = errors.New("signature mismatch")
	if w := s.do(http.MethodPost, "/webhooks/replicate", "", `{"id":"tr_1","status":"succeeded"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned = %d", w.Code)
	}
	if len(s.jobs.callbacks) != 1 {
		t.Errorf("rejected callback was applied")
	}
}

func TestDevPurchase(t *testing.T) {
	tok := token(t, "user-1", time.Hour)

	off := newTestServer(t, false)
	if w := off.do(http.MethodPost, "/api/dev/purchase", tok, map[string]string{"planId": "basic"}); w.Code != http.StatusNotFound {
		t.Fatalf("dev purchase outside dev mode = %d", w.Code)
	}

	on := newTestServer(t, true)
	on.ledger.Result = payment.Result{Outcome: payment.OutcomeCredited, Credits: 20}
	w := on.do(http.MethodPost, "/api/dev/purchase", tok, map[string]string{"planId": "basic"})
	if w.Code != http.StatusOK || decode(t, w)["outcome"] != "credited" {
		t.Fatalf("dev purchase = %d %s", w.Code, w.Body.String())
	}
	got := on.ledger.events[0]
	if got.Gateway != payment.Direct || got.ExternalReference != "user-1:basic" || got.Status != payment.StatusApproved {
		t.Errorf("unexpected event %+v", got)
	}

	if w := on.do(http.MethodPost, "/api/dev/purchase", tok, map[string]string{"planId": "platinum"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown plan = %d", w.Code)
	}
}
