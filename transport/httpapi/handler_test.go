package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanpawarit/makwenta/agent/agents/orchestrator"
	statex "github.com/tanpawarit/makwenta/agent/state"
	"github.com/tanpawarit/makwenta/finance/ledger"
	"github.com/tanpawarit/makwenta/finance/recurring"
)

type fakeChat struct {
	result   orchestrator.Result
	err      error
	threadID string
	text     string
}

func (f *fakeChat) HandleMessage(_ context.Context, threadID string, text string) (orchestrator.Result, error) {
	f.threadID, f.text = threadID, text
	return f.result, f.err
}

type fakeDue struct {
	result recurring.Result
	err    error
	asOf   time.Time
	userID string
	calls  int
}

func (f *fakeDue) ProcessDue(_ context.Context, asOf time.Time, userID string) (recurring.Result, error) {
	f.calls++
	f.asOf, f.userID = asOf, userID
	return f.result, f.err
}

type fakeVerifier struct {
	err         error
	signature   string
	body        string
	destination string
}

func (f *fakeVerifier) VerifySignature(signature string, body []byte, destination string) error {
	f.signature, f.body, f.destination = signature, string(body), destination
	return f.err
}

func newTestHandler(t *testing.T, chat Chatter, due DueProcessor, verifier SignatureVerifier) http.Handler {
	t.Helper()

	logger := zerolog.Nop()
	opts := Options{
		CallbackURL: "https://makwenta.example.com/api/recurring/process",
		Logger:      &logger,
		Now:         func() time.Time { return time.Date(2025, 3, 13, 23, 0, 0, 0, time.UTC) },
	}
	if verifier != nil {
		opts.Verifier = verifier
	}
	h, err := New(chat, due, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()

	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestChat(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{result: orchestrator.Result{TurnID: "turn-1", Reply: "Recorded!", Rounds: 2}}
	h := newTestHandler(t, chat, &fakeDue{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"thread_id":"t1","user_input":"spent 50 on coffee"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if chat.threadID != "t1" || chat.text != "spent 50 on coffee" {
		t.Fatalf("unexpected call: %q %q", chat.threadID, chat.text)
	}
	data := decode(t, rec).Data.(map[string]any)
	if data["response"] != "Recorded!" || data["thread_id"] != "t1" || data["turn_id"] != "turn-1" {
		t.Fatalf("unexpected data: %#v", data)
	}
}

func TestChatErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		body   string
		err    error
		status int
	}{
		"bad json":     {body: `{`, status: http.StatusBadRequest},
		"empty thread": {body: `{}`, err: orchestrator.ErrInvalidThread, status: http.StatusBadRequest},
		"busy":         {body: `{"thread_id":"t","user_input":"x"}`, err: statex.ErrThreadBusy, status: http.StatusConflict},
		"internal":     {body: `{"thread_id":"t","user_input":"x"}`, err: errors.New("db down"), status: http.StatusInternalServerError},
	}
	for name, tt := range tests {
		h := newTestHandler(t, &fakeChat{err: tt.err}, &fakeDue{}, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))

		if rec.Code != tt.status {
			t.Fatalf("%s: status = %d, want %d", name, rec.Code, tt.status)
		}
		resp := decode(t, rec)
		if resp.Status != "ERROR" {
			t.Fatalf("%s: status field = %q", name, resp.Status)
		}
		if strings.Contains(resp.Message, "db down") {
			t.Fatalf("%s: internal error leaked: %q", name, resp.Message)
		}
	}
}

func TestProcessDue(t *testing.T) {
	t.Parallel()

	due := &fakeDue{result: recurring.Result{
		Processed: 2,
		Errors:    []recurring.ItemError{{ObligationID: 7, UserID: "t9", Err: errors.New("stale")}},
	}}
	verifier := &fakeVerifier{}
	h := newTestHandler(t, &fakeChat{}, due, verifier)

	req := httptest.NewRequest(http.MethodPost, "/api/recurring/process", strings.NewReader(`{"user_id":"t1"}`))
	req.Header.Set("Upstash-Signature", "signed")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if verifier.signature != "signed" || verifier.body != `{"user_id":"t1"}` ||
		verifier.destination != "https://makwenta.example.com/api/recurring/process" {
		t.Fatalf("unexpected verification: %#v", verifier)
	}
	if ledger.FormatDate(due.asOf) != "2025-03-13" || due.userID != "t1" {
		t.Fatalf("unexpected call: %s %q", due.asOf, due.userID)
	}

	data := decode(t, rec).Data.(map[string]any)
	if data["processed"].(float64) != 2 || len(data["errors"].([]any)) != 1 {
		t.Fatalf("unexpected data: %#v", data)
	}
}

func TestProcessDueWithExplicitDate(t *testing.T) {
	t.Parallel()

	due := &fakeDue{}
	h := newTestHandler(t, &fakeChat{}, due, &fakeVerifier{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recurring/process", strings.NewReader(`{"as_of":"2025-02-28"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ledger.FormatDate(due.asOf) != "2025-02-28" || due.userID != "" {
		t.Fatalf("unexpected call: %s %q", due.asOf, due.userID)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recurring/process", strings.NewReader(`{"as_of":"28-02-2025"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessDueRejectsUnsignedCalls(t *testing.T) {
	t.Parallel()

	due := &fakeDue{}
	h := newTestHandler(t, &fakeChat{}, due, &fakeVerifier{err: errors.New("bad signature")})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recurring/process", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	unconfigured := newTestHandler(t, &fakeChat{}, due, nil)
	rec = httptest.NewRecorder()
	unconfigured.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recurring/process", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if due.calls != 0 {
		t.Fatalf("processor must not run, got %d calls", due.calls)
	}
}

func TestHealthzAndRouting(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, &fakeChat{}, &fakeDue{}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || decode(t, rec).Status != "ok" {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/chat = %d, want 405", rec.Code)
	}
}

func TestNewRequiresServices(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, &fakeDue{}, Options{}); err == nil {
		t.Fatal("expected error without chat service")
	}
	if _, err := New(&fakeChat{}, nil, Options{}); err == nil {
		t.Fatal("expected error without due processor")
	}
}
