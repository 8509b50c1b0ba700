package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanpawarit/makwenta/agent/agents/orchestrator"
	statex "github.com/tanpawarit/makwenta/agent/state"
	"github.com/tanpawarit/makwenta/finance/ledger"
	"github.com/tanpawarit/makwenta/finance/recurring"
	logx "github.com/tanpawarit/makwenta/pkg/logger"
	qstashx "github.com/tanpawarit/makwenta/pkg/qstash"
)

const maxBodyBytes = 1 << 20

type Chatter interface {
	HandleMessage(ctx context.Context, threadID string, text string) (orchestrator.Result, error)
}

type DueProcessor interface {
	ProcessDue(ctx context.Context, asOf time.Time, userID string) (recurring.Result, error)
}

type SignatureVerifier interface {
	VerifySignature(signature string, body []byte, destination string) error
}

// Options configure the handler. Without a Verifier the due-processing
// endpoint refuses every call.
type Options struct {
	Verifier    SignatureVerifier
	CallbackURL string
	Logger      *zerolog.Logger
	Now         func() time.Time
}

type handler struct {
	chat        Chatter
	due         DueProcessor
	verifier    SignatureVerifier
	callbackURL string
	log         zerolog.Logger
	now         func() time.Time
}

// New exposes:
//
//	POST /api/chat                 -> one conversation turn
//	POST /api/recurring/process    -> materialize due recurring expenses (QStash-signed)
//	GET  /healthz                  -> liveness
func New(chat Chatter, due DueProcessor, opts Options) (http.Handler, error) {
	if chat == nil {
		return nil, errors.New("httpapi: chat service is required")
	}
	if due == nil {
		return nil, errors.New("httpapi: due processor is required")
	}

	h := &handler{
		chat:        chat,
		due:         due,
		verifier:    opts.Verifier,
		callbackURL: strings.TrimSpace(opts.CallbackURL),
		log:         logx.For("httpapi"),
		now:         time.Now,
	}
	if opts.Logger != nil {
		h.log = *opts.Logger
	}
	if opts.Now != nil {
		h.now = opts.Now
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/recurring/process", h.handleProcessDue)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "makwenta"}, nil)
	})
	return h.logRequests(mux), nil
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		if status == 0 {
			status = http.StatusInternalServerError
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(apiResponse{Status: "ERROR", Message: err.Error()})
		return
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiResponse{Status: "ok", Data: data})
}

type chatRequest struct {
	ThreadID  string `json:"thread_id"`
	UserInput string `json:"user_input"`
}

type chatResponse struct {
	ThreadID     string `json:"thread_id"`
	Response     string `json:"response"`
	TurnID       string `json:"turn_id"`
	Rounds       int    `json:"rounds"`
	LimitReached bool   `json:"limit_reached,omitempty"`
}

func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, nil, fmt.Errorf("invalid request body: %w", err))
		return
	}

	res, err := h.chat.HandleMessage(r.Context(), req.ThreadID, req.UserInput)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidThread), errors.Is(err, orchestrator.ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, nil, err)
		return
	case errors.Is(err, statex.ErrThreadBusy):
		writeJSON(w, http.StatusConflict, nil, errors.New("another message on this thread is still being processed"))
		return
	case err != nil:
		h.log.Error().Err(err).Str("thread_id", req.ThreadID).Msg("chat turn failed")
		writeJSON(w, http.StatusInternalServerError, nil, errors.New("could not process the message"))
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ThreadID:     strings.TrimSpace(req.ThreadID),
		Response:     res.Reply,
		TurnID:       res.TurnID,
		Rounds:       res.Rounds,
		LimitReached: res.LimitReached,
	}, nil)
}

type processRequest struct {
	AsOf   string `json:"as_of"`
	UserID string `json:"user_id"`
}

type processError struct {
	ObligationID int64  `json:"obligation_id"`
	UserID       string `json:"user_id"`
	Error        string `json:"error"`
}

type processResponse struct {
	AsOf      string         `json:"as_of"`
	Processed int            `json:"processed"`
	Errors    []processError `json:"errors"`
}

func (h *handler) handleProcessDue(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, nil, errors.New("due processing is not configured"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, nil, fmt.Errorf("read body: %w", err))
		return
	}
	if err := h.verifier.VerifySignature(r.Header.Get(qstashx.SignatureHeader), body, h.callbackURL); err != nil {
		h.log.Warn().Err(err).Msg("rejected unsigned due-processing call")
		writeJSON(w, http.StatusUnauthorized, nil, errors.New("invalid signature"))
		return
	}

	var req processRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, nil, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	asOf := ledger.DateOf(h.now())
	if strings.TrimSpace(req.AsOf) != "" {
		if asOf, err = ledger.ParseDate(req.AsOf); err != nil {
			writeJSON(w, http.StatusBadRequest, nil, err)
			return
		}
	}

	res, err := h.due.ProcessDue(r.Context(), asOf, strings.TrimSpace(req.UserID))
	if err != nil {
		h.log.Error().Err(err).Msg("due processing failed")
		writeJSON(w, http.StatusInternalServerError, nil, errors.New("due processing failed"))
		return
	}

	out := processResponse{AsOf: ledger.FormatDate(asOf), Processed: res.Processed, Errors: []processError{}}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, processError{ObligationID: e.ObligationID, UserID: e.UserID, Error: e.Err.Error()})
	}
	writeJSON(w, http.StatusOK, out, nil)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
