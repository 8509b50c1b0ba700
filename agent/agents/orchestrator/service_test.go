package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	statex "github.com/tanpawarit/makwenta/agent/state"
	toolx "github.com/tanpawarit/makwenta/agent/tool"
)

var fixedNow = time.Date(2025, 3, 13, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	*statex.MemoryStore
	saveErr error

	mu    sync.Mutex
	saves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: statex.NewMemoryStore()}
}

func (f *fakeStore) Save(ctx context.Context, conv *statex.Conversation) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return f.MemoryStore.Save(ctx, conv)
}

// fakeModel answers planning calls from a script; the call index is 0-based.
type fakeModel struct {
	mu       sync.Mutex
	script   func(call int, req contractx.PlanRequest) (*schema.Message, error)
	calls    int
	requests []contractx.PlanRequest
}

func (f *fakeModel) Plan(ctx context.Context, req contractx.PlanRequest) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := contractx.PlanRequest{System: req.System, History: append([]*schema.Message(nil), req.History...)}
	f.requests = append(f.requests, snapshot)
	call := f.calls
	f.calls++
	return f.script(call, req)
}

func answer(text string) func(int, contractx.PlanRequest) (*schema.Message, error) {
	return func(int, contractx.PlanRequest) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Function: schema.FunctionCall{Name: name, Arguments: args}}
}

type fakeDirective struct{}

func (fakeDirective) Render(_ context.Context, now time.Time, threadID string) (string, error) {
	return fmt.Sprintf("today=%s thread=%s", now.Format("2006-01-02"), threadID), nil
}

// echoAction records the invocations it receives.
type echoAction struct {
	mu          sync.Mutex
	needsBudget bool
	invocations []contractx.Invocation
}

func (e *echoAction) Spec() toolx.Spec {
	return toolx.Spec{
		Name:        "echo",
		Params:      []toolx.Param{{Name: "text", Type: toolx.TypeString}},
		NeedsBudget: e.needsBudget,
	}
}

func (e *echoAction) Invoke(_ context.Context, inv contractx.Invocation, args toolx.Args) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invocations = append(e.invocations, inv)
	return "echo: " + args.String("text"), nil
}

func newTestOrchestrator(t *testing.T, store statex.Store, model contractx.CapabilityModel, action *echoAction, cfg Config) *Orchestrator {
	t.Helper()

	catalog, err := toolx.NewCatalog(action)
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	exec, err := toolx.NewExecutor(catalog, toolx.WithExecutorLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	o, err := New(store, model, fakeDirective{}, exec, cfg,
		WithLogger(zerolog.Nop()),
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func TestHandleMessageInvalidInput(t *testing.T) {
	t.Parallel()

	model := &fakeModel{script: answer("hi")}
	o := newTestOrchestrator(t, newFakeStore(), model, &echoAction{}, Config{})

	_, err := o.HandleMessage(context.Background(), "   ", "hello")
	if !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("expected ErrInvalidThread, got %v", err)
	}

	_, err = o.HandleMessage(context.Background(), "t1", "    ")
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("model must not be called for invalid input, got %d calls", model.calls)
	}
}

func TestHandleMessageDirectAnswerTakesOneRound(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	model := &fakeModel{script: answer("Hello! How can I help with your money today?")}
	o := newTestOrchestrator(t, store, model, &echoAction{}, Config{})

	res, err := o.HandleMessage(context.Background(), "thread-1", "hi")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if res.Reply != "Hello! How can I help with your money today?" || res.Rounds != 1 || res.LimitReached {
		t.Fatalf("unexpected result: %#v", res)
	}
	if res.TurnID == "" {
		t.Fatal("expected a turn id")
	}
	if got := model.requests[0].System; got != "today=2025-03-13 thread=thread-1" {
		t.Fatalf("unexpected directive: %q", got)
	}

	conv, err := store.Load(context.Background(), "thread-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.History) != 2 {
		t.Fatalf("expected initial history + 1, got %d messages", len(conv.History))
	}
	if conv.History[0].Role != schema.User || conv.History[1].Role != schema.Assistant {
		t.Fatalf("unexpected roles: %s, %s", conv.History[0].Role, conv.History[1].Role)
	}
	if conv.Turns != 1 {
		t.Fatalf("expected 1 turn, got %d", conv.Turns)
	}
}

func TestHandleMessageDispatchLoop(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	action := &echoAction{}
	model := &fakeModel{script: func(call int, req contractx.PlanRequest) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{
				toolCall("c1", "echo", `{"text":"lunch","user_id":"someone-else"}`),
				toolCall("c2", "missing", `{}`),
			}), nil
		}
		return schema.AssistantMessage("Recorded your lunch.", nil), nil
	}}
	o := newTestOrchestrator(t, store, model, action, Config{})

	res, err := o.HandleMessage(context.Background(), "thread-2", "I had lunch")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if res.Reply != "Recorded your lunch." || res.Rounds != 2 {
		t.Fatalf("unexpected result: %#v", res)
	}

	second := model.requests[1].History
	if len(second) != 4 {
		t.Fatalf("second plan saw %d messages, want 4", len(second))
	}
	if second[2].Role != schema.Tool || second[2].ToolCallID != "c1" || second[2].Content != "echo: lunch" {
		t.Fatalf("unexpected first observation: %#v", second[2])
	}
	if second[3].ToolCallID != "c2" || second[3].Content != "Error executing missing: unknown action" {
		t.Fatalf("unexpected second observation: %#v", second[3])
	}

	if len(action.invocations) != 1 || action.invocations[0].UserID != "thread-2" {
		t.Fatalf("action must run as the thread, got %#v", action.invocations)
	}

	conv, err := store.Load(context.Background(), "thread-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(conv.History) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(conv.History))
	}
}

func TestHandleMessageRoundLimit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	model := &fakeModel{script: func(call int, req contractx.PlanRequest) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			toolCall(fmt.Sprintf("c%d", call), "echo", `{"text":"again"}`),
		}), nil
	}}
	o := newTestOrchestrator(t, store, model, &echoAction{}, Config{MaxRounds: 3})

	res, err := o.HandleMessage(context.Background(), "thread-3", "loop forever")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !res.LimitReached || res.Rounds != 3 || !strings.Contains(res.Reply, "could not complete") {
		t.Fatalf("unexpected result: %#v", res)
	}
	if model.calls != 3 {
		t.Fatalf("expected 3 planning calls, got %d", model.calls)
	}

	conv, err := store.Load(context.Background(), "thread-3")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	last := conv.LastMessage()
	if last.Role != schema.Assistant || len(last.ToolCalls) != 0 || !strings.Contains(last.Content, "could not complete") {
		t.Fatalf("expected a terminal assistant message, got %#v", last)
	}
	// user + 3 * (reply + observation) + terminal message
	if len(conv.History) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(conv.History))
	}
}

func TestHandleMessageDuplicateCorrelationAbortsTurn(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	action := &echoAction{}
	model := &fakeModel{script: func(int, contractx.PlanRequest) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{
			toolCall("same", "echo", `{"text":"a"}`),
			toolCall("same", "echo", `{"text":"b"}`),
		}), nil
	}}
	o := newTestOrchestrator(t, store, model, action, Config{})

	_, err := o.HandleMessage(context.Background(), "thread-4", "do two things")
	if !errors.Is(err, contractx.ErrDuplicateCorrelation) {
		t.Fatalf("expected ErrDuplicateCorrelation, got %v", err)
	}
	if len(action.invocations) != 0 {
		t.Fatalf("no action may run, got %d", len(action.invocations))
	}
	if _, err := store.Load(context.Background(), "thread-4"); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("aborted turn must not be saved, Load() error = %v", err)
	}
}

func TestHandleMessageModelFailureSavesNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	model := &fakeModel{script: func(int, contractx.PlanRequest) (*schema.Message, error) {
		return nil, fmt.Errorf("%w: upstream timeout", contractx.ErrModelInvoke)
	}}
	o := newTestOrchestrator(t, store, model, &echoAction{}, Config{})

	_, err := o.HandleMessage(context.Background(), "thread-5", "hi")
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("expected no save, got %d", store.saves)
	}
}

func TestHandleMessageCarriesBudgetAndHistoryAcrossTurns(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	action := &echoAction{needsBudget: true}
	model := &fakeModel{script: func(call int, req contractx.PlanRequest) (*schema.Message, error) {
		if call == 0 {
			return schema.AssistantMessage("", []schema.ToolCall{toolCall("c1", "echo", `{"text":"x"}`)}), nil
		}
		return schema.AssistantMessage(fmt.Sprintf("reply %d", call), nil), nil
	}}
	budget := contractx.BudgetSnapshot{UserName: "Ana", WeeklyLimits: map[string]decimal.Decimal{"All": decimal.NewFromInt(1500)}}
	o := newTestOrchestrator(t, store, model, action, Config{DefaultBudget: budget})

	if _, err := o.HandleMessage(context.Background(), "thread-6", "first"); err != nil {
		t.Fatalf("HandleMessage(first) error = %v", err)
	}
	if _, err := o.HandleMessage(context.Background(), "thread-6", "second"); err != nil {
		t.Fatalf("HandleMessage(second) error = %v", err)
	}

	if got := action.invocations[0].Budget.WeeklyLimits["All"]; !got.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("budget snapshot not passed, weekly = %v", got)
	}
	third := model.requests[2].History
	if third[0].Content != "first" || third[len(third)-1].Content != "second" {
		t.Fatalf("history not carried over: first=%q last=%q", third[0].Content, third[len(third)-1].Content)
	}

	conv, err := store.Load(context.Background(), "thread-6")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.Turns != 2 || conv.Budget.UserName != "Ana" {
		t.Fatalf("unexpected conversation: turns=%d budget=%#v", conv.Turns, conv.Budget)
	}
}

func TestHandleMessageSerializesTurnsPerThread(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	model := &fakeModel{script: answer("ok")}
	o := newTestOrchestrator(t, store, model, &echoAction{}, Config{})

	const turns = 6
	var wg sync.WaitGroup
	errs := make(chan error, turns)
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Padded ids name the same thread and must share its lock.
			ids := []string{"thread-7", " thread-7", "thread-7\t"}
			if _, err := o.HandleMessage(context.Background(), ids[i%len(ids)], fmt.Sprintf("msg %d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	conv, err := store.Load(context.Background(), "thread-7")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if conv.Turns != turns || len(conv.History) != 2*turns {
		t.Fatalf("lost updates: turns=%d history=%d", conv.Turns, len(conv.History))
	}
}

func TestNewDerivesLockTTLFromRounds(t *testing.T) {
	t.Parallel()

	model := &fakeModel{script: answer("x")}
	derived := newTestOrchestrator(t, newFakeStore(), model, &echoAction{}, Config{MaxRounds: 8})
	if got, want := derived.cfg.LockTTL, 9*time.Minute; got != want {
		t.Fatalf("LockTTL = %v, want %v", got, want)
	}

	pinned := newTestOrchestrator(t, newFakeStore(), model, &echoAction{}, Config{MaxRounds: 8, LockTTL: 30 * time.Second})
	if got := pinned.cfg.LockTTL; got != 30*time.Second {
		t.Fatalf("LockTTL = %v, want 30s", got)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	model := &fakeModel{script: answer("x")}
	catalog, _ := toolx.NewCatalog(&echoAction{})
	exec, _ := toolx.NewExecutor(catalog)

	if _, err := New(nil, model, fakeDirective{}, exec, Config{}); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := New(newFakeStore(), nil, fakeDirective{}, exec, Config{}); err == nil {
		t.Fatal("expected error without model")
	}
	if _, err := New(newFakeStore(), model, nil, exec, Config{}); err == nil {
		t.Fatal("expected error without directive")
	}
	if _, err := New(newFakeStore(), model, fakeDirective{}, nil, Config{}); err == nil {
		t.Fatal("expected error without dispatcher")
	}
}
