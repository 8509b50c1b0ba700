package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey("abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "makwenta:thread:abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "makwenta:thread:abc")
	}
}

func TestUpstashRedisStoreRedisKeyEmptySession(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidThread", err)
	}
}

func TestUpstashRedisStoreSaveUsesThreadKey(t *testing.T) {
	t.Parallel()

	const wantKey = "makwenta:thread:thread-1"
	var gotCommand []any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Fatalf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":"OK"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{
			URL:   server.URL,
			Token: "token",
		},
		WithHTTPClient(server.Client()),
		WithTTL(0),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	conv := NewConversation("thread-1", contractx.BudgetSnapshot{}, time.Now().UTC())
	conv.Append(schema.UserMessage("spent 100 on lunch"))
	if err := store.Save(context.Background(), conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if len(gotCommand) < 2 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "SET" {
		t.Fatalf("command[0] = %v, want SET", gotCommand[0])
	}
	if gotCommand[1] != wantKey {
		t.Fatalf("command[1] = %v, want %s", gotCommand[1], wantKey)
	}
}

func TestUpstashRedisStoreLoadUsesThreadKey(t *testing.T) {
	t.Parallel()

	const wantKey = "makwenta:thread:thread-2"
	var gotCommand []any

	seed := NewConversation("thread-2", contractx.BudgetSnapshot{UserName: "Ana"}, time.Now().UTC())
	seed.Append(schema.UserMessage("hi"), schema.AssistantMessage("hello", nil))
	payload, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded seed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Fatalf("decode command: %v", err)
		}
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{
			URL:   server.URL,
			Token: "token",
		},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	st, err := store.Load(context.Background(), "thread-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if st.ThreadID != "thread-2" {
		t.Fatalf("Load().ThreadID = %q, want %q", st.ThreadID, "thread-2")
	}
	if len(st.History) != 2 || st.History[1].Content != "hello" {
		t.Fatalf("Load().History = %#v", st.History)
	}
	if st.Budget.UserName != "Ana" {
		t.Fatalf("Load().Budget.UserName = %q, want Ana", st.Budget.UserName)
	}

	if len(gotCommand) < 2 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "GET" {
		t.Fatalf("command[0] = %v, want GET", gotCommand[0])
	}
	if gotCommand[1] != wantKey {
		t.Fatalf("command[1] = %v, want %s", gotCommand[1], wantKey)
	}
}

func TestUpstashRedisStoreDeleteUsesThreadKey(t *testing.T) {
	t.Parallel()

	const wantKey = "makwenta:thread:thread-3"
	var gotCommand []any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Fatalf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":1}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{
			URL:   server.URL,
			Token: "token",
		},
		WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if err := store.Delete(context.Background(), "thread-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if len(gotCommand) < 2 {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if gotCommand[0] != "DEL" {
		t.Fatalf("command[0] = %v, want DEL", gotCommand[0])
	}
	if gotCommand[1] != wantKey {
		t.Fatalf("command[1] = %v, want %s", gotCommand[1], wantKey)
	}
}

func TestUpstashRedisStoreLoadMissing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":null}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	if _, err := store.Load(context.Background(), "nobody"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load() error = %v, want ErrStateNotFound", err)
	}
}

func TestUpstashRedisStoreLock(t *testing.T) {
	t.Parallel()

	var commands [][]any
	held := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var cmd []any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			t.Errorf("decode command: %v", err)
			return
		}
		commands = append(commands, cmd)
		switch cmd[0] {
		case "SET":
			if held {
				fmt.Fprint(w, `{"result":null}`)
				return
			}
			held = true
			fmt.Fprint(w, `{"result":"OK"}`)
		case "EVAL":
			held = false
			fmt.Fprint(w, `{"result":1}`)
		}
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	ctx := context.Background()
	release, err := store.Lock(ctx, "thread-9", 30*time.Second)
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if _, err := store.Lock(ctx, "thread-9", 30*time.Second); !errors.Is(err, ErrThreadBusy) {
		t.Fatalf("second Lock() error = %v, want ErrThreadBusy", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	first := commands[0]
	if first[1] != "makwenta:thread:thread-9:lock" || first[3] != "NX" || first[4] != "PX" {
		t.Fatalf("unexpected lock command: %#v", first)
	}
	last := commands[len(commands)-1]
	if last[0] != "EVAL" || last[4] != first[2] {
		t.Fatalf("release must compare the lock token: %#v", last)
	}
}
