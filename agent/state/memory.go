package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps conversations in process. Values are stored encoded so
// callers never share pointers with the store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	locks   map[string]struct{}
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Locker = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
		locks:   make(map[string]struct{}),
	}
}

func (m *MemoryStore) Load(_ context.Context, threadID string) (*Conversation, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, ErrInvalidThread
	}

	m.mu.Lock()
	raw, ok := m.entries[threadID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrStateNotFound
	}

	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &conv, nil
}

func (m *MemoryStore) Save(_ context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	m.mu.Lock()
	m.entries[conv.ThreadID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.entries, threadID)
	m.mu.Unlock()
	return nil
}

// Lock fails fast with ErrThreadBusy instead of waiting; the ttl is ignored
// since the lock dies with the process.
func (m *MemoryStore) Lock(_ context.Context, threadID string, _ time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.locks[threadID]; held {
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}
	m.locks[threadID] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.locks, threadID)
			m.mu.Unlock()
		})
		return nil
	}, nil
}
