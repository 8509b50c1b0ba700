package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

var (
	ErrNilMessage = errors.New("history contains a nil message")
)

// Conversation is the state carried across turns of one thread. ThreadID is
// the identity every action runs under.
type Conversation struct {
	ThreadID  string                   `json:"thread_id"`
	History   []*schema.Message        `json:"history,omitempty"`
	Budget    contractx.BudgetSnapshot `json:"budget"`
	Turns     int                      `json:"turns"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func NewConversation(threadID string, budget contractx.BudgetSnapshot, now time.Time) *Conversation {
	return &Conversation{
		ThreadID:  strings.TrimSpace(threadID),
		Budget:    budget,
		UpdatedAt: now.UTC(),
	}
}

func (c *Conversation) Append(msgs ...*schema.Message) {
	c.History = append(c.History, msgs...)
}

func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
}

// LastMessage returns the newest history entry, or nil.
func (c *Conversation) LastMessage() *schema.Message {
	if c == nil || len(c.History) == 0 {
		return nil
	}
	return c.History[len(c.History)-1]
}

// TrimHistory drops the oldest messages so that at most max remain. The kept
// window always starts on a user message so no observation loses the request
// it answers. max <= 0 disables trimming.
func (c *Conversation) TrimHistory(max int) {
	if max <= 0 || len(c.History) <= max {
		return
	}
	start := len(c.History) - max
	for start < len(c.History) && c.History[start].Role != schema.User {
		start++
	}
	c.History = append([]*schema.Message(nil), c.History[start:]...)
}

func (c *Conversation) Validate() error {
	if c == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(c.ThreadID) == "" {
		return ErrInvalidThread
	}
	for i, msg := range c.History {
		if msg == nil {
			return fmt.Errorf("%w: index %d", ErrNilMessage, i)
		}
	}
	return nil
}
