package orchestratornode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	statex "github.com/tanpawarit/makwenta/agent/state"
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidThread  = errors.New("thread id is empty")
)

type GraphInput struct {
	TurnID   string
	ThreadID string
	Text     string
}

type GraphOutput struct {
	Reply        string
	Rounds       int
	LimitReached bool
}

// GraphState travels through every node of one turn. Rounds counts planning
// calls made so far.
type GraphState struct {
	TurnID   string
	ThreadID string
	Text     string
	Now      time.Time

	Conversation *statex.Conversation
	Rounds       int
	LimitReached bool
	Pending      []contractx.ActionRequest
	Reply        string
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		return nil, ErrInvalidThread
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		TurnID:   in.TurnID,
		ThreadID: threadID,
		Text:     text,
		Now:      nowFn().UTC(),
	}, nil
}
