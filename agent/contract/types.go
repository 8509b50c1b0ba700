package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"
)

type PlanRequest struct {
	System  string            `json:"system"`
	History []*schema.Message `json:"history"`
}

// BudgetSnapshot is the per-conversation budget context handed to actions
// that need it. Limits are keyed by category, "All" covering everything.
type BudgetSnapshot struct {
	UserName       string                     `json:"user_name,omitempty"`
	CurrencySymbol string                     `json:"currency_symbol,omitempty"`
	DailyLimits    map[string]decimal.Decimal `json:"daily_limits,omitempty"`
	WeeklyLimits   map[string]decimal.Decimal `json:"weekly_limits,omitempty"`
}

// Invocation is the trusted context of one dispatch. UserID is always the
// conversation thread id, never a planner-supplied value.
type Invocation struct {
	UserID string
	Budget BudgetSnapshot
	Now    time.Time
}

type ActionRequest struct {
	CorrelationID string          `json:"correlation_id"`
	Name          string          `json:"name"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
}

// ActionRequestsFrom extracts the tool calls of a planner reply.
func ActionRequestsFrom(msg *schema.Message) []ActionRequest {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return nil
	}
	out := make([]ActionRequest, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		out = append(out, ActionRequest{
			CorrelationID: strings.TrimSpace(call.ID),
			Name:          strings.TrimSpace(call.Function.Name),
			Arguments:     json.RawMessage(call.Function.Arguments),
		})
	}
	return out
}

// DecodeArguments parses the argument object. Empty input decodes to an empty
// map; anything other than a JSON object is a schema violation.
func (r ActionRequest) DecodeArguments() (map[string]any, error) {
	raw := bytes.TrimSpace(r.Arguments)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: arguments must be a JSON object: %v", ErrSchemaViolation, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ValidateCorrelation checks that every request carries a distinct,
// non-empty correlation id.
func ValidateCorrelation(reqs []ActionRequest) error {
	seen := make(map[string]struct{}, len(reqs))
	for i, req := range reqs {
		if req.CorrelationID == "" {
			return fmt.Errorf("%w: request %d (%s) has no id", ErrDuplicateCorrelation, i, req.Name)
		}
		if _, dup := seen[req.CorrelationID]; dup {
			return fmt.Errorf("%w: %q repeated", ErrDuplicateCorrelation, req.CorrelationID)
		}
		seen[req.CorrelationID] = struct{}{}
	}
	return nil
}

type Observation struct {
	CorrelationID string `json:"correlation_id"`
	Name          string `json:"name"`
	Content       string `json:"content"`
	Failed        bool   `json:"failed,omitempty"`
}

// FailedObservation formats an action failure the way the planner expects
// to read it.
func FailedObservation(req ActionRequest, detail string) Observation {
	return Observation{
		CorrelationID: req.CorrelationID,
		Name:          req.Name,
		Content:       fmt.Sprintf("Error executing %s: %s", req.Name, detail),
		Failed:        true,
	}
}

// Message converts the observation into a tool message for the history.
func (o Observation) Message() *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    o.Content,
		ToolCallID: o.CorrelationID,
		ToolName:   o.Name,
	}
}
