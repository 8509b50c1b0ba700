package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	logx "github.com/tanpawarit/makwenta/pkg/logger"
)

// Planner asks a tool-calling chat model for the next step of a turn.
type Planner struct {
	runner  compose.Runnable[map[string]any, *schema.Message]
	allowed map[string]struct{}
	log     zerolog.Logger
}

var _ contractx.CapabilityModel = (*Planner)(nil)

type Option func(*Planner)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Planner) { p.log = l }
}

// New binds tools to chatModel and compiles the planning graph.
func New(ctx context.Context, chatModel einomodel.ToolCallingChatModel, tools []*schema.ToolInfo, opts ...Option) (*Planner, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if len(tools) == 0 {
		return nil, errors.New("at least one tool is required")
	}

	toolModel, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
	}
	runner, err := compilePlanningGraph(ctx, toolModel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}

	allowed := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			continue
		}
		allowed[t.Name] = struct{}{}
	}

	p := &Planner{
		runner:  runner,
		allowed: allowed,
		log:     logx.For("planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Planner) Plan(ctx context.Context, req contractx.PlanRequest) (*schema.Message, error) {
	if strings.TrimSpace(req.System) == "" {
		return nil, fmt.Errorf("%w: system directive", contractx.ErrPromptMissing)
	}
	if len(req.History) == 0 {
		return nil, fmt.Errorf("%w: history is empty", contractx.ErrValidation)
	}

	msg, err := p.runner.Invoke(ctx, map[string]any{
		keySystem:  req.System,
		keyHistory: req.History,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: planner invoke: %v", contractx.ErrModelInvoke, err)
	}
	if err := p.validateReply(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// validateReply rejects replies the loop cannot act on: nothing to say and
// nothing to do, or tool calls without a name.
func (p *Planner) validateReply(msg *schema.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil reply", contractx.ErrSchemaViolation)
	}
	if msg.Role == "" {
		msg.Role = schema.Assistant
	}
	if len(msg.ToolCalls) == 0 {
		if strings.TrimSpace(msg.Content) == "" {
			return fmt.Errorf("%w: reply has neither content nor tool calls", contractx.ErrSchemaViolation)
		}
		return nil
	}

	for i, call := range msg.ToolCalls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return fmt.Errorf("%w: tool call %d has no name", contractx.ErrSchemaViolation, i)
		}
		if _, ok := p.allowed[name]; !ok {
			p.log.Warn().Str("action", name).Msg("model requested a tool it was not given")
		}
	}
	return nil
}
