package orchestratornode

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

// LimitReply closes a turn that ran out of planning rounds.
const LimitReply = "I could not complete this request within the allowed number of steps. Please try again, perhaps one thing at a time."

// Directive renders the system directive for one planning call.
type Directive interface {
	Render(ctx context.Context, now time.Time, threadID string) (string, error)
}

type PlanDeps struct {
	Model     contractx.CapabilityModel
	Directive Directive
	MaxRounds int
	Tracer    trace.Tracer
	Log       zerolog.Logger
}

// Plan runs one planning round. The reply is appended to the history
// whatever it contains; its action requests become Pending.
func Plan(ctx context.Context, in *GraphState, deps PlanDeps) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}
	in.Pending = nil

	logger := deps.Log.With().Str("thread_id", in.ThreadID).Str("turn_id", in.TurnID).Int("round", in.Rounds+1).Logger()

	if in.Rounds >= deps.MaxRounds {
		logger.Warn().Int("max_rounds", deps.MaxRounds).Msg("round limit reached")
		in.Conversation.Append(schema.AssistantMessage(LimitReply, nil))
		in.LimitReached = true
		in.Reply = LimitReply
		return in, nil
	}

	ctx, span := deps.Tracer.Start(ctx, "orchestrator.round", trace.WithAttributes(
		attribute.String("thread_id", in.ThreadID),
		attribute.Int("round", in.Rounds+1),
	))
	defer span.End()

	system, err := deps.Directive.Render(ctx, in.Now, in.ThreadID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render directive")
		return nil, err
	}

	reply, err := deps.Model.Plan(ctx, contractx.PlanRequest{
		System:  system,
		History: in.Conversation.History,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan")
		logger.Error().Err(err).Msg("planning failed")
		return nil, err
	}

	in.Rounds++
	in.Conversation.Append(reply)
	in.Pending = contractx.ActionRequestsFrom(reply)
	span.SetAttributes(attribute.Int("actions", len(in.Pending)))

	if len(in.Pending) == 0 {
		in.Reply = reply.Content
		logger.Debug().Msg("planner answered")
		return in, nil
	}
	logger.Debug().Int("actions", len(in.Pending)).Msg("planner requested actions")
	return in, nil
}
