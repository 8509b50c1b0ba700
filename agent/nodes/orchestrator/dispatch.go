package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

// Dispatch executes the pending requests of the latest reply and appends
// every observation, in request order.
func Dispatch(ctx context.Context, in *GraphState, dispatcher contractx.Dispatcher) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}

	inv := contractx.Invocation{
		UserID: in.ThreadID,
		Budget: in.Conversation.Budget,
		Now:    in.Now,
	}
	observations, err := dispatcher.Dispatch(ctx, inv, in.Pending)
	if err != nil {
		return nil, err
	}
	if len(observations) != len(in.Pending) {
		return nil, fmt.Errorf("%w: %d observations for %d requests",
			contractx.ErrSchemaViolation, len(observations), len(in.Pending))
	}

	for _, obs := range observations {
		in.Conversation.Append(obs.Message())
	}
	in.Pending = nil
	return in, nil
}
