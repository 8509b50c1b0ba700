package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// CapabilityModel decides the next step of a turn. The returned message is
// either a final answer or carries one or more tool calls.
type CapabilityModel interface {
	Plan(ctx context.Context, req PlanRequest) (*schema.Message, error)
}

// Dispatcher executes every action request of one planner reply and returns
// exactly one observation per request, in request order.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv Invocation, reqs []ActionRequest) ([]Observation, error)
}
