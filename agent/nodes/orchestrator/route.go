package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

const (
	NodeDispatch  = "dispatch"
	NodeSaveState = "save_state"
)

// AfterPlan picks the successor of a planning round.
func AfterPlan(in *GraphState) (string, error) {
	if in == nil {
		return "", fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.LimitReached || len(in.Pending) == 0 {
		return NodeSaveState, nil
	}
	return NodeDispatch, nil
}
