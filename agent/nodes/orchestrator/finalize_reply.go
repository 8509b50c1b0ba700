package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: planner returned an empty answer", contractx.ErrSchemaViolation)
	}
	return GraphOutput{
		Reply:        reply,
		Rounds:       in.Rounds,
		LimitReached: in.LimitReached,
	}, nil
}
