package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	statex "github.com/tanpawarit/makwenta/agent/state"
)

func SaveState(ctx context.Context, in *GraphState, store statex.Store) (*GraphState, error) {
	if in == nil || in.Conversation == nil {
		return nil, fmt.Errorf("%w: graph conversation is nil", contractx.ErrValidation)
	}

	in.Conversation.Turns++
	in.Conversation.Touch(in.Now)
	if err := in.Conversation.Validate(); err != nil {
		return nil, fmt.Errorf("state validation failed: %w", err)
	}
	if err := store.Save(ctx, in.Conversation); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return in, nil
}
