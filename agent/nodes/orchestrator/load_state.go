package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
	statex "github.com/tanpawarit/makwenta/agent/state"
)

// LoadState loads the thread's conversation, or starts one with the default
// budget, then appends the user's message.
func LoadState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	defaultBudget contractx.BudgetSnapshot,
	historyLimit int,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	conv, err := store.Load(ctx, in.ThreadID)
	switch {
	case errors.Is(err, statex.ErrStateNotFound):
		conv = statex.NewConversation(in.ThreadID, defaultBudget, in.Now)
	case err != nil:
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	conv.TrimHistory(historyLimit)
	conv.Append(schema.UserMessage(in.Text))
	in.Conversation = conv
	return in, nil
}
