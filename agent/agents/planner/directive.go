package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

// Directive renders the system directive that opens every planning call.
type Directive struct {
	template einoprompt.ChatTemplate
}

func NewDirective(text string) (*Directive, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: system directive", contractx.ErrPromptMissing)
	}
	return &Directive{
		template: einoprompt.FromMessages(schema.FString, schema.SystemMessage(text)),
	}, nil
}

// Render fills in the current date and the thread id.
func (d *Directive) Render(ctx context.Context, now time.Time, threadID string) (string, error) {
	msgs, err := d.template.Format(ctx, map[string]any{
		"today":     now.Format("2006-01-02 (Monday)"),
		"thread_id": threadID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: render directive: %v", contractx.ErrPromptMissing, err)
	}
	if len(msgs) == 0 || strings.TrimSpace(msgs[0].Content) == "" {
		return "", fmt.Errorf("%w: directive rendered empty", contractx.ErrPromptMissing)
	}
	return msgs[0].Content, nil
}
