package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

var (
	//go:embed template/planner.txt
	plannerRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	// Planner is an FString template with {today} and {thread_id}.
	Planner string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Planner: strings.TrimSpace(plannerRaw),
	}
}

func (p PromptSet) Validate() error {
	if p.Planner == "" {
		return fmt.Errorf("%w: planner", contractx.ErrPromptMissing)
	}
	for _, key := range []string{"{today}", "{thread_id}"} {
		if !strings.Contains(p.Planner, key) {
			return fmt.Errorf("%w: planner template lacks %s", contractx.ErrPromptMissing, key)
		}
	}
	return nil
}
