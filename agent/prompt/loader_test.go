package prompt

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestPromptSetValidateMissing(t *testing.T) {
	t.Parallel()

	for _, set := range []PromptSet{{}, {Planner: "Today is {today}."}} {
		if err := set.Validate(); !errors.Is(err, contractx.ErrPromptMissing) {
			t.Fatalf("Validate(%q) error = %v, want ErrPromptMissing", set.Planner, err)
		}
	}
}
