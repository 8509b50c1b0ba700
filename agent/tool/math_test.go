package tool

import (
	"context"
	"testing"

	contractx "github.com/tanpawarit/makwenta/agent/contract"
)

func evaluate(t *testing.T, expression string) (string, error) {
	t.Helper()
	return MathEvaluate().Invoke(context.Background(), contractx.Invocation{}, Args{"expression": expression})
}

func TestMathEvaluate(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"2 + 3 * (4 - 1)": "2 + 3 * (4 - 1) = 11",
		"0.1 + 0.2":       "0.1 + 0.2 = 0.3",
		"2 ^ 10":          "2 ^ 10 = 1024",
		"-(3 - 5) % 3":    "-(3 - 5) % 3 = 2",
		"1500 / 4":        "1500 / 4 = 375",
	}
	for expr, want := range tests {
		got, err := evaluate(t, expr)
		if err != nil {
			t.Fatalf("evaluate(%q) error = %v", expr, err)
		}
		if got != want {
			t.Fatalf("evaluate(%q) = %q, want %q", expr, got, want)
		}
	}
}

func TestMathEvaluateInvalidExpression(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"2 + abc", "(1 + 2", "1 / 0", "2 ^ 0.5", "1..2", ""} {
		if _, err := evaluate(t, expr); err == nil {
			t.Fatalf("evaluate(%q) expected error", expr)
		}
	}
}
