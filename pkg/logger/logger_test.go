package logx

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestConfigLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		conf Config
		want zerolog.Level
	}{
		{name: "default", conf: Config{}, want: zerolog.InfoLevel},
		{name: "debug flag", conf: Config{Debug: true}, want: zerolog.DebugLevel},
		{name: "explicit level wins", conf: Config{Debug: true, Level: "WARN"}, want: zerolog.WarnLevel},
		{name: "bad level falls back", conf: Config{Level: "loud"}, want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.conf.level(); got != tt.want {
				t.Fatalf("level() = %v, want %v", got, tt.want)
			}
		})
	}
}
