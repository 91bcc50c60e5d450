package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "iqcapture.log")

	log, closeFn, err := New(Options{Level: zerolog.InfoLevel, File: path, Console: &console})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.Info().Str("session_id", "abc").Msg("Capture started")
	log.Debug().Msg("hidden")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	if !strings.Contains(console.String(), "Capture started") {
		t.Errorf("console output missing message: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug message should be filtered at info level")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), `"session_id":"abc"`) {
		t.Errorf("log file should hold JSON lines, got %q", data)
	}
}

func TestNewWithoutFile(t *testing.T) {
	var console bytes.Buffer
	log, closeFn, err := New(Options{Level: zerolog.WarnLevel, Console: &console})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closeFn()

	log.Info().Msg("quiet")
	log.Warn().Msg("loud")
	if strings.Contains(console.String(), "quiet") || !strings.Contains(console.String(), "loud") {
		t.Errorf("unexpected console output: %q", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
