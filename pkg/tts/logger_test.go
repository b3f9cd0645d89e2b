package tts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "tts.log")
	SetLogPath(path)
	defer SetLogPath("")

	Log("PIPER", "Hello there.", 200, nil)
	Log("PIPER", "Broken.", 0, errors.New("exit status 1"))

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	s := string(content)
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per sentence, got %q", s)
	}
	if !strings.HasSuffix(lines[0], `[PIPER] ok "Hello there."`) {
		t.Errorf("success entry missing: %q", s)
	}
	if !strings.HasSuffix(lines[1], `[PIPER] error(exit status 1) "Broken."`) {
		t.Errorf("error entry missing: %q", s)
	}
}

func TestLog_Disabled(t *testing.T) {
	SetLogPath("")
	// Must be a no-op and not panic
	Log("PIPER", "ignored", 200, nil)
}
