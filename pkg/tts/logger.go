package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	logMu   sync.Mutex
	logPath = "logs/tts.log"
)

// SetLogPath configures the sentence log file. An empty path disables it.
func SetLogPath(path string) {
	logMu.Lock()
	defer logMu.Unlock()
	logPath = path
}

// Log appends one line per synthesized sentence to the sentence log:
//
//	2006-01-02 15:04:05 [ENGINE] ok "sentence"
//	2006-01-02 15:04:05 [ENGINE] error(reason) "sentence"
//
// Engines call it from worker goroutines, so writes are serialized.
func Log(engine, sentence string, status int, err error) {
	logMu.Lock()
	defer logMu.Unlock()

	if logPath == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(logPath), 0o755)

	f, fileErr := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if fileErr != nil {
		return
	}
	defer f.Close()

	outcome := "ok"
	if status != 0 && status != 200 {
		outcome = fmt.Sprintf("status(%d)", status)
	}
	if err != nil {
		outcome = fmt.Sprintf("error(%s)", strings.ReplaceAll(err.Error(), "\n", " "))
	}

	fmt.Fprintf(f, "%s [%s] %s %q\n", time.Now().Format(time.DateTime), engine, outcome, sentence)
}
