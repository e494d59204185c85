package testutil

import (
	"sync"

	"usm-go/internal/usm"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Level string
	Msg   string
	Args  []any
}

// RecordingLogger captures log records for assertions. Safe for concurrent use.
type RecordingLogger struct {
	mu      sync.Mutex
	Entries []LogEntry
}

var _ usm.Logger = (*RecordingLogger)(nil)

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Entries = append(l.Entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

// Count returns how many records with the given level and message were seen.
func (l *RecordingLogger) Count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.Entries {
		if e.Level == level && e.Msg == msg {
			n++
		}
	}
	return n
}
