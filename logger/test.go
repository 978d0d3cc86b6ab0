package logger

import "sync"

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// TestLogger captures log entries for assertions in tests.
type TestLogger struct {
	metadata map[string]interface{}
	entries  *[]TestLogEntry
	entryMu  *sync.Mutex
}

var _ Logger = (*TestLogger)(nil)

func NewTestLogger() *TestLogger {
	return &TestLogger{
		entries: &[]TestLogEntry{},
		entryMu: &sync.Mutex{},
	}
}

// Entries returns a snapshot of everything logged so far.
func (c *TestLogger) Entries() []TestLogEntry {
	c.entryMu.Lock()
	defer c.entryMu.Unlock()
	out := make([]TestLogEntry, len(*c.entries))
	copy(out, *c.entries)
	return out
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	return &TestLogger{
		metadata: mergeMetadata(c.metadata, metadata),
		entries:  c.entries,
		entryMu:  c.entryMu,
	}
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) log(severity string, msg string, args ...interface{}) {
	c.entryMu.Lock()
	defer c.entryMu.Unlock()
	*c.entries = append(*c.entries, TestLogEntry{severity, msg, args, c.metadata})
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.log("TRACE", msg, args...)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.log("DEBUG", msg, args...)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.log("INFO", msg, args...)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.log("WARN", msg, args...)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.log("ERROR", msg, args...)
}
