package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// JSONLogEntry defines a single structured log line.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type jsonLogger struct {
	metadata map[string]interface{}
	logLevel LogLevel
	out      io.Writer
	mu       *sync.Mutex
}

var _ Logger = (*jsonLogger)(nil)

// NewJSONLogger returns a Logger that writes one JSON object per line,
// suitable for log collectors.
func NewJSONLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &jsonLogger{
		logLevel: level,
		out:      os.Stderr,
		mu:       &sync.Mutex{},
	}
}

func (j *jsonLogger) With(metadata map[string]interface{}) Logger {
	return &jsonLogger{
		metadata: mergeMetadata(j.metadata, metadata),
		logLevel: j.logLevel,
		out:      j.out,
		mu:       j.mu,
	}
}

func (j *jsonLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= j.logLevel
}

func (j *jsonLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !j.IsLevelEnabled(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	entry := JSONLogEntry{
		Timestamp: time.Now().UTC(),
		Severity:  level.String(),
		Message:   msg,
		Metadata:  j.metadata,
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	fmt.Fprintln(j.out, string(buf))
}

func (j *jsonLogger) Trace(msg string, args ...interface{}) {
	j.log(LevelTrace, msg, args...)
}

func (j *jsonLogger) Debug(msg string, args ...interface{}) {
	j.log(LevelDebug, msg, args...)
}

func (j *jsonLogger) Info(msg string, args ...interface{}) {
	j.log(LevelInfo, msg, args...)
}

func (j *jsonLogger) Warn(msg string, args ...interface{}) {
	j.log(LevelWarn, msg, args...)
}

func (j *jsonLogger) Error(msg string, args ...interface{}) {
	j.log(LevelError, msg, args...)
}
