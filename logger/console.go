package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	reset  = "\033[0m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	gray   = "\033[1;90m"
)

type consoleLogger struct {
	metadata map[string]interface{}
	logLevel LogLevel
	out      io.Writer
	mu       *sync.Mutex
}

var _ Logger = (*consoleLogger)(nil)

// NewConsoleLogger returns a Logger that writes human-readable lines to
// stderr, colorized when attached to a terminal.
func NewConsoleLogger(levels ...LogLevel) Logger {
	level := GetLevelFromEnv()
	if len(levels) > 0 {
		level = levels[0]
	}
	return &consoleLogger{
		logLevel: level,
		out:      os.Stderr,
		mu:       &sync.Mutex{},
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	return &consoleLogger{
		metadata: mergeMetadata(c.metadata, metadata),
		logLevel: c.logLevel,
		out:      c.out,
		mu:       c.mu,
	}
}

func (c *consoleLogger) IsLevelEnabled(level LogLevel) bool {
	return level >= c.logLevel
}

func levelColor(level LogLevel) string {
	switch level {
	case LevelTrace:
		return gray
	case LevelDebug:
		return cyan
	case LevelInfo:
		return green
	case LevelWarn:
		return yellow
	default:
		return red
	}
}

func (c *consoleLogger) metadataSuffix() string {
	if len(c.metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.metadata))
	for k := range c.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, c.metadata[k])
	}
	return color(gray) + sb.String() + color(reset)
}

func (c *consoleLogger) log(level LogLevel, msg string, args ...interface{}) {
	if !c.IsLevelEnabled(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s %s[%-5s]%s %s%s\n",
		ts, color(levelColor(level)), level.String(), color(reset), msg, c.metadataSuffix())
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.log(LevelTrace, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.log(LevelDebug, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.log(LevelInfo, msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.log(LevelWarn, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.log(LevelError, msg, args...)
}
