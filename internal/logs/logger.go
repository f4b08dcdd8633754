package logs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	DEBUG Level = "DEBUG"
)

// levelPriority defines the priority of each log level
// higher value= more severe
var levelPriority = map[Level]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

var slogLevels = map[Level]slog.Level{
	DEBUG: slog.LevelDebug,
	INFO:  slog.LevelInfo,
	WARN:  slog.LevelWarn,
	ERROR: slog.LevelError,
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[lvl]; !ok {
		return "", errors.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

type Entry struct {
	TimeStamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

type Logger struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
	level   Level
	sink    *slog.Logger
}

// level: minimum log level to record(e.g., INFO, WARN, ERROR,DEBUG)
//
// maxsize:maximum number of log entries kept in memory
//
// sink: optional slog logger every recorded entry is forwarded to
func NewLogger(maxSize int, level Level, sink *slog.Logger) *Logger {
	if maxSize < 0 {
		maxSize = 0
	}
	return &Logger{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		level:   level,
		sink:    sink,
	}
}

// Discard returns a logger that records and forwards nothing.
func Discard() *Logger {
	return NewLogger(0, ERROR, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// SetLevel changes the minimum recorded level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// log is the internal logging function
// it applies level filtering and ring buffer behavior
func (l *Logger) log(level Level, msg string, args []any) {
	l.mu.Lock()
	if levelPriority[level] < levelPriority[l.level] {
		l.mu.Unlock()
		return
	}

	if l.maxSize > 0 {
		if len(l.entries) >= l.maxSize {
			//remove oldest entry(ring behavior)
			l.entries = l.entries[1:]
		}
		l.entries = append(l.entries, Entry{
			TimeStamp: time.Now(),
			Level:     level,
			Message:   render(msg, args),
		})
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		sink.Log(context.Background(), slogLevels[level], msg, args...)
	}
}

// render flattens key/value pairs onto the message for the in-memory buffer.
func render(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, "%v", args[i])
		}
	}
	return b.String()
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(DEBUG, msg, args)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(INFO, msg, args)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(WARN, msg, args)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(ERROR, msg, args)
}

func (l *Logger) GetLast(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > len(l.entries) {
		out := make([]Entry, len(l.entries))
		copy(out, l.entries)
		return out
	}

	start := len(l.entries) - n
	out := make([]Entry, n)
	copy(out, l.entries[start:])
	return out
}
