// Package zlog is the JSON-lines logger: one encoding/json object per
// line, daily file rotation by filename suffix. Grounded on
// pkg/logger/logger.go's Logger interface (Info/Warning/Error/Close)
// and pkg/logger/multi.go's fan-out, reshaped around a structured JSON
// record instead of a prefixed text line.
package zlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zdmr/zdmr/pkg/zdmr"
)

// record is one JSON-lines log entry.
type record struct {
	Time  string `json:"ts"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

// JSONLogger writes one JSON object per line to dir/zdmr-YYYY-MM-DD.jsonl,
// reopening the file when the date rolls over. Safe for concurrent use.
type JSONLogger struct {
	mu      sync.Mutex
	dir     string
	file    *os.File
	day     string
	nowFunc func() time.Time
}

// New opens (creating dir if needed) the JSON-lines logger rooted at dir.
func New(dir string) (*JSONLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	l := &JSONLogger{dir: dir, nowFunc: time.Now}
	if err := l.rotateLocked(l.nowFunc()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *JSONLogger) pathFor(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("zdmr-%s.jsonl", t.Format("2006-01-02")))
}

// rotateLocked opens the file for t's date if it isn't already open.
// Caller must hold l.mu.
func (l *JSONLogger) rotateLocked(t time.Time) error {
	day := t.Format("2006-01-02")
	if l.file != nil && day == l.day {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	f, err := os.OpenFile(l.pathFor(t), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.file = f
	l.day = day
	return nil
}

func (l *JSONLogger) write(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	if err := l.rotateLocked(now); err != nil {
		return
	}

	rec := record{
		Time:  now.Format(time.RFC3339),
		Level: level,
		Msg:   fmt.Sprintf(format, args...),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = l.file.Write(line)
}

func (l *JSONLogger) Info(format string, args ...interface{}) {
	l.write("info", format, args...)
}

func (l *JSONLogger) Warning(format string, args ...interface{}) {
	l.write("warning", format, args...)
}

func (l *JSONLogger) Error(format string, args ...interface{}) {
	l.write("error", format, args...)
}

func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var _ zdmr.Logger = (*JSONLogger)(nil)

// MultiLogger fans a message out to every wrapped Logger, grounded on
// pkg/logger/multi.go's MultiLogger. Used to log to both a JSONLogger
// and stderr during development.
type MultiLogger struct {
	loggers []zdmr.Logger
}

func NewMultiLogger(loggers ...zdmr.Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Info(format string, args ...interface{}) {
	for _, l := range m.loggers {
		l.Info(format, args...)
	}
}

func (m *MultiLogger) Warning(format string, args ...interface{}) {
	for _, l := range m.loggers {
		l.Warning(format, args...)
	}
}

func (m *MultiLogger) Error(format string, args ...interface{}) {
	for _, l := range m.loggers {
		l.Error(format, args...)
	}
}

func (m *MultiLogger) Close() error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ zdmr.Logger = (*MultiLogger)(nil)

// StderrLogger writes plain-text lines to stderr, grounded on
// pkg/logger/logger.go's StandardLogger.
type StderrLogger struct{}

func (StderrLogger) Info(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[INFO] "+format+"\n", args...)
}

func (StderrLogger) Warning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[WARNING] "+format+"\n", args...)
}

func (StderrLogger) Error(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
}

func (StderrLogger) Close() error { return nil }

var _ zdmr.Logger = StderrLogger{}
