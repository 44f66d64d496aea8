// Package logging provides the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Field names shared across components.
const (
	FieldUserID     = "user_id"
	FieldWhisperID  = "whisper_id"
	FieldScheduleID = "schedule_id"
	FieldRequestID  = "request_id"
	FieldComponent  = "component"
)

var (
	global *logrus.Logger
	mu     sync.Mutex
)

// Init configures the global logger. level is a logrus level name
// ("debug", "info", ...); format is "text" or "json".
// Unknown levels fall back to info.
func Init(out io.Writer, level, format string) *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	global = New(out, level, format)
	return global
}

// New builds a standalone logger without touching the global one.
func New(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Get returns the global logger, initialising it to stderr/info on first use.
func Get() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if global == nil {
		global = New(os.Stderr, "info", "text")
	}
	return global
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Get().WithField(FieldComponent, name)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}
