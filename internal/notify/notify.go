// Package notify delivers user-visible notifications raised by the session machinery.
package notify

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Kind classifies a notification.
type Kind string

const (
	Error   Kind = "error"
	Success Kind = "success"
	Info    Kind = "info"
	Warning Kind = "warning"
)

// Notifier is fire-and-forget. Implementations must not block for long and must not panic into the caller.
type Notifier interface {
	Notify(kind Kind, title, description string)
}

// Func adapts a plain function to Notifier.
type Func func(kind Kind, title, description string)

func (f Func) Notify(kind Kind, title, description string) { f(kind, title, description) }

// Discard drops everything.
var Discard Notifier = Func(func(Kind, string, string) {})

// Log writes notifications to a zap logger and optionally forwards them to a sink.
// A panicking sink is recovered and logged.
type Log struct {
	log  *zap.Logger
	sink Notifier
}

// NewLog returns a Log notifier. sink may be nil.
func NewLog(log *zap.Logger, sink Notifier) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log, sink: sink}
}

func (l *Log) Notify(kind Kind, title, description string) {
	fields := []zap.Field{zap.String("kind", string(kind)), zap.String("title", title)}
	if description != "" {
		fields = append(fields, zap.String("description", description))
	}
	switch kind {
	case Error:
		l.log.Error("notification", fields...)
	case Warning:
		l.log.Warn("notification", fields...)
	default:
		l.log.Info("notification", fields...)
	}
	if l.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("notification sink panic", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	l.sink.Notify(kind, title, description)
}

// Entry is one recorded notification.
type Entry struct {
	Kind        Kind
	Title       string
	Description string
}

// Recorder keeps every notification in memory. Used by the CLI to print after a command and by tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Notify(kind Kind, title, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Kind: kind, Title: title, Description: description})
}

// Entries returns a copy of what was recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Drain returns and forgets the recorded entries.
func (r *Recorder) Drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.entries
	r.entries = nil
	return out
}
