// Package events carries human-readable progress messages from booking
// workers to whatever reports them.
package events

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Severity is derived from markers in the message text.
type Severity int

const (
	Info Severity = iota
	Success
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Classify derives the severity of a message from its content markers.
// Success markers win over error markers when both appear.
func Classify(text string) Severity {
	switch {
	case strings.Contains(text, "✅") || strings.Contains(text, "🎉") || strings.Contains(text, "BOOKED:"):
		return Success
	case strings.Contains(text, "❌") || strings.Contains(text, "ERROR") || strings.Contains(text, "FATAL"):
		return Error
	case strings.Contains(text, "⚠️") || strings.Contains(text, "WARNING"):
		return Warning
	default:
		return Info
	}
}

// Event is a single timestamped progress message.
type Event struct {
	Time     time.Time
	Account  string
	Text     string
	Severity Severity
}

// String formats the event the way the operator log shows it.
func (e Event) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Time.Format("15:04:05"))
	b.WriteString("] ")
	if e.Account != "" {
		b.WriteString("[")
		b.WriteString(e.Account)
		b.WriteString("] ")
	}
	b.WriteString(e.Text)
	return b.String()
}

// Sink is an unbounded multi-producer, single-consumer queue of events.
// Publish never blocks. Events from one producer keep their order; events
// from different producers interleave by arrival.
type Sink struct {
	mu     sync.Mutex
	queue  []Event
	ready  chan struct{}
	logger *slog.Logger
	now    func() time.Time
}

// NewSink creates an empty sink. Every published event is mirrored to logger.
func NewSink(logger *slog.Logger) *Sink {
	return &Sink{
		ready:  make(chan struct{}, 1),
		logger: logger,
		now:    time.Now,
	}
}

// Publish appends a message attributed to account.
func (s *Sink) Publish(account, text string) {
	e := Event{
		Time:     s.now(),
		Account:  account,
		Text:     text,
		Severity: Classify(text),
	}

	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}

	level := slog.LevelInfo
	switch e.Severity {
	case Error:
		level = slog.LevelError
	case Warning:
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "Booking event", "account", account, "text", text, "severity", e.Severity.String())
}

// Drain removes and returns every queued event without blocking.
func (s *Sink) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Next blocks until at least one event is queued or ctx is done, then returns
// everything queued.
func (s *Sink) Next(ctx context.Context) ([]Event, error) {
	for {
		if out := s.Drain(); len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ready:
		}
	}
}

// Len returns the number of queued events.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
