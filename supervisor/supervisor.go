// Package supervisor starts one scanner per account, shares a stop signal
// between them and tracks when the whole run is over.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"shift-booker/pkg/booker"
	"shift-booker/poll"
)

// ErrAlreadyRunning is returned by Start while a previous run is active.
var ErrAlreadyRunning = errors.New("bot is already running")

// SessionFactory opens a fresh, unauthenticated session for one account.
type SessionFactory func(spec booker.RunSpec) (poll.Session, error)

// Handle follows one account's worker.
type Handle struct {
	RunID   string
	scanner *poll.Scanner
}

// Label returns the account label.
func (h *Handle) Label() string { return h.scanner.Label() }

// State returns the worker's current state.
func (h *Handle) State() poll.State { return h.scanner.State() }

// Done is closed once the worker has released its session.
func (h *Handle) Done() <-chan struct{} { return h.scanner.Done() }

// Supervisor owns at most one run at a time.
type Supervisor struct {
	factory SessionFactory
	events  poll.Publisher
	cfg     poll.Config
	logger  *slog.Logger
	sleep   poll.SleepFunc

	mu      sync.Mutex
	runID   string
	stop    *poll.Signal
	handles []*Handle
	done    chan struct{}
}

// New creates a supervisor. Every worker publishes to events.
func New(factory SessionFactory, events poll.Publisher, cfg poll.Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		factory: factory,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

// WithSleep replaces the pause implementation of future workers.
func (s *Supervisor) WithSleep(fn poll.SleepFunc) *Supervisor {
	s.sleep = fn
	return s
}

// Start validates every account and launches one worker per account. It is
// all-or-nothing: on any validation or session error nothing runs. ctx bounds
// the whole run; cancelling it stops every worker.
func (s *Supervisor) Start(ctx context.Context, accounts []booker.Account, shared booker.SharedInputs) ([]*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runningLocked() {
		return nil, ErrAlreadyRunning
	}

	specs, err := Plan(accounts, shared)
	if err != nil {
		return nil, err
	}

	sessions := make([]poll.Session, 0, len(specs))
	for _, spec := range specs {
		sess, err := s.factory(spec)
		if err != nil {
			for _, open := range sessions {
				if closeErr := open.Close(); closeErr != nil {
					s.logger.Warn("Failed to close session", "error", closeErr)
				}
			}
			return nil, fmt.Errorf("open session for %s: %w", spec.Label, err)
		}
		sessions = append(sessions, sess)
	}

	runID := uuid.NewString()
	stop := poll.NewSignal()
	logger := s.logger.With("run_id", runID)

	shares := 0
	for _, a := range accounts {
		if a.UseShared {
			shares++
		}
	}
	s.events.Publish("", fmt.Sprintf("Accounts to start: %d (shared config: %d, custom config: %d)", len(specs), shares, len(specs)-shares))
	logger.Info("Starting run", "accounts", len(specs), "shared", shares, "room", shared.Room)

	handles := make([]*Handle, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		sc := poll.New(spec, sessions[i], s.events, stop, s.cfg, logger.With("account", spec.Label))
		if s.sleep != nil {
			sc.WithSleep(s.sleep)
		}
		handles[i] = &Handle{RunID: runID, scanner: sc}
		g.Go(func() error {
			st := sc.Run(ctx)
			logger.Info("Worker finished", "account", spec.Label, "state", st.String())
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		logger.Info("Run complete")
		close(done)
	}()

	s.runID = runID
	s.stop = stop
	s.handles = handles
	s.done = done
	return append([]*Handle(nil), handles...), nil
}

// Stop raises the stop signal of the current run. It does not wait for the
// workers, and reports whether a running run was signalled.
func (s *Supervisor) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil || !s.runningLocked() {
		return false
	}
	if s.stop.Set() {
		s.events.Publish("", "🛑 Stopping bot...")
		s.logger.Info("Stop requested", "run_id", s.runID)
	}
	return true
}

// IsRunning reports whether any worker of the current run has not reached a
// terminal state.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Supervisor) runningLocked() bool {
	for _, h := range s.handles {
		if !h.State().Terminal() {
			return true
		}
	}
	return false
}

// Status is a snapshot of the current or last run.
type Status struct {
	RunID   string
	Running bool
	Workers []WorkerStatus
}

// WorkerStatus is the state of one account's worker.
type WorkerStatus struct {
	Account string
	State   poll.State
}

// Status returns a snapshot of the current or last run.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{RunID: s.runID, Running: s.runningLocked()}
	for _, h := range s.handles {
		st.Workers = append(st.Workers, WorkerStatus{Account: h.Label(), State: h.State()})
	}
	return st
}

// Wait blocks until every worker of the current run has released its
// session, or ctx is done. It returns immediately when nothing was started.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
