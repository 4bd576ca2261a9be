// Package poll runs the per-account scan-and-claim loop against a live shifts view.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"shift-booker/pkg/booker"
)

// ErrMissingCredentials is returned when a run has no username or secret.
var ErrMissingCredentials = errors.New("missing account credentials")

// View identifies the calendar window a session opened.
type View struct {
	URL string
}

// Session is one authenticated connection to the shifts site. A Session is
// owned by a single Scanner and never shared.
type Session interface {
	Authenticate(ctx context.Context, username, secret string) error
	ResolveTargetView(ctx context.Context, room string, targets booker.TargetSet) (View, error)
	// FindSlot reports what the current view shows for target. It returns an
	// error only for transport-level failures.
	FindSlot(ctx context.Context, target booker.SlotTarget) (booker.Observation, error)
	// Claim submits the claim action. Success means the action was accepted
	// for submission, not that the site finalised the booking.
	Claim(ctx context.Context, target booker.SlotTarget) error
	Close() error
}

// Refresher is implemented by sessions whose view must be re-read once per
// scan cycle.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Publisher receives progress messages.
type Publisher interface {
	Publish(account, text string)
}

// State is a Scanner lifecycle state.
type State int32

const (
	Idle State = iota
	Authenticating
	Scanning
	Claiming
	Cooling
	Finished
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authenticating:
		return "authenticating"
	case Scanning:
		return "scanning"
	case Claiming:
		return "claiming"
	case Cooling:
		return "cooling"
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s == Finished || s == Stopped || s == Failed
}

// Config holds the loop timings.
type Config struct {
	ScanInterval   time.Duration // pause between cycles that claimed nothing
	CooldownMargin time.Duration // added to the run cooldown after a claim
	GracePeriod    time.Duration // session stays open this long after Finished or Stopped
}

// DefaultConfig returns the timings the site is known to tolerate.
func DefaultConfig() Config {
	return Config{
		ScanInterval:   200 * time.Millisecond,
		CooldownMargin: 500 * time.Millisecond,
		GracePeriod:    10 * time.Second,
	}
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Scanner drives one account's run: it logs in, opens the target view and
// claims targets until none remain, the stop signal is raised, or a fatal
// error occurs.
type Scanner struct {
	spec    booker.RunSpec
	session Session
	events  Publisher
	stop    *Signal
	cfg     Config
	logger  *slog.Logger
	sleep   SleepFunc

	state atomic.Int32
	done  chan struct{}
}

// New creates a scanner for spec. The scanner takes ownership of session.
func New(spec booker.RunSpec, session Session, events Publisher, stop *Signal, cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		spec:    spec,
		session: session,
		events:  events,
		stop:    stop,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepContext,
		done:    make(chan struct{}),
	}
}

// WithSleep replaces the pause implementation.
func (s *Scanner) WithSleep(fn SleepFunc) *Scanner {
	s.sleep = fn
	return s
}

// Label returns the account label of the run.
func (s *Scanner) Label() string {
	return s.spec.Label
}

// State returns the current state.
func (s *Scanner) State() State {
	return State(s.state.Load())
}

// Done is closed when Run has returned and the session is released.
func (s *Scanner) Done() <-chan struct{} {
	return s.done
}

func (s *Scanner) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.logger.Debug("Scanner state changed", "from", old.String(), "to", st.String())
	}
}

func (s *Scanner) publish(format string, args ...any) {
	s.events.Publish(s.spec.Label, fmt.Sprintf(format, args...))
}

// Run executes the state machine and returns the terminal state. Cancelling
// ctx ends the run as Stopped; the stop signal is only observed between cycles
// and after a cooldown.
func (s *Scanner) Run(ctx context.Context) State {
	defer close(s.done)

	s.setState(Authenticating)
	creds := s.spec.Credentials
	if creds.Username == "" || creds.Secret == "" {
		return s.fail(ctx, ErrMissingCredentials)
	}

	s.publish("--- Step 1: Logging in ---")
	if err := s.session.Authenticate(ctx, creds.Username, creds.Secret); err != nil {
		return s.fail(ctx, fmt.Errorf("login: %w", err))
	}
	s.publish("✅ Login successful!")

	s.publish("--- Step 2: Navigating to shifts page ---")
	view, err := s.session.ResolveTargetView(ctx, s.spec.Room, s.spec.Targets.Clone())
	if err != nil {
		return s.fail(ctx, fmt.Errorf("open shifts view: %w", err))
	}
	s.publish("🔗 URL: %s", view.URL)
	s.logger.Info("Shifts view opened", "url", view.URL, "targets", s.spec.Targets.Len())

	s.publish("--- Step 3: Starting LIVE SHIFT SCANNING ---")
	return s.scan(ctx, s.spec.Targets.Clone())
}

func (s *Scanner) scan(ctx context.Context, targets booker.TargetSet) State {
	lastCount := -1
	for cycle := 1; ; cycle++ {
		s.setState(Scanning)
		if targets.Len() == 0 {
			return s.finish(ctx, Finished)
		}
		if s.stop.IsSet() || ctx.Err() != nil {
			return s.finish(ctx, Stopped)
		}

		if n := targets.Len(); n != lastCount {
			s.publish("Scanning for %d target shifts...", n)
			lastCount = n
		}

		if r, ok := s.session.(Refresher); ok {
			if err := r.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return s.finish(ctx, Stopped)
				}
				return s.fail(ctx, fmt.Errorf("refresh shifts view: %w", err))
			}
		}

		claimed, target := s.cycle(ctx, &targets)
		if claimed {
			s.setState(Cooling)
			wait := s.spec.Cooldown + s.cfg.CooldownMargin
			s.publish("⏳ Shift booked! Waiting for %gs cooldown...", wait.Seconds())
			s.logger.Info("Cooling down after claim", "cycle", cycle, "target", target.String(), "wait", wait.String(), "remaining", targets.Len())
			if err := s.sleep(ctx, wait); err != nil {
				s.logger.Debug("Cooldown interrupted", "error", err)
			}
			continue
		}

		if targets.Len() > 0 && !s.stop.IsSet() {
			if err := s.sleep(ctx, s.cfg.ScanInterval); err != nil {
				s.logger.Debug("Scan pause interrupted", "error", err)
			}
		}
	}
}

// cycle inspects every target once, in priority order, and submits at most one
// claim. It iterates a snapshot so targets can be removed as it goes.
func (s *Scanner) cycle(ctx context.Context, targets *booker.TargetSet) (bool, booker.SlotTarget) {
	for _, t := range targets.Clone() {
		obs, err := s.session.FindSlot(ctx, t)
		if err != nil {
			s.logger.Debug("Slot inspection failed", "target", t.String(), "error", err)
			continue
		}

		switch obs {
		case booker.NotPresent, booker.Unclaimable:
			continue
		case booker.Full:
			targets.Remove(t)
			s.publish("🚫 FULL: %s. Removing from targets.", t)
		case booker.Claimable:
			s.setState(Claiming)
			s.publish("✅ AVAILABLE: %s", t)
			s.publish("🎉 Clicking the 'Book' button NOW!")
			if err := s.session.Claim(ctx, t); err != nil {
				s.setState(Scanning)
				s.publish("⚠️ WARNING: claim for %s was not accepted, will retry: %v", t, err)
				s.logger.Warn("Claim failed", "target", t.String(), "error", err)
				continue
			}
			targets.Remove(t)
			s.publish("✅ BOOKED: %s", t)
			return true, t
		default:
			s.logger.Warn("Unknown slot observation", "target", t.String(), "observation", obs.String())
		}
	}
	return false, booker.SlotTarget{}
}

func (s *Scanner) finish(ctx context.Context, st State) State {
	s.setState(st)
	if st == Stopped {
		s.publish("🛑 Bot stopped by user.")
	} else {
		s.publish("🎉 All target shifts processed!")
		s.publish("--- BOT FINISHED ---")
	}
	s.logger.Info("Run ended", "state", st.String())

	if s.cfg.GracePeriod > 0 {
		s.publish("The session will close in %s.", s.cfg.GracePeriod)
		if err := s.sleep(ctx, s.cfg.GracePeriod); err != nil {
			s.logger.Debug("Grace period cut short", "error", err)
		}
	}
	s.close()
	return st
}

func (s *Scanner) fail(ctx context.Context, err error) State {
	if ctx.Err() != nil {
		s.logger.Info("Run cancelled", "error", err)
		s.setState(Stopped)
		s.publish("🛑 Bot stopped by user.")
		s.close()
		return Stopped
	}
	s.setState(Failed)
	s.publish("❌ FATAL ERROR: %v", err)
	s.publish("Bot stopped. Check credentials, room number, or internet.")
	s.logger.Error("Run failed", "error", err)
	s.close()
	return Failed
}

func (s *Scanner) close() {
	if err := s.session.Close(); err != nil {
		s.logger.Warn("Failed to close session", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
