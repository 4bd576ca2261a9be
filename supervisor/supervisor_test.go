package supervisor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shift-booker/events"
	"shift-booker/pkg/booker"
	"shift-booker/poll"
	"shift-booker/supervisor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// siteSession reports every target in open as claimable and records claims.
type siteSession struct {
	mu     sync.Mutex
	open   map[booker.SlotTarget]bool
	claims []booker.SlotTarget
	closed bool
}

func (s *siteSession) Authenticate(context.Context, string, string) error { return nil }

func (s *siteSession) ResolveTargetView(_ context.Context, room string, _ booker.TargetSet) (poll.View, error) {
	return poll.View{URL: "https://example.test/rooms/" + room + "/"}, nil
}

func (s *siteSession) FindSlot(_ context.Context, t booker.SlotTarget) (booker.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[t] {
		return booker.Claimable, nil
	}
	return booker.NotPresent, nil
}

func (s *siteSession) Claim(_ context.Context, t booker.SlotTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, t)
	return nil
}

func (s *siteSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *siteSession) claimed() []booker.SlotTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]booker.SlotTarget(nil), s.claims...)
}

type harness struct {
	sup  *supervisor.Supervisor
	sink *events.Sink

	mu       sync.Mutex
	sessions map[string]*siteSession
	open     map[booker.SlotTarget]bool
}

func newHarness(open ...booker.SlotTarget) *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		sink:     events.NewSink(logger),
		sessions: make(map[string]*siteSession),
		open:     make(map[booker.SlotTarget]bool),
	}
	for _, t := range open {
		h.open[t] = true
	}
	cfg := poll.Config{ScanInterval: time.Millisecond}
	h.sup = supervisor.New(h.factory, h.sink, cfg, logger)
	return h
}

func (h *harness) factory(spec booker.RunSpec) (poll.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := &siteSession{open: h.open}
	h.sessions[spec.Label] = s
	return s, nil
}

func (h *harness) session(label string) *siteSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[label]
}

func TestSharedAndCustomAccountsDoNotAlias(t *testing.T) {
	shared := booker.TargetSet{{Date: "2025-12-01", Label: "Morning"}, {Date: "2025-12-02", Label: "Night"}}
	own := booker.TargetSet{{Date: "2025-12-05", Label: "Evening"}}
	extra := booker.SlotTarget{Date: "2025-12-09", Label: "Extra"}
	h := newHarness(append(shared.Clone(), append(own.Clone(), extra)...)...)
	wantShared := shared.Clone()
	wantOwn := own.Clone()

	accounts := []booker.Account{
		{Username: "alice@example.com", Secret: "a", UseShared: true},
		{Username: "bob@example.com", Secret: "b", Room: "99", Cooldown: "0", Targets: own},
		{Username: "carol@example.com", Secret: "c", UseShared: true},
	}
	handles, err := h.sup.Start(t.Context(), accounts, booker.SharedInputs{Room: "2761", Cooldown: "0", Targets: shared})
	require.NoError(t, err)
	require.Len(t, handles, 3)
	require.NotEmpty(t, handles[0].RunID)
	require.Equal(t, handles[0].RunID, handles[2].RunID)

	// Edits made by the operator after start belong to the next run.
	shared.Move(0, booker.Down)
	shared.Add(extra.Date, extra.Label)
	shared.RemoveAt(0)
	accounts[1].Targets[0] = extra
	accounts[1].Targets.Add(extra.Date, extra.Label)

	require.NoError(t, h.sup.Wait(t.Context()))
	require.False(t, h.sup.IsRunning())

	for _, hd := range handles {
		require.Equal(t, poll.Finished, hd.State(), hd.Label())
	}
	require.Equal(t, []booker.SlotTarget(wantShared), h.session("1:ali***").claimed())
	require.Equal(t, []booker.SlotTarget(wantShared), h.session("3:car***").claimed(),
		"a claim by one shared account must not consume the other's copy")
	require.Equal(t, []booker.SlotTarget(wantOwn), h.session("2:bob***").claimed())
	for _, label := range []string{"1:ali***", "2:bob***", "3:car***"} {
		require.True(t, h.session(label).closed, label)
	}
}

// gatedSession fails login with authErr, or reports nothing until gate is
// closed and then behaves like its siteSession.
type gatedSession struct {
	*siteSession
	authErr error
	gate    <-chan struct{}
}

func (g *gatedSession) Authenticate(context.Context, string, string) error { return g.authErr }

func (g *gatedSession) FindSlot(ctx context.Context, t booker.SlotTarget) (booker.Observation, error) {
	select {
	case <-g.gate:
		return g.siteSession.FindSlot(ctx, t)
	default:
		return booker.NotPresent, nil
	}
}

func TestWorkerFailureDoesNotAffectOthers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	target := booker.SlotTarget{Date: "2025-12-01", Label: "Morning"}
	gate := make(chan struct{})

	var mu sync.Mutex
	sessions := make(map[string]*gatedSession)
	factory := func(spec booker.RunSpec) (poll.Session, error) {
		mu.Lock()
		defer mu.Unlock()
		g := &gatedSession{siteSession: &siteSession{open: map[booker.SlotTarget]bool{target: true}}, gate: gate}
		if spec.Label == "1:ali***" {
			g.authErr = errors.New("bad creds")
		}
		sessions[spec.Label] = g
		return g, nil
	}
	sink := events.NewSink(logger)
	sup := supervisor.New(factory, sink, poll.Config{ScanInterval: time.Millisecond}, logger)

	accounts := []booker.Account{
		{Username: "alice@example.com", Secret: "a", UseShared: true},
		{Username: "bob@example.com", Secret: "b", UseShared: true},
	}
	shared := booker.SharedInputs{Room: "2761", Cooldown: "0", Targets: booker.TargetSet{target}}
	handles, err := sup.Start(t.Context(), accounts, shared)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return handles[0].State() == poll.Failed }, 5*time.Second, time.Millisecond)
	require.False(t, handles[1].State().Terminal(), "the other worker keeps scanning")
	require.True(t, sup.IsRunning(), "the run is not over while a worker is still scanning")

	close(gate)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, sup.Wait(ctx))

	require.Equal(t, poll.Failed, handles[0].State())
	require.Equal(t, poll.Finished, handles[1].State())
	require.False(t, sup.IsRunning())

	mu.Lock()
	require.Empty(t, sessions["1:ali***"].claimed())
	require.Equal(t, []booker.SlotTarget{target}, sessions["2:bob***"].claimed())
	require.True(t, sessions["1:ali***"].closed)
	require.True(t, sessions["2:bob***"].closed)
	mu.Unlock()

	var fatal []string
	for _, e := range sink.Drain() {
		if strings.Contains(e.Text, "❌ FATAL ERROR") {
			fatal = append(fatal, e.Account)
		}
	}
	require.Equal(t, []string{"1:ali***"}, fatal)
}

func TestStartValidationLaunchesNothing(t *testing.T) {
	h := newHarness()
	accounts := []booker.Account{
		{Username: "alice@example.com", Secret: "a", UseShared: true},
		{Username: "bob@example.com", Secret: "b", Room: "99", Cooldown: "5"},
	}
	shared := booker.SharedInputs{Room: "2761", Cooldown: "10", Targets: booker.TargetSet{{Date: "2025-12-01", Label: "Morning"}}}

	handles, err := h.sup.Start(t.Context(), accounts, shared)
	require.Nil(t, handles)
	var verr *supervisor.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"2:bob***"}, verr.Accounts())
	require.Contains(t, err.Error(), "at least one shift is required")

	require.False(t, h.sup.IsRunning())
	require.Empty(t, h.sessions, "no session may be opened when validation fails")
	require.NoError(t, h.sup.Wait(t.Context()))
}

func TestPlanReportsEveryAccount(t *testing.T) {
	accounts := []booker.Account{
		{Username: "alice@example.com", UseShared: true},
		{Username: "bob@example.com", Room: "x", Cooldown: "5", Targets: booker.TargetSet{{Date: "d", Label: "l"}}},
	}
	_, err := supervisor.Plan(accounts, booker.SharedInputs{Room: "", Cooldown: "1"})
	require.True(t, supervisor.IsValidationError(err))

	var verr *supervisor.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{"1:ali***", "2:bob***"}, verr.Accounts())
	require.Contains(t, err.Error(), "1:ali***: main list: room number is required")
	require.Contains(t, err.Error(), "2:bob***: custom config: room number must contain only numbers")

	_, err = supervisor.Plan(nil, booker.SharedInputs{})
	require.ErrorAs(t, err, &verr)
	require.Empty(t, verr.Accounts())
}

func TestStopEndsEveryWorker(t *testing.T) {
	h := newHarness()
	accounts := []booker.Account{
		{Username: "alice@example.com", Secret: "a", UseShared: true},
		{Username: "bob@example.com", Secret: "b", UseShared: true},
	}
	shared := booker.SharedInputs{Room: "2761", Cooldown: "1", Targets: booker.TargetSet{{Date: "2025-12-01", Label: "Morning"}}}

	handles, err := h.sup.Start(t.Context(), accounts, shared)
	require.NoError(t, err)
	require.True(t, h.sup.IsRunning())

	_, err = h.sup.Start(t.Context(), accounts, shared)
	require.ErrorIs(t, err, supervisor.ErrAlreadyRunning)

	require.True(t, h.sup.Stop())
	h.sup.Stop()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.sup.Wait(ctx))
	for _, hd := range handles {
		require.Equal(t, poll.Stopped, hd.State())
	}
	require.False(t, h.sup.Stop())

	var stopping, stopped int
	for _, e := range h.sink.Drain() {
		switch e.Text {
		case "🛑 Stopping bot...":
			stopping++
		case "🛑 Bot stopped by user.":
			stopped++
		}
	}
	require.Equal(t, 1, stopping)
	require.Equal(t, 2, stopped)

	st := h.sup.Status()
	require.False(t, st.Running)
	require.Len(t, st.Workers, 2)

	// A finished run can be followed by a new one with a fresh signal.
	h.open[shared.Targets[0]] = true
	_, err = h.sup.Start(t.Context(), accounts, shared)
	require.NoError(t, err)
	require.NoError(t, h.sup.Wait(ctx))
	require.NotEqual(t, st.RunID, h.sup.Status().RunID)
	for _, w := range h.sup.Status().Workers {
		require.Equal(t, poll.Finished, w.State)
	}
}

func TestSessionFactoryFailureStartsNothing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var opened []*siteSession
	calls := 0
	factory := func(booker.RunSpec) (poll.Session, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("no browser")
		}
		s := &siteSession{}
		opened = append(opened, s)
		return s, nil
	}
	sup := supervisor.New(factory, events.NewSink(logger), poll.Config{}, logger)

	accounts := []booker.Account{
		{Username: "alice@example.com", Secret: "a", UseShared: true},
		{Username: "bob@example.com", Secret: "b", UseShared: true},
	}
	shared := booker.SharedInputs{Room: "1", Cooldown: "1", Targets: booker.TargetSet{{Date: "d", Label: "l"}}}
	_, err := sup.Start(t.Context(), accounts, shared)
	require.ErrorContains(t, err, "no browser")
	require.False(t, sup.IsRunning())
	require.Len(t, opened, 1)
	require.True(t, opened[0].closed)
}
