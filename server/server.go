// Package server exposes the operator controls over HTTP: start and stop a
// run, check its status and read progress events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"shift-booker/events"
	"shift-booker/pkg/booker"
	"shift-booker/supervisor"
)

// Runner starts and stops runs.
type Runner interface {
	Start(ctx context.Context, accounts []booker.Account, shared booker.SharedInputs) ([]*supervisor.Handle, error)
	Stop() bool
	Status() supervisor.Status
}

// Accounts lists the stored accounts.
type Accounts interface {
	List() []booker.Account
}

// Presets looks up a stored preset by name.
type Presets interface {
	Preset(ctx context.Context, name string) (booker.Preset, error)
}

// EventSource hands out queued progress events.
type EventSource interface {
	Drain() []events.Event
	Next(ctx context.Context) ([]events.Event, error)
}

// Server handles HTTP requests.
type Server struct {
	runner   Runner
	accounts Accounts
	presets  Presets
	events   EventSource
	logger   *slog.Logger
	runCtx   context.Context
	longPoll time.Duration
	limiter  *limiter

	trustProxy bool
}

// Config holds server configuration.
type Config struct {
	Runner   Runner
	Accounts Accounts
	Presets  Presets
	Events   EventSource
	Logger   *slog.Logger
	// RunContext bounds runs started over HTTP. Request contexts end with the
	// request, so they cannot be used for a run.
	RunContext context.Context
	// LongPoll caps how long GET /events?wait=1 blocks.
	LongPoll time.Duration
	// ControlLimit caps start and stop requests per client per minute.
	ControlLimit int
	// TrustProxy keys the limit on X-Forwarded-For. Enable only behind a
	// proxy that overwrites the header.
	TrustProxy bool
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	runCtx := cfg.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	longPoll := cfg.LongPoll
	if longPoll <= 0 {
		longPoll = 25 * time.Second
	}
	controlLimit := cfg.ControlLimit
	if controlLimit <= 0 {
		controlLimit = 30
	}
	return &Server{
		runner:   cfg.Runner,
		accounts: cfg.Accounts,
		presets:  cfg.Presets,
		events:   cfg.Events,
		logger:   cfg.Logger,
		runCtx:   runCtx,
		longPoll: longPoll,
		limiter:  newLimiter(controlLimit, time.Minute),

		trustProxy: cfg.TrustProxy,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /start", s.limited(s.handleStart))
	mux.HandleFunc("POST /stop", s.limited(s.handleStop))
	mux.HandleFunc("GET /events", s.handleEvents)
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.longPoll + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type workerJSON struct {
	Account string `json:"account"`
	State   string `json:"state"`
}

type statusJSON struct {
	RunID   string       `json:"run_id,omitempty"`
	Running bool         `json:"running"`
	Workers []workerJSON `json:"workers"`
}

func toStatusJSON(st supervisor.Status) statusJSON {
	out := statusJSON{RunID: st.RunID, Running: st.Running, Workers: []workerJSON{}}
	for _, w := range st.Workers {
		out.Workers = append(out.Workers, workerJSON{Account: w.Account, State: w.State.String()})
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toStatusJSON(s.runner.Status()))
}

// startRequest carries the shared inputs. When Preset is set, its room,
// cooldown and targets are used instead.
type startRequest struct {
	Preset   string           `json:"preset"`
	Room     string           `json:"room"`
	Cooldown booker.Seconds   `json:"cooldown"`
	Targets  booker.TargetSet `json:"shifts"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	shared := booker.SharedInputs{Room: req.Room, Cooldown: req.Cooldown, Targets: req.Targets}
	if req.Preset != "" {
		p, err := s.presets.Preset(r.Context(), req.Preset)
		if err != nil {
			s.logger.Warn("Preset lookup failed", "preset", req.Preset, "error", err)
			http.Error(w, "Unknown preset", http.StatusNotFound)
			return
		}
		shared = booker.SharedInputs{Room: p.Room, Cooldown: p.Cooldown, Targets: p.Targets}
	}

	_, err := s.runner.Start(s.runCtx, s.accounts.List(), shared)
	if err != nil {
		var verr *supervisor.ValidationError
		switch {
		case errors.Is(err, supervisor.ErrAlreadyRunning):
			s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.As(err, &verr):
			problems := make([]string, len(verr.Problems))
			for i, p := range verr.Problems {
				problems[i] = p.String()
			}
			s.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "problems": problems})
		default:
			s.logger.Error("Start failed", "error", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	s.logger.Info("Run started over HTTP", "room", shared.Room, "targets", shared.Targets.Len())
	s.writeJSON(w, http.StatusAccepted, toStatusJSON(s.runner.Status()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	stopping := s.runner.Stop()
	s.writeJSON(w, http.StatusOK, map[string]bool{"stopping": stopping})
}

type eventJSON struct {
	Time     time.Time `json:"time"`
	Account  string    `json:"account,omitempty"`
	Text     string    `json:"text"`
	Severity string    `json:"severity"`
}

// handleEvents drains queued events. With wait=1 it blocks until at least one
// event arrives or the long-poll window ends.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var batch []events.Event
	if r.URL.Query().Get("wait") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), s.longPoll)
		defer cancel()
		var err error
		batch, err = s.events.Next(ctx)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return
		}
	} else {
		batch = s.events.Drain()
	}

	out := make([]eventJSON, 0, len(batch))
	for _, e := range batch {
		out = append(out, eventJSON{Time: e.Time, Account: e.Account, Text: e.Text, Severity: e.Severity.String()})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
