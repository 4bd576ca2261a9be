package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"shift-booker/events"
	"shift-booker/server"
)

var (
	runFlags  runInputs
	serveAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start every account and print progress until the run ends",
	Long: `Start one worker per stored account. Accounts in shared mode use --room,
--cooldown and --shift (or --preset); the others use their own configuration.
The first interrupt asks every worker to stop after its current step; a
second one aborts immediately.`,
	Args: cobra.NoArgs,
	RunE: doRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the start/stop/status/events API over HTTP",
	Args:  cobra.NoArgs,
	RunE:  doServe,
}

func init() {
	runFlags.register(runCmd, true)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, book, closeStore, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	shared, err := runFlags.shared(ctx, store)
	if err != nil {
		return err
	}

	sink := events.NewSink(logger)
	sup := newSupervisor(sink)
	if _, err := sup.Start(ctx, book.List(), shared); err != nil {
		return err
	}

	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	go func() {
		stopping := false
		for {
			select {
			case <-sigc:
				if stopping {
					logger.Warn("Second interrupt, aborting")
					cancel()
					return
				}
				stopping = true
				sup.Stop()
			case <-ctx.Done():
				return
			}
		}
	}()

	printCtx, stopPrinting := context.WithCancel(ctx)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(printCtx, sink, cmd.OutOrStdout())
	}()

	// Wait only returns early on a hard abort; the workers still release
	// their sessions in the background.
	waitErr := sup.Wait(ctx)
	stopPrinting()
	<-printed
	for _, e := range sink.Drain() {
		fmt.Fprintln(cmd.OutOrStdout(), e.String())
	}
	if waitErr != nil {
		return fmt.Errorf("run aborted: %w", waitErr)
	}

	st := sup.Status()
	for _, w := range st.Workers {
		logger.Info("Worker result", "run_id", st.RunID, "account", w.Account, "state", w.State.String())
	}
	return nil
}

// printEvents writes events as they arrive until ctx is done.
func printEvents(ctx context.Context, sink *events.Sink, w io.Writer) {
	for {
		batch, err := sink.Next(ctx)
		for _, e := range batch {
			fmt.Fprintln(w, e.String())
		}
		if err != nil {
			return
		}
	}
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, book, closeStore, err := openAccounts(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sink := events.NewSink(logger)
	sup := newSupervisor(sink)
	srv := server.New(&server.Config{
		Runner:     sup,
		Accounts:   book,
		Presets:    store,
		Events:     sink,
		Logger:     logger,
		RunContext: ctx,
		TrustProxy: cfg.Server.TrustProxy,
	})

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	serveErr := srv.ListenAndServe(ctx, addr)

	// Give workers the grace period to notice the stop and release sessions.
	sup.Stop()
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Poll().GracePeriod+5*time.Second)
	defer cancel()
	if err := sup.Wait(waitCtx); err != nil {
		logger.Warn("Workers did not finish before shutdown", "error", err)
	}
	return serveErr
}
