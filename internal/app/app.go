// Package app wires the dependency graph and owns the process lifecycle:
// state persistence, venue feeds, the scan loop, archival, and the operator
// shell all run under one errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/crossclob/arbot/internal/cli"
	"github.com/crossclob/arbot/internal/config"
)

// App is the root application object.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	// Operator shell I/O, normally os.Stdin/os.Stdout.
	in  io.Reader
	out io.Writer
}

// New creates an App.
func New(cfg config.Config, logger *slog.Logger, in io.Reader, out io.Writer) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		in:     in,
		out:    out,
	}
}

// Run wires dependencies and blocks until ctx is cancelled, the operator
// quits, or a component fails fatally.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	defer cleanup()

	if err := a.applyStartPolicy(ctx, deps); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return deps.State.Run(gctx) })
	for _, f := range deps.Feeds {
		f := f
		g.Go(func() error { return f.Run(gctx) })
	}
	g.Go(func() error { return deps.Supervisor.Run(gctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx) })
	}

	shell := cli.New(cli.Deps{
		Cfg:      a.cfg,
		Mode:     deps.Mode,
		Breaker:  deps.Breaker,
		State:    deps.State,
		Risk:     deps.Risk,
		Mappings: deps.Matcher,
		Scanner:  deps.Supervisor,
		Adapters: deps.Adapters,
		Opps:     deps.Opps,
		Execs:    deps.Execs,
		Cache:    deps.BookCache,
		Shutdown: cancel,
	}, a.in, a.out, a.logger)
	g.Go(func() error { return shell.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("stopped")
		return nil
	}
	return err
}

// applyStartPolicy decides whether trading starts paused. Recovery warnings
// combined with the manual-review setting always pause; the operator resumes
// from the shell after inspecting positions.
func (a *App) applyStartPolicy(ctx context.Context, deps *Deps) error {
	if len(deps.StartupWarnings) == 0 {
		return nil
	}
	for _, w := range deps.StartupWarnings {
		a.logger.Warn("state recovery warning", slog.String("warning", w))
	}
	if !a.cfg.State.RequireManualReview {
		return nil
	}

	reason := "startup requires manual review: " + strings.Join(deps.StartupWarnings, "; ")
	if err := deps.Breaker.Pause(ctx, reason); err != nil {
		return fmt.Errorf("app: pause for manual review: %w", err)
	}
	fmt.Fprintln(a.out, "trading paused pending manual review; run 'status' and 'resume' when ready")
	return nil
}
