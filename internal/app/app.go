package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kindtally/internal/config"
	"github.com/dokzlo13/kindtally/internal/history"
	"github.com/dokzlo13/kindtally/internal/tally"
)

// now is replaced in tests
var now = time.Now

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services

	// poolStopped is false when the relay pool did not shut down in time
	poolStopped bool
	closeOnce   sync.Once
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:         cfg,
		services:    services,
		poolStopped: true,
	}, nil
}

// Run connects to every relay and tallies event kinds for one window.
// The window ends early when ctx is cancelled; the partial tally is returned.
// A transport failure of every relay is returned as an error.
func (a *App) Run(ctx context.Context, window time.Duration) (tally.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.services.Status.Start(ctx)
	a.services.Pool.Start(ctx)

	log.Info().
		Strs("relays", a.services.Pool.Relays()).
		Dur("window", window).
		Msg("Collecting event kinds")

	started := now()
	snap, err := a.services.Collector.RunFor(window, a.services.Pool)
	elapsed := now().Sub(started)

	// Stop the transport and wait for it so late publishes cannot race the bus shutdown
	cancel()
	a.poolStopped = drain(a.services.Pool, a.cfg.GetShutdownTimeout())
	if !a.poolStopped {
		log.Warn().Msg("Relay pool did not stop within shutdown timeout")
	}

	if err != nil {
		return nil, err
	}

	log.Info().
		Uint64("total", snap.Total()).
		Int("kinds", len(snap)).
		Dur("elapsed", elapsed).
		Msg("Collection finished")

	a.record(started, window, elapsed, snap)
	return snap, nil
}

// record persists the run when history is enabled. Failures are logged only.
func (a *App) record(started time.Time, window, elapsed time.Duration, snap tally.Snapshot) {
	h := a.services.History
	if h == nil {
		return
	}

	run := &history.Run{
		StartedAt: started,
		Window:    window,
		Elapsed:   elapsed,
		Relays:    a.services.Pool.Relays(),
		Counts:    snap,
	}
	if err := h.Save(run); err != nil {
		log.Warn().Err(err).Msg("Failed to save run history")
		return
	}
	log.Debug().Str("run_id", run.ID).Msg("Saved run history")

	if days := a.cfg.Database.RetentionDays; days > 0 {
		deleted, err := h.DeleteOlderThan(time.Duration(days) * 24 * time.Hour)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to apply history retention")
		} else if deleted > 0 {
			log.Debug().Int64("deleted", deleted).Msg("Pruned old runs")
		}
	}
}

// History returns the run history, or nil when persistence is disabled.
func (a *App) History() *history.History {
	return a.services.History
}

// Close releases all resources. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if !a.poolStopped {
			// Relays may still publish; leave the bus to the process exit
			a.services.Bus = nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.GetShutdownTimeout())
		defer cancel()
		a.services.Close(ctx)
	})
	return nil
}

// drain discards remaining items until src closes or timeout elapses.
func drain(src tally.Source, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	items := src.Items()
	for {
		select {
		case _, ok := <-items:
			if !ok {
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal, finishing early")
		cancel()
	}()

	return ctx
}
