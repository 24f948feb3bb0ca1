// Package app wires the server components together and owns their
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"

	"chatrelay/internal/retention"
	"chatrelay/pkg/call"
	"chatrelay/pkg/config"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/progressor"
	"chatrelay/pkg/relay"
	"chatrelay/pkg/state"
	"chatrelay/pkg/store"
	"chatrelay/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	version   string
	commit    string
	buildDate string

	coord *call.Coordinator
	disp  *notify.Dispatcher

	srv *http.Server
}

// New initializes resources that do not require a running context: the
// store, domain tunables, the call coordinator and the notification
// dispatcher. Call Run to start the schedulers and the HTTP server.
func New(cfg *config.Config, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if err := state.EnsureStateDirs(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("invalid db path %s: %w", cfg.Server.DBPath, err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}
	if from := progressor.StoredVersion(); from != version {
		if err := progressor.Sync(context.Background(), from, version); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	if w := cfg.Presence.Window.Duration(); w > 0 {
		presence.SetWindow(w)
	}
	relay.SetMaxPayload(cfg.Signals.MaxPayload.Int64())
	validation.SetRules(validation.Rules{MaxTextBytes: int(cfg.Limits.MaxText.Int64())})

	a := &App{
		cfg:       cfg,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		coord:     call.New(call.Config{RingTimeout: cfg.Calls.RingTimeout.Duration()}),
		disp: notify.New(notify.Config{
			QueueCapacity: cfg.Notify.QueueCapacity,
			RPS:           cfg.Notify.RPS,
			Burst:         cfg.Notify.Burst,
			Workers:       cfg.Notify.Workers,
		}, nil),
	}
	return a, nil
}

// Run starts the notification dispatcher, the retention scheduler and
// the HTTP server, and blocks until ctx is canceled or a fatal server
// error occurs.
func (a *App) Run(ctx context.Context) error {
	go a.disp.Run(ctx)

	retention.SetConfig(a.cfg.Retention)
	stopRetention, err := retention.Start(ctx, a.cfg.Retention)
	if err != nil {
		return err
	}
	defer stopRetention()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close shuts the HTTP server down and releases the store.
func (a *App) Close(ctx context.Context) error {
	if a.srv != nil {
		_ = a.srv.Shutdown(ctx)
	}
	return store.Close()
}
