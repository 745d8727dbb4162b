package app

import (
	"context"
	"os/signal"
	"syscall"

	"pmboard/internal/tui"
)

// Watch runs the live terminal board, refreshing through the cache coordinator.
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	view, err := a.resolveView(opts.ViewOptions)
	if err != nil {
		return err
	}

	coord := a.newCoordinator()
	interval := opts.Interval
	if interval <= 0 {
		interval = coord.TTL()
	}

	return tui.Run(ctx, coord, tui.Options{View: view, Interval: interval})
}
