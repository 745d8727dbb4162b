package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pmboard/internal/broadcast"
	"pmboard/internal/metrics"
	"pmboard/internal/scheduler"
	"pmboard/internal/server"
	"pmboard/internal/service"
	"pmboard/internal/storage"
)

// Serve runs the HTTP server and the push loop until SIGINT/SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Info().Msg("database.dsn not configured; snapshot archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	recorder := metrics.New()
	opts := []service.Option{service.WithRecorder(recorder)}
	var alertStore storage.AlertStore
	if store != nil {
		alertStore = store
		opts = append(opts, service.WithRefreshHook(a.archiveHook(store)))
	}
	if detector := a.newDetector(alertStore); detector != nil {
		opts = append(opts, service.WithRefreshHook(detector.OnRefresh))
	}

	coord := a.newCoordinator(opts...)
	recorder.TrackSnapshotAge(func() float64 { return coord.Stats().Age })

	hub := broadcast.NewHub(broadcast.HubOptions{
		WriteTimeout: a.Config.Stream.WriteTimeout,
		Parallelism:  a.Config.Stream.Parallelism,
		Observer:     recorder,
	}, a.Logger)
	sched := scheduler.New(scheduler.Options{
		Name:      "broadcast",
		Interval:  coord.TTL(),
		Immediate: true,
	}, a.Logger)
	broadcaster := broadcast.NewBroadcaster(hub, coord, sched, a.Logger)

	srv := server.New(server.Config{
		Host:            a.Config.Server.Host,
		Port:            a.Config.Server.Port,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		StaticDir:       a.Config.Server.StaticDir,
		CORS:            a.Config.Server.CORS,
		CORSOrigins:     a.Config.Server.CORSOrigins,
		Limits: server.ViewLimits{
			DefaultLimit:      a.Config.View.DefaultLimit,
			MaxLimit:          a.Config.View.MaxLimit,
			DefaultContenders: a.Config.View.DefaultContenders,
			MaxContenders:     a.Config.View.MaxContenders,
		},
	}, coord, broadcaster, a.Logger, server.WithMetrics(recorder.Handler(), recorder))

	a.Logger.Info().
		Str("addr", a.Config.Server.Addr()).
		Dur("ttl", coord.TTL()).
		Int("fetch_limit", coord.Query().Limit).
		Msg("starting pmboard")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("pmboard terminated with error")
		return err
	}

	a.Logger.Info().Msg("pmboard stopped")
	return nil
}
