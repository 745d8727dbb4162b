package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pmboard/internal/alerting"
	"pmboard/internal/board"
	"pmboard/internal/config"
	"pmboard/internal/fetcher"
	"pmboard/internal/model"
	"pmboard/internal/service"
	"pmboard/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// Source overrides the subprocess fetcher when set.
	Source fetcher.EventFetcher
	// Out receives table and JSON output. Defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
	}
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) newFetcher() fetcher.EventFetcher {
	if a.Source != nil {
		return a.Source
	}
	return fetcher.NewCommand(fetcher.CommandOptions{
		BinaryPath: a.Config.Source.BinaryPath,
		Timeout:    a.Config.Source.Timeout,
		WaitDelay:  a.Config.Source.WaitDelay,
	}, a.Logger)
}

func (a *App) newCoordinator(opts ...service.Option) *service.Coordinator {
	return service.New(a.newFetcher(), a.Config.Query(), a.Config.Cache.TTL(), a.Logger, opts...)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newDetector(store storage.AlertStore) *alerting.Detector {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	return alerting.NewDetector(alerting.DetectorOptions{
		ThresholdCents: decimal.NewFromFloat(a.Config.Alerting.ThresholdCents),
		Cooldown:       a.Config.Alerting.Cooldown,
		TopEvents:      a.Config.Alerting.TopEvents,
	}, a.newNotifier(), store, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if !a.Config.Database.Enabled() {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// archiveHook writes every refreshed snapshot to the archive and prunes past the retention window.
func (a *App) archiveHook(archive storage.SnapshotArchive) service.RefreshHook {
	timeout := a.Config.Database.WriteTimeout
	retention := a.Config.Database.Retention
	logger := a.Logger.With().Str("component", "archive").Logger()

	return func(ctx context.Context, snap *model.Snapshot) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		rec, samples := storage.SamplesFromSnapshot(snap)
		id, err := archive.InsertSnapshot(ctx, rec, samples)
		if err != nil {
			logger.Error().Err(err).Time("fetched_at", snap.FetchedAt).Msg("failed to archive snapshot")
			return
		}
		logger.Debug().Int64("snapshot_id", id).Int("events", len(samples)).Msg("snapshot archived")

		if retention <= 0 {
			return
		}
		pruned, err := archive.DeleteSnapshotsBefore(ctx, snap.FetchedAt.Add(-retention))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to prune archive")
			return
		}
		if pruned > 0 {
			logger.Info().Int64("pruned", pruned).Msg("pruned archived snapshots")
		}
	}
}

// ViewOptions are the per-command presentation flags shared by show, watch and export.
type ViewOptions struct {
	Limit      int
	Contenders int
	Sort       string
	Search     string
}

func (a *App) resolveView(opts ViewOptions) (board.View, error) {
	sortBy, err := model.ParseSort(opts.Sort)
	if err != nil {
		return board.View{}, err
	}
	contenders := opts.Contenders
	if contenders <= 0 {
		contenders = a.Config.View.DefaultContenders
	}
	if contenders > a.Config.View.MaxContenders {
		return board.View{}, fmt.Errorf("--contenders must be at most %d", a.Config.View.MaxContenders)
	}
	return board.View{
		Limit:      a.Config.ResolveLimit(opts.Limit),
		Contenders: contenders,
		Sort:       sortBy,
		Search:     opts.Search,
	}, nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	ViewOptions
	JSON bool
}

// WatchOptions configure the watch command.
type WatchOptions struct {
	ViewOptions
	Interval time.Duration
}

// ExportOptions hold parameters for exporting the current board or an event's archive.
type ExportOptions struct {
	ViewOptions
	CSVPath   string
	PNGPath   string
	EventID   string
	MaxPoints int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit   int
	EventID string
	Alerts  bool
}
