package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pmboard/internal/board"
	"pmboard/internal/model"
	"pmboard/internal/storage"
)

// DetectorOptions tune mover detection.
type DetectorOptions struct {
	ThresholdCents decimal.Decimal
	Cooldown       time.Duration
	TopEvents      int
}

// Detector finds large 24h moves and notifies, at most once per contender per cooldown.
type Detector struct {
	opts     DetectorOptions
	notifier Notifier
	store    storage.AlertStore
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewDetector constructs a Detector. store may be nil.
func NewDetector(opts DetectorOptions, notifier Notifier, store storage.AlertStore, logger zerolog.Logger) *Detector {
	return &Detector{
		opts:     opts,
		notifier: notifier,
		store:    store,
		logger:   logger.With().Str("component", "alert_detector").Logger(),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Detect returns movers in the top events that are not cooling down, and starts their cooldown.
func (d *Detector) Detect(snap *model.Snapshot) []Mover {
	if snap == nil {
		return nil
	}
	rows := board.Aggregate(snap.Events)
	if d.opts.TopEvents > 0 && len(rows) > d.opts.TopEvents {
		rows = rows[:d.opts.TopEvents]
	}

	byID := make(map[string]model.EventRecord, len(snap.Events))
	for _, ev := range snap.Events {
		byID[ev.ID] = ev
	}

	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	var movers []Mover
	for _, row := range rows {
		ev := byID[row.ID]
		for _, c := range ev.Contenders {
			if !c.Delta24h.Valid || c.Delta24h.Decimal.Abs().LessThan(d.opts.ThresholdCents) {
				continue
			}
			key := ev.ID + "|" + c.Name
			if last, ok := d.lastSent[key]; ok && now.Sub(last) < d.opts.Cooldown {
				continue
			}
			d.lastSent[key] = now

			direction := "up"
			if c.Delta24h.Decimal.IsNegative() {
				direction = "down"
			}
			movers = append(movers, Mover{
				EventID:    ev.ID,
				EventTitle: ev.Title,
				Rank:       row.Rank,
				Contender:  c.Name,
				PriceCents: c.PriceCents,
				DeltaCents: c.Delta24h.Decimal,
				Direction:  direction,
			})
		}
	}
	return movers
}

// OnRefresh is a coordinator refresh hook.
func (d *Detector) OnRefresh(ctx context.Context, snap *model.Snapshot) {
	movers := d.Detect(snap)
	if len(movers) == 0 {
		return
	}

	if d.store != nil {
		for _, m := range movers {
			rec := storage.AlertRecord{
				EventID:    m.EventID,
				EventTitle: m.EventTitle,
				Contender:  m.Contender,
				PriceCents: m.PriceCents,
				DeltaCents: m.DeltaCents,
				Direction:  m.Direction,
			}
			if _, err := d.store.InsertAlert(ctx, rec); err != nil {
				d.logger.Error().Err(err).Str("event", m.EventID).Msg("failed to persist alert record")
			}
		}
	}

	if d.notifier == nil {
		d.logger.Info().Int("movers", len(movers)).Msg("movers detected, no notifier configured")
		return
	}
	note := Notification{
		At:             d.now(),
		FetchedAt:      snap.FetchedAt,
		ThresholdCents: d.opts.ThresholdCents,
		Movers:         movers,
	}
	if err := d.notifier.Notify(ctx, note); err != nil {
		d.logger.Error().Err(err).Int("movers", len(movers)).Msg("failed to dispatch alert")
	}
}
