package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"pmboard/internal/board"
	"pmboard/internal/model"
)

// SnapshotRecord is one archived refresh.
type SnapshotRecord struct {
	ID         int64
	FetchedAt  time.Time
	ActiveOnly bool
	FetchLimit int
	EventCount int
	CreatedAt  time.Time
}

// EventSample is one event's state inside an archived snapshot.
type EventSample struct {
	SnapshotID       int64
	FetchedAt        time.Time
	EventID          string
	Rank             int
	Title            string
	Volume           decimal.Decimal
	Volume24h        decimal.Decimal
	ContenderCount   int
	Leader           string
	LeaderPriceCents decimal.Decimal
}

// AlertRecord captures an emitted mover alert for auditing.
type AlertRecord struct {
	ID         int64
	EventID    string
	EventTitle string
	Contender  string
	PriceCents decimal.Decimal
	DeltaCents decimal.Decimal
	Direction  string
	CreatedAt  time.Time
}

// SamplesFromSnapshot flattens a snapshot into ranked archive rows.
func SamplesFromSnapshot(snap *model.Snapshot) (SnapshotRecord, []EventSample) {
	rec := SnapshotRecord{
		FetchedAt:  snap.FetchedAt.UTC(),
		ActiveOnly: snap.Query.ActiveOnly,
		FetchLimit: snap.Query.Limit,
		EventCount: len(snap.Events),
	}

	byID := make(map[string]model.EventRecord, len(snap.Events))
	for _, ev := range snap.Events {
		byID[ev.ID] = ev
	}

	rows := board.Aggregate(snap.Events)
	samples := make([]EventSample, 0, len(rows))
	for _, row := range rows {
		ev := byID[row.ID]
		sample := EventSample{
			FetchedAt:      rec.FetchedAt,
			EventID:        ev.ID,
			Rank:           row.Rank,
			Title:          ev.Title,
			Volume:         ev.Volume,
			Volume24h:      ev.Volume24h,
			ContenderCount: len(ev.Contenders),
		}
		if len(ev.Contenders) > 0 {
			sample.Leader = ev.Contenders[0].Name
			sample.LeaderPriceCents = ev.Contenders[0].PriceCents
		}
		samples = append(samples, sample)
	}
	return rec, samples
}
