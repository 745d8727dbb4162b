package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pmboard/internal/model"
	"pmboard/internal/scheduler"
)

// SnapshotSource is the subset of the coordinator the broadcaster needs.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*model.Snapshot, error)
	Current() *model.Snapshot
}

// Broadcaster periodically refreshes and pushes snapshots to the hub.
type Broadcaster struct {
	hub    *Hub
	source SnapshotSource
	sched  *scheduler.Scheduler
	logger zerolog.Logger
	now    func() time.Time

	// mu orders Tick deliveries against Join so a new subscriber never
	// receives a snapshot older than one already broadcast.
	mu       sync.Mutex
	lastSent *model.Snapshot
}

// NewBroadcaster wires a hub to a snapshot source. The scheduler interval should equal the cache TTL.
func NewBroadcaster(hub *Hub, source SnapshotSource, sched *scheduler.Scheduler, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		hub:    hub,
		source: source,
		sched:  sched,
		logger: logger.With().Str("component", "broadcaster").Logger(),
		now:    time.Now,
	}
}

// Hub returns the subscriber registry.
func (b *Broadcaster) Hub() *Hub { return b.hub }

// Run blocks until ctx is cancelled, then closes all subscribers.
func (b *Broadcaster) Run(ctx context.Context) error {
	if b.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	defer b.hub.CloseAll()
	return b.sched.Run(ctx, b.Tick)
}

// Tick refreshes if needed and broadcasts. A refresh failure skips the tick and is never pushed to subscribers.
func (b *Broadcaster) Tick(ctx context.Context, at time.Time) error {
	snap, err := b.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("refresh for broadcast: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	kind := KindHeartbeat
	if b.lastSent == nil || !snap.FetchedAt.Equal(b.lastSent.FetchedAt) {
		kind = KindSnapshot
		b.lastSent = snap
	}

	n := b.hub.Broadcast(ctx, Message{Kind: kind, Snapshot: snap, At: at})
	b.logger.Debug().
		Str("kind", string(kind)).
		Time("fetched_at", snap.FetchedAt).
		Int("delivered", n).
		Msg("tick broadcast")
	return nil
}

// Join registers s and sends it the newest snapshot once. With nothing
// cached yet it waits for a refresh; if that fails s simply waits for the
// next successful tick.
func (b *Broadcaster) Join(ctx context.Context, s Subscriber) error {
	snap := b.source.Current()
	if snap == nil {
		var err error
		snap, err = b.source.Snapshot(ctx)
		if err != nil {
			b.logger.Warn().Err(err).Str("subscriber", s.ID()).Msg("no snapshot for new subscriber")
			snap = nil
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastSent != nil && (snap == nil || b.lastSent.FetchedAt.After(snap.FetchedAt)) {
		snap = b.lastSent
	}
	b.hub.Add(s)
	if snap == nil {
		return nil
	}
	return b.hub.Send(ctx, s, Message{Kind: KindSnapshot, Snapshot: snap, At: b.now()})
}

// Leave removes s from the hub.
func (b *Broadcaster) Leave(s Subscriber) {
	b.hub.Remove(s.ID())
}
