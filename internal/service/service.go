package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"pmboard/internal/fetcher"
	"pmboard/internal/model"
)

// ErrNoDataAvailable is returned when a refresh fails and no earlier snapshot exists.
var ErrNoDataAvailable = errors.New("no data available")

const refreshKey = "events"

// Outcome describes how a Snapshot call was satisfied.
type Outcome string

const (
	OutcomeFresh       Outcome = "fresh"
	OutcomeRefreshed   Outcome = "refreshed"
	OutcomeStale       Outcome = "stale"
	OutcomeUnavailable Outcome = "unavailable"
)

// Recorder receives cache and fetch observations.
type Recorder interface {
	FetchCompleted(elapsed time.Duration, err error)
	SnapshotServed(outcome Outcome)
}

// RefreshHook runs in its own goroutine after every successful refresh.
type RefreshHook func(ctx context.Context, snap *model.Snapshot)

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithRefreshHook registers a hook fired after each successful refresh.
func WithRefreshHook(h RefreshHook) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, h) }
}

// Stats is a point-in-time view of coordinator state.
type Stats struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Refreshes int64     `json:"refreshes"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	HasData   bool      `json:"hasData"`
	InFlight  bool      `json:"inFlight"`
	Age       float64   `json:"ageSeconds"`
}

// Coordinator owns the cached snapshot and makes sure at most one fetch runs at a time.
type Coordinator struct {
	source fetcher.EventFetcher
	query  model.Query
	ttl    time.Duration
	logger zerolog.Logger

	now      func() time.Time
	recorder Recorder
	hooks    []RefreshHook

	group    singleflight.Group
	inFlight atomic.Bool

	mu        sync.RWMutex
	current   *model.Snapshot
	refreshes int64
	failures  int64
	lastErr   error
}

// New constructs a Coordinator for a single upstream query.
func New(source fetcher.EventFetcher, query model.Query, ttl time.Duration, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		source: source,
		query:  query,
		ttl:    ttl,
		logger: logger.With().Str("component", "coordinator").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the freshness window.
func (c *Coordinator) TTL() time.Duration { return c.ttl }

// Query returns the upstream query every snapshot is built from.
func (c *Coordinator) Query() model.Query { return c.query }

// Current returns the cached snapshot without triggering a fetch. It may be nil or stale.
func (c *Coordinator) Current() *model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Stats reports refresh counters.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{
		Refreshes: c.refreshes,
		Failures:  c.failures,
		HasData:   c.current != nil,
		InFlight:  c.inFlight.Load(),
	}
	if c.current != nil {
		st.FetchedAt = c.current.FetchedAt
		st.Age = c.current.Age(c.now()).Seconds()
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

type refreshResult struct {
	snap    *model.Snapshot
	outcome Outcome
}

// Snapshot returns a snapshot no older than the TTL when the source allows it.
// Concurrent callers that find the cache stale share one fetch. If the fetch
// fails the previous snapshot is served; with nothing cached the error wraps
// ErrNoDataAvailable. A caller whose ctx ends stops waiting but the shared
// fetch keeps running for the others.
func (c *Coordinator) Snapshot(ctx context.Context) (*model.Snapshot, error) {
	if snap := c.Current(); snap.Fresh(c.now(), c.ttl) {
		c.served(OutcomeFresh)
		return snap, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.refresh(detached)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			c.served(OutcomeUnavailable)
			return nil, res.Err
		}
		out := res.Val.(refreshResult)
		c.served(out.outcome)
		return out.snap, nil
	}
}

func (c *Coordinator) refresh(ctx context.Context) (refreshResult, error) {
	cur := c.Current()
	if cur.Fresh(c.now(), c.ttl) {
		return refreshResult{snap: cur, outcome: OutcomeFresh}, nil
	}

	// Stamped before the fetch so a tick one TTL later always finds it expired.
	fetchedAt := c.now()
	c.inFlight.Store(true)
	start := time.Now()
	events, err := c.source.Fetch(ctx, c.query)
	elapsed := time.Since(start)
	c.inFlight.Store(false)
	if c.recorder != nil {
		c.recorder.FetchCompleted(elapsed, err)
	}

	if err != nil {
		c.mu.Lock()
		c.failures++
		c.lastErr = err
		c.mu.Unlock()

		if cur != nil {
			c.logger.Warn().Err(err).
				Dur("age", cur.Age(c.now())).
				Msg("refresh failed, serving stale snapshot")
			return refreshResult{snap: cur, outcome: OutcomeStale}, nil
		}
		c.logger.Error().Err(err).Msg("refresh failed with no cached snapshot")
		return refreshResult{}, fmt.Errorf("%w: %w", ErrNoDataAvailable, err)
	}

	snap := model.NewSnapshot(fetchedAt, events, c.query)

	c.mu.Lock()
	c.current = snap
	c.refreshes++
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info().
		Int("events", len(snap.Events)).
		Dur("elapsed", elapsed).
		Msg("snapshot refreshed")

	for _, hook := range c.hooks {
		go hook(ctx, snap)
	}
	return refreshResult{snap: snap, outcome: OutcomeRefreshed}, nil
}

func (c *Coordinator) served(outcome Outcome) {
	if c.recorder != nil {
		c.recorder.SnapshotServed(outcome)
	}
}
