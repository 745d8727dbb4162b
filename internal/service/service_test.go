package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pmboard/internal/board"
	"pmboard/internal/model"
)

var testQuery = model.Query{ActiveOnly: true, Limit: 100, Sort: model.SortVolume}

type fakeSource struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan struct{}
	onFetch func()

	mu     sync.Mutex
	err    error
	events []model.EventRecord
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: []model.EventRecord{
		{ID: "1", Title: "First", Volume: decimal.NewFromInt(10), Contenders: []model.ContenderRecord{
			{Name: "A", PriceCents: decimal.NewFromInt(60)},
			{Name: "B", PriceCents: decimal.NewFromInt(30)},
			{Name: "C", PriceCents: decimal.NewFromInt(10)},
		}},
	}}
}

func (f *fakeSource) Fetch(ctx context.Context, _ model.Query) ([]model.EventRecord, error) {
	f.calls.Add(1)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestSnapshotSingleFlight(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	src.started = make(chan struct{}, 1)
	coord := New(src, testQuery, time.Minute, zerolog.Nop())

	const callers = 25
	var (
		wg      sync.WaitGroup
		waiting atomic.Int32
		results = make([]*model.Snapshot, callers)
		errs    = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			waiting.Add(1)
			results[i], errs[i] = coord.Snapshot(context.Background())
		}(i)
	}

	<-src.started
	deadline := time.Now().Add(2 * time.Second)
	for waiting.Load() < callers && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d received a different snapshot", i)
		}
	}
}

func TestSnapshotRespectsTTL(t *testing.T) {
	src := newFakeSource()
	clock := newClock()
	coord := New(src, testQuery, 30*time.Second, zerolog.Nop(), WithClock(clock.Now))
	ctx := context.Background()

	first, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	clock.Advance(29 * time.Second)
	again, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("cached snapshot: %v", err)
	}
	if again != first || src.calls.Load() != 1 {
		t.Fatalf("fresh snapshot should be served from cache, calls=%d", src.calls.Load())
	}

	clock.Advance(2 * time.Second)
	next, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("refreshed snapshot: %v", err)
	}
	if next == first || src.calls.Load() != 2 {
		t.Fatalf("stale snapshot should trigger a refresh, calls=%d", src.calls.Load())
	}
	if !next.FetchedAt.Equal(clock.Now()) {
		t.Fatalf("fetchedAt = %s, want %s", next.FetchedAt, clock.Now())
	}
}

func TestSnapshotStampedAtFetchStart(t *testing.T) {
	const (
		ttl           = 30 * time.Second
		fetchDuration = 4 * time.Second
	)
	src := newFakeSource()
	clock := newClock()
	src.onFetch = func() { clock.Advance(fetchDuration) }
	coord := New(src, testQuery, ttl, zerolog.Nop(), WithClock(clock.Now))
	ctx := context.Background()

	var prev *model.Snapshot
	for tick := 1; tick <= 5; tick++ {
		tickStart := clock.Now()
		snap, err := coord.Snapshot(ctx)
		if err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		if snap == prev {
			t.Fatalf("tick %d served the previous snapshot", tick)
		}
		if !snap.FetchedAt.Equal(tickStart) {
			t.Fatalf("tick %d: fetchedAt = %s, want %s", tick, snap.FetchedAt, tickStart)
		}
		if got := src.calls.Load(); got != int32(tick) {
			t.Fatalf("tick %d: calls = %d", tick, got)
		}
		prev = snap
		clock.Advance(ttl - fetchDuration)
	}
}

func TestSnapshotServesStaleOnFailure(t *testing.T) {
	src := newFakeSource()
	clock := newClock()
	coord := New(src, testQuery, time.Second, zerolog.Nop(), WithClock(clock.Now))
	ctx := context.Background()

	first, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}

	src.fail(errors.New("upstream down"))
	clock.Advance(5 * time.Second)

	got, err := coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("stale data should be served, got error %v", err)
	}
	if got != first {
		t.Fatal("expected the previous snapshot")
	}

	st := coord.Stats()
	if st.Failures != 1 || st.LastError != "upstream down" || st.Refreshes != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSnapshotColdStartFailure(t *testing.T) {
	src := newFakeSource()
	cause := errors.New("binary missing")
	src.fail(cause)
	coord := New(src, testQuery, time.Minute, zerolog.Nop())

	snap, err := coord.Snapshot(context.Background())
	if snap != nil {
		t.Fatal("no snapshot expected")
	}
	if !errors.Is(err, ErrNoDataAvailable) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrNoDataAvailable wrapping cause, got %v", err)
	}
	if coord.Current() != nil {
		t.Fatal("failed refresh must not install a snapshot")
	}
}

func TestSnapshotCallerCancellation(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	src.started = make(chan struct{}, 1)
	coord := New(src, testQuery, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := coord.Snapshot(ctx)
		errCh <- err
	}()

	<-src.started
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(src.gate)
	snap, err := coord.Snapshot(context.Background())
	if err != nil || snap == nil {
		t.Fatalf("shared refresh should complete for later callers: %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
}

func TestViewsShareOneSnapshot(t *testing.T) {
	src := newFakeSource()
	coord := New(src, testQuery, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for n := 1; n <= 5; n++ {
		snap, err := coord.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		rows := board.Build(snap, board.View{Contenders: n})
		want := n
		if want > 3 {
			want = 3
		}
		if len(rows[0].Contenders) != want {
			t.Fatalf("contenders=%d: got %d", n, len(rows[0].Contenders))
		}
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("views must not trigger fetches, got %d", got)
	}
}

func TestRefreshHookReceivesSnapshot(t *testing.T) {
	src := newFakeSource()
	got := make(chan *model.Snapshot, 1)
	coord := New(src, testQuery, time.Minute, zerolog.Nop(),
		WithRefreshHook(func(_ context.Context, snap *model.Snapshot) { got <- snap }))

	snap, err := coord.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	select {
	case hooked := <-got:
		if hooked != snap {
			t.Fatal("hook received a different snapshot")
		}
	case <-time.After(time.Second):
		t.Fatal("hook not invoked")
	}
}

type countingRecorder struct {
	mu       sync.Mutex
	fetches  int
	outcomes map[Outcome]int
}

func (r *countingRecorder) FetchCompleted(time.Duration, error) {
	r.mu.Lock()
	r.fetches++
	r.mu.Unlock()
}

func (r *countingRecorder) SnapshotServed(o Outcome) {
	r.mu.Lock()
	if r.outcomes == nil {
		r.outcomes = map[Outcome]int{}
	}
	r.outcomes[o]++
	r.mu.Unlock()
}

func TestRecorderObservesOutcomes(t *testing.T) {
	src := newFakeSource()
	rec := &countingRecorder{}
	coord := New(src, testQuery, time.Minute, zerolog.Nop(), WithRecorder(rec))

	for i := 0; i < 3; i++ {
		if _, err := coord.Snapshot(context.Background()); err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}
	if rec.fetches != 1 || rec.outcomes[OutcomeRefreshed] != 1 || rec.outcomes[OutcomeFresh] != 2 {
		t.Fatalf("unexpected observations: fetches=%d outcomes=%v", rec.fetches, rec.outcomes)
	}
}
