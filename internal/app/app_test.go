package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pmboard/internal/config"
	"pmboard/internal/model"
	"pmboard/internal/storage"
)

type fakeSource struct {
	calls  atomic.Int32
	events []model.EventRecord
	err    error
}

func (f *fakeSource) Fetch(context.Context, model.Query) ([]model.EventRecord, error) {
	f.calls.Add(1)
	return f.events, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Source: config.SourceConfig{BinaryPath: "polymarket", Timeout: time.Second, FetchLimit: 100, ActiveOnly: true},
		Cache:  config.CacheConfig{TTLSeconds: 30},
		View:   config.ViewConfig{DefaultLimit: 10, MaxLimit: 50, DefaultContenders: 2, MaxContenders: 5},
		Export: config.ExportConfig{MaxEvents: 20},
	}
}

func testEvents() []model.EventRecord {
	delta := decimal.NewNullDecimal(decimal.RequireFromString("-2.5"))
	return []model.EventRecord{
		{ID: "small", Title: "Small market", Volume: decimal.NewFromInt(950), Volume24h: decimal.NewFromInt(10)},
		{ID: "big", Title: "Presidential election", Volume: decimal.NewFromInt(1_200_000), Volume24h: decimal.NewFromInt(40_000),
			EndDate: "2028-11-07", Contenders: []model.ContenderRecord{
				{Name: "Candidate A", PriceCents: decimal.NewFromInt(55), Delta24h: delta},
				{Name: "Candidate B", PriceCents: decimal.NewFromInt(40)},
				{Name: "Candidate C", PriceCents: decimal.RequireFromString("0.4")},
			}},
	}
}

func newTestApp(src *fakeSource) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(testConfig(), zerolog.Nop())
	a.Source = src
	a.Out = &out
	return a, &out
}

func TestShowTable(t *testing.T) {
	src := &fakeSource{events: testEvents()}
	a, out := newTestApp(src)

	if err := a.Show(context.Background(), ShowOptions{}); err != nil {
		t.Fatalf("Show: %v", err)
	}

	text := out.String()
	lines := strings.Split(text, "\n")
	if !strings.HasPrefix(lines[0], "#") || !strings.Contains(lines[0], "Contender 2") {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if !strings.Contains(lines[1], "Presidential election") || !strings.Contains(lines[1], "$1.2M") {
		t.Fatalf("highest volume event should be first: %q", lines[1])
	}
	if !strings.Contains(lines[1], "Candidate A 55¢ ▼-2.5") {
		t.Fatalf("contender cell missing: %q", lines[1])
	}
	if strings.Contains(text, "Candidate C") {
		t.Fatal("only the default two contenders should be shown")
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", src.calls.Load())
	}
}

func TestShowJSON(t *testing.T) {
	a, out := newTestApp(&fakeSource{events: testEvents()})

	opts := ShowOptions{JSON: true}
	opts.Limit = 1
	opts.Contenders = 3
	if err := a.Show(context.Background(), opts); err != nil {
		t.Fatalf("Show: %v", err)
	}

	var payload struct {
		TTL    int `json:"ttl"`
		Events []struct {
			ID         string `json:"id"`
			Contenders []struct {
				Price string `json:"price"`
			} `json:"contenders"`
		} `json:"events"`
	}
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.TTL != 30 || len(payload.Events) != 1 || payload.Events[0].ID != "big" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if got := payload.Events[0].Contenders; len(got) != 3 || got[2].Price != "<1¢" {
		t.Fatalf("unexpected contenders: %+v", got)
	}
}

func TestShowPropagatesColdStartFailure(t *testing.T) {
	a, _ := newTestApp(&fakeSource{err: errors.New("boom")})
	if err := a.Show(context.Background(), ShowOptions{}); err == nil {
		t.Fatal("expected error without any data")
	}
}

func TestResolveView(t *testing.T) {
	a, _ := newTestApp(&fakeSource{})

	view, err := a.resolveView(ViewOptions{Limit: 500, Sort: "TITLE"})
	if err != nil {
		t.Fatalf("resolveView: %v", err)
	}
	if view.Limit != 50 || view.Contenders != 2 || view.Sort != model.SortTitle {
		t.Fatalf("unexpected view: %+v", view)
	}

	if _, err := a.resolveView(ViewOptions{Sort: "price"}); err == nil {
		t.Fatal("unknown sort should fail")
	}
	if _, err := a.resolveView(ViewOptions{Contenders: 6}); err == nil {
		t.Fatal("contenders above max should fail")
	}
}

func TestExportBoard(t *testing.T) {
	a, _ := newTestApp(&fakeSource{events: testEvents()})
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "board.csv")
	pngPath := filepath.Join(dir, "out", "board.png")

	opts := ExportOptions{CSVPath: csvPath, PNGPath: pngPath}
	opts.Contenders = 1
	if err := a.Export(context.Background(), opts); err != nil {
		t.Fatalf("Export: %v", err)
	}

	file, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if got := records[0][len(records[0])-1]; got != "delta_24h_cents_1" {
		t.Fatalf("unexpected last header column %q", got)
	}
	first := records[1]
	if first[1] != "1" || first[2] != "big" || first[4] != "1200000" || first[8] != "Candidate A" || first[10] != "-2.5" {
		t.Fatalf("unexpected first row: %v", first)
	}
	if second := records[2]; second[8] != "" {
		t.Fatalf("event without contenders should leave cells empty: %v", second)
	}

	info, err := os.Stat(pngPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a, _ := newTestApp(&fakeSource{events: testEvents()})
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("expected error without --csv or --png")
	}
}

func TestEventHistoryNeedsDatabase(t *testing.T) {
	a, _ := newTestApp(&fakeSource{})
	if err := a.Export(context.Background(), ExportOptions{CSVPath: "x.csv", EventID: "big"}); err == nil {
		t.Fatal("event export without a database should fail")
	}
	if err := a.History(context.Background(), HistoryOptions{Limit: 5}); err == nil {
		t.Fatal("history without a database should fail")
	}
}

func TestDownsampleSamples(t *testing.T) {
	samples := make([]storage.EventSample, 10)
	for i := range samples {
		samples[i].Rank = i
	}

	got := downsampleSamples(samples, 4)
	if len(got) != 4 || got[0].Rank != 0 || got[3].Rank != 9 {
		t.Fatalf("unexpected downsample: %+v", got)
	}
	if len(downsampleSamples(samples, 20)) != 10 {
		t.Fatal("short input should pass through")
	}
}

type fakeArchive struct {
	inserted []storage.EventSample
	pruned   []time.Time
	err      error
}

func (f *fakeArchive) InsertSnapshot(_ context.Context, _ storage.SnapshotRecord, samples []storage.EventSample) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted = append(f.inserted, samples...)
	return 1, nil
}

func (f *fakeArchive) ListRecentSnapshots(context.Context, int) ([]storage.SnapshotRecord, error) {
	return nil, nil
}

func (f *fakeArchive) EventHistory(context.Context, string, int) ([]storage.EventSample, error) {
	return nil, nil
}

func (f *fakeArchive) DeleteSnapshotsBefore(_ context.Context, olderThan time.Time) (int64, error) {
	f.pruned = append(f.pruned, olderThan)
	return 0, nil
}

func TestArchiveHook(t *testing.T) {
	a, _ := newTestApp(&fakeSource{})
	a.Config.Database.Retention = 24 * time.Hour
	archive := &fakeArchive{}

	fetchedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := model.NewSnapshot(fetchedAt, testEvents(), a.Config.Query())
	a.archiveHook(archive)(context.Background(), snap)

	if len(archive.inserted) != 2 || archive.inserted[0].EventID != "big" || archive.inserted[0].Leader != "Candidate A" {
		t.Fatalf("unexpected archived samples: %+v", archive.inserted)
	}
	if len(archive.pruned) != 1 || !archive.pruned[0].Equal(fetchedAt.Add(-24*time.Hour)) {
		t.Fatalf("unexpected prune cutoff: %v", archive.pruned)
	}

	failing := &fakeArchive{err: errors.New("db down")}
	a.archiveHook(failing)(context.Background(), snap)
	if len(failing.pruned) != 0 {
		t.Fatal("prune should be skipped when the insert fails")
	}
}
