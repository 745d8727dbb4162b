package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"pmboard/internal/board"
	"pmboard/internal/model"
	"pmboard/internal/storage"
)

const (
	defaultExportPoints = 500
	maxChartBars        = 25
)

// Export writes the current board, or one event's archived history, as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.EventID != "" {
		return a.exportEventHistory(ctx, opts)
	}

	limit := a.Config.Export.MaxEvents
	if opts.Limit > 0 {
		limit = min(opts.Limit, limit)
	}
	view, err := a.resolveView(opts.ViewOptions)
	if err != nil {
		return err
	}
	view.Limit = limit

	snap, err := a.newCoordinator().Snapshot(ctx)
	if err != nil {
		return err
	}
	rows := board.Build(snap, view)
	if len(rows) == 0 {
		a.Logger.Info().Msg("no events match the export view")
		return nil
	}
	a.Logger.Info().Int("events", len(rows)).Time("fetched_at", snap.FetchedAt).Msg("exporting board")

	if opts.CSVPath != "" {
		if err := writeBoardCSV(opts.CSVPath, snap, rows, view.Contenders); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeBoardPNG(opts.PNGPath, snap.FetchedAt, rows); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) exportEventHistory(ctx context.Context, opts ExportOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export event history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	maxPoints := opts.MaxPoints
	if maxPoints <= 0 {
		maxPoints = defaultExportPoints
	}

	samples, err := store.EventHistory(ctx, opts.EventID, maxPoints)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("event", opts.EventID).Msg("no archived samples for event")
		return nil
	}
	slices.Reverse(samples)

	downsampled := downsampleSamples(samples, maxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting event history")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleSamples(samples []storage.EventSample, max int) []storage.EventSample {
	if max <= 1 || len(samples) <= max {
		return samples
	}

	result := make([]storage.EventSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeBoardCSV(path string, snap *model.Snapshot, rows []board.DisplayRow, contenders int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"fetched_at", "rank", "event_id", "title", "volume", "volume_24h", "end_date", "contender_count"}
	for i := 1; i <= contenders; i++ {
		header = append(header,
			fmt.Sprintf("contender_%d", i),
			fmt.Sprintf("price_cents_%d", i),
			fmt.Sprintf("delta_24h_cents_%d", i),
		)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	byID := make(map[string]model.EventRecord, len(snap.Events))
	for _, ev := range snap.Events {
		byID[ev.ID] = ev
	}

	fetchedAt := snap.FetchedAt.UTC().Format(time.RFC3339)
	for _, row := range rows {
		ev := byID[row.ID]
		record := []string{
			fetchedAt,
			strconv.Itoa(row.Rank),
			ev.ID,
			ev.Title,
			ev.Volume.String(),
			ev.Volume24h.String(),
			ev.EndDate,
			strconv.Itoa(len(ev.Contenders)),
		}
		for i := 0; i < contenders; i++ {
			if i >= len(ev.Contenders) {
				record = append(record, "", "", "")
				continue
			}
			c := ev.Contenders[i]
			delta := ""
			if c.Delta24h.Valid {
				delta = c.Delta24h.Decimal.String()
			}
			record = append(record, c.Name, c.PriceCents.String(), delta)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeBoardPNG(path string, fetchedAt time.Time, rows []board.DisplayRow) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if len(rows) > maxChartBars {
		rows = rows[:maxChartBars]
	}

	top := 1.0
	bars := make([]chart.Value, 0, len(rows))
	for _, row := range rows {
		top = max(top, row.VolumeRaw)
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("#%d %s", row.Rank, shorten(row.Title, 18)),
			Value: row.VolumeRaw,
		})
	}

	graph := chart.BarChart{
		Title:  "Volume by event · " + fetchedAt.UTC().Format("2006-01-02 15:04 UTC"),
		Width:  1280,
		Height: 720,
		Background: chart.Style{
			Padding: chart.Box{Top: 48, Bottom: 24},
		},
		BarWidth: max(12, 1100/max(1, len(bars))-8),
		YAxis: chart.YAxis{
			Range:          &chart.ContinuousRange{Min: 0, Max: top * 1.1},
			ValueFormatter: volumeFormatter,
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func volumeFormatter(v interface{}) string {
	if f, ok := v.(float64); ok {
		return board.FormatVolume(decimal.NewFromFloat(f))
	}
	return ""
}

func writeSamplesCSV(path string, samples []storage.EventSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"fetched_at", "event_id", "rank", "title", "volume", "volume_24h", "contender_count", "leader", "leader_price_cents"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			sample.FetchedAt.UTC().Format(time.RFC3339),
			sample.EventID,
			strconv.Itoa(sample.Rank),
			sample.Title,
			sample.Volume.String(),
			sample.Volume24h.String(),
			strconv.Itoa(sample.ContenderCount),
			sample.Leader,
			sample.LeaderPriceCents.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path string, samples []storage.EventSample) error {
	if len(samples) < 2 {
		return errors.New("at least two archived samples are needed for a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	volume := make([]float64, len(samples))
	leader := make([]float64, len(samples))

	for i, sample := range samples {
		x[i] = sample.FetchedAt
		volume[i] = sample.Volume.InexactFloat64()
		leader[i] = sample.LeaderPriceCents.InexactFloat64()
	}

	centsFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f¢")
	}
	graph := chart.Chart{
		Title:  samples[len(samples)-1].Title,
		Width:  1280,
		Height: 720,
		Background: chart.Style{
			Padding: chart.Box{Top: 48},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Volume",
			ValueFormatter: volumeFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Leader price",
			ValueFormatter: centsFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volume,
			},
			chart.TimeSeries{
				Name:    "Leader price",
				XValues: x,
				YValues: leader,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
