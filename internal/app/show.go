package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"pmboard/internal/board"
)

// Show fetches once and prints the board as a table, or as the dashboard JSON payload.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	view, err := a.resolveView(opts.ViewOptions)
	if err != nil {
		return err
	}

	coord := a.newCoordinator()
	snap, err := coord.Snapshot(ctx)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(a.out())
		enc.SetIndent("", "  ")
		return enc.Encode(board.NewPayload(snap, view, coord.TTL(), time.Now()))
	}

	rows := board.Build(snap, view)
	if len(rows) == 0 {
		fmt.Fprintln(a.out(), "no events found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	header := []string{"#", "Event", "Volume", "24h", "Ends"}
	for i := 1; i <= view.Contenders; i++ {
		header = append(header, fmt.Sprintf("Contender %d", i))
	}
	fmt.Fprintln(writer, strings.Join(header, "\t"))

	for _, row := range rows {
		cells := []string{
			fmt.Sprintf("%d", row.Rank),
			sanitizeInline(row.Title),
			row.Volume,
			row.Volume24h,
			row.EndDate,
		}
		for _, c := range row.Contenders {
			cells = append(cells, contenderCell(c))
		}
		fmt.Fprintln(writer, strings.Join(cells, "\t"))
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out(), "\nfetched %s UTC\n", snap.FetchedAt.UTC().Format(time.RFC3339))
	return nil
}

func contenderCell(c board.ContenderView) string {
	parts := []string{sanitizeInline(c.Name)}
	if c.Price != "" {
		parts = append(parts, c.Price)
	}
	parts = append(parts, c.Delta.Text)
	return strings.Join(parts, " ")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
