package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pmboard/internal/board"
)

// History prints archived snapshots, one event's archived rows, or recorded mover alerts.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(a.out(), "no mover alerts recorded")
			return nil
		}
		fmt.Fprintln(writer, "Time (UTC)\tEvent\tContender\tPrice\tMove")
		for _, al := range alerts {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
				al.CreatedAt.UTC().Format(time.RFC3339),
				sanitizeInline(al.EventTitle),
				sanitizeInline(al.Contender),
				board.FormatPrice(al.PriceCents),
				board.FormatDelta(decimal.NewNullDecimal(al.DeltaCents)).Text,
			)
		}
		return writer.Flush()
	}

	if opts.EventID != "" {
		samples, err := store.EventHistory(ctx, opts.EventID, opts.Limit)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			fmt.Fprintln(a.out(), "no archived rows for event")
			return nil
		}
		fmt.Fprintln(writer, "Fetched (UTC)\tRank\tVolume\t24h\tContenders\tLeader\tPrice")
		for _, s := range samples {
			fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
				s.FetchedAt.UTC().Format(time.RFC3339),
				s.Rank,
				board.FormatVolume(s.Volume),
				board.FormatVolume(s.Volume24h),
				s.ContenderCount,
				sanitizeInline(s.Leader),
				board.FormatPrice(s.LeaderPriceCents),
			)
		}
		return writer.Flush()
	}

	snapshots, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(a.out(), "no archived snapshots")
		return nil
	}
	fmt.Fprintln(writer, "ID\tFetched (UTC)\tEvents\tActive only\tFetch limit")
	for _, s := range snapshots {
		fmt.Fprintf(writer, "%d\t%s\t%d\t%t\t%d\n",
			s.ID,
			s.FetchedAt.UTC().Format(time.RFC3339),
			s.EventCount,
			s.ActiveOnly,
			s.FetchLimit,
		)
	}
	return writer.Flush()
}
