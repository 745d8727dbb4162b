// Package board turns raw market events into ranked, display-ready rows.
//
// Everything here is pure: views are computed from an already fetched
// snapshot and never trigger another fetch.
package board

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pmboard/internal/model"
)

// DefaultContenders is how many contenders a row shows when the caller does not ask.
const DefaultContenders = 5

// ContenderView is one contender column group.
type ContenderView struct {
	Name    string `json:"name"`
	Price   string `json:"price"`
	Delta   Delta  `json:"delta"`
	EndDate string `json:"endDate"`
}

// DisplayRow is a ranked event with formatted fields.
type DisplayRow struct {
	Rank           int             `json:"rank"`
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Volume         string          `json:"volume"`
	Volume24h      string          `json:"volume24h"`
	VolumeRaw      float64         `json:"volumeRaw"`
	Volume24hRaw   float64         `json:"volume24hRaw"`
	EndDate        string          `json:"endDate"`
	ContenderCount int             `json:"contenderCount"`
	Contenders     []ContenderView `json:"contenders"`

	volume    decimal.Decimal
	volume24h decimal.Decimal
	all       []model.ContenderRecord
}

// Top returns a copy of the row showing at most n contenders.
func (r DisplayRow) Top(n int) DisplayRow {
	if n < 0 {
		n = 0
	}
	if n > len(r.all) {
		n = len(r.all)
	}
	r.Contenders = contenderViews(r.all[:n])
	return r
}

// Aggregate ranks events by total volume, descending, ties broken by id. Every contender is kept.
func Aggregate(records []model.EventRecord) []DisplayRow {
	ordered := append([]model.EventRecord(nil), records...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if c := ordered[i].Volume.Cmp(ordered[j].Volume); c != 0 {
			return c > 0
		}
		return ordered[i].ID < ordered[j].ID
	})

	rows := make([]DisplayRow, len(ordered))
	for i, ev := range ordered {
		rows[i] = DisplayRow{
			Rank:           i + 1,
			ID:             ev.ID,
			Title:          ev.Title,
			Volume:         FormatVolume(ev.Volume),
			Volume24h:      FormatVolume(ev.Volume24h),
			VolumeRaw:      ev.Volume.InexactFloat64(),
			Volume24hRaw:   ev.Volume24h.InexactFloat64(),
			EndDate:        ev.EndDate,
			ContenderCount: len(ev.Contenders),
			Contenders:     contenderViews(ev.Contenders),
			volume:         ev.Volume,
			volume24h:      ev.Volume24h,
			all:            ev.Contenders,
		}
	}
	return rows
}

func contenderViews(records []model.ContenderRecord) []ContenderView {
	views := make([]ContenderView, len(records))
	for i, c := range records {
		views[i] = ContenderView{
			Name:    c.Name,
			Price:   FormatPrice(c.PriceCents),
			Delta:   FormatDelta(c.Delta24h),
			EndDate: c.EndDate,
		}
	}
	return views
}

// View selects how a snapshot is presented.
type View struct {
	Limit      int
	Contenders int
	Sort       model.Sort
	Search     string
}

// Payload is the JSON document served to dashboards.
type Payload struct {
	TS        string       `json:"ts"`
	TTL       int          `json:"ttl"`
	FetchedAt time.Time    `json:"fetchedAt"`
	Query     model.Query  `json:"query"`
	Total     int          `json:"total"`
	Events    []DisplayRow `json:"events"`
}

// Build applies a view to a snapshot. Rank always reflects total volume across the whole snapshot.
func Build(snap *model.Snapshot, view View) []DisplayRow {
	if snap == nil {
		return nil
	}
	rows := Filter(Aggregate(snap.Events), view.Search)
	SortRows(rows, view.Sort)

	if view.Limit > 0 && len(rows) > view.Limit {
		rows = rows[:view.Limit]
	}

	n := view.Contenders
	if n <= 0 {
		n = DefaultContenders
	}
	for i := range rows {
		rows[i] = rows[i].Top(n)
	}
	return rows
}

// NewPayload wraps rows built from snap for the wire.
func NewPayload(snap *model.Snapshot, view View, ttl time.Duration, now time.Time) Payload {
	rows := Build(snap, view)
	if rows == nil {
		rows = []DisplayRow{}
	}
	p := Payload{
		TS:     now.UTC().Format("2006-01-02T15:04:05Z"),
		TTL:    int(ttl / time.Second),
		Total:  len(rows),
		Events: rows,
	}
	if snap != nil {
		p.FetchedAt = snap.FetchedAt.UTC()
		p.Query = snap.Query
	}
	return p
}

// Filter keeps rows whose title or any contender name contains term, case-insensitively.
func Filter(rows []DisplayRow, term string) []DisplayRow {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if matches(r, term) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r DisplayRow, term string) bool {
	if strings.Contains(strings.ToLower(r.Title), term) {
		return true
	}
	for _, c := range r.all {
		if strings.Contains(strings.ToLower(c.Name), term) {
			return true
		}
	}
	return false
}

// SortRows reorders rows in place. Volume order is the rank order.
func SortRows(rows []DisplayRow, by model.Sort) {
	switch by {
	case model.SortVolume24h:
		sort.SliceStable(rows, func(i, j int) bool {
			if c := rows[i].volume24h.Cmp(rows[j].volume24h); c != 0 {
				return c > 0
			}
			return rows[i].Rank < rows[j].Rank
		})
	case model.SortTitle:
		sort.SliceStable(rows, func(i, j int) bool {
			ti, tj := strings.ToLower(rows[i].Title), strings.ToLower(rows[j].Title)
			if ti != tj {
				return ti < tj
			}
			return rows[i].Rank < rows[j].Rank
		})
	default:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	}
}
