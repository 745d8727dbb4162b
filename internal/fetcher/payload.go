package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"pmboard/internal/model"
)

var hundred = decimal.NewFromInt(100)

// rawEvent mirrors one element of `polymarket -o json events list`.
type rawEvent struct {
	ID         looseString  `json:"id"`
	Title      string       `json:"title"`
	Slug       string       `json:"slug"`
	Volume     looseDecimal `json:"volume"`
	VolumeNum  looseDecimal `json:"volumeNum"`
	Volume24hr looseDecimal `json:"volume24hr"`
	EndDate    string       `json:"endDate"`
	EndDateISO string       `json:"endDateIso"`
	Markets    []rawMarket  `json:"markets"`
}

type rawMarket struct {
	GroupItemTitle    string          `json:"groupItemTitle"`
	Question          string          `json:"question"`
	OutcomePrices     json.RawMessage `json:"outcomePrices"`
	OneDayPriceChange looseDecimal    `json:"oneDayPriceChange"`
	EndDate           string          `json:"endDate"`
	EndDateISO        string          `json:"endDateIso"`
}

// looseDecimal accepts numbers, numeric strings and null. Anything unparsable is treated as absent.
type looseDecimal struct {
	decimal.NullDecimal
}

func (d *looseDecimal) UnmarshalJSON(b []byte) error {
	var nd decimal.NullDecimal
	if err := nd.UnmarshalJSON(b); err != nil {
		d.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	d.NullDecimal = nd
	return nil
}

func (d looseDecimal) orZero() decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

// looseString accepts both JSON strings and numbers.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = looseString(n.String())
	return nil
}

// ParseEvents decodes the data source payload into event records.
func ParseEvents(payload []byte) ([]model.EventRecord, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array", ErrMalformedOutput)
	}

	var raw []rawEvent
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	events := make([]model.EventRecord, 0, len(raw))
	for _, ev := range raw {
		events = append(events, convertEvent(ev))
	}
	return events, nil
}

func convertEvent(ev rawEvent) model.EventRecord {
	volume := ev.Volume
	if !volume.Valid {
		volume = ev.VolumeNum
	}

	title := ev.Title
	if title == "" {
		title = "?"
	}

	contenders := make([]model.ContenderRecord, 0, len(ev.Markets))
	for _, m := range ev.Markets {
		contenders = append(contenders, convertMarket(m))
	}
	sort.SliceStable(contenders, func(i, j int) bool {
		return contenders[i].PriceCents.GreaterThan(contenders[j].PriceCents)
	})

	return model.EventRecord{
		ID:         string(ev.ID),
		Title:      title,
		Slug:       ev.Slug,
		Volume:     volume.orZero(),
		Volume24h:  ev.Volume24hr.orZero(),
		EndDate:    firstNonEmpty(ev.EndDateISO, ev.EndDate),
		Contenders: contenders,
	}
}

func convertMarket(m rawMarket) model.ContenderRecord {
	delta := decimal.NullDecimal{}
	if m.OneDayPriceChange.Valid {
		delta = decimal.NewNullDecimal(m.OneDayPriceChange.Decimal.Mul(hundred))
	}
	return model.ContenderRecord{
		Name:       firstNonEmpty(m.GroupItemTitle, m.Question, "?"),
		PriceCents: yesPrice(m.OutcomePrices).Mul(hundred),
		Delta24h:   delta,
		EndDate:    firstNonEmpty(m.EndDateISO, m.EndDate),
	}
}

// yesPrice extracts the first outcome price. The field is usually a JSON array encoded inside a string.
func yesPrice(raw json.RawMessage) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return decimal.Zero
		}
		raw = []byte(inner)
	}

	var prices []looseDecimal
	if err := json.Unmarshal(raw, &prices); err != nil || len(prices) == 0 {
		return decimal.Zero
	}
	return prices[0].orZero()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
