package board

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	oneCent       = decimal.NewFromInt(1)
	flatDeltaBand = decimal.RequireFromString("0.05")
	thousand      = decimal.NewFromInt(1_000)
	million       = decimal.NewFromInt(1_000_000)
)

// Direction of a 24h price move.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionFlat Direction = "flat"
)

// Delta is a display-ready 24h price change.
type Delta struct {
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
}

// FormatVolume renders a dollar volume as $1.2M, $12K or $950.
func FormatVolume(v decimal.Decimal) string {
	switch {
	case v.GreaterThanOrEqual(million):
		return "$" + v.Div(million).StringFixed(1) + "M"
	case v.GreaterThanOrEqual(thousand):
		return "$" + v.Div(thousand).StringFixed(0) + "K"
	default:
		return "$" + v.StringFixed(0)
	}
}

// FormatPrice renders a YES price in cents. Zero prices render empty.
func FormatPrice(cents decimal.Decimal) string {
	if !cents.IsPositive() {
		return ""
	}
	if cents.LessThan(oneCent) {
		return "<1¢"
	}
	return cents.StringFixed(0) + "¢"
}

// FormatDelta renders a 24h change in cents with an arrow. Missing or tiny moves are flat.
func FormatDelta(delta decimal.NullDecimal) Delta {
	if !delta.Valid || delta.Decimal.Abs().LessThan(flatDeltaBand) {
		return Delta{Text: "—", Direction: DirectionFlat}
	}
	d := delta.Decimal
	if d.IsPositive() {
		return Delta{Text: fmt.Sprintf("▲+%s", d.StringFixed(1)), Direction: DirectionUp}
	}
	return Delta{Text: fmt.Sprintf("▼%s", d.StringFixed(1)), Direction: DirectionDown}
}
