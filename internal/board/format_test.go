package board

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatVolume(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", "$0"},
		{"950", "$950"},
		{"12345", "$12K"},
		{"1234567", "$1.2M"},
		{"48000000", "$48.0M"},
	}
	for _, tc := range cases {
		if got := FormatVolume(decimal.RequireFromString(tc.in)); got != tc.want {
			t.Errorf("FormatVolume(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0", ""},
		{"0.4", "<1¢"},
		{"94", "94¢"},
		{"93.6", "94¢"},
	}
	for _, tc := range cases {
		if got := FormatPrice(decimal.RequireFromString(tc.in)); got != tc.want {
			t.Errorf("FormatPrice(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatDelta(t *testing.T) {
	cases := []struct {
		name string
		in   decimal.NullDecimal
		want Delta
	}{
		{"missing", decimal.NullDecimal{}, Delta{"—", DirectionFlat}},
		{"tiny", decimal.NewNullDecimal(decimal.RequireFromString("0.04")), Delta{"—", DirectionFlat}},
		{"up", decimal.NewNullDecimal(decimal.RequireFromString("1.5")), Delta{"▲+1.5", DirectionUp}},
		{"down", decimal.NewNullDecimal(decimal.RequireFromString("-0.4")), Delta{"▼-0.4", DirectionDown}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatDelta(tc.in); got != tc.want {
				t.Fatalf("FormatDelta = %+v, want %+v", got, tc.want)
			}
		})
	}
}
