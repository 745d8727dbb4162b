package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Sort selects the ordering of rows in a board view.
type Sort string

const (
	SortVolume    Sort = "volume"
	SortVolume24h Sort = "volume24h"
	SortTitle     Sort = "title"
)

// ParseSort normalises a user supplied sort key. Empty input maps to SortVolume.
func ParseSort(s string) (Sort, error) {
	switch Sort(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortVolume:
		return SortVolume, nil
	case SortVolume24h:
		return SortVolume24h, nil
	case SortTitle:
		return SortTitle, nil
	default:
		return "", fmt.Errorf("unknown sort %q", s)
	}
}

// Query identifies which upstream listing a snapshot was built from.
type Query struct {
	ActiveOnly bool `json:"activeOnly"`
	Limit      int  `json:"limit"`
	Sort       Sort `json:"sort"`
}

// Validate reports whether the query can be sent to the data source.
func (q Query) Validate() error {
	if q.Limit <= 0 {
		return errors.New("query limit must be greater than zero")
	}
	if _, err := ParseSort(string(q.Sort)); err != nil {
		return err
	}
	return nil
}

// ContenderRecord is one outcome market inside an event.
type ContenderRecord struct {
	Name       string              `json:"name"`
	PriceCents decimal.Decimal     `json:"priceCents"`
	Delta24h   decimal.NullDecimal `json:"delta24h"`
	EndDate    string              `json:"endDate,omitempty"`
}

// EventRecord is a market event with every one of its contenders, ordered by price descending.
type EventRecord struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Slug       string            `json:"slug,omitempty"`
	Volume     decimal.Decimal   `json:"volume"`
	Volume24h  decimal.Decimal   `json:"volume24h"`
	EndDate    string            `json:"endDate,omitempty"`
	Contenders []ContenderRecord `json:"contenders"`
}

// Snapshot is the immutable result of one successful fetch.
type Snapshot struct {
	FetchedAt time.Time     `json:"fetchedAt"`
	Events    []EventRecord `json:"events"`
	Query     Query         `json:"query"`
}

// NewSnapshot copies events so later changes to the caller's slice cannot leak in.
func NewSnapshot(fetchedAt time.Time, events []EventRecord, query Query) *Snapshot {
	owned := make([]EventRecord, len(events))
	for i, ev := range events {
		ev.Contenders = append([]ContenderRecord(nil), ev.Contenders...)
		owned[i] = ev
	}
	return &Snapshot{FetchedAt: fetchedAt, Events: owned, Query: query}
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

// Fresh reports whether the snapshot is younger than ttl at now.
func (s *Snapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return s != nil && s.Age(now) < ttl
}
