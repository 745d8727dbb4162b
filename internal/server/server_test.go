package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pmboard/internal/board"
	"pmboard/internal/broadcast"
	"pmboard/internal/model"
	"pmboard/internal/service"
)

var testLimits = ViewLimits{DefaultLimit: 10, MaxLimit: 100, DefaultContenders: 5, MaxContenders: 50}

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) Fetch(context.Context, model.Query) ([]model.EventRecord, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	var contenders []model.ContenderRecord
	for i := int64(0); i < 7; i++ {
		contenders = append(contenders, model.ContenderRecord{
			Name:       fmt.Sprintf("Candidate %d", i),
			PriceCents: decimal.NewFromInt(70 - i*10),
		})
	}
	return []model.EventRecord{
		{ID: "2", Title: "Second", Volume: decimal.NewFromInt(500)},
		{ID: "1", Title: "Election", Volume: decimal.NewFromInt(2_000_000), Contenders: contenders},
	}, nil
}

type fixture struct {
	src   *countingSource
	coord *service.Coordinator
	bc    *broadcast.Broadcaster
	srv   *Server
}

func newFixture(t *testing.T, src *countingSource) *fixture {
	t.Helper()
	query := model.Query{ActiveOnly: true, Limit: 500, Sort: model.SortVolume}
	coord := service.New(src, query, time.Minute, zerolog.Nop())
	hub := broadcast.NewHub(broadcast.HubOptions{WriteTimeout: time.Second}, zerolog.Nop())
	bc := broadcast.NewBroadcaster(hub, coord, nil, zerolog.Nop())
	srv := New(Config{CORS: true, Limits: testLimits}, coord, bc, zerolog.Nop())
	return &fixture{src: src, coord: coord, bc: bc, srv: srv}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestEventsEndpoint(t *testing.T) {
	f := newFixture(t, &countingSource{})

	rec := f.get(t, "/api/events?limit=1&contenders=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body)
	}

	var payload board.Payload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.TTL != 60 || len(payload.Events) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	ev := payload.Events[0]
	if ev.Title != "Election" || ev.Rank != 1 || ev.Volume != "$2.0M" {
		t.Fatalf("unexpected row: %+v", ev)
	}
	if len(ev.Contenders) != 3 || ev.ContenderCount != 7 {
		t.Fatalf("contenders = %d of %d", len(ev.Contenders), ev.ContenderCount)
	}
	if ev.Contenders[0].Price != "70¢" {
		t.Fatalf("lead price = %q", ev.Contenders[0].Price)
	}
}

func TestEventsViewsShareOneFetch(t *testing.T) {
	f := newFixture(t, &countingSource{})

	for n := 1; n <= 5; n++ {
		rec := f.get(t, fmt.Sprintf("/api/events?contenders=%d", n))
		if rec.Code != http.StatusOK {
			t.Fatalf("contenders=%d status=%d", n, rec.Code)
		}
		var payload board.Payload
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got := len(payload.Events[0].Contenders); got != n {
			t.Fatalf("contenders=%d returned %d", n, got)
		}
	}
	if got := f.src.calls.Load(); got != 1 {
		t.Fatalf("expected a single fetch, got %d", got)
	}
}

func TestEventsInvalidParams(t *testing.T) {
	f := newFixture(t, &countingSource{})

	for _, target := range []string{
		"/api/events?limit=0",
		"/api/events?limit=101",
		"/api/events?sort=price",
		"/api/events?contenders=abc",
	} {
		rec := f.get(t, target)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, rec.Code)
		}
		var apiErr APIError
		if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil || apiErr.Code != "ERR_BAD_REQUEST" {
			t.Fatalf("%s: body = %s", target, rec.Body)
		}
	}
	if f.src.calls.Load() != 0 {
		t.Fatal("invalid requests must not reach the data source")
	}
}

func TestEventsColdStartUnavailable(t *testing.T) {
	f := newFixture(t, &countingSource{err: errors.New("binary not found")})

	rec := f.get(t, "/api/events")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	var apiErr APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if apiErr.Code != "ERR_DATA_UNAVAILABLE" {
		t.Fatalf("code = %s", apiErr.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &countingSource{})

	if rec := f.get(t, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health before first fetch = %d", rec.Code)
	}
	f.get(t, "/api/events")

	rec := f.get(t, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Cache.Refreshes != 1 {
		t.Fatalf("unexpected health: %+v", body)
	}
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	f := newFixture(t, &countingSource{})
	rec := f.get(t, "/nope")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"code":"ERR_NOT_FOUND"`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestStreamSendsSnapshotOnConnect(t *testing.T) {
	f := newFixture(t, &countingSource{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream?contenders=2", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if resp.Header.Get("Cache-Control") != "no-cache" || resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Fatalf("missing streaming headers: %v", resp.Header)
	}

	reader := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}

	var payload board.Payload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if len(payload.Events) != 2 || len(payload.Events[0].Contenders) != 2 {
		t.Fatalf("unexpected stream payload: %+v", payload)
	}

	deadline := time.Now().Add(time.Second)
	for f.bc.Hub().Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.bc.Hub().Len() != 1 {
		t.Fatal("stream subscriber not registered")
	}

	// first tick announces the snapshot, the second finds nothing new
	for i := 0; i < 2; i++ {
		if err := f.bc.Tick(context.Background(), time.Now()); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read heartbeat: %v", err)
		}
		if strings.HasPrefix(line, "event: heartbeat") {
			break
		}
	}
}

func TestWebSocketSendsSnapshotOnConnect(t *testing.T) {
	f := newFixture(t, &countingSource{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/ws?limit=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string        `json:"type"`
		Data board.Payload `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "snapshot" || len(frame.Data.Events) != 1 {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for f.bc.Hub().Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.bc.Hub().Len() != 0 {
		t.Fatal("closed websocket should leave the hub")
	}
}
