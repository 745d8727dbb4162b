package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"pmboard/internal/service"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.FetchCompleted(time.Second, nil)
	r.FetchCompleted(time.Second, errors.New("boom"))
	r.SnapshotServed(service.OutcomeFresh)
	r.SnapshotServed(service.OutcomeFresh)
	r.SubscriberAdded("sse")
	r.SubscriberAdded("sse")
	r.SubscriberRemoved("sse", true)

	if got := testutil.ToFloat64(r.fetches.WithLabelValues("error")); got != 1 {
		t.Fatalf("error fetches = %v", got)
	}
	if got := testutil.ToFloat64(r.served.WithLabelValues("fresh")); got != 2 {
		t.Fatalf("fresh served = %v", got)
	}
	if got := testutil.ToFloat64(r.subscribers.WithLabelValues("sse")); got != 1 {
		t.Fatalf("subscribers = %v", got)
	}
	if got := testutil.ToFloat64(r.dropped.WithLabelValues("sse")); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.MessageBroadcast("snapshot")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `pmboard_stream_messages_total{kind="snapshot"} 1`) {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
}
