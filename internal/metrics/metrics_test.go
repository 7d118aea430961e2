package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler_ExposesMetrics(t *testing.T) {
	MessagesIngested.WithLabelValues("slack", "saved").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"happin_messages_ingested_total", "happin_uptime_seconds"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %s in exposition output", want)
		}
	}
}

func TestObserveStore(t *testing.T) {
	before := testutil.CollectAndCount(StoreLatency)
	ObserveStore("metrics_test", time.Now())
	if after := testutil.CollectAndCount(StoreLatency); after != before+1 {
		t.Fatalf("expected one new series, got %d -> %d", before, after)
	}
}
