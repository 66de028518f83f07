package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wiretap/dnp3ips/internal/detection"
	"github.com/wiretap/dnp3ips/internal/dnp3"
)

var (
	_ detection.Profiler = (*Metrics)(nil)
	_ dnp3.EventSink     = (*Metrics)(nil)
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.Packet("TCP")
	m.Packet("TCP")
	m.Packet("UDP")
	m.PDU(dnp3.DirectionServer)
	m.Alert(dnp3.GeneratorID)
	m.Alert(1)
	m.Alert(1)

	if got := testutil.ToFloat64(m.packets.WithLabelValues("TCP")); got != 2 {
		t.Errorf("tcp packets = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pdus.WithLabelValues("server")); got != 1 {
		t.Errorf("server pdus = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.alerts.WithLabelValues("1")); got != 2 {
		t.Errorf("rule alerts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.alerts.WithLabelValues("145")); got != 1 {
		t.Errorf("anomaly alerts = %v, want 1", got)
	}
}

func TestMetrics_Anomaly(t *testing.T) {
	m := New()
	m.Anomaly(dnp3.Event{Code: dnp3.EventBadCRC})
	m.Anomaly(dnp3.Event{Code: dnp3.EventBadCRC})
	m.Anomaly(dnp3.Event{Code: dnp3.EventDroppedSegment})

	if got := testutil.ToFloat64(m.anomalies.WithLabelValues("bad_crc")); got != 2 {
		t.Errorf("bad_crc = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.anomalies.WithLabelValues("dropped_segment")); got != 1 {
		t.Errorf("dropped_segment = %v, want 1", got)
	}
}

func TestMetrics_Observe(t *testing.T) {
	m := New()
	m.Observe("dnp3_obj", time.Microsecond, detection.Match)
	m.Observe("dnp3_obj", time.Microsecond, detection.NoMatch)
	m.Observe("dnp3_obj", time.Microsecond, detection.NoMatch)

	if got := testutil.ToFloat64(m.optionEvals.WithLabelValues("dnp3_obj", "no_match")); got != 2 {
		t.Errorf("no_match evals = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.optionLatency); got != 1 {
		t.Errorf("latency series = %d, want 1", got)
	}
}

func TestMetrics_ActiveFlows(t *testing.T) {
	m := New()
	m.FlowOpened()
	m.FlowOpened()
	m.FlowOpened()
	m.FlowsClosed(2)

	if got := testutil.ToFloat64(m.activeFlows); got != 1 {
		t.Errorf("active flows = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Packet("TCP")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `dnp3ips_packets_total{protocol="TCP"} 1`) {
		t.Errorf("exposition missing packet counter:\n%s", body)
	}
}
