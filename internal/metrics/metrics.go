// Package metrics exposes inspection counters through Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wiretap/dnp3ips/internal/detection"
	"github.com/wiretap/dnp3ips/internal/dnp3"
)

const namespace = "dnp3ips"

// Metrics holds the collectors of one engine. Each instance owns its
// registry so several engines (and tests) do not collide.
type Metrics struct {
	registry *prometheus.Registry

	packets       *prometheus.CounterVec
	pdus          *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	optionEvals   *prometheus.CounterVec
	optionLatency *prometheus.HistogramVec
	alerts        *prometheus.CounterVec
	activeFlows   prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_total",
				Help:      "Packets received by the engine.",
			},
			[]string{"protocol"},
		),
		pdus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dnp3",
				Name:      "pdus_total",
				Help:      "Complete DNP3 link frames inspected.",
			},
			[]string{"direction"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dnp3",
				Name:      "anomalies_total",
				Help:      "DNP3 protocol anomalies by event.",
			},
			[]string{"event"},
		),
		optionEvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "detection",
				Name:      "option_evals_total",
				Help:      "Rule option evaluations by verdict.",
			},
			[]string{"option", "verdict"},
		),
		optionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "detection",
				Name:      "option_eval_duration_seconds",
				Help:      "Rule option evaluation time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
			},
			[]string{"option"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alerts raised by generator.",
			},
			[]string{"gid"},
		),
		activeFlows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_flows",
				Help:      "Flows currently tracked.",
			},
		),
	}

	m.registry.MustRegister(
		m.packets, m.pdus, m.anomalies, m.optionEvals,
		m.optionLatency, m.alerts, m.activeFlows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Packet counts one received packet.
func (m *Metrics) Packet(protocol string) {
	m.packets.WithLabelValues(protocol).Inc()
}

// PDU counts one inspected link frame.
func (m *Metrics) PDU(dir dnp3.Direction) {
	m.pdus.WithLabelValues(dir.String()).Inc()
}

// Alert counts one raised alert.
func (m *Metrics) Alert(gid uint32) {
	m.alerts.WithLabelValues(strconv.FormatUint(uint64(gid), 10)).Inc()
}

// FlowOpened increments the active flow gauge.
func (m *Metrics) FlowOpened() {
	m.activeFlows.Inc()
}

// FlowsClosed decrements the active flow gauge by n.
func (m *Metrics) FlowsClosed(n int) {
	m.activeFlows.Sub(float64(n))
}

// Anomaly implements dnp3.EventSink.
func (m *Metrics) Anomaly(ev dnp3.Event) {
	m.anomalies.WithLabelValues(ev.Code.String()).Inc()
}

// Observe implements detection.Profiler.
func (m *Metrics) Observe(option string, elapsed time.Duration, v detection.Verdict) {
	m.optionEvals.WithLabelValues(option, v.String()).Inc()
	m.optionLatency.WithLabelValues(option).Observe(elapsed.Seconds())
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes the handler on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
