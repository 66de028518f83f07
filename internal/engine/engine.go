// Package engine runs the inspection pipeline: packets are sharded by flow
// onto workers, each of which owns its flows, TCP reassembly and sessions.
package engine

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wiretap/dnp3ips/internal/capture"
	"github.com/wiretap/dnp3ips/internal/config"
	"github.com/wiretap/dnp3ips/internal/detection"
	"github.com/wiretap/dnp3ips/internal/dnp3"
	"github.com/wiretap/dnp3ips/internal/metrics"
	"github.com/wiretap/dnp3ips/internal/model"
)

// Common errors.
var (
	ErrNotStarted = errors.New("engine not started")
	ErrClosed     = errors.New("engine closed")
)

// Options configures an Engine.
type Options struct {
	// Workers is the number of flow workers (0 = one per CPU)
	Workers int
	// QueueSize is the per-worker packet queue length
	QueueSize int
	// FlowIdleTimeout releases flows idle for longer (0 = never)
	FlowIdleTimeout time.Duration
	// Ports carrying DNP3 over TCP or UDP
	Ports []int

	DNP3      dnp3.Config
	Assembler capture.AssemblerOptions
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		Workers:         runtime.NumCPU(),
		QueueSize:       1024,
		FlowIdleTimeout: 5 * time.Minute,
		Ports:           []int{dnp3.DefaultPort},
		DNP3:            dnp3.DefaultConfig(),
		Assembler:       capture.DefaultAssemblerOptions(),
	}
}

// OptionsFromConfig maps the configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Workers = cfg.Engine.Workers
	opts.QueueSize = cfg.Engine.QueueSize
	opts.FlowIdleTimeout = cfg.Engine.FlowIdleTimeout
	opts.Ports = cfg.DNP3.Ports
	opts.DNP3 = dnp3.Config{
		MaxBufferSize: cfg.DNP3.MaxBufferSize,
		CheckCRC:      cfg.DNP3.CheckCRC,
	}
	return opts
}

// Stats are running totals across all workers.
type Stats struct {
	Packets   uint64
	Ignored   uint64
	Frames    uint64
	Fragments uint64
	Alerts    uint64
	Anomalies uint64
}

type counters struct {
	packets   atomic.Uint64
	ignored   atomic.Uint64
	frames    atomic.Uint64
	fragments atomic.Uint64
	alerts    atomic.Uint64
	anomalies atomic.Uint64
}

// Engine dispatches packets to flow-affinitized workers.
//
// Submit may be called from one producer goroutine at a time; Close must
// not race with Submit.
type Engine struct {
	opts    Options
	rules   *detection.RuleSet
	sink    AlertSink
	metrics *metrics.Metrics
	logger  zerolog.Logger
	ports   map[uint16]bool

	mu      sync.Mutex
	queues  []chan *capture.Decoded
	group   *errgroup.Group
	ctx     context.Context
	started bool
	closed  bool

	stats counters
}

// New creates an engine. A nil rule set evaluates no rules, a nil sink
// discards alerts and nil metrics are replaced by a private registry.
func New(opts Options, rules *detection.RuleSet, sink AlertSink, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}
	if len(opts.Ports) == 0 {
		opts.Ports = []int{dnp3.DefaultPort}
	}
	if rules == nil {
		rules = detection.EmptyRuleSet()
	}
	if sink == nil {
		sink = DiscardSink{}
	}
	if m == nil {
		m = metrics.New()
	}

	ports := make(map[uint16]bool, len(opts.Ports))
	for _, p := range opts.Ports {
		ports[uint16(p)] = true
	}

	return &Engine{
		opts:    opts,
		rules:   rules,
		sink:    sink,
		metrics: m,
		logger:  logger.With().Str("component", "engine").Logger(),
		ports:   ports,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Start launches the workers. They stop when Close is called or ctx is
// cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.started {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	e.group = g
	e.ctx = gctx
	e.queues = make([]chan *capture.Decoded, e.opts.Workers)

	for i := range e.queues {
		q := make(chan *capture.Decoded, e.opts.QueueSize)
		e.queues[i] = q
		w := newWorker(i, e)
		g.Go(func() error {
			return w.run(gctx, q)
		})
	}
	e.started = true

	e.logger.Info().
		Int("workers", e.opts.Workers).
		Int("rules", e.rules.Len()).
		Int("options", len(e.rules.Options())).
		Ints("ports", e.opts.Ports).
		Msg("engine started")
	return nil
}

// Accepts reports whether pkt belongs to a DNP3 port.
func (e *Engine) Accepts(pkt *model.Packet) bool {
	if pkt.Protocol != model.ProtocolTCP && pkt.Protocol != model.ProtocolUDP {
		return false
	}
	return e.ports[pkt.SrcPort] || e.ports[pkt.DstPort]
}

// Submit queues a packet on the worker owning its flow. Packets outside the
// DNP3 ports are counted and dropped.
func (e *Engine) Submit(ctx context.Context, d *capture.Decoded) error {
	e.mu.Lock()
	started, closed := e.started, e.closed
	e.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !started:
		return ErrNotStarted
	}

	pkt := d.Packet
	e.stats.packets.Add(1)
	e.metrics.Packet(pkt.Protocol.String())

	if !e.Accepts(pkt) {
		e.stats.ignored.Add(1)
		return nil
	}

	q := e.queues[pkt.FlowHash()%uint64(len(e.queues))]
	select {
	case q <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		if err := e.Wait(); err != nil {
			return err
		}
		return e.ctx.Err()
	}
}

// SubmitFunc adapts Submit to a capture.PacketHandler.
func (e *Engine) SubmitFunc(ctx context.Context) capture.PacketHandler {
	return func(d *capture.Decoded) error {
		return e.Submit(ctx, d)
	}
}

// Close drains the queues, flushes every worker and waits for them.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.started {
		e.closed = true
		e.mu.Unlock()
		return nil
	}
	if !e.closed {
		e.closed = true
		for _, q := range e.queues {
			close(q)
		}
	}
	e.mu.Unlock()

	return e.Wait()
}

// Wait blocks until every worker has exited and returns the first error.
func (e *Engine) Wait() error {
	e.mu.Lock()
	g := e.group
	e.mu.Unlock()
	if g == nil {
		return ErrNotStarted
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stats returns the running totals.
func (e *Engine) Stats() Stats {
	return Stats{
		Packets:   e.stats.packets.Load(),
		Ignored:   e.stats.ignored.Load(),
		Frames:    e.stats.frames.Load(),
		Fragments: e.stats.fragments.Load(),
		Alerts:    e.stats.alerts.Load(),
		Anomalies: e.stats.anomalies.Load(),
	}
}

// emit writes an alert to the sink.
func (e *Engine) emit(a Alert) error {
	e.stats.alerts.Add(1)
	e.metrics.Alert(a.GID)
	return e.sink.WriteAlert(a)
}
