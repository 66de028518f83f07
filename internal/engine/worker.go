package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wiretap/dnp3ips/internal/capture"
	"github.com/wiretap/dnp3ips/internal/dnp3"
	"github.com/wiretap/dnp3ips/internal/model"
)

const (
	// sweepInterval is the packet-time spacing of flow sweeps.
	sweepInterval = time.Second
	// reassemblyTimeout is how long stream data may wait behind a gap.
	reassemblyTimeout = 2 * time.Second
)

// worker owns a disjoint set of flows. All of its state is confined to the
// goroutine running it.
type worker struct {
	id        int
	eng       *Engine
	flows     *model.FlowTable
	assembler *capture.Assembler
	inspector *dnp3.Inspector
	logger    zerolog.Logger

	current   *model.Packet
	finished  map[uint64]*model.Flow
	lastSweep time.Time
	err       error
}

func newWorker(id int, eng *Engine) *worker {
	w := &worker{
		id:       id,
		eng:      eng,
		flows:    model.NewFlowTable(),
		finished: make(map[uint64]*model.Flow),
		logger:   eng.logger.With().Int("worker", id).Logger(),
	}
	w.assembler = capture.NewAssembler(w.newStream, eng.opts.Assembler)
	w.inspector = dnp3.NewInspector(eng.opts.DNP3, w, w.logger)
	return w
}

// run processes packets until the queue is closed or ctx is cancelled.
func (w *worker) run(ctx context.Context, q <-chan *capture.Decoded) error {
	defer w.shutdown()

	for {
		select {
		case d, ok := <-q:
			if !ok {
				return nil
			}
			w.process(d)
			if w.err != nil {
				return w.err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// process runs one packet through flow tracking, reassembly, the inspector
// and the rules.
func (w *worker) process(d *capture.Decoded) {
	pkt := d.Packet
	w.current = pkt

	flow := w.flows.GetOrCreate(pkt)
	if flow.PacketCount == 0 {
		w.eng.metrics.FlowOpened()
	}
	flow.AddPacket(pkt)
	pkt.Flow = flow

	switch pkt.Protocol {
	case model.ProtocolTCP:
		if d.TCP != nil {
			w.assembler.Assemble(d.NetFlow, d.TCP, pkt.Timestamp)
		}
	case model.ProtocolUDP:
		w.datagram(flow, pkt)
	}

	// Finished flows are released by the sweep once their buffered
	// stream data has been flushed.
	if flow.Finished() {
		w.finished[flow.ID] = flow
	}
	w.sweep(pkt.Timestamp)
}

// datagram inspects every link frame carried by a UDP payload.
func (w *worker) datagram(flow *model.Flow, pkt *model.Packet) {
	frames, dropped := dnp3.SplitDatagram(pkt.Payload)
	for _, frame := range frames {
		w.frame(flow, pkt.FromClient, frame, pkt.Timestamp)
	}
	w.inspector.ReportDropped(flow, pkt.FromClient, dropped, pkt.Timestamp)
}

// frame inspects one link frame and evaluates the rules against it.
func (w *worker) frame(flow *model.Flow, fromClient bool, frame []byte, ts time.Time) {
	w.eng.stats.frames.Add(1)
	w.eng.metrics.PDU(dnp3.DirectionOf(fromClient))

	if w.inspector.ProcessFrame(flow, fromClient, frame, ts) {
		w.eng.stats.fragments.Add(1)
	}

	pdu := pduPacket(flow, fromClient, frame, ts)
	if w.current != nil {
		pdu.Index = w.current.Index
	}
	for _, rule := range w.eng.rules.Evaluate(pdu, w.eng.metrics) {
		w.raise(ruleAlert(rule, pdu))
	}
}

// pduPacket builds the full-PDU packet for a frame of flow.
func pduPacket(flow *model.Flow, fromClient bool, frame []byte, ts time.Time) *model.Packet {
	ft := flow.FiveTuple
	if !fromClient {
		ft = ft.Reverse()
	}
	return &model.Packet{
		Timestamp:   ts,
		CapturedLen: uint32(len(frame)),
		Payload:     frame,
		SrcIP:       ft.SrcIP,
		DstIP:       ft.DstIP,
		SrcPort:     ft.SrcPort,
		DstPort:     ft.DstPort,
		Protocol:    ft.Protocol,
		FullPDU:     true,
		FromClient:  fromClient,
		Flow:        flow,
	}
}

// Anomaly implements dnp3.EventSink.
func (w *worker) Anomaly(ev dnp3.Event) {
	w.eng.stats.anomalies.Add(1)
	w.eng.metrics.Anomaly(ev)

	var index uint64
	if w.current != nil {
		index = w.current.Index
	}
	w.raise(anomalyAlert(ev, index))
}

func (w *worker) raise(a Alert) {
	if w.err != nil {
		return
	}
	if err := w.eng.emit(a); err != nil {
		w.logger.Error().Err(err).Msg("failed to write alert")
		w.err = err
	}
}

// release tears a flow down.
func (w *worker) release(flow *model.Flow) {
	w.flows.Release(flow)
	w.eng.metrics.FlowsClosed(1)
	w.logger.Debug().
		Uint64("flow", flow.ID).
		Str("state", flow.State.String()).
		Uint64("packets", flow.PacketCount).
		Msg("flow released")
}

// sweep flushes stale stream data, releases finished flows and expires
// idle ones, at most once per sweepInterval of packet time.
func (w *worker) sweep(now time.Time) {
	if w.lastSweep.IsZero() {
		w.lastSweep = now
		return
	}
	if now.Sub(w.lastSweep) < sweepInterval {
		return
	}
	w.lastSweep = now

	cutoff := now.Add(-reassemblyTimeout)
	w.assembler.FlushBuffered(cutoff)
	for id, flow := range w.finished {
		switch {
		case !flow.Finished():
			delete(w.finished, id)
		case flow.LastSeen.Before(cutoff):
			delete(w.finished, id)
			if w.flows.Get(flow.Key) == flow {
				w.release(flow)
			}
		}
	}

	timeout := w.eng.opts.FlowIdleTimeout
	if timeout <= 0 {
		return
	}
	w.assembler.FlushOlderThan(now.Add(-timeout))
	if n := w.flows.ExpireIdle(now, timeout); n > 0 {
		w.eng.metrics.FlowsClosed(n)
		w.logger.Debug().Int("flows", n).Msg("expired idle flows")
	}
}

// shutdown flushes pending stream data and releases every flow.
func (w *worker) shutdown() {
	streams := w.assembler.OpenStreams()
	w.assembler.FlushAll()
	n := w.flows.Count()
	w.logger.Debug().
		Int("flows", n).
		Int("streams", streams).
		Msg("worker stopped")
	w.flows.Clear()
	w.finished = make(map[uint64]*model.Flow)
	w.eng.metrics.FlowsClosed(n)
}

// newStream implements capture.StreamHandler.
func (w *worker) newStream(key capture.StreamKey) capture.StreamConsumer {
	ft := key.FiveTuple()
	s := &stream{w: w, key: ft.Key()}
	if flow := w.flows.Get(s.key); flow != nil {
		s.fromClient = flow.IsFromClient(&model.Packet{SrcIP: ft.SrcIP, SrcPort: ft.SrcPort})
	}
	return s
}

// stream cuts one TCP direction into link frames.
type stream struct {
	w          *worker
	key        model.FlowKey
	fromClient bool
	splitter   dnp3.Splitter
}

// Data implements capture.StreamConsumer.
func (s *stream) Data(data []byte, seen time.Time) {
	flow := s.w.flows.Get(s.key)
	if flow == nil {
		return
	}

	s.splitter.Write(data)
	for {
		frame, ok := s.splitter.Next()
		if !ok {
			break
		}
		s.w.frame(flow, s.fromClient, frame, seen)
	}
	s.w.inspector.ReportDropped(flow, s.fromClient, s.splitter.Skipped(), seen)
}

// Lost implements capture.StreamConsumer.
func (s *stream) Lost(n int, seen time.Time) {
	s.splitter.Reset()
	if n <= 0 {
		return
	}
	if flow := s.w.flows.Get(s.key); flow != nil {
		s.w.inspector.ReportDropped(flow, s.fromClient, n, seen)
	}
}

// Close implements capture.StreamConsumer.
func (s *stream) Close() {
	s.splitter.Reset()
}
