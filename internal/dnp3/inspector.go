package dnp3

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wiretap/dnp3ips/internal/model"
)

// Config holds the inspector settings.
type Config struct {
	// MaxBufferSize bounds each reassembled application fragment
	MaxBufferSize int
	// CheckCRC drops frames whose CRCs do not verify
	CheckCRC bool
}

// DefaultConfig returns the default inspector configuration.
func DefaultConfig() Config {
	return Config{
		MaxBufferSize: DefaultMaxBufferSize,
		CheckCRC:      true,
	}
}

// Inspector feeds delimited link frames into flow sessions.
//
// An Inspector holds no per-flow state and may be shared by workers; the
// sessions it mutates must be accessed by one goroutine at a time.
type Inspector struct {
	cfg    Config
	sink   EventSink
	logger zerolog.Logger
}

// NewInspector creates an inspector. A nil sink discards anomalies.
func NewInspector(cfg Config, sink EventSink, logger zerolog.Logger) *Inspector {
	if sink == nil {
		sink = nopSink{}
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	return &Inspector{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With().Str("component", "dnp3").Logger(),
	}
}

// Config returns the inspector configuration.
func (in *Inspector) Config() Config {
	return in.cfg
}

// session returns the flow's session, attaching a new one when absent.
func (in *Inspector) session(flow *model.Flow) *Session {
	if s := SessionFromFlow(flow); s != nil {
		return s
	}
	s := NewSession(in.cfg.MaxBufferSize)
	flow.SetApplicationData(ProtocolID, s)
	in.logger.Debug().Uint64("flow", flow.ID).Str("tuple", flow.FiveTuple.String()).Msg("session attached")
	return s
}

// ProcessFrame runs one link frame through the flow's session. It returns
// true when the frame completed an application fragment. Frames that do not
// start with the DNP3 start bytes never create a session.
func (in *Inspector) ProcessFrame(flow *model.Flow, fromClient bool, frame []byte, ts time.Time) bool {
	dir := DirectionOf(fromClient)

	if _, err := ParseLinkHeader(frame); err != nil {
		if SessionFromFlow(flow) != nil {
			in.report(flow, dir, EventDroppedFrame, ts, err.Error())
		}
		return false
	}

	sess := in.session(flow)
	sess.Direction = dir

	lf, err := ParseLinkFrame(frame, in.cfg.CheckCRC)

	switch {
	case errors.Is(err, ErrBadCRC):
		in.report(flow, dir, EventBadCRC, ts, err.Error())
		return false
	case err != nil:
		in.report(flow, dir, EventDroppedFrame, ts, err.Error())
		return false
	}

	hdr := lf.Header
	if hdr.ReservedAddress() {
		in.report(flow, dir, EventReservedAddress, ts,
			fmt.Sprintf("src=%#04x dst=%#04x", hdr.Source, hdr.Destination))
	}
	if hdr.ReservedFunction() {
		in.report(flow, dir, EventReservedFunction, ts,
			fmt.Sprintf("link function %#x", hdr.Function()))
		return false
	}
	if !hdr.UserData() {
		return false
	}

	rec := sess.Record(dir)
	done, err := rec.Ingest(lf.Segment)
	switch {
	case errors.Is(err, ErrBufferOverflow):
		in.report(flow, dir, EventReassemblyBufferCleared, ts,
			fmt.Sprintf("fragment exceeds %d bytes", rec.MaxSize()))
	case err != nil:
		in.report(flow, dir, EventDroppedSegment, ts, err.Error())
	}
	if !done {
		return false
	}

	if app, ok := ParseAppHeader(rec.Bytes(), dir); ok {
		if app.Function.Reserved() {
			in.report(flow, dir, EventReservedFunction, ts,
				fmt.Sprintf("application function %s", app.Function))
		}
		in.logger.Debug().
			Uint64("flow", flow.ID).
			Str("direction", dir.String()).
			Str("function", app.Function.String()).
			Int("length", rec.Len()).
			Msg("fragment reassembled")
	}
	return true
}

// ReportDropped raises a dropped-frame anomaly for n stray bytes on a flow
// already carrying DNP3.
func (in *Inspector) ReportDropped(flow *model.Flow, fromClient bool, n int, ts time.Time) {
	if n == 0 || SessionFromFlow(flow) == nil {
		return
	}
	in.report(flow, DirectionOf(fromClient), EventDroppedFrame, ts, fmt.Sprintf("%d stray bytes", n))
}

func (in *Inspector) report(flow *model.Flow, dir Direction, code EventCode, ts time.Time, detail string) {
	in.logger.Debug().
		Uint64("flow", flow.ID).
		Str("direction", dir.String()).
		Str("event", code.String()).
		Str("detail", detail).
		Msg("anomaly")
	in.sink.Anomaly(Event{
		Code:      code,
		Time:      ts,
		Flow:      flow.FiveTuple,
		Direction: dir,
		Detail:    detail,
	})
}
