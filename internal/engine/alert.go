package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/wiretap/dnp3ips/internal/detection"
	"github.com/wiretap/dnp3ips/internal/dnp3"
	"github.com/wiretap/dnp3ips/internal/model"
)

// RuleGeneratorID is the generator of rule alerts.
const RuleGeneratorID = 1

// Alert is a rule match or protocol anomaly.
type Alert struct {
	Time      time.Time `json:"time"`
	GID       uint32    `json:"gid"`
	SID       uint32    `json:"sid"`
	Rev       uint32    `json:"rev"`
	Msg       string    `json:"msg"`
	Protocol  string    `json:"protocol"`
	SrcIP     string    `json:"src_ip"`
	SrcPort   uint16    `json:"src_port"`
	DstIP     string    `json:"dst_ip"`
	DstPort   uint16    `json:"dst_port"`
	Direction string    `json:"direction"`
	Packet    uint64    `json:"packet,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// ruleAlert builds the alert for a rule matching pdu.
func ruleAlert(rule *detection.Rule, pdu *model.Packet) Alert {
	a := Alert{
		Time:      pdu.Timestamp,
		GID:       RuleGeneratorID,
		SID:       rule.SID,
		Rev:       rule.Rev,
		Msg:       rule.Msg,
		Direction: dnp3.DirectionOf(pdu.FromClient).String(),
		Packet:    pdu.Index,
	}
	a.setTuple(pdu.FiveTuple())
	return a
}

// anomalyAlert builds the alert for an inspector event.
func anomalyAlert(ev dnp3.Event, index uint64) Alert {
	a := Alert{
		Time:      ev.Time,
		GID:       dnp3.GeneratorID,
		SID:       uint32(ev.Code),
		Rev:       1,
		Msg:       ev.Code.Message(),
		Direction: ev.Direction.String(),
		Packet:    index,
		Detail:    ev.Detail,
	}
	ft := ev.Flow
	if ev.Direction == dnp3.DirectionServer {
		ft = ft.Reverse()
	}
	a.setTuple(ft)
	return a
}

func (a *Alert) setTuple(ft model.FiveTuple) {
	a.Protocol = ft.Protocol.String()
	a.SrcIP = ft.SrcIP.String()
	a.SrcPort = ft.SrcPort
	a.DstIP = ft.DstIP.String()
	a.DstPort = ft.DstPort
}

// String renders the alert in fast-alert form.
func (a Alert) String() string {
	return fmt.Sprintf("%s [**] [%d:%d:%d] %s [**] {%s} %s:%d -> %s:%d",
		a.Time.Format("01/02-15:04:05.000000"),
		a.GID, a.SID, a.Rev, a.Msg,
		a.Protocol, a.SrcIP, a.SrcPort, a.DstIP, a.DstPort)
}

// AlertSink receives alerts from every worker and must be safe for
// concurrent use.
type AlertSink interface {
	WriteAlert(Alert) error
}

// JSONSink writes one JSON object per line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a JSON-lines sink.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

// WriteAlert implements AlertSink.
func (s *JSONSink) WriteAlert(a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(a)
}

// TextSink writes fast-alert lines.
type TextSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextSink creates a text sink.
func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

// WriteAlert implements AlertSink.
func (s *TextSink) WriteAlert(a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, a.String())
	return err
}

// NewSink returns the sink for an output format.
func NewSink(format string, w io.Writer) (AlertSink, error) {
	switch format {
	case "", "json":
		return NewJSONSink(w), nil
	case "text":
		return NewTextSink(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// DiscardSink drops every alert.
type DiscardSink struct{}

// WriteAlert implements AlertSink.
func (DiscardSink) WriteAlert(Alert) error { return nil }
