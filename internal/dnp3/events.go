package dnp3

import (
	"time"

	"github.com/wiretap/dnp3ips/internal/model"
)

// GeneratorID groups the inspector's anomaly events.
const GeneratorID = 145

// EventCode identifies an inspector anomaly.
type EventCode uint32

// Anomaly events.
const (
	EventBadCRC EventCode = iota + 1
	EventDroppedFrame
	EventDroppedSegment
	EventReassemblyBufferCleared
	EventReservedAddress
	EventReservedFunction
)

var eventMessages = map[EventCode]string{
	EventBadCRC:                  "DNP3 Link-Layer Frame contains bad CRC",
	EventDroppedFrame:            "DNP3 Link-Layer Frame was dropped",
	EventDroppedSegment:          "DNP3 Transport-Layer Segment was dropped during reassembly",
	EventReassemblyBufferCleared: "DNP3 Reassembly Buffer was cleared without reassembling a complete message",
	EventReservedAddress:         "DNP3 Link-Layer Frame uses a reserved address",
	EventReservedFunction:        "DNP3 Application-Layer Fragment uses a reserved function code",
}

var eventNames = map[EventCode]string{
	EventBadCRC:                  "bad_crc",
	EventDroppedFrame:            "dropped_frame",
	EventDroppedSegment:          "dropped_segment",
	EventReassemblyBufferCleared: "reassembly_buffer_cleared",
	EventReservedAddress:         "reserved_address",
	EventReservedFunction:        "reserved_function",
}

// Message returns the alert text for the event.
func (c EventCode) Message() string {
	if msg, ok := eventMessages[c]; ok {
		return msg
	}
	return "DNP3 unknown event"
}

// String returns a short metric-friendly name.
func (c EventCode) String() string {
	if name, ok := eventNames[c]; ok {
		return name
	}
	return "unknown"
}

// Event is one anomaly observed while inspecting a flow.
type Event struct {
	Code      EventCode
	Time      time.Time
	Flow      model.FiveTuple
	Direction Direction
	Detail    string
}

// EventSink receives anomalies. It must not retain the flow.
type EventSink interface {
	Anomaly(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

// Anomaly calls f(ev).
func (f EventSinkFunc) Anomaly(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Anomaly(Event) {}
