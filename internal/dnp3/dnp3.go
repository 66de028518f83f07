// Package dnp3 implements DNP3 link-layer deframing, transport-layer
// reassembly and the per-flow session state used by the detection options.
//
// Each flow carries one Session holding two independent reassembly records,
// one per direction. Frames are expected to arrive already delimited: the
// Splitter cuts complete link frames out of a TCP byte stream and UDP
// datagrams are split frame by frame.
package dnp3

import "github.com/wiretap/dnp3ips/internal/model"

// DefaultPort is the registered DNP3 port for both TCP and UDP.
const DefaultPort = 20000

// Application header sizes. A request carries control and function code; a
// response additionally carries the two internal indication octets.
const (
	RequestHeaderSize  = 2
	ResponseHeaderSize = 4
)

// DefaultMaxBufferSize bounds a reassembled application fragment.
const DefaultMaxBufferSize = 2048

// ProtocolID is the flow slot holding a *Session.
var ProtocolID = model.RegisterProtocol("dnp3")

// Direction identifies which side originated a segment.
type Direction uint8

// Directions.
const (
	DirectionClient Direction = iota
	DirectionServer
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionClient:
		return "client"
	case DirectionServer:
		return "server"
	default:
		return "unknown"
	}
}

// DirectionOf maps a packet's origin to a Direction.
func DirectionOf(fromClient bool) Direction {
	if fromClient {
		return DirectionClient
	}
	return DirectionServer
}

// HeaderSize returns the application header size for d.
func (d Direction) HeaderSize() int {
	if d == DirectionClient {
		return RequestHeaderSize
	}
	return ResponseHeaderSize
}
