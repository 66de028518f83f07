// Package model defines the packet and flow models shared by the inspection
// pipeline and the detection options.
package model

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"
)

// Protocol represents a transport protocol carried by a packet.
type Protocol uint8

// Protocol constants. Values follow the IP protocol numbers so a network
// layer's next-header field can be converted directly.
const (
	ProtocolUnknown Protocol = 0
	ProtocolTCP     Protocol = 6
	ProtocolUDP     Protocol = 17
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	default:
		return "Unknown"
	}
}

// TCPFlags represents TCP control flags.
type TCPFlags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool
}

// String returns a string representation of TCP flags.
func (f TCPFlags) String() string {
	var flags []string
	if f.SYN {
		flags = append(flags, "SYN")
	}
	if f.ACK {
		flags = append(flags, "ACK")
	}
	if f.FIN {
		flags = append(flags, "FIN")
	}
	if f.RST {
		flags = append(flags, "RST")
	}
	if f.PSH {
		flags = append(flags, "PSH")
	}
	if len(flags) == 0 {
		return "[.]"
	}
	return "[" + strings.Join(flags, " ") + "]"
}

// Packet is the detection view of a packet or of a reassembled PDU.
//
// Raw TCP segments are never full PDUs; the TCP splitter produces PDU
// packets with FullPDU set once a complete link frame has been assembled.
type Packet struct {
	// Index is the packet number in the capture
	Index uint64

	// Timestamp when the packet was captured
	Timestamp time.Time

	// CapturedLen is the number of bytes captured
	CapturedLen uint32

	// Payload is the transport payload (or the reassembled PDU)
	Payload []byte

	// Metadata for quick access
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol Protocol
	TCPFlags TCPFlags

	// FullPDU marks a packet that carries one complete application PDU
	FullPDU bool

	// FromClient is true when the packet was sent by the flow initiator
	FromClient bool

	// Flow is the flow this packet belongs to, if any
	Flow *Flow
}

// HasTCPData reports whether the packet carries TCP payload bytes.
func (p *Packet) HasTCPData() bool {
	return p.Protocol == ProtocolTCP && len(p.Payload) > 0
}

// IsFullPDU reports whether the packet carries a fully reassembled PDU.
func (p *Packet) IsFullPDU() bool {
	return p.FullPDU
}

// Dsize returns the payload byte count.
func (p *Packet) Dsize() int {
	return len(p.Payload)
}

// FiveTuple returns the 5-tuple identifying the flow.
func (p *Packet) FiveTuple() FiveTuple {
	return FiveTuple{
		SrcIP:    p.SrcIP,
		DstIP:    p.DstIP,
		SrcPort:  p.SrcPort,
		DstPort:  p.DstPort,
		Protocol: p.Protocol,
	}
}

// FlowKey returns the direction-independent identity of the packet's flow.
func (p *Packet) FlowKey() FlowKey {
	return p.FiveTuple().Key()
}

// FlowHash returns a hash of the packet's flow (direction-independent).
func (p *Packet) FlowHash() uint64 {
	return p.FlowKey().Hash()
}

// Summary returns a brief description of the packet.
func (p *Packet) Summary() string {
	switch p.Protocol {
	case ProtocolTCP:
		return fmt.Sprintf("%s %d → %d [%s] len=%d",
			p.Protocol, p.SrcPort, p.DstPort, p.TCPFlags, len(p.Payload))
	case ProtocolUDP:
		return fmt.Sprintf("%s %d → %d len=%d",
			p.Protocol, p.SrcPort, p.DstPort, len(p.Payload))
	default:
		return fmt.Sprintf("%s → %s", p.SrcIP, p.DstIP)
	}
}

// FiveTuple represents a network 5-tuple.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol Protocol
}

// Key returns the normalized flow key. The lower address:port endpoint
// comes first, so both directions of a flow share one key.
func (f FiveTuple) Key() FlowKey {
	k := FlowKey{
		LoPort:   f.SrcPort,
		HiPort:   f.DstPort,
		Protocol: f.Protocol,
	}
	copy(k.LoIP[:], f.SrcIP.To16())
	copy(k.HiIP[:], f.DstIP.To16())

	if c := bytes.Compare(k.LoIP[:], k.HiIP[:]); c > 0 || (c == 0 && k.LoPort > k.HiPort) {
		k.LoIP, k.HiIP = k.HiIP, k.LoIP
		k.LoPort, k.HiPort = k.HiPort, k.LoPort
	}
	return k
}

// Hash returns a hash of the 5-tuple (direction-independent).
func (f FiveTuple) Hash() uint64 {
	return f.Key().Hash()
}

// String returns a string representation of the 5-tuple.
func (f FiveTuple) String() string {
	return fmt.Sprintf("%s:%d → %s:%d (%s)",
		f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, f.Protocol)
}

// FlowKey identifies a flow in both directions. It is comparable and is
// the only identity flow tables use; Hash is for sharding.
type FlowKey struct {
	LoIP     [16]byte
	HiIP     [16]byte
	LoPort   uint16
	HiPort   uint16
	Protocol Protocol
}

// Hash returns the FNV-1a hash of the key.
func (k FlowKey) Hash() uint64 {
	h := uint64(14695981039346656037)
	for _, b := range k.LoIP {
		h ^= uint64(b)
		h *= 1099511628211
	}
	for _, b := range k.HiIP {
		h ^= uint64(b)
		h *= 1099511628211
	}
	h ^= uint64(k.LoPort)
	h *= 1099511628211
	h ^= uint64(k.HiPort)
	h *= 1099511628211
	h ^= uint64(k.Protocol)
	h *= 1099511628211
	return h
}

// Reverse returns the reverse of this 5-tuple.
func (f FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		SrcIP:    f.DstIP,
		DstIP:    f.SrcIP,
		SrcPort:  f.DstPort,
		DstPort:  f.SrcPort,
		Protocol: f.Protocol,
	}
}
