package model

import (
	"sync"
	"time"
)

// FlowState represents the state of a tracked flow.
type FlowState uint8

// Flow states.
const (
	FlowStateNew FlowState = iota
	FlowStateOpen
	FlowStateClosing
	FlowStateClosed
	FlowStateReset
)

// String returns the flow state name.
func (s FlowState) String() string {
	switch s {
	case FlowStateNew:
		return "NEW"
	case FlowStateOpen:
		return "OPEN"
	case FlowStateClosing:
		return "CLOSING"
	case FlowStateClosed:
		return "CLOSED"
	case FlowStateReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// ProtocolID identifies an application inspector's slot on a flow.
type ProtocolID uint32

var (
	protoMu    sync.Mutex
	protoNames = map[string]ProtocolID{}
)

// RegisterProtocol returns the slot id for name, allocating one on first use.
// Registering the same name twice returns the same id.
func RegisterProtocol(name string) ProtocolID {
	protoMu.Lock()
	defer protoMu.Unlock()

	if id, ok := protoNames[name]; ok {
		return id
	}
	id := ProtocolID(len(protoNames) + 1)
	protoNames[name] = id
	return id
}

// FlowData is per-protocol state attached to a flow. Release is called
// exactly once when the flow is torn down or the slot is freed.
type FlowData interface {
	Release()
}

// Flow represents a tracked TCP connection or UDP flow.
//
// A Flow is not safe for concurrent use. The engine pins every flow to a
// single worker, which serializes all reads and writes of its state.
type Flow struct {
	// ID is a unique flow identifier
	ID uint64

	// FiveTuple identifies this flow; its source is the client
	FiveTuple FiveTuple

	// Key is the direction-independent identity the flow is tracked under
	Key FlowKey

	// State of the flow
	State FlowState

	// Timestamps
	StartTime time.Time
	LastSeen  time.Time

	PacketCount uint64

	// Byte counts
	BytesSent     uint64
	BytesReceived uint64

	data map[ProtocolID]FlowData
}

// NewFlow creates a new flow from its first packet.
func NewFlow(id uint64, pkt *Packet) *Flow {
	return &Flow{
		ID:        id,
		FiveTuple: pkt.FiveTuple(),
		Key:       pkt.FlowKey(),
		State:     FlowStateNew,
		StartTime: pkt.Timestamp,
		LastSeen:  pkt.Timestamp,
	}
}

// AddPacket updates the flow with a new packet and sets pkt.FromClient.
func (f *Flow) AddPacket(pkt *Packet) {
	f.LastSeen = pkt.Timestamp
	f.PacketCount++

	if pkt.Protocol == ProtocolTCP {
		f.updateTCPState(pkt.TCPFlags)
	}

	pkt.FromClient = f.IsFromClient(pkt)
	if pkt.FromClient {
		f.BytesSent += uint64(pkt.CapturedLen)
	} else {
		f.BytesReceived += uint64(pkt.CapturedLen)
	}
}

// updateTCPState updates flow state based on TCP flags.
func (f *Flow) updateTCPState(flags TCPFlags) {
	switch {
	case flags.RST:
		f.State = FlowStateReset
	case flags.FIN:
		if f.State == FlowStateClosing {
			f.State = FlowStateClosed
		} else {
			f.State = FlowStateClosing
		}
	case flags.SYN && flags.ACK:
		f.State = FlowStateOpen
	case flags.SYN:
		f.State = FlowStateNew
	}
}

// IsFromClient checks if a packet was sent by the flow initiator.
func (f *Flow) IsFromClient(pkt *Packet) bool {
	return pkt.SrcIP.Equal(f.FiveTuple.SrcIP) && pkt.SrcPort == f.FiveTuple.SrcPort
}

// Finished reports whether the flow has been reset or closed by both sides.
func (f *Flow) Finished() bool {
	return f.State == FlowStateReset || f.State == FlowStateClosed
}

// SetApplicationData attaches data to the slot id, releasing any previous value.
func (f *Flow) SetApplicationData(id ProtocolID, d FlowData) {
	if f.data == nil {
		f.data = make(map[ProtocolID]FlowData)
	}
	if old, ok := f.data[id]; ok && old != d {
		old.Release()
	}
	f.data[id] = d
}

// GetApplicationData returns the data attached to slot id, or nil.
func (f *Flow) GetApplicationData(id ProtocolID) FlowData {
	return f.data[id]
}

// FreeApplicationData releases and removes the data attached to slot id.
func (f *Flow) FreeApplicationData(id ProtocolID) {
	if d, ok := f.data[id]; ok {
		delete(f.data, id)
		d.Release()
	}
}

// release frees every attached slot.
func (f *Flow) release() {
	for id, d := range f.data {
		delete(f.data, id)
		d.Release()
	}
}

// FlowTable manages the flows owned by one worker. It is not safe for
// concurrent use.
type FlowTable struct {
	flows  map[FlowKey]*Flow
	nextID uint64
}

// NewFlowTable creates a new flow table.
func NewFlowTable() *FlowTable {
	return &FlowTable{
		flows:  make(map[FlowKey]*Flow),
		nextID: 1,
	}
}

// GetOrCreate gets an existing flow or creates a new one.
func (ft *FlowTable) GetOrCreate(pkt *Packet) *Flow {
	key := pkt.FlowKey()
	if flow, ok := ft.flows[key]; ok {
		return flow
	}

	flow := NewFlow(ft.nextID, pkt)
	ft.nextID++
	ft.flows[key] = flow
	return flow
}

// Get retrieves a flow by its key.
func (ft *FlowTable) Get(key FlowKey) *Flow {
	return ft.flows[key]
}

// Release tears a flow down and frees its attached data.
func (ft *FlowTable) Release(flow *Flow) {
	if cur, ok := ft.flows[flow.Key]; ok && cur == flow {
		delete(ft.flows, flow.Key)
	}
	flow.release()
}

// ExpireIdle releases every flow not seen since now-timeout and returns
// how many were removed.
func (ft *FlowTable) ExpireIdle(now time.Time, timeout time.Duration) int {
	n := 0
	for key, flow := range ft.flows {
		if now.Sub(flow.LastSeen) > timeout {
			delete(ft.flows, key)
			flow.release()
			n++
		}
	}
	return n
}

// Count returns the number of tracked flows.
func (ft *FlowTable) Count() int {
	return len(ft.flows)
}

// Clear releases all flows.
func (ft *FlowTable) Clear() {
	flows := ft.flows
	ft.flows = make(map[FlowKey]*Flow)
	for _, flow := range flows {
		flow.release()
	}
}
