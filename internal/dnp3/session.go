package dnp3

import "github.com/wiretap/dnp3ips/internal/model"

// Session is the DNP3 state attached to a flow.
type Session struct {
	// Direction of the most recently processed segment
	Direction Direction

	Client Record
	Server Record
}

// NewSession creates a session whose records are bounded to maxSize bytes.
func NewSession(maxSize int) *Session {
	s := &Session{}
	s.Client.init(maxSize)
	s.Server.init(maxSize)
	return s
}

// Record returns the reassembly record for d.
func (s *Session) Record(d Direction) *Record {
	if d == DirectionClient {
		return &s.Client
	}
	return &s.Server
}

// Current returns the record and header size of the active direction.
func (s *Session) Current() (*Record, int) {
	return s.Record(s.Direction), s.Direction.HeaderSize()
}

// Release frees both reassembly buffers.
func (s *Session) Release() {
	s.Client.release()
	s.Server.release()
}

// SessionFromFlow returns the DNP3 session attached to flow, or nil.
func SessionFromFlow(flow *model.Flow) *Session {
	if flow == nil {
		return nil
	}
	s, _ := flow.GetApplicationData(ProtocolID).(*Session)
	return s
}
