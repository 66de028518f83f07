package dnp3

import "errors"

// Transport header bits.
const (
	transportFIN     = 0x80
	transportFIR     = 0x40
	transportSeqMask = 0x3F
)

// Reassembly errors. None of them is fatal: the record is left in a
// consistent state and the caller reports the condition as an anomaly.
var (
	ErrShortSegment   = errors.New("empty transport segment")
	ErrDroppedSegment = errors.New("transport segment dropped during reassembly")
	ErrBufferOverflow = errors.New("reassembly buffer overflow")
)

// State is the completion state of a reassembly record.
type State uint8

// Reassembly states.
const (
	StateEmpty State = iota
	StateAccumulating
	StateComplete
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Record reassembles the application fragment of one direction.
//
// The buffer is only meaningful while the state is StateComplete; it holds
// the last fully reassembled fragment until the next one begins.
type Record struct {
	state   State
	buf     []byte
	lastSeq uint8
	maxSize int
}

// NewRecord creates an empty record bounded to maxSize bytes. A maxSize of
// zero or less selects DefaultMaxBufferSize.
func NewRecord(maxSize int) *Record {
	r := &Record{}
	r.init(maxSize)
	return r
}

func (r *Record) init(maxSize int) {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	r.maxSize = maxSize
}

// State returns the completion state.
func (r *Record) State() State {
	return r.state
}

// Len returns the number of buffered application bytes.
func (r *Record) Len() int {
	return len(r.buf)
}

// MaxSize returns the configured buffer bound.
func (r *Record) MaxSize() int {
	return r.maxSize
}

// Bytes returns the reassembled fragment, or nil unless the record is complete.
func (r *Record) Bytes() []byte {
	if r.state != StateComplete {
		return nil
	}
	return r.buf
}

// Reset clears the buffer and returns the record to StateEmpty.
func (r *Record) Reset() {
	r.buf = r.buf[:0]
	r.state = StateEmpty
	r.lastSeq = 0
}

// release drops the buffer memory.
func (r *Record) release() {
	r.buf = nil
	r.state = StateEmpty
	r.lastSeq = 0
}

// Ingest merges one transport segment (header octet plus application bytes)
// into the record. done is true when the segment completed a fragment.
func (r *Record) Ingest(segment []byte) (done bool, err error) {
	if len(segment) < 1 {
		return false, ErrShortSegment
	}

	hdr := segment[0]
	fir := hdr&transportFIR != 0
	fin := hdr&transportFIN != 0
	seq := hdr & transportSeqMask
	data := segment[1:]

	if r.state == StateComplete {
		// Retransmission of the final segment keeps the fragment.
		if !fir && seq == r.lastSeq {
			return false, nil
		}
		r.Reset()
	}

	switch r.state {
	case StateEmpty:
		if !fir {
			return false, ErrDroppedSegment
		}
		return r.begin(seq, fin, data)

	case StateAccumulating:
		if fir {
			// A new fragment starts; the partial one is lost.
			r.Reset()
			if _, err := r.begin(seq, fin, data); err != nil {
				return false, err
			}
			return r.state == StateComplete, ErrDroppedSegment
		}
		if seq == r.lastSeq {
			return false, nil
		}
		if seq != (r.lastSeq+1)&transportSeqMask {
			r.Reset()
			return false, ErrDroppedSegment
		}
		return r.appendData(seq, fin, data)
	}

	return false, nil
}

func (r *Record) begin(seq uint8, fin bool, data []byte) (bool, error) {
	r.buf = r.buf[:0]
	r.state = StateAccumulating
	return r.appendData(seq, fin, data)
}

func (r *Record) appendData(seq uint8, fin bool, data []byte) (bool, error) {
	if len(r.buf)+len(data) > r.maxSize {
		r.Reset()
		return false, ErrBufferOverflow
	}
	r.buf = append(r.buf, data...)
	r.lastSeq = seq
	if fin {
		r.state = StateComplete
		return true, nil
	}
	return false, nil
}
