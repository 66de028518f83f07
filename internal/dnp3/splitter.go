package dnp3

import "bytes"

var startBytes = []byte{startByte1, startByte2}

// Splitter cuts complete link frames out of one direction of a TCP stream.
// Bytes that precede a start sequence are discarded.
type Splitter struct {
	buf     []byte
	skipped int
}

// Write appends stream bytes.
func (s *Splitter) Write(data []byte) {
	s.buf = append(s.buf, data...)
}

// Next returns a copy of the next complete frame.
func (s *Splitter) Next() ([]byte, bool) {
	s.sync()
	if len(s.buf) < 3 {
		return nil, false
	}
	size := FrameSize(s.buf[2])
	if len(s.buf) < size {
		return nil, false
	}
	frame := make([]byte, size)
	copy(frame, s.buf[:size])
	s.buf = append(s.buf[:0], s.buf[size:]...)
	return frame, true
}

// sync drops bytes before the first start sequence.
func (s *Splitter) sync() {
	i := bytes.Index(s.buf, startBytes)
	switch {
	case i == 0:
		return
	case i > 0:
		s.discard(i)
	case len(s.buf) > 0 && s.buf[len(s.buf)-1] == startByte1:
		s.discard(len(s.buf) - 1)
	default:
		s.discard(len(s.buf))
	}
}

func (s *Splitter) discard(n int) {
	s.skipped += n
	s.buf = append(s.buf[:0], s.buf[n:]...)
}

// Buffered returns the number of bytes waiting for a complete frame.
func (s *Splitter) Buffered() int {
	return len(s.buf)
}

// Skipped returns and resets the count of discarded bytes.
func (s *Splitter) Skipped() int {
	n := s.skipped
	s.skipped = 0
	return n
}

// Reset discards all buffered bytes.
func (s *Splitter) Reset() {
	s.buf = nil
	s.skipped = 0
}

// SplitDatagram returns the frames of a UDP datagram and the number of
// trailing or leading bytes that did not form a complete frame.
func SplitDatagram(data []byte) (frames [][]byte, dropped int) {
	var s Splitter
	s.Write(data)
	for {
		frame, ok := s.Next()
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	return frames, s.Skipped() + s.Buffered()
}
