package dnp3

import (
	"encoding/binary"
	"fmt"
)

// MaxSegmentSize is the largest transport segment one link frame can carry.
const MaxSegmentSize = 255 - MinLinkLength

// BuildLinkFrame encodes a link frame around a transport segment. It is the
// inverse of ParseLinkFrame with CRC verification, and is meant for
// synthesizing traffic to exercise rules and sessions.
//
// BuildLinkFrame panics if segment is longer than MaxSegmentSize.
func BuildLinkFrame(control uint8, dest, src uint16, segment []byte) []byte {
	if len(segment) > MaxSegmentSize {
		panic(fmt.Sprintf("dnp3: segment of %d bytes exceeds %d", len(segment), MaxSegmentSize))
	}

	length := uint8(len(segment) + MinLinkLength)
	out := make([]byte, 0, FrameSize(length))
	out = append(out, startByte1, startByte2, length, control)
	out = binary.LittleEndian.AppendUint16(out, dest)
	out = binary.LittleEndian.AppendUint16(out, src)
	out = AppendCRC(out, out[:8])

	for len(segment) > 0 {
		n := min(blockSize, len(segment))
		out = append(out, segment[:n]...)
		out = AppendCRC(out, segment[:n])
		segment = segment[n:]
	}
	return out
}
