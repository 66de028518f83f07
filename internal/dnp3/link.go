package dnp3

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Link-layer framing constants.
const (
	startByte1 = 0x05
	startByte2 = 0x64

	// LinkHeaderSize covers start, length, control, addresses and header CRC.
	LinkHeaderSize = 10
	// MinLinkLength is the LEN value of a frame with no user data.
	MinLinkLength = 5
	// MaxFrameSize is the largest possible frame on the wire.
	MaxFrameSize = 292

	crcSize   = 2
	blockSize = 16
)

// Link control field bits.
const (
	linkPrimary  = 0x40
	linkFunction = 0x0F
)

// Link function codes used by the inspector.
const (
	LinkConfirmedUserData   = 0x03
	LinkUnconfirmedUserData = 0x04
)

// Reserved address range.
const (
	reservedAddrMin = 0xFFF0
	reservedAddrMax = 0xFFFB
)

// Link-layer errors.
var (
	ErrNotDNP3       = errors.New("missing dnp3 start bytes")
	ErrFrameTooShort = errors.New("dnp3 frame truncated")
	ErrBadLength     = errors.New("dnp3 link length below minimum")
	ErrBadCRC        = errors.New("dnp3 crc mismatch")
)

// LinkHeader is the decoded fixed link-layer header.
type LinkHeader struct {
	Length      uint8
	Control     uint8
	Destination uint16
	Source      uint16
}

// Primary reports whether the frame was sent by the primary station.
func (h LinkHeader) Primary() bool { return h.Control&linkPrimary != 0 }

// Function returns the link function code.
func (h LinkHeader) Function() uint8 { return h.Control & linkFunction }

// UserData reports whether the frame carries transport data.
func (h LinkHeader) UserData() bool {
	if !h.Primary() {
		return false
	}
	fn := h.Function()
	return (fn == LinkConfirmedUserData || fn == LinkUnconfirmedUserData) && h.Length > MinLinkLength
}

// ReservedFunction reports a link function code with no defined meaning.
func (h LinkHeader) ReservedFunction() bool {
	fn := h.Function()
	if h.Primary() {
		return (fn >= 0x05 && fn <= 0x08) || fn >= 0x0A
	}
	return (fn >= 0x02 && fn <= 0x0A) || (fn >= 0x0C && fn <= 0x0E)
}

// ReservedAddress reports a source or destination in the reserved range.
func (h LinkHeader) ReservedAddress() bool {
	return isReservedAddr(h.Destination) || isReservedAddr(h.Source)
}

func isReservedAddr(a uint16) bool {
	return a >= reservedAddrMin && a <= reservedAddrMax
}

// FrameSize returns the on-wire size of a frame whose LEN field is length.
// Frames with an invalid length occupy only their header.
func FrameSize(length uint8) int {
	if length < MinLinkLength {
		return LinkHeaderSize
	}
	user := int(length) - MinLinkLength
	blocks := (user + blockSize - 1) / blockSize
	return LinkHeaderSize + user + blocks*crcSize
}

// ParseLinkHeader decodes the fixed header at the start of data.
func ParseLinkHeader(data []byte) (LinkHeader, error) {
	if len(data) < 2 || data[0] != startByte1 || data[1] != startByte2 {
		return LinkHeader{}, ErrNotDNP3
	}
	if len(data) < LinkHeaderSize {
		return LinkHeader{}, ErrFrameTooShort
	}
	return LinkHeader{
		Length:      data[2],
		Control:     data[3],
		Destination: binary.LittleEndian.Uint16(data[4:6]),
		Source:      binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

// LinkFrame is a deframed link-layer frame.
type LinkFrame struct {
	Header LinkHeader
	// Segment is the user data with block CRCs removed: one transport
	// header octet followed by application bytes.
	Segment []byte
}

// ParseLinkFrame decodes a single frame. When verify is set the header and
// every data block CRC must match. A header that decodes but fails a later
// check is still returned alongside the error.
func ParseLinkFrame(data []byte, verify bool) (LinkFrame, error) {
	hdr, err := ParseLinkHeader(data)
	if err != nil {
		return LinkFrame{}, err
	}
	frame := LinkFrame{Header: hdr}

	if hdr.Length < MinLinkLength {
		return frame, ErrBadLength
	}
	if verify && !checkCRC(data[:8], data[8:LinkHeaderSize]) {
		return frame, fmt.Errorf("link header: %w", ErrBadCRC)
	}

	size := FrameSize(hdr.Length)
	if len(data) < size {
		return frame, ErrFrameTooShort
	}

	user := int(hdr.Length) - MinLinkLength
	segment := make([]byte, 0, user)
	body := data[LinkHeaderSize:size]
	for len(body) > 0 {
		n := min(blockSize, len(body)-crcSize)
		block := body[:n]
		if verify && !checkCRC(block, body[n:n+crcSize]) {
			return frame, fmt.Errorf("data block %d: %w", len(segment)/blockSize, ErrBadCRC)
		}
		segment = append(segment, block...)
		body = body[n+crcSize:]
	}
	frame.Segment = segment
	return frame, nil
}
