package dnp3

import (
	"net"
	"time"

	"github.com/wiretap/dnp3ips/internal/model"
)

const (
	ctrlMasterUserData  = 0xC4 // DIR | PRM | unconfirmed user data
	ctrlOutstationData  = 0x44 // PRM | unconfirmed user data
	ctrlMasterResetLink = 0xC0
)

// segment builds a transport segment.
func segment(fir, fin bool, seq uint8, data ...byte) []byte {
	hdr := seq & transportSeqMask
	if fir {
		hdr |= transportFIR
	}
	if fin {
		hdr |= transportFIN
	}
	return append([]byte{hdr}, data...)
}

// masterFrame wraps a single-segment request fragment in a link frame.
func masterFrame(app ...byte) []byte {
	return BuildLinkFrame(ctrlMasterUserData, 10, 1, segment(true, true, 0, app...))
}

// outstationFrame wraps a single-segment response fragment in a link frame.
func outstationFrame(app ...byte) []byte {
	return BuildLinkFrame(ctrlOutstationData, 1, 10, segment(true, true, 0, app...))
}

func testFlow() *model.Flow {
	pkt := &model.Packet{
		Timestamp: time.Now(),
		SrcIP:     net.ParseIP("10.0.0.10"),
		DstIP:     net.ParseIP("10.0.0.20"),
		SrcPort:   40001,
		DstPort:   DefaultPort,
		Protocol:  model.ProtocolTCP,
	}
	return model.NewFlow(1, pkt)
}
