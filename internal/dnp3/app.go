package dnp3

import (
	"encoding/binary"
	"fmt"
)

// Application control bits.
const (
	appFIR     = 0x80
	appFIN     = 0x40
	appCON     = 0x20
	appUNS     = 0x10
	appSeqMask = 0x0F
)

// FunctionCode is an application-layer function code.
type FunctionCode uint8

// Function codes named by the inspector.
const (
	FuncConfirm           FunctionCode = 0x00
	FuncRead              FunctionCode = 0x01
	FuncWrite             FunctionCode = 0x02
	FuncSelect            FunctionCode = 0x03
	FuncOperate           FunctionCode = 0x04
	FuncDirectOperate     FunctionCode = 0x05
	FuncDirectOperateNR   FunctionCode = 0x06
	FuncColdRestart       FunctionCode = 0x0D
	FuncWarmRestart       FunctionCode = 0x0E
	FuncEnableUnsolicited FunctionCode = 0x14
	FuncDisableUnsolicit  FunctionCode = 0x15
	FuncAuthRequestNR     FunctionCode = 0x21
	FuncResponse          FunctionCode = 0x81
	FuncUnsolicited       FunctionCode = 0x82
	FuncAuthResponse      FunctionCode = 0x83
)

var functionNames = map[FunctionCode]string{
	FuncConfirm:           "confirm",
	FuncRead:              "read",
	FuncWrite:             "write",
	FuncSelect:            "select",
	FuncOperate:           "operate",
	FuncDirectOperate:     "direct_operate",
	FuncDirectOperateNR:   "direct_operate_nr",
	FuncColdRestart:       "cold_restart",
	FuncWarmRestart:       "warm_restart",
	FuncEnableUnsolicited: "enable_unsolicited",
	FuncDisableUnsolicit:  "disable_unsolicited",
	FuncAuthRequestNR:     "authenticate_req_nr",
	FuncResponse:          "response",
	FuncUnsolicited:       "unsolicited_response",
	FuncAuthResponse:      "authenticate_resp",
}

// String returns the function name or its hex value.
func (f FunctionCode) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(f))
}

// Reserved reports a function code with no assigned meaning.
func (f FunctionCode) Reserved() bool {
	return (f > FuncAuthRequestNR && f < FuncResponse) || f > FuncAuthResponse
}

// AppHeader is the decoded application request or response header.
type AppHeader struct {
	Control  uint8
	Function FunctionCode
	// IIN holds the internal indications of a response.
	IIN uint16
}

// FIR reports the first-fragment bit.
func (h AppHeader) FIR() bool { return h.Control&appFIR != 0 }

// FIN reports the final-fragment bit.
func (h AppHeader) FIN() bool { return h.Control&appFIN != 0 }

// CON reports the confirm-requested bit.
func (h AppHeader) CON() bool { return h.Control&appCON != 0 }

// UNS reports the unsolicited bit.
func (h AppHeader) UNS() bool { return h.Control&appUNS != 0 }

// Seq returns the application sequence number.
func (h AppHeader) Seq() uint8 { return h.Control & appSeqMask }

// ParseAppHeader decodes the header of a reassembled fragment for d.
func ParseAppHeader(buf []byte, d Direction) (AppHeader, bool) {
	if len(buf) < d.HeaderSize() {
		return AppHeader{}, false
	}
	hdr := AppHeader{Control: buf[0], Function: FunctionCode(buf[1])}
	if d == DirectionServer {
		hdr.IIN = binary.BigEndian.Uint16(buf[2:4])
	}
	return hdr, true
}
