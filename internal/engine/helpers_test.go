package engine

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/wiretap/dnp3ips/internal/capture"
	"github.com/wiretap/dnp3ips/internal/dnp3"
)

var (
	masterIP     = net.IP{10, 0, 0, 10}
	outstationIP = net.IP{10, 0, 0, 20}
)

const (
	masterPort         = 40001
	ctrlMasterData     = 0xC4
	ctrlOutstationData = 0x44
)

var base = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

// collectSink records alerts.
type collectSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *collectSink) WriteAlert(a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *collectSink) all() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

func (s *collectSink) count(gid, sid uint32) int {
	n := 0
	for _, a := range s.all() {
		if a.GID == gid && a.SID == sid {
			n++
		}
	}
	return n
}

// requestFrame wraps a single-segment request in a master link frame.
func requestFrame(app ...byte) []byte {
	return dnp3.BuildLinkFrame(ctrlMasterData, 10, 1, append([]byte{0xC0}, app...))
}

// responseFrame wraps a single-segment response in an outstation link frame.
func responseFrame(app ...byte) []byte {
	return dnp3.BuildLinkFrame(ctrlOutstationData, 1, 10, append([]byte{0xC0}, app...))
}

type tcpOpts struct {
	fromMaster bool
	port       uint16
	seq        uint32
	syn, ack   bool
	fin, rst   bool
}

func decode(t *testing.T, data []byte, ts time.Time) *capture.Decoded {
	t.Helper()
	gp := gopacket.NewPacket(data, layers.LinkTypeEthernet, gopacket.Default)
	gp.Metadata().Timestamp = ts
	gp.Metadata().CaptureLength = len(data)
	gp.Metadata().Length = len(data)
	return capture.ParsePacket(gp)
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

// endpoints returns the addresses for a packet. A zero port selects
// masterPort.
func endpoints(fromMaster bool, port uint16) (src, dst net.IP, sport, dport uint16) {
	if port == 0 {
		port = masterPort
	}
	if fromMaster {
		return masterIP, outstationIP, port, dnp3.DefaultPort
	}
	return outstationIP, masterIP, dnp3.DefaultPort, port
}

func tcpPacket(t *testing.T, o tcpOpts, payload []byte, ts time.Time) *capture.Decoded {
	t.Helper()
	src, dst, sport, dport := endpoints(o.fromMaster, o.port)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sport),
		DstPort: layers.TCPPort(dport),
		Seq:     o.seq,
		SYN:     o.syn,
		ACK:     o.ack,
		FIN:     o.fin,
		RST:     o.rst,
		PSH:     len(payload) > 0,
		Window:  8192,
	}
	tcp.SetNetworkLayerForChecksum(ip)
	return decode(t, serialize(t, eth, ip, tcp, gopacket.Payload(payload)), ts)
}

func udpPacket(t *testing.T, fromMaster bool, payload []byte, ts time.Time) *capture.Decoded {
	t.Helper()
	src, dst, sport, dport := endpoints(fromMaster, 0)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	udp.SetNetworkLayerForChecksum(ip)
	return decode(t, serialize(t, eth, ip, udp, gopacket.Payload(payload)), ts)
}

// tcpSession is a master/outstation connection with tracked sequence
// numbers.
type tcpSession struct {
	t         *testing.T
	port      uint16
	masterSeq uint32
	outSeq    uint32
	now       time.Time
}

func newTCPSession(t *testing.T) *tcpSession {
	return newTCPSessionOn(t, masterPort)
}

// newTCPSessionOn opens a session from the given master port.
func newTCPSessionOn(t *testing.T, port uint16) *tcpSession {
	return &tcpSession{t: t, port: port, masterSeq: 1000, outSeq: 5000, now: base}
}

func (s *tcpSession) tick() time.Time {
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

// handshake returns SYN, SYN-ACK and ACK.
func (s *tcpSession) handshake() []*capture.Decoded {
	pkts := []*capture.Decoded{
		tcpPacket(s.t, tcpOpts{fromMaster: true, port: s.port, seq: s.masterSeq, syn: true}, nil, s.tick()),
		tcpPacket(s.t, tcpOpts{port: s.port, seq: s.outSeq, syn: true, ack: true}, nil, s.tick()),
	}
	s.masterSeq++
	s.outSeq++
	pkts = append(pkts, tcpPacket(s.t, tcpOpts{fromMaster: true, port: s.port, seq: s.masterSeq, ack: true}, nil, s.tick()))
	return pkts
}

// data returns a data segment in the given direction.
func (s *tcpSession) data(fromMaster bool, payload []byte) *capture.Decoded {
	seq := &s.outSeq
	if fromMaster {
		seq = &s.masterSeq
	}
	d := tcpPacket(s.t, tcpOpts{fromMaster: fromMaster, port: s.port, seq: *seq, ack: true}, payload, s.tick())
	*seq += uint32(len(payload))
	return d
}

// reset returns an RST from the master.
func (s *tcpSession) reset() *capture.Decoded {
	return tcpPacket(s.t, tcpOpts{fromMaster: true, port: s.port, seq: s.masterSeq, rst: true}, nil, s.tick())
}
