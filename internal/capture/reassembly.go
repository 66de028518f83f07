package capture

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/tcpassembly"

	"github.com/wiretap/dnp3ips/internal/model"
)

// StreamKey identifies one direction of a TCP connection.
type StreamKey struct {
	Net       gopacket.Flow
	Transport gopacket.Flow
}

// FiveTuple returns the tuple of the direction the key describes.
func (k StreamKey) FiveTuple() model.FiveTuple {
	src, dst := k.Transport.Endpoints()
	return model.FiveTuple{
		SrcIP:    net.IP(k.Net.Src().Raw()),
		DstIP:    net.IP(k.Net.Dst().Raw()),
		SrcPort:  port(src),
		DstPort:  port(dst),
		Protocol: model.ProtocolTCP,
	}
}

// String returns a readable form of the key.
func (k StreamKey) String() string {
	return k.Net.String() + ":" + k.Transport.String()
}

func port(e gopacket.Endpoint) uint16 {
	raw := e.Raw()
	if len(raw) != 2 {
		return 0
	}
	return binary.BigEndian.Uint16(raw)
}

// StreamConsumer receives the in-order bytes of one stream direction.
// All calls happen on the goroutine driving the Assembler.
type StreamConsumer interface {
	// Data delivers contiguous stream bytes.
	Data(data []byte, seen time.Time)
	// Lost reports a gap; n is -1 when the stream start was not seen.
	Lost(n int, seen time.Time)
	// Close is called once the stream has ended or been flushed.
	Close()
}

// StreamHandler returns the consumer for a newly seen stream direction.
type StreamHandler func(key StreamKey) StreamConsumer

// StreamFactory creates TCP streams for the assembler.
type StreamFactory struct {
	handler StreamHandler
	open    int
}

// NewStreamFactory creates a new stream factory.
func NewStreamFactory(handler StreamHandler) *StreamFactory {
	return &StreamFactory{handler: handler}
}

// New creates a new stream for the assembler.
func (f *StreamFactory) New(netFlow, transFlow gopacket.Flow) tcpassembly.Stream {
	key := StreamKey{Net: netFlow, Transport: transFlow}
	f.open++
	return &tcpStream{
		key:      key,
		factory:  f,
		consumer: f.handler(key),
	}
}

// Open returns the number of streams not yet completed.
func (f *StreamFactory) Open() int {
	return f.open
}

// tcpStream adapts a StreamConsumer to tcpassembly.Stream.
type tcpStream struct {
	key      StreamKey
	factory  *StreamFactory
	consumer StreamConsumer
	bytes    int64
}

// Reassembled implements tcpassembly.Stream.
func (s *tcpStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if r.Skip != 0 {
			s.consumer.Lost(r.Skip, r.Seen)
		}
		if len(r.Bytes) > 0 {
			s.bytes += int64(len(r.Bytes))
			s.consumer.Data(r.Bytes, r.Seen)
		}
	}
}

// ReassemblyComplete implements tcpassembly.Stream.
func (s *tcpStream) ReassemblyComplete() {
	s.factory.open--
	s.consumer.Close()
}

// AssemblerOptions bounds the out-of-order data held by an Assembler.
type AssemblerOptions struct {
	MaxBufferedPagesTotal         int
	MaxBufferedPagesPerConnection int
}

// DefaultAssemblerOptions returns the default reassembly limits.
func DefaultAssemblerOptions() AssemblerOptions {
	return AssemblerOptions{
		MaxBufferedPagesTotal:         4096,
		MaxBufferedPagesPerConnection: 64,
	}
}

// Assembler wraps tcpassembly.Assembler. It is not safe for concurrent use;
// each worker owns one.
type Assembler struct {
	factory   *StreamFactory
	assembler *tcpassembly.Assembler
	pool      *tcpassembly.StreamPool
}

// NewAssembler creates a new TCP assembler delivering to handler.
func NewAssembler(handler StreamHandler, opts AssemblerOptions) *Assembler {
	factory := NewStreamFactory(handler)
	pool := tcpassembly.NewStreamPool(factory)
	assembler := tcpassembly.NewAssembler(pool)
	assembler.MaxBufferedPagesTotal = opts.MaxBufferedPagesTotal
	assembler.MaxBufferedPagesPerConnection = opts.MaxBufferedPagesPerConnection

	return &Assembler{
		factory:   factory,
		assembler: assembler,
		pool:      pool,
	}
}

// Assemble adds a TCP segment to the assembler. Consumers are invoked
// synchronously.
func (a *Assembler) Assemble(netFlow gopacket.Flow, tcp *layers.TCP, ts time.Time) {
	a.assembler.AssembleWithTimestamp(netFlow, tcp, ts)
}

// FlushOlderThan forces out buffered data of streams idle since t and
// closes them. It returns the number of streams closed.
func (a *Assembler) FlushOlderThan(t time.Time) int {
	_, closed := a.assembler.FlushOlderThan(t)
	return closed
}

// FlushBuffered forces out data buffered behind gaps since before t,
// skipping the missing bytes. Streams stay open.
func (a *Assembler) FlushBuffered(t time.Time) int {
	flushed, _ := a.assembler.FlushWithOptions(tcpassembly.FlushOptions{T: t})
	return flushed
}

// FlushAll delivers all buffered data and closes every stream.
func (a *Assembler) FlushAll() int {
	return a.assembler.FlushAll()
}

// OpenStreams returns the number of streams not yet completed.
func (a *Assembler) OpenStreams() int {
	return a.factory.Open()
}
