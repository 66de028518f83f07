// Package capture provides pcap file reading functionality.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"
	"github.com/gopacket/gopacket/pcapgo"
)

// Common errors.
var (
	ErrInvalidPcapFile = errors.New("invalid pcap file")
	ErrNoReader        = errors.New("no reader available")
)

// PacketHandler is called for each packet read from a file.
type PacketHandler func(*Decoded) error

// PcapReader reads packets from pcap/pcapng files.
type PcapReader struct {
	path       string
	file       *os.File
	handle     *pcap.Handle
	ngReader   *pcapgo.NgReader
	pcapReader *pcapgo.Reader
	linkType   layers.LinkType
	isPcapng   bool
	count      uint64
}

// OpenPcap opens a pcap or pcapng file for reading.
func OpenPcap(path string) (*PcapReader, error) {
	// Check file exists
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("%w: path is a directory", ErrInvalidPcapFile)
	}

	// Determine format from extension
	ext := strings.ToLower(filepath.Ext(path))
	isPcapng := ext == ".pcapng"

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	reader := &PcapReader{
		path:     path,
		file:     file,
		isPcapng: isPcapng,
	}

	if isPcapng {
		ngReader, err := pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: %v", ErrInvalidPcapFile, err)
		}
		reader.ngReader = ngReader
		reader.linkType = ngReader.LinkType()
		return reader, nil
	}

	// Try gopacket pcap reader first (doesn't require libpcap for reading)
	pcapReader, err := pcapgo.NewReader(file)
	if err != nil {
		// Fall back to pcap handle
		file.Close()
		reader.file = nil
		handle, herr := pcap.OpenOffline(path)
		if herr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPcapFile, err)
		}
		reader.handle = handle
		reader.linkType = handle.LinkType()
		return reader, nil
	}
	reader.pcapReader = pcapReader
	reader.linkType = pcapReader.LinkType()
	return reader, nil
}

// LinkType returns the link type of the capture.
func (r *PcapReader) LinkType() layers.LinkType {
	return r.linkType
}

// Path returns the file path.
func (r *PcapReader) Path() string {
	return r.path
}

// IsPcapng returns true if the capture file is pcapng.
func (r *PcapReader) IsPcapng() bool {
	return r.isPcapng
}

// Count returns the number of packets read so far.
func (r *PcapReader) Count() uint64 {
	return r.count
}

// ReadPacket reads the next raw packet from the file.
func (r *PcapReader) ReadPacket() (gopacket.CaptureInfo, []byte, error) {
	if r.ngReader != nil {
		data, ci, err := r.ngReader.ReadPacketData()
		return ci, data, err
	}

	if r.pcapReader != nil {
		data, ci, err := r.pcapReader.ReadPacketData()
		return ci, data, err
	}

	if r.handle != nil {
		data, ci, err := r.handle.ReadPacketData()
		return ci, data, err
	}

	return gopacket.CaptureInfo{}, nil, ErrNoReader
}

// Next reads and decodes the next packet. It returns io.EOF at the end of
// the file.
func (r *PcapReader) Next() (*Decoded, error) {
	ci, data, err := r.ReadPacket()
	if err != nil {
		return nil, err
	}
	r.count++

	rawPacket := gopacket.NewPacket(data, r.linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	meta := rawPacket.Metadata()
	meta.CaptureInfo = ci

	d := ParsePacket(rawPacket)
	d.Packet.Index = r.count
	return d, nil
}

// ReadAll reads all packets from the file and calls the handler for each.
func (r *PcapReader) ReadAll(handler PacketHandler) error {
	for {
		d, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if handler != nil {
			if err := handler(d); err != nil {
				return err
			}
		}
	}
}

// Close closes the reader.
func (r *PcapReader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
