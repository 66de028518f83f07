package cli

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/wiretap/dnp3ips/internal/capture"
	"github.com/wiretap/dnp3ips/internal/config"
	"github.com/wiretap/dnp3ips/internal/dnp3"
)

const testRules = `rules:
  - sid: 1000001
    msg: DNP3 class 0 read
    options:
      - "dnp3_obj: group 60, var 1;"
  - sid: 1000002
    msg: DNP3 analog input
    options:
      - "dnp3_obj: group 30, var 1;"
  - sid: 1000003
    rev: 2
    msg: DNP3 class 0 read again
    options:
      - "dnp3_obj: group 60, var 1;"
`

// useDefaultConfig installs a fresh default config for the test.
func useDefaultConfig(t *testing.T) *config.Config {
	t.Helper()
	orig := cfg
	t.Cleanup(func() { cfg = orig })
	cfg = config.DefaultConfig()
	cfg.Logging.Level = "error"
	return cfg
}

func writeRulesFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// buildClassReadPacket returns a master read request carried over UDP.
func buildClassReadPacket(t *testing.T) []byte {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("10.0.0.10"),
		DstIP:    net.ParseIP("10.0.0.20"),
	}
	udp := layers.UDP{SrcPort: 40001, DstPort: dnp3.DefaultPort}
	udp.SetNetworkLayerForChecksum(&ip)

	frame := dnp3.BuildLinkFrame(0xC4, 10, 1, []byte{0xC0, 0xC0, 0x01, 0x3C, 0x01, 0x06})

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload(frame)); err != nil {
		t.Fatalf("SerializeLayers failed: %v", err)
	}
	return buf.Bytes()
}

func decodeTestPacket(t *testing.T, data []byte) *capture.Decoded {
	t.Helper()
	gp := gopacket.NewPacket(data, layers.LinkTypeEthernet, gopacket.Default)
	gp.Metadata().Timestamp = time.Now()
	gp.Metadata().CaptureLength = len(data)
	gp.Metadata().Length = len(data)
	return capture.ParsePacket(gp)
}

func writeTestPcapFile(t *testing.T, path string, packets int) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}

	data := buildClassReadPacket(t)
	ts := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	for i := 0; i < packets; i++ {
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(data), Length: len(data)}
		if err := writer.WritePacket(ci, data); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
}
