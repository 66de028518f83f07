package cli

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/wiretap/dnp3ips/internal/capture"
)

func TestFormatInterfaceFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    uint32
		expected string
	}{
		{"No flags", 0, "-"},
		{"UP", 0x1, "UP"},
		{"UP|RUNNING", 0x41, "UP|RUNNING"},
		{"LOOPBACK", 0x8, "LOOPBACK"},
		{"UP|BROADCAST|MULTICAST", 0x1003, "UP|BROADCAST|MULTICAST"},
		{"All", 0x1 | 0x2 | 0x8 | 0x10 | 0x40 | 0x100 | 0x1000, "UP|BROADCAST|LOOPBACK|P2P|RUNNING|PROMISC|MULTICAST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := formatInterfaceFlags(tt.flags); result != tt.expected {
				t.Errorf("formatInterfaceFlags(%d) = %s, expected %s", tt.flags, result, tt.expected)
			}
		})
	}
}

func TestInterfaceRow(t *testing.T) {
	iface := capture.Interface{
		Name:  "eth0",
		Flags: 0x41,
		Addresses: []capture.InterfaceAddress{
			{IP: "10.0.0.10"},
			{IP: "fe80::1"},
		},
	}

	if got := interfaceRow(iface, true, false); got != "*\teth0\t-\t10.0.0.10, fe80::1" {
		t.Errorf("row = %q", got)
	}
	if got := interfaceRow(iface, false, true); got != "\teth0\t-\tUP|RUNNING\t10.0.0.10, fe80::1" {
		t.Errorf("verbose row = %q", got)
	}

	bare := capture.Interface{Name: "lo", Description: "loopback"}
	if got := interfaceRow(bare, false, false); !strings.HasSuffix(got, "loopback\t-") {
		t.Errorf("row = %q", got)
	}
}

func TestRunInterfaces_NoError(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().Bool("up", false, "")
	cmd.SetOut(&strings.Builder{})

	cmd.Flags().Set("verbose", "true")
	if err := runInterfaces(cmd, nil); err != nil {
		t.Fatalf("runInterfaces failed: %v", err)
	}
}
