package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wiretap/dnp3ips/internal/capture"
)

var interfacesCmd = &cobra.Command{
	Use:     "interfaces",
	Aliases: []string{"if", "ifaces"},
	Short:   "List available network interfaces",
	Long: `List all network interfaces available for live inspection.

The configured capture interface is marked with '*'.

Examples:
  dnp3ips interfaces
  dnp3ips if --up`,
	RunE: runInterfaces,
}

func init() {
	interfacesCmd.Flags().BoolP("verbose", "V", false, "show interface flags")
	interfacesCmd.Flags().Bool("up", false, "show only interfaces that are up")
}

// interface flag bits reported by pcap
var interfaceFlagNames = []struct {
	bit  uint32
	name string
}{
	{0x1, "UP"},
	{0x2, "BROADCAST"},
	{0x8, "LOOPBACK"},
	{0x10, "P2P"},
	{0x40, "RUNNING"},
	{0x100, "PROMISC"},
	{0x1000, "MULTICAST"},
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	upOnly, _ := cmd.Flags().GetBool("up")
	out := cmd.OutOrStdout()

	interfaces, err := capture.ListInterfaces()
	if err != nil {
		return fmt.Errorf("failed to list interfaces: %w", err)
	}

	if len(interfaces) == 0 {
		fmt.Fprintln(out, "No network interfaces found")
		return nil
	}

	configured := GetConfig().Capture.Interface

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if verbose {
		fmt.Fprintln(w, "\tName\tDescription\tFlags\tAddresses")
	} else {
		fmt.Fprintln(w, "\tName\tDescription\tAddresses")
	}

	for _, iface := range interfaces {
		if upOnly && iface.Flags&0x1 == 0 {
			continue
		}
		fmt.Fprintln(w, interfaceRow(iface, iface.Name == configured, verbose))
	}

	return w.Flush()
}

// interfaceRow renders one tab-separated interface line.
func interfaceRow(iface capture.Interface, selected, verbose bool) string {
	mark := ""
	if selected {
		mark = "*"
	}
	desc := iface.Description
	if desc == "" {
		desc = "-"
	}
	addrs := make([]string, 0, len(iface.Addresses))
	for _, addr := range iface.Addresses {
		addrs = append(addrs, addr.IP)
	}
	addrList := strings.Join(addrs, ", ")
	if addrList == "" {
		addrList = "-"
	}

	cols := []string{mark, iface.Name, desc}
	if verbose {
		cols = append(cols, formatInterfaceFlags(iface.Flags))
	}
	cols = append(cols, addrList)
	return strings.Join(cols, "\t")
}

func formatInterfaceFlags(flags uint32) string {
	var parts []string
	for _, f := range interfaceFlagNames {
		if flags&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}
