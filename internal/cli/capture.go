package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopacket/gopacket/layers"
	"github.com/spf13/cobra"

	"github.com/wiretap/dnp3ips/internal/capture"
)

type liveCapture interface {
	SetHandler(capture.LivePacketHandler)
	Start(ctx context.Context) error
	Stop() error
	Done() <-chan struct{}
	Stats() capture.CaptureStats
	LinkType() layers.LinkType
}

var newLiveCapture = func(opts *capture.CaptureOptions) liveCapture {
	return capture.NewCapture(opts)
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Inspect live DNP3 traffic",
	Long: `Capture packets from an interface and inspect the DNP3 traffic.

The capture filter defaults to the configured DNP3 ports.

Examples:
  # Inspect traffic on the configured interface
  dnp3ips capture -r rules.yaml

  # Inspect traffic on a specific interface
  dnp3ips capture -i eth0 -r rules.yaml

  # Also save the inspected packets
  dnp3ips capture -i eth0 -r rules.yaml -w capture.pcap

  # Stop after 1000 packets and expose metrics
  dnp3ips capture -i eth0 -c 1000 --metrics-listen :9100`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().StringP("interface", "i", "", "network interface to capture from")
	captureCmd.Flags().StringP("filter", "f", "", "BPF filter expression (default: DNP3 ports)")
	captureCmd.Flags().StringP("write", "w", "", "write packets to file (pcap format)")
	captureCmd.Flags().IntP("count", "c", 0, "number of packets to capture (0 = unlimited)")
	captureCmd.Flags().IntP("snaplen", "s", 65535, "snapshot length (bytes per packet)")
	captureCmd.Flags().DurationP("timeout", "t", 0, "capture duration (0 = unlimited)")
	captureCmd.Flags().Bool("promisc", true, "enable promiscuous mode")
	captureCmd.Flags().Bool("stats", false, "show capture statistics on exit")
	addPipelineFlags(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	iface, _ := cmd.Flags().GetString("interface")
	bpfFilter, _ := cmd.Flags().GetString("filter")
	outputFile, _ := cmd.Flags().GetString("write")
	count, _ := cmd.Flags().GetInt("count")
	snaplen, _ := cmd.Flags().GetInt("snaplen")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	promisc, _ := cmd.Flags().GetBool("promisc")
	showStats, _ := cmd.Flags().GetBool("stats")

	// Apply config defaults when flags are not set
	cfg := GetConfig()
	if iface == "" && !cmd.Flags().Changed("interface") && cfg.Capture.Interface != "" {
		iface = cfg.Capture.Interface
	}
	if !cmd.Flags().Changed("snaplen") {
		snaplen = cfg.Capture.Snaplen
	}
	if !cmd.Flags().Changed("promisc") {
		promisc = cfg.Capture.Promiscuous
	}
	if bpfFilter == "" {
		bpfFilter = cfg.BPFFilter()
	}

	pcapTimeout := cfg.Capture.Timeout
	if pcapTimeout <= 0 {
		pcapTimeout = time.Second
	}

	// Allow interface to be passed as positional argument
	if iface == "" && len(args) > 0 {
		iface = args[0]
	}

	// If no interface specified, try to find one
	if iface == "" {
		interfaces, err := capture.ListInterfaces()
		if err != nil {
			return fmt.Errorf("failed to list interfaces: %w", err)
		}
		if len(interfaces) == 0 {
			return fmt.Errorf("no network interfaces found")
		}
		// Pick the first non-loopback interface
		for _, i := range interfaces {
			if i.Name != "lo" && i.Name != "lo0" {
				iface = i.Name
				break
			}
		}
		if iface == "" {
			iface = interfaces[0].Name
		}
	}

	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	opts := &capture.CaptureOptions{
		Interface:   iface,
		SnapLen:     int32(snaplen),
		Promiscuous: promisc,
		Timeout:     pcapTimeout, // pcap read timeout
		BPFFilter:   bpfFilter,
	}
	cap := newLiveCapture(opts)

	// The engine outlives the capture context so queued packets drain on Close.
	p, err := newPipeline(context.Background(), cmd, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// Set up timeout if specified
	if timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, timeout)
		defer timeoutCancel()
	}

	// The writer is opened on the first packet, once the link type is known.
	var writer *capture.PcapWriter
	var writerErr error
	if outputFile != "" {
		defer func() {
			if writer != nil {
				writer.Close()
			}
		}()
	}

	packetCount := 0
	startTime := time.Now()

	logger.Info().
		Str("interface", iface).
		Str("filter", bpfFilter).
		Str("write", outputFile).
		Msg("capture started")
	fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop")

	cap.SetHandler(func(d *capture.Decoded) {
		packetCount++

		if outputFile != "" && writer == nil && writerErr == nil {
			writer, writerErr = openPcapWriter(outputFile, cap.LinkType())
			if writerErr != nil {
				logger.Error().Err(writerErr).Str("file", outputFile).Msg("failed to create pcap writer")
			}
		}
		if writer != nil {
			if err := writer.WritePacket(d.Info, d.Data); err != nil {
				logger.Error().Err(err).Msg("failed to write packet")
			}
		}

		if err := p.engine.Submit(ctx, d); err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				logger.Error().Err(err).Msg("inspection failed")
			}
			cancel()
			return
		}

		// Check if we've reached the packet limit
		if count > 0 && packetCount >= count {
			cancel()
		}
	})

	if err := cap.Start(ctx); err != nil {
		return fmt.Errorf("capture error: %w", err)
	}

	select {
	case <-sigChan:
		logger.Info().Msg("stopping capture")
		cancel()
	case <-cap.Done():
		logger.Warn().Str("interface", iface).Msg("capture ended")
	case <-ctx.Done():
		// Timeout or packet limit reached
	}

	// Wait for capture to finish
	cap.Stop()

	if err := p.Close(); err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}

	out := cmd.ErrOrStderr()
	printSummary(out, p.engine.Stats(), time.Since(startTime))
	if writer != nil {
		fmt.Fprintf(out, "  Written: %d packets to %s\n", writer.Count(), outputFile)
	}

	if showStats {
		stats := cap.Stats()
		fmt.Fprintf(out, "  Received: %d\n", stats.PacketsReceived)
		fmt.Fprintf(out, "  Dropped: %d\n", stats.PacketsDropped)
		fmt.Fprintf(out, "  Interface drops: %d\n", stats.PacketsIfDropped)
	}

	return nil
}

func openPcapWriter(path string, linkType layers.LinkType) (*capture.PcapWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	writer, err := capture.NewPcapWriter(file, linkType)
	if err != nil {
		file.Close()
		return nil, err
	}
	return writer, nil
}
