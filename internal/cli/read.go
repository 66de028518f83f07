package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wiretap/dnp3ips/internal/capture"
)

var readCmd = &cobra.Command{
	Use:   "read <file>",
	Short: "Inspect a pcap file",
	Long: `Read packets from a pcap or pcapng file and inspect the DNP3 traffic.

Alerts are written as JSON lines (or fast-alert text) to stdout or to
the file given with --output. A summary is printed to stderr.

Examples:
  # Inspect a pcap file
  dnp3ips read capture.pcap -r rules.yaml

  # Inspect only the first N packets
  dnp3ips read capture.pcap -r rules.yaml -c 100

  # Write text alerts to a file
  dnp3ips read capture.pcap -r rules.yaml --format text -o alerts.log`,
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

func init() {
	readCmd.Flags().IntP("count", "c", 0, "number of packets to inspect (0 = all)")
	readCmd.Flags().Bool("summary", true, "print inspection summary")
	addPipelineFlags(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	filename := args[0]

	count, _ := cmd.Flags().GetInt("count")
	showSummary, _ := cmd.Flags().GetBool("summary")

	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	reader, err := capture.OpenPcap(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(context.Background(), cmd, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	logger.Info().
		Str("file", filename).
		Str("link_type", reader.LinkType().String()).
		Bool("pcapng", reader.IsPcapng()).
		Msg("reading capture")

	startTime := time.Now()
	submitted := 0
	for count == 0 || submitted < count {
		d, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		if err := p.engine.Submit(ctx, d); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return fmt.Errorf("inspection failed: %w", err)
		}
		submitted++
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}

	if showSummary {
		fmt.Fprintf(cmd.ErrOrStderr(), "\nFile: %s\n", filename)
		printSummary(cmd.ErrOrStderr(), p.engine.Stats(), time.Since(startTime))
	}
	return nil
}
