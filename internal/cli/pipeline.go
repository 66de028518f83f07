package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wiretap/dnp3ips/internal/detection"
	"github.com/wiretap/dnp3ips/internal/engine"
	"github.com/wiretap/dnp3ips/internal/metrics"
)

// addPipelineFlags registers the inspection flags shared by read and capture.
func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("rules", "r", nil, "rule files to load (default from config)")
	cmd.Flags().String("format", "", "alert format: json, text (default from config)")
	cmd.Flags().StringP("output", "o", "", "write alerts to file instead of stdout")
	cmd.Flags().Int("workers", 0, "number of flow workers (0 = from config)")
	cmd.Flags().String("metrics-listen", "", "serve Prometheus metrics on this address")
}

// pipeline is a running engine with its alert sink and metrics endpoint.
type pipeline struct {
	engine  *engine.Engine
	metrics *metrics.Metrics
	rules   *detection.RuleSet

	cancel  context.CancelFunc
	closers []func() error
	once    sync.Once
	err     error
}

// newPipeline resolves flags against the configuration and starts an engine.
func newPipeline(ctx context.Context, cmd *cobra.Command, logger zerolog.Logger) (*pipeline, error) {
	cfg := GetConfig()
	flags := cmd.Flags()

	files := cfg.Rules.Files
	if flags.Changed("rules") {
		files, _ = flags.GetStringSlice("rules")
	}
	format := cfg.Output.Format
	if flags.Changed("format") {
		format, _ = flags.GetString("format")
	}
	output := cfg.Output.File
	if flags.Changed("output") {
		output, _ = flags.GetString("output")
	}
	listen := cfg.Metrics.Listen
	if flags.Changed("metrics-listen") {
		listen, _ = flags.GetString("metrics-listen")
	}

	var rules *detection.RuleSet
	if len(files) > 0 {
		rs, err := detection.LoadRules(files...)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		rules = rs
		logger.Info().
			Int("rules", rs.Len()).
			Int("options", len(rs.Options())).
			Strs("files", files).
			Msg("rules loaded")
	} else {
		logger.Warn().Msg("no rule files configured, only anomalies will be reported")
	}

	p := &pipeline{rules: rules}

	var out io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return nil, fmt.Errorf("failed to create alert file: %w", err)
		}
		p.closers = append(p.closers, f.Close)
		out = f
	}

	sink, err := engine.NewSink(format, out)
	if err != nil {
		p.runClosers()
		return nil, err
	}

	opts := engine.OptionsFromConfig(cfg)
	if flags.Changed("workers") {
		opts.Workers, _ = flags.GetInt("workers")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.metrics = metrics.New()
	if listen != "" {
		go func() {
			if err := p.metrics.Serve(ctx, listen, logger); err != nil {
				logger.Error().Err(err).Str("addr", listen).Msg("metrics server failed")
			}
		}()
	}

	p.engine = engine.New(opts, rules, sink, p.metrics, logger)
	if err := p.engine.Start(ctx); err != nil {
		p.cancel()
		p.runClosers()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return p, nil
}

// Close stops the engine, flushing every flow, and releases the outputs.
// It is safe to call more than once.
func (p *pipeline) Close() error {
	p.once.Do(func() {
		p.err = p.engine.Close()
		p.cancel()
		if err := p.runClosers(); err != nil && p.err == nil {
			p.err = err
		}
	})
	return p.err
}

func (p *pipeline) runClosers() error {
	var first error
	for _, fn := range p.closers {
		if err := fn(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}

// printSummary writes the engine totals.
func printSummary(w io.Writer, stats engine.Stats, elapsed time.Duration) {
	fmt.Fprintf(w, "\nInspection complete:\n")
	fmt.Fprintf(w, "  Packets: %d (%d outside DNP3 ports)\n", stats.Packets, stats.Ignored)
	fmt.Fprintf(w, "  Link frames: %d\n", stats.Frames)
	fmt.Fprintf(w, "  Fragments: %d\n", stats.Fragments)
	fmt.Fprintf(w, "  Alerts: %d (%d anomalies)\n", stats.Alerts, stats.Anomalies)
	fmt.Fprintf(w, "  Duration: %s\n", elapsed.Round(time.Millisecond))
	if stats.Packets > 0 && elapsed > 0 {
		fmt.Fprintf(w, "  Rate: %.2f packets/sec\n", float64(stats.Packets)/elapsed.Seconds())
	}
}
