// Package cli provides the command-line interface for dnp3ips
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wiretap/dnp3ips/internal/config"
	"github.com/wiretap/dnp3ips/internal/logging"
)

var cfgFile string
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dnp3ips",
	Short: "A DNP3 object-header inspection engine",
	Long: `dnp3ips inspects DNP3 traffic over TCP and UDP.

It reassembles link frames and transport segments into application
fragments, raises protocol anomalies and evaluates dnp3_obj rules
against the object headers of every fragment.

Examples:
  # Inspect a pcap file with a rule file
  dnp3ips read capture.pcap -r rules.yaml

  # Inspect live traffic
  dnp3ips capture -i eth0 -r rules.yaml

  # Validate a rule file
  dnp3ips rules rules.yaml

  # Write a default config file
  dnp3ips config --init`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Add subcommands
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(interfacesCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/dnp3ips/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		cfg = config.DefaultConfig()
	}

	// Override with viper values
	if viper.IsSet("capture.snaplen") {
		cfg.Capture.Snaplen = viper.GetInt("capture.snaplen")
	}
	if viper.IsSet("capture.promisc") {
		cfg.Capture.Promiscuous = viper.GetBool("capture.promisc")
	}
	if viper.IsSet("capture.timeout") {
		cfg.Capture.Timeout = viper.GetDuration("capture.timeout")
	}
	if viper.IsSet("log_level") {
		cfg.Logging.Level = viper.GetString("log_level")
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return cfg
}

// newLogger builds the command logger from the logging configuration.
func newLogger() (zerolog.Logger, func() error, error) {
	logger, closeFn, err := logging.New(GetConfig().Logging)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return logger, closeFn, nil
}
