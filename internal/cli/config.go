package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/wiretap/dnp3ips/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or initialize configuration",
	Long: `View or initialize dnp3ips configuration.

Every key can also be set from the environment with the DNP3IPS_ prefix,
for example DNP3IPS_ENGINE_WORKERS=4.

Examples:
  # Print the resolved configuration
  dnp3ips config

  # Print the default config path
  dnp3ips config --path

  # Write a default config file
  dnp3ips config --init

  # Write a default config file to a custom path
  dnp3ips config --init --output ./config.yaml

  # Check a config file without printing it
  dnp3ips config --validate --config ./config.yaml`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().Bool("init", false, "write a default config file")
	configCmd.Flags().Bool("force", false, "overwrite existing config file when using --init")
	configCmd.Flags().Bool("path", false, "print the default config file path")
	configCmd.Flags().StringP("output", "o", "", "output path for --init (defaults to config path)")
	configCmd.Flags().Bool("validate", false, "load the config file strictly and report errors")
}

func runConfig(cmd *cobra.Command, args []string) error {
	showPath, _ := cmd.Flags().GetBool("path")
	initFile, _ := cmd.Flags().GetBool("init")
	force, _ := cmd.Flags().GetBool("force")
	output, _ := cmd.Flags().GetString("output")
	validate, _ := cmd.Flags().GetBool("validate")

	configPath := resolveConfigPath(output)
	if showPath {
		fmt.Fprintln(cmd.OutOrStdout(), configPath)
		return nil
	}

	if initFile {
		return writeDefaultConfig(configPath, force, cmd)
	}

	if validate {
		return validateConfig(configPath, cmd)
	}

	cfg := GetConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func resolveConfigPath(output string) string {
	if output != "" {
		return output
	}
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// validateConfig loads path without falling back to defaults.
func validateConfig(path string, cmd *cobra.Command) error {
	if _, err := config.LoadFromFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
	return nil
}

func writeDefaultConfig(path string, force bool, cmd *cobra.Command) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to check config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\n", path)
	return nil
}
