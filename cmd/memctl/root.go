package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/memory"
)

var (
	// Global flags
	verbose    bool
	jsonOut    bool
	noColor    bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "Exercise and inspect the memkit allocator engine",
	Long: `memctl drives the memkit allocators from the command line: it runs
concurrent stress loads through the shared cache, replays scoped allocation
scenarios, and prints the effective cache configuration.`,
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			memory.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log allocator events to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().
		StringVarP(&configFile, "config", "c", "", "JSON cache configuration file")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves defaults, then the --config file, then MEMKIT_* variables.
func loadConfig() (memory.Config, error) {
	cfg := memory.DefaultConfig()
	if configFile != "" {
		fromFile, err := memory.LoadConfigFile(configFile)
		if err != nil {
			return memory.Config{}, fmt.Errorf("load %s: %w", configFile, err)
		}
		cfg = fromFile
	}
	return memory.ConfigFromEnv(cfg)
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
