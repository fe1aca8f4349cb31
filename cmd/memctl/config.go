package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/memory"
	"github.com/joshuapare/memkit/memory/cache"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective cache configuration",
		Long: `The config command resolves the cache configuration the same way the
other commands do: built-in defaults, then the --config file, then the
MEMKIT_CACHE_TTL_MS, MEMKIT_CACHE_LOST_WINDOW and MEMKIT_CLEANUP_THRESHOLD_BYTES
environment variables.

Example:
  memctl config
  memctl config --config cache.json --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig()
		},
	}
	return cmd
}

func runConfig() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(cfg)
	}

	source := "defaults"
	if configFile != "" {
		source = configFile
	}
	for _, env := range []string{memory.EnvCacheTTLMs, memory.EnvCacheLostWindow, memory.EnvCleanupThresholdBytes} {
		if _, ok := os.LookupEnv(env); ok {
			source += " + " + env
		}
	}

	renderReport("memctl config", []section{
		{
			title: "Cache",
			rows: []row{
				{"defaultMemCacheTtlMs", fmt.Sprintf("%d (%s)", cfg.DefaultMemCacheTTLMs, cfg.TTL())},
				{"cacheLostObserveWindowSize", fmt.Sprintf("%d", cfg.CacheLostObserveWindowSize)},
				{"cleanupThresholdBytes", fmt.Sprintf("%d (%s)", cfg.CleanupThresholdBytes, formatBytes(cfg.CleanupThresholdBytes))},
				{"size classes", cache.DefaultSizeClasses.Name},
				{"source", source},
			},
		},
	}, true)
	return nil
}
