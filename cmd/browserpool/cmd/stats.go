package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/use-agent/browserpool/config"
	"github.com/use-agent/browserpool/manager"
	"github.com/use-agent/browserpool/models"
)

var statsSize int

// statsCmd represents the stats command.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Launch a pool, print its statistics as JSON, and shut it down",
	Long: `Launch a browser pool with the current configuration, print its statistics as
JSON on stdout and close every browser. Useful to verify that Chromium starts in the
target environment.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if statsSize > 0 {
			cfg.Pool.MaxSize = statsSize
		}
		initLogger(cfg.Log, os.Stderr)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		mgr := manager.New(cfg)
		defer mgr.CloseAll()

		stats, err := mgr.Stats(ctx)
		if err != nil {
			return fmt.Errorf("collect pool stats: %w", err)
		}
		return writeStats(cmd.OutOrStdout(), stats)
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsSize, "size", 0, "override the pool size")
	rootCmd.AddCommand(statsCmd)
}

func writeStats(w io.Writer, stats models.PoolStats) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
