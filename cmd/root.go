package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "secfin",
	Short: "SEC Financial Statement Data Sets pipeline",
	Long:  "Downloads the SEC's quarterly Financial Statement Data Sets, converts them to parquet tables and per-filing JSON documents, and loads the documents into Postgres.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
