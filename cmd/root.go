package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/devcarbon/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "devcarbon",
	Short: "Carbon emission estimates for software development activity",
	Long:  "Estimates the energy and CO2e of commits, pull requests and CI runs using live grid intensity from ElectricityMaps, WattTime and Ember.",
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
