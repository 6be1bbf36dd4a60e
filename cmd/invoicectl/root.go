package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-approval/internal/config"
	"github.com/garyjia/invoice-approval/internal/container"
	"github.com/garyjia/invoice-approval/pkg/utils"
)

var (
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "invoicectl",
	Short: "Operate the invoice approval service",
	Long:  "Inspect stored invoices and approvals, export them to a spreadsheet, validate policy files and maintain the database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Read(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		// command output goes to stdout, logs to stderr
		logCfg := cfg.Logger.ToUtils()
		if logCfg.OutputPath == "" || logCfg.OutputPath == "stdout" {
			logCfg.OutputPath = "stderr"
		}
		if logCfg.Level == "info" {
			logCfg.Level = "warn"
		}
		l, err := utils.NewLogger(logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to the configuration file")
}

// openStorage starts a container with only the database and invoice service
func openStorage(ctx context.Context) (*container.Container, error) {
	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := c.StartStorage(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
