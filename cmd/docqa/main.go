package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/docqa/backend/pkg/config"
	appLogger "github.com/docqa/backend/pkg/logger"
)

const uploadsPrefix = "/uploads"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:          "docqa",
		Short:        "Document question answering backend",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.AddCommand(serve, newIngestCmd())
	return root
}

// setup loads configuration and initializes the package logger.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
