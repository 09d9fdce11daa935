package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrbridge/pkg/config"
)

// appContext is the configuration state shared by every command.
type appContext struct {
	store  *config.Store
	cfg    *config.Config
	logger *logrus.Logger
}

// loadApp resolves the config file, loads it and configures the logger.
func loadApp(cmd *cobra.Command) (*appContext, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	store := config.NewStore(path)
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger.WithField("path", path).Debug("Loaded config")

	return &appContext{store: store, cfg: cfg, logger: logger}, nil
}

// signalContext derives a context from the command's that is cancelled on Ctrl+C.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
