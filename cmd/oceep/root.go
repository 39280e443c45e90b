package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MegaGrindStone/oceep-web-ui/internal/config"
	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/spf13/cobra"
)

const errLoggerKey = "err"

var configDir string

var rootCmd = &cobra.Command{
	Use:   "oceep",
	Short: "Chat with your configured model from the terminal",
	Long: `oceep talks to the same provider and chat store as the web UI.

Examples:
  oceep ask why is the sky blue
  oceep ask --new --smart "prove that sqrt(2) is irrational"
  oceep ask --search what happened in tech news today
  oceep sessions
  oceep imagine -o cat.png a cat wearing a tiny hat`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding config.yaml (default is the user config dir)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(imagineCmd)
}

// app is what every command needs: the loaded config and the chat library backed by the store.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   config.Store
	library *conversation.Library
}

func openApp(ctx context.Context) (*app, error) {
	dir := configDir
	if dir == "" {
		d, err := config.Dir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger(os.Stderr)

	store, err := cfg.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("error opening store: %w", err)
	}

	library, err := conversation.Open(ctx, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("error loading chats: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		library: library,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store", slog.String(errLoggerKey, err.Error()))
	}
}
