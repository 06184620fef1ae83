// Package cmd holds the command tree: the root command serves the HTTP API,
// subcommands run a single fetch or reply from the terminal.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-assistant/config"
	"github.com/dhcgn/inbox-assistant/server"
)

// NewRootCommand builds the full command tree.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "inbox-assistant",
		Short:         "Serve the latest mailbox messages and draft replies with Gemini",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup(c)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()
			return runServe(c.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, fmt.Errorf("register flags: %w", err)
	}
	rootCmd.AddCommand(newFetchCommand(), newReplyCommand(), newCredentialsCommand())
	return rootCmd, nil
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	rootCmd, err := NewRootCommand()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if err := cfg.RequireMailbox(); err != nil {
		return err
	}
	if err := cfg.RequireGenerator(); err != nil {
		return err
	}

	coordinator, err := newCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	generator, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(coordinator, generator, server.Options{
		Credentials:    credentials(cfg),
		Folder:         cfg.Folder,
		DefaultWindow:  cfg.Window,
		MaxWindow:      cfg.MaxWindow,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	}, logger)

	logger.Info("starting inbox-assistant", "listen", cfg.Listen, "source", source(cfg), "folder", cfg.Folder, "model", cfg.GeminiModel)
	return srv.ListenAndServe(ctx, cfg.Listen)
}

// setup loads the configuration and installs the logger as the default.
func setup(c *cobra.Command) (config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.LoadConfig(c)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, cleanup, err := setupLogger(cfg, c.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, cleanup, nil
}

// setupLogger writes to w, which commands set to stderr.
func setupLogger(cfg config.Config, w io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("inbox-assistant-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(w, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(w, opts)
	return slog.New(handler), cleanup, nil
}
