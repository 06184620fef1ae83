package cmd

import (
	"context"
	"log/slog"

	"github.com/dhcgn/inbox-assistant/config"
	"github.com/dhcgn/inbox-assistant/decoder"
	"github.com/dhcgn/inbox-assistant/fetch"
	"github.com/dhcgn/inbox-assistant/gemini"
	"github.com/dhcgn/inbox-assistant/imap"
	"github.com/dhcgn/inbox-assistant/mbox"
	"github.com/dhcgn/inbox-assistant/model"
)

func credentials(cfg config.Config) model.Credentials {
	return model.Credentials{Username: cfg.IMAPUser, Password: cfg.IMAPPass}
}

func source(cfg config.Config) string {
	if cfg.MboxPath != "" {
		return "mbox:" + cfg.MboxPath
	}
	return "imap:" + cfg.IMAPHost
}

// newCoordinator wires the configured mailbox source to a fetch coordinator.
func newCoordinator(cfg config.Config, logger *slog.Logger) (*fetch.Coordinator, error) {
	var open fetch.OpenFunc

	if cfg.MboxPath != "" {
		src, err := mbox.NewSource(cfg.MboxPath, logger)
		if err != nil {
			return nil, err
		}
		open = func(ctx context.Context, creds model.Credentials) (fetch.Mailbox, error) {
			s, err := src.Open(ctx, creds)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	} else {
		dialer, err := imap.NewDialer(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Auth:               imap.AuthMethod(cfg.IMAPAuth),
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.InsecureSkipVerify {
			logger.Warn("TLS certificate verification is disabled", "host", cfg.IMAPHost)
		}
		open = func(ctx context.Context, creds model.Credentials) (fetch.Mailbox, error) {
			s, err := dialer.Open(ctx, creds)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}

	return fetch.New(open, decoder.New(logger), logger), nil
}

func newGenerator(cfg config.Config, logger *slog.Logger) (*gemini.Client, error) {
	return gemini.New(gemini.Options{
		Endpoint: cfg.GeminiEndpoint,
		Model:    cfg.GeminiModel,
		APIKey:   cfg.GeminiAPIKey,
		Strict:   cfg.StrictUpstream,
		Timeout:  cfg.RequestTimeout,
	}, logger)
}
