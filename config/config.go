package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/inbox-assistant/credential"
)

const envPrefix = "INBOX"

// Config captures every option shared by the serve, fetch and reply
// commands. Flags win over environment variables, which win over the
// optional config file.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	IMAPAuth           string
	InsecureSkipVerify bool
	Folder             string
	Window             int
	MaxWindow          int
	MboxPath           string
	GeminiEndpoint     string
	GeminiModel        string
	GeminiAPIKey       string
	StrictUpstream     bool
	RequestTimeout     time.Duration
	Listen             string
	AllowedOrigins     []string
	UseKeyring         bool
	LogLevel           string
	LogDir             string
}

// SecretSource looks up stored secrets by key.
type SecretSource interface {
	Get(key string) (string, error)
}

// openSecrets is swapped in tests to avoid touching the OS keyring.
var openSecrets = func() (SecretSource, error) {
	return credential.Open()
}

// RegisterFlags attaches all shared flags to cmd as persistent flags so
// subcommands inherit them.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to an optional YAML config file")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port (TLS)")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.String("imap-auth", "login", "IMAP authentication: login or plain (SASL PLAIN)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "Folder to read messages from")
	flags.Int("window", 10, "Number of most recent messages to fetch")
	flags.Int("max-window", 50, "Upper bound for the window requested over HTTP")
	flags.String("mbox", "", "Read messages from a local mbox file instead of IMAP")
	flags.String("gemini-endpoint", "https://generativelanguage.googleapis.com/v1beta", "Gemini API base URL")
	flags.String("gemini-model", "gemini-2.0-flash", "Gemini model name")
	flags.String("gemini-api-key", "", "Gemini API key (falls back to GEMINI_API_KEY env var)")
	flags.Bool("strict-upstream", false, "Treat a generation response without text as an error")
	flags.Duration("request-timeout", 60*time.Second, "Timeout for a single fetch or generate request")
	flags.String("listen", ":3001", "HTTP listen address")
	flags.StringSlice("allowed-origin", []string{"*"}, "CORS allowed origin (repeatable)")
	flags.Bool("keyring", false, "Read missing secrets from the OS keyring")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	return nil
}

// LoadConfig merges flags, INBOX_* environment variables and the optional
// config file into a validated Config.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := Config{
		IMAPHost:           strings.TrimSpace(v.GetString("imap-host")),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           strings.TrimSpace(v.GetString("imap-user")),
		IMAPPass:           v.GetString("imap-pass"),
		IMAPAuth:           strings.ToLower(strings.TrimSpace(v.GetString("imap-auth"))),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Folder:             v.GetString("folder"),
		Window:             v.GetInt("window"),
		MaxWindow:          v.GetInt("max-window"),
		MboxPath:           strings.TrimSpace(v.GetString("mbox")),
		GeminiEndpoint:     v.GetString("gemini-endpoint"),
		GeminiModel:        v.GetString("gemini-model"),
		GeminiAPIKey:       v.GetString("gemini-api-key"),
		StrictUpstream:     v.GetBool("strict-upstream"),
		RequestTimeout:     v.GetDuration("request-timeout"),
		Listen:             v.GetString("listen"),
		AllowedOrigins:     v.GetStringSlice("allowed-origin"),
		UseKeyring:         v.GetBool("keyring"),
		LogLevel:           strings.ToLower(v.GetString("log-level")),
		LogDir:             v.GetString("log-dir"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.UseKeyring {
		if err := fillFromKeyring(&cfg); err != nil {
			return Config{}, err
		}
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func fillFromKeyring(cfg *Config) error {
	if cfg.IMAPPass != "" && cfg.GeminiAPIKey != "" {
		return nil
	}
	src, err := openSecrets()
	if err != nil {
		return err
	}
	lookup := func(key string, dst *string) error {
		if *dst != "" {
			return nil
		}
		value, err := src.Get(key)
		if errors.Is(err, credential.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		*dst = value
		return nil
	}
	if err := lookup(credential.KeyIMAPPassword, &cfg.IMAPPass); err != nil {
		return err
	}
	return lookup(credential.KeyGeminiAPIKey, &cfg.GeminiAPIKey)
}

func validateConfig(cfg Config) error {
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	switch cfg.IMAPAuth {
	case "login", "plain":
	default:
		return fmt.Errorf("invalid --imap-auth: %s", cfg.IMAPAuth)
	}
	if cfg.Window < 1 {
		return fmt.Errorf("--window must be at least 1")
	}
	if cfg.MaxWindow < cfg.Window {
		return fmt.Errorf("--max-window must not be smaller than --window")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("--request-timeout must be positive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// RequireMailbox checks the options needed to open a mailbox. An mbox path
// replaces the IMAP settings.
func (c Config) RequireMailbox() error {
	if c.MboxPath != "" {
		return nil
	}
	if c.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if c.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if c.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass, IMAP_PASS env var or --keyring")
	}
	return nil
}

// RequireGenerator checks the options needed to call the Gemini API.
func (c Config) RequireGenerator() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("gemini API key must be provided via --gemini-api-key, GEMINI_API_KEY env var or --keyring")
	}
	return nil
}
