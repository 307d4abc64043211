package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/flow"
	"github.com/Hartzala/whatsapp-news-assistant/internal/lockfile"
	"github.com/Hartzala/whatsapp-news-assistant/internal/ratelimit"
	"github.com/Hartzala/whatsapp-news-assistant/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for newsbot state data
	DefaultStateDir = "/var/lib/newsbot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "newsbot.db"
	// DefaultWhatsmeowDBFileName holds the whatsmeow device session
	DefaultWhatsmeowDBFileName = "whatsmeow.db"
	// DefaultSynthesisCron runs the digest job at the top of every hour
	DefaultSynthesisCron = "0 * * * *"
	// DefaultCleanupCron sweeps stale conversations every hour
	DefaultCleanupCron = "30 * * * *"

	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

func main() {
	cfg := loadEnvironmentConfig()
	cfg, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping newsbot", "transport", cfg.Transport, "api_addr", cfg.APIAddr, "redis", cfg.RedisURL != "")
	if err := run(cfg); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			fmt.Fprintln(os.Stderr, lockErr.Error())
		}
		slog.Error("newsbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("newsbot exited successfully")
}

// Config holds the runtime configuration.
type Config struct {
	LogLevel      string
	StateDir      string
	DatabaseURL   string
	RedisURL      string
	APIAddr       string
	PublicBaseURL string

	OpenAIKey   string
	OpenAIModel string
	GenAIDebug  bool

	Transport      string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	TwilioValidate bool
	WhatsmeowDSN   string
	QROutput       string
	NumericCode    bool

	FreeQuestions int
	ContextMaxAge time.Duration
	CallTimeout   time.Duration
	SynthesisCron string
	CleanupCron   string

	LoginURL     string
	DashboardURL string
	CheckoutURL  string
}

// initializeLogger installs a text slog handler on stdout.
func initializeLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Config{
		LogLevel:      util.GetEnvOrDefault("LOG_LEVEL", "info"),
		StateDir:      util.GetEnvOrDefault("NEWSBOT_STATE_DIR", DefaultStateDir),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		APIAddr:       util.GetEnvOrDefault("API_ADDR", ":8080"),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: os.Getenv("OPENAI_MODEL"),
		GenAIDebug:  util.ParseBoolEnv("GENAI_DEBUG", false),

		Transport:      util.GetEnvOrDefault("WHATSAPP_TRANSPORT", TransportTwilio),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioValidate: util.ParseBoolEnv("TWILIO_VALIDATE", true),
		WhatsmeowDSN:   os.Getenv("WHATSMEOW_DSN"),

		FreeQuestions: util.ParseIntEnv("FREE_QUESTIONS_PER_DAY", ratelimit.DefaultDailyLimit),
		ContextMaxAge: time.Duration(util.ParseIntEnv("CONTEXT_MAX_AGE_HOURS", int(conversation.DefaultMaxAge/time.Hour))) * time.Hour,
		CallTimeout:   util.ParseDurationEnv("EXTERNAL_CALL_TIMEOUT", flow.DefaultCallTimeout),
		SynthesisCron: util.GetEnvOrDefault("SYNTHESIS_CRON", DefaultSynthesisCron),
		CleanupCron:   DefaultCleanupCron,

		LoginURL:     os.Getenv("LOGIN_URL"),
		DashboardURL: os.Getenv("DASHBOARD_URL"),
		CheckoutURL:  os.Getenv("CHECKOUT_URL"),
	}

	slog.Debug("environment variables loaded",
		"NEWSBOT_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"REDIS_URL_SET", cfg.RedisURL != "",
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"WHATSAPP_TRANSPORT", cfg.Transport,
		"API_ADDR", cfg.APIAddr)
	return cfg
}

// parseFlags overrides cfg with command line flags.
func parseFlags(cfg Config, args []string) (Config, error) {
	fs := flag.NewFlagSet("newsbot", flag.ContinueOnError)
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory (overrides $NEWSBOT_STATE_DIR)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for conversations and quotas (overrides $REDIS_URL)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "WhatsApp transport: twilio or whatsmeow (overrides $WHATSAPP_TRANSPORT)")
	fs.StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write the whatsmeow login QR code")
	fs.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "use a numeric whatsmeow login code instead of a QR code")
	fs.StringVar(&cfg.SynthesisCron, "synthesis-cron", cfg.SynthesisCron, "cron expression of the digest run (overrides $SYNTHESIS_CRON)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (overrides $LOG_LEVEL)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks combinations the services cannot start with.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportTwilio, TransportWhatsmeow:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.FreeQuestions < 0 {
		return fmt.Errorf("free questions per day must not be negative")
	}
	if c.ContextMaxAge <= 0 {
		return fmt.Errorf("context max age must be positive")
	}
	return nil
}

// StoreDSN is DATABASE_URL or the SQLite file in the state directory.
func (c Config) StoreDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// SessionDSN is where whatsmeow keeps its device session.
func (c Config) SessionDSN() string {
	if c.WhatsmeowDSN != "" {
		return c.WhatsmeowDSN
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsmeowDBFileName) + "?_foreign_keys=on"
}

// NeedsLock reports whether conversation and quota state live in this process.
func (c Config) NeedsLock() bool {
	return c.RedisURL == ""
}

// Links resolves user-facing URLs: explicit values first, then paths under
// PUBLIC_BASE_URL, then the placeholders.
func (c Config) Links() flow.Links {
	links := flow.DefaultLinks
	if c.PublicBaseURL != "" {
		links = flow.Links{
			Login:     c.PublicBaseURL,
			Dashboard: c.PublicBaseURL + "/dashboard",
			Checkout:  c.PublicBaseURL + "/checkout",
		}
	}
	if c.LoginURL != "" {
		links.Login = c.LoginURL
	}
	if c.DashboardURL != "" {
		links.Dashboard = c.DashboardURL
	}
	if c.CheckoutURL != "" {
		links.Checkout = c.CheckoutURL
	}
	return links
}
