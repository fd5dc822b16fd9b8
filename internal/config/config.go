package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration for the callcore daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir     string
	HTTPPort    int
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"
	CORSOrigins string

	DBDriver    string // "sqlite" or "postgres"
	PostgresDSN string

	PlatformURL string // base URL of the platform bridge
	APISecret   string // hex-encoded 32-byte secret shared with the platform bridge

	AutoRedial       bool
	RedialMaxRetries int
	RedialDelay      time.Duration
	KeepCallsSpeaker bool

	RecordingEnabled bool
	RecordingFormat  string // "wav", "wav-ulaw" or "wav-alaw"
	AutoRecord       string // "none", "all", "unknown" or "known"
	SaveLocation     string // "default", "dated" or "custom"
	RecordingPath    string // target directory when SaveLocation is "custom"
	FilenameTemplate string
	SampleRate       int
	CaptureSource    string // file or FIFO carrying s16le mono audio
	ContactsFile     string // JSON array of known numbers
	RecordingMaxDays int    // 0 keeps recordings forever
}

// defaults
const (
	defaultDataDir          = "./data"
	defaultHTTPPort         = 8080
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultDBDriver         = "sqlite"
	defaultRedialMaxRetries = 3
	defaultRedialDelay      = 5 * time.Second
	defaultRecordingFormat  = "wav"
	defaultAutoRecord       = "none"
	defaultSaveLocation     = "default"
	defaultFilenameTemplate = "{date}_{time}_{direction}_{phone_number}"
	defaultSampleRate       = 48000
)

// envPrefix is the prefix for all callcore environment variables.
const envPrefix = "CALLCORE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callcore", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the recording index and recordings")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP API listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.StringVar(&cfg.DBDriver, "db-driver", defaultDBDriver, "recording index backend (sqlite, postgres)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL connection string when db-driver is postgres")
	fs.StringVar(&cfg.PlatformURL, "platform-url", "", "base URL of the platform bridge")
	fs.StringVar(&cfg.APISecret, "api-secret", "", "hex-encoded 32-byte secret shared with the platform bridge (auth disabled if empty)")
	fs.BoolVar(&cfg.AutoRedial, "auto-redial", false, "redial outgoing calls that fail with a retryable cause")
	fs.IntVar(&cfg.RedialMaxRetries, "redial-max-retries", defaultRedialMaxRetries, "maximum automatic redials per dial session")
	fs.DurationVar(&cfg.RedialDelay, "redial-delay", defaultRedialDelay, "delay before an automatic redial")
	fs.BoolVar(&cfg.KeepCallsSpeaker, "keep-calls-speaker", false, "leave the speaker on when toggling with the speaker route already active")
	fs.BoolVar(&cfg.RecordingEnabled, "recording-enabled", false, "enable call recording")
	fs.StringVar(&cfg.RecordingFormat, "recording-format", defaultRecordingFormat, "recording format (wav, wav-ulaw, wav-alaw)")
	fs.StringVar(&cfg.AutoRecord, "auto-record", defaultAutoRecord, "auto-record rule (none, all, unknown, known)")
	fs.StringVar(&cfg.SaveLocation, "save-location", defaultSaveLocation, "recording directory layout (default, dated, custom)")
	fs.StringVar(&cfg.RecordingPath, "recording-path", "", "recording directory when save-location is custom")
	fs.StringVar(&cfg.FilenameTemplate, "filename-template", defaultFilenameTemplate, "recording file name template")
	fs.IntVar(&cfg.SampleRate, "sample-rate", defaultSampleRate, "capture sample rate in Hz")
	fs.StringVar(&cfg.CaptureSource, "capture-source", "", "file or FIFO delivering s16le mono call audio")
	fs.StringVar(&cfg.ContactsFile, "contacts-file", "", "JSON array of known contact numbers for auto-record rules")
	fs.IntVar(&cfg.RecordingMaxDays, "recording-max-days", 0, "delete recordings older than this many days (0 keeps them)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	applyEnvOverrides(fs)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. The env var name is the flag name
// upper-cased with dashes replaced by underscores and prefixed with
// CALLCORE_. Values that do not parse are ignored.
func applyEnvOverrides(fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		if err := fs.Set(f.Name, val); err != nil {
			slog.Warn("ignoring invalid environment override", "env", envVar, "error", err)
		}
	})
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if err := oneOf("log-level", c.LogLevel, "debug", "info", "warn", "error"); err != nil {
		return err
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	if err := oneOf("log-format", c.LogFormat, "text", "json"); err != nil {
		return err
	}

	if err := oneOf("db-driver", c.DBDriver, "sqlite", "postgres"); err != nil {
		return err
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn is required when db-driver is postgres")
	}

	if c.RedialMaxRetries < 0 {
		return fmt.Errorf("redial-max-retries must not be negative, got %d", c.RedialMaxRetries)
	}
	if c.RedialDelay <= 0 {
		return fmt.Errorf("redial-delay must be positive, got %s", c.RedialDelay)
	}

	if err := oneOf("recording-format", c.RecordingFormat, "wav", "wav-ulaw", "wav-alaw"); err != nil {
		return err
	}
	if err := oneOf("auto-record", c.AutoRecord, "none", "all", "unknown", "known"); err != nil {
		return err
	}
	if err := oneOf("save-location", c.SaveLocation, "default", "dated", "custom"); err != nil {
		return err
	}
	if c.SaveLocation == "custom" && c.RecordingPath == "" {
		return fmt.Errorf("recording-path is required when save-location is custom")
	}
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("sample-rate must be between 8000 and 48000, got %d", c.SampleRate)
	}
	if c.RecordingMaxDays < 0 {
		return fmt.Errorf("recording-max-days must not be negative, got %d", c.RecordingMaxDays)
	}

	if _, err := c.APISecretBytes(); err != nil {
		return err
	}

	return nil
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s; got %q", name, strings.Join(allowed, ", "), value)
}

// APISecretBytes returns the decoded 32-byte secret shared with the platform
// bridge, or nil if none is configured.
func (c *Config) APISecretBytes() ([]byte, error) {
	if c.APISecret == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.APISecret)
	if err != nil {
		return nil, fmt.Errorf("decoding api secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("api secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
