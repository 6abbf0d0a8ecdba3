package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

type Config struct {
	Storage StorageConfig
	Log     LogConfig
	Mail    MailConfig
	Feed    FeedConfig
	Sheets  SheetsConfig
	Google  GoogleConfig
	Archive ArchiveConfig
	Retry   RetryConfig
	Server  ServerConfig
	API     APIConfig
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type MailConfig struct {
	Sender     string
	Subject    string
	LinkPrefix string
	Lookback   time.Duration
}

type FeedConfig struct {
	CSVName           string
	KeyColumn         string
	DescriptionColumn string
	QuantityColumn    string
}

type SheetsConfig struct {
	SpreadsheetID string
	Worksheet     string
	LogWorksheet  string
	MirrorLog     bool
}

type GoogleConfig struct {
	CredentialsFile string
	TokenFile       string
}

type ArchiveConfig struct {
	Backend   string
	Dir       string
	Bucket    string
	Region    string
	Endpoint  string
	PathStyle bool
}

type RetryConfig struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type ServerConfig struct {
	Port int
}

type APIConfig struct {
	Token string
}

// Archive backends.
const (
	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

func defaults() Config {
	confDir := configDir()
	return Config{
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Mail: MailConfig{
			Sender:     "data@wheelpros.com",
			Subject:    "INVENTORY FEED IS READY",
			LinkPrefix: "https://backend.api.data.wheelpros.com/prod/feed/download",
			Lookback:   24 * time.Hour,
		},
		Feed: FeedConfig{
			CSVName:           "wheelInvPriceData.csv",
			KeyColumn:         "PartNumber",
			DescriptionColumn: "PartDescription",
			QuantityColumn:    "TotalQOH",
		},
		Sheets: SheetsConfig{
			Worksheet:    "Sheet1",
			LogWorksheet: "Log",
			MirrorLog:    true,
		},
		Google: GoogleConfig{
			CredentialsFile: filepath.Join(confDir, "credentials.json"),
			TokenFile:       filepath.Join(confDir, "token.json"),
		},
		Archive: ArchiveConfig{Backend: ArchiveNone},
		Retry: RetryConfig{
			Attempts:       3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
		},
		Server: ServerConfig{Port: 4000},
	}
}

// Load reads configuration from defaults, the YAML file at
// $XDG_CONFIG_HOME/feedsync/config.yaml (or $FEEDSYNC_CONFIG_FILE), and
// FEEDSYNC_* environment variables, in increasing precedence. Secrets are
// only read from the environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, &ValidationError{Problems: []string{err.Error()}}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, &ValidationError{Problems: []string{err.Error()}}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks values that every command depends on.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Storage.DataDir == "" {
		add("storage.data_dir is empty")
	}
	if c.Mail.Subject != "" {
		if _, err := regexp.Compile(c.Mail.Subject); err != nil {
			add("mail.subject is not a valid pattern: %v", err)
		}
	}
	if c.Mail.Lookback < 0 {
		add("mail.lookback must not be negative")
	}
	if c.Feed.CSVName == "" || c.Feed.KeyColumn == "" || c.Feed.DescriptionColumn == "" || c.Feed.QuantityColumn == "" {
		add("feed.csv_name and the feed column names must be set")
	}

	switch c.Archive.Backend {
	case ArchiveNone, ArchiveLocal:
	case ArchiveS3:
		if c.Archive.Bucket == "" {
			add("archive.bucket is required when archive.backend is s3")
		}
	default:
		add("archive.backend %q is not one of none, local, s3", c.Archive.Backend)
	}

	if c.Retry.Attempts < 1 {
		add("retry.attempts must be at least 1")
	}
	if c.Retry.InitialBackoff <= 0 {
		add("retry.initial_backoff must be positive")
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		add("retry.max_backoff must not be below retry.initial_backoff")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidateForSync checks the settings a sync run needs on top of Validate.
// sheetOverride replaces sheets.spreadsheet_id when non-empty.
func (c Config) ValidateForSync(sheetOverride string, dryRun bool) error {
	var problems []string
	if c.Mail.Sender == "" {
		problems = append(problems, "mail.sender is required")
	}
	if !dryRun && sheetOverride == "" && c.Sheets.SpreadsheetID == "" {
		problems = append(problems, "sheets.spreadsheet_id is required (or pass --sheet-id)")
	}
	if c.Sheets.Worksheet == "" {
		problems = append(problems, "sheets.worksheet is empty")
	}
	if c.Google.CredentialsFile == "" || c.Google.TokenFile == "" {
		problems = append(problems, "google.credentials_file and google.token_file must be set")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ArchiveDir is where the local archive backend writes.
func (c Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.Storage.DataDir, "archive")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "feedsync-data"
		}
	}
	return filepath.Join(dir, "feedsync")
}

func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "feedsync")
}

// ConfigFilePath is the file `config set` writes to.
func ConfigFilePath() string {
	if p := os.Getenv("FEEDSYNC_CONFIG_FILE"); p != "" {
		return p
	}
	return filepath.Join(configDir(), "config.yaml")
}
