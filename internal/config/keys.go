package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "storage.data_dir", typ: kString, env: "FEEDSYNC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "FEEDSYNC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "mail.sender", typ: kString, env: "FEEDSYNC_MAIL_SENDER",
		apply:   func(cfg *Config, v any) { cfg.Mail.Sender = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.Sender },
	},
	{
		key: "mail.subject", typ: kString, env: "FEEDSYNC_MAIL_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.Mail.Subject = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.Subject },
	},
	{
		key: "mail.link_prefix", typ: kString, env: "FEEDSYNC_MAIL_LINK_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Mail.LinkPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.LinkPrefix },
	},
	{
		key: "mail.lookback", typ: kDuration, env: "FEEDSYNC_MAIL_LOOKBACK",
		apply:   func(cfg *Config, v any) { cfg.Mail.Lookback = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Mail.Lookback },
	},
	{
		key: "feed.csv_name", typ: kString, env: "FEEDSYNC_FEED_CSV_NAME",
		apply:   func(cfg *Config, v any) { cfg.Feed.CSVName = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.CSVName },
	},
	{
		key: "feed.key_column", typ: kString, env: "FEEDSYNC_FEED_KEY_COLUMN",
		apply:   func(cfg *Config, v any) { cfg.Feed.KeyColumn = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.KeyColumn },
	},
	{
		key: "feed.description_column", typ: kString, env: "FEEDSYNC_FEED_DESCRIPTION_COLUMN",
		apply:   func(cfg *Config, v any) { cfg.Feed.DescriptionColumn = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.DescriptionColumn },
	},
	{
		key: "feed.quantity_column", typ: kString, env: "FEEDSYNC_FEED_QUANTITY_COLUMN",
		apply:   func(cfg *Config, v any) { cfg.Feed.QuantityColumn = v.(string) },
		extract: func(cfg Config) any { return cfg.Feed.QuantityColumn },
	},
	{
		key: "sheets.spreadsheet_id", typ: kString, env: "FEEDSYNC_SHEETS_SPREADSHEET_ID",
		apply:   func(cfg *Config, v any) { cfg.Sheets.SpreadsheetID = v.(string) },
		extract: func(cfg Config) any { return cfg.Sheets.SpreadsheetID },
	},
	{
		key: "sheets.worksheet", typ: kString, env: "FEEDSYNC_SHEETS_WORKSHEET",
		apply:   func(cfg *Config, v any) { cfg.Sheets.Worksheet = v.(string) },
		extract: func(cfg Config) any { return cfg.Sheets.Worksheet },
	},
	{
		key: "sheets.log_worksheet", typ: kString, env: "FEEDSYNC_SHEETS_LOG_WORKSHEET",
		apply:   func(cfg *Config, v any) { cfg.Sheets.LogWorksheet = v.(string) },
		extract: func(cfg Config) any { return cfg.Sheets.LogWorksheet },
	},
	{
		key: "sheets.mirror_log", typ: kBool, env: "FEEDSYNC_SHEETS_MIRROR_LOG",
		apply:   func(cfg *Config, v any) { cfg.Sheets.MirrorLog = v.(bool) },
		extract: func(cfg Config) any { return cfg.Sheets.MirrorLog },
	},
	{
		key: "google.credentials_file", typ: kString, env: "FEEDSYNC_GOOGLE_CREDENTIALS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Google.CredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Google.CredentialsFile },
	},
	{
		key: "google.token_file", typ: kString, env: "FEEDSYNC_GOOGLE_TOKEN_FILE",
		apply:   func(cfg *Config, v any) { cfg.Google.TokenFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Google.TokenFile },
	},
	{
		key: "archive.backend", typ: kString, env: "FEEDSYNC_ARCHIVE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Archive.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Backend },
	},
	{
		key: "archive.dir", typ: kString, env: "FEEDSYNC_ARCHIVE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Archive.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Dir },
	},
	{
		key: "archive.bucket", typ: kString, env: "FEEDSYNC_ARCHIVE_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Archive.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Bucket },
	},
	{
		key: "archive.region", typ: kString, env: "FEEDSYNC_ARCHIVE_REGION",
		apply:   func(cfg *Config, v any) { cfg.Archive.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Region },
	},
	{
		key: "archive.endpoint", typ: kString, env: "FEEDSYNC_ARCHIVE_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Archive.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Endpoint },
	},
	{
		key: "archive.path_style", typ: kBool, env: "FEEDSYNC_ARCHIVE_PATH_STYLE",
		apply:   func(cfg *Config, v any) { cfg.Archive.PathStyle = v.(bool) },
		extract: func(cfg Config) any { return cfg.Archive.PathStyle },
	},
	{
		key: "retry.attempts", typ: kInt, env: "FEEDSYNC_RETRY_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.Attempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.Attempts },
	},
	{
		key: "retry.initial_backoff", typ: kDuration, env: "FEEDSYNC_RETRY_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Retry.InitialBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.InitialBackoff },
	},
	{
		key: "retry.max_backoff", typ: kDuration, env: "FEEDSYNC_RETRY_MAX_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Retry.MaxBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retry.MaxBackoff },
	},
	{
		key: "server.port", typ: kInt, env: "FEEDSYNC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "api.token", typ: kString, env: "FEEDSYNC_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text into the value s.apply expects.
func parseValue(s keySpec, raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			return fmt.Errorf("parsing %s=%q: %w", s.key, raw, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s, raw)
		if err != nil {
			return fmt.Errorf("parsing env var %s=%q: %w", s.env, raw, err)
		}
		s.apply(cfg, v)
	}
	return nil
}
