package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/feedsync/internal/auth"
	"github.com/kalambet/feedsync/internal/config"
	"github.com/kalambet/feedsync/internal/feed"
	"github.com/kalambet/feedsync/internal/pipeline"
	"github.com/kalambet/feedsync/internal/report"
	"github.com/kalambet/feedsync/internal/storage"
)

var fixedTime = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

// setupEnv points config and storage at a temp dir and returns the data dir.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	t.Setenv("FEEDSYNC_CONFIG_FILE", filepath.Join(dir, "config.yaml"))
	t.Setenv("FEEDSYNC_STORAGE_DATA_DIR", dataDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("FEEDSYNC_SHEETS_SPREADSHEET_ID", "")
	t.Setenv("FEEDSYNC_API_TOKEN", "")
	return dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)

	old := errOut
	errOut = io.Discard
	defer func() { errOut = old }()

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitFailure},
		{"usage", &usageError{err: errors.New("unknown flag")}, exitConfig},
		{"validation", fmt.Errorf("loading: %w", &config.ValidationError{Problems: []string{"x"}}), exitConfig},
		{"credentials", fmt.Errorf("loading google credentials: %w", auth.ErrCredentialsMissing), exitConfig},
		{"auth at runtime", &exitError{code: exitFailure, err: auth.ErrAuthentication}, exitFailure},
		{"commit failure", &exitError{code: exitFailure, err: &pipeline.CommitError{Stage: pipeline.StageSheetWrite, Err: errors.New("quota")}}, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestSync_UsageErrorsExitTwo(t *testing.T) {
	setupEnv(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"sync", "--bogus"}},
		{"bad since", []string{"sync", "--since", "yesterday"}},
		{"bad format", []string{"sync", "--format", "yaml"}},
		{"extra args", []string{"sync", "now"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := exitCode(err); got != exitConfig {
				t.Errorf("exit code = %d, want %d (err: %v)", got, exitConfig, err)
			}
		})
	}
}

func TestSync_MissingSheetIDExitsTwo(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "sync")
	if got := exitCode(err); got != exitConfig {
		t.Fatalf("exit code = %d, want %d (err: %v)", got, exitConfig, err)
	}
	if !strings.Contains(err.Error(), "sheets.spreadsheet_id") {
		t.Errorf("err = %q, want it to mention sheets.spreadsheet_id", err)
	}
}

func TestSync_MissingCredentialsExitsTwo(t *testing.T) {
	setupEnv(t)
	t.Setenv("FEEDSYNC_SHEETS_SPREADSHEET_ID", "sheet-1")
	t.Setenv("FEEDSYNC_GOOGLE_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "nope.json"))

	_, err := execute(t, "sync")
	if !errors.Is(err, auth.ErrCredentialsMissing) {
		t.Fatalf("err = %v, want ErrCredentialsMissing", err)
	}
	if got := exitCode(err); got != exitConfig {
		t.Errorf("exit code = %d, want %d", got, exitConfig)
	}
}

func TestSync_InvalidConfigFileExitsTwo(t *testing.T) {
	setupEnv(t)
	t.Setenv("FEEDSYNC_ARCHIVE_BACKEND", "ftp")
	_, err := execute(t, "sync", "--dry-run")
	if got := exitCode(err); got != exitConfig {
		t.Errorf("exit code = %d, want %d (err: %v)", got, exitConfig, err)
	}
}

func seedRuns(t *testing.T, dataDir string) {
	t.Helper()
	store, err := storage.Open(dataDir)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, rec := range []storage.RunRecord{
		{MessageID: "m1", Status: storage.StatusSuccess},
		{MessageID: "m1", Status: storage.StatusSkippedDuplicate},
		{MessageID: "m2", Status: storage.StatusFailed, Error: "extracting feed: malformed"},
	} {
		if _, err := store.AppendRun(ctx, rec); err != nil {
			t.Fatalf("AppendRun: %v", err)
		}
	}
	snap, err := feed.NewSnapshot("m1", fixedTime, []feed.Row{{SKU: "A", Quantity: 7}})
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	if err := store.CommitState(ctx, snap); err != nil {
		t.Fatalf("CommitState: %v", err)
	}
}

func TestHistory_JSON(t *testing.T) {
	dataDir := setupEnv(t)
	seedRuns(t, dataDir)

	out, err := execute(t, "history", "--format", "json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var recs []storage.RunRecord
	if err := json.Unmarshal([]byte(out), &recs); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	if recs[0].MessageID != "m2" || recs[0].Status != storage.StatusFailed {
		t.Errorf("newest = %+v", recs[0])
	}
}

func TestHistory_Filters(t *testing.T) {
	dataDir := setupEnv(t)
	seedRuns(t, dataDir)

	out, err := execute(t, "history", "--status", "success")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 || !strings.Contains(lines[0], "m1") {
		t.Errorf("output = %q, want one m1 line", out)
	}

	_, err = execute(t, "history", "--status", "pending")
	if got := exitCode(err); got != exitConfig {
		t.Errorf("bad status exit code = %d, want %d", got, exitConfig)
	}
}

func TestHistory_Empty(t *testing.T) {
	setupEnv(t)
	out, err := execute(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if out != "no runs recorded\n" {
		t.Errorf("output = %q", out)
	}
}

func TestState(t *testing.T) {
	dataDir := setupEnv(t)

	out, err := execute(t, "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if out != "no snapshot committed yet\n" {
		t.Errorf("empty output = %q", out)
	}

	seedRuns(t, dataDir)
	out, err = execute(t, "state", "--format", "json")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var v report.StateView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !v.Committed || v.MessageID != "m1" || v.TotalQuantity != 7 {
		t.Errorf("state = %+v", v)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "config", "set", "mail.sender", "feeds@example.com"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	out, err := execute(t, "--no-color", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "mail.sender = feeds@example.com") {
		t.Errorf("show output missing new value:\n%s", out)
	}
	if !strings.Contains(out, "api.token = (unset)") {
		t.Errorf("show output should mask api.token:\n%s", out)
	}

	_, err = execute(t, "config", "set", "server.port", "not-a-port")
	if got := exitCode(err); got != exitConfig {
		t.Errorf("bad value exit code = %d, want %d", got, exitConfig)
	}
	_, err = execute(t, "config", "set", "mail.sender")
	if got := exitCode(err); got != exitConfig {
		t.Errorf("missing arg exit code = %d, want %d", got, exitConfig)
	}
}

func TestServe_NegativeInterval(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "serve", "--interval=-1h")
	if got := exitCode(err); got != exitConfig {
		t.Errorf("exit code = %d, want %d", got, exitConfig)
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	old, oldColor := errOut, noColor
	errOut, noColor = &buf, true
	defer func() { errOut, noColor = old, oldColor }()

	printOutcome(report.Sync{Outcome: "committed", MessageID: "m2", Rows: 2, Error: "commit failed at email_archive"})
	printOutcome(report.Sync{Outcome: "no_feed"})

	got := buf.String()
	if !strings.Contains(got, "could not be archived") || !strings.Contains(got, "No feed email found") {
		t.Errorf("output = %q", got)
	}
}
