// Package auth loads the Google OAuth client and cached token used by the
// mailbox and spreadsheet adapters.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"

	"github.com/kalambet/feedsync/internal/retry"
)

// Scopes requested for the cached token: read/modify mail and edit sheets.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/spreadsheets",
}

var (
	// ErrAuthentication covers missing, expired or rejected credentials.
	// It is never retried.
	ErrAuthentication = errors.New("authentication failed")

	// ErrCredentialsMissing means a configured credentials or token file
	// does not exist. The CLI treats it as invalid configuration.
	ErrCredentialsMissing = errors.New("credentials file missing")
)

// Files names the OAuth client secrets file and the cached token file.
type Files struct {
	Credentials string
	Token       string
}

// Check verifies both files exist without parsing them.
func (f Files) Check() error {
	for _, p := range []string{f.Credentials, f.Token} {
		if p == "" {
			return fmt.Errorf("%w: path not configured", ErrCredentialsMissing)
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrCredentialsMissing, p)
			}
			return fmt.Errorf("checking %s: %w", p, err)
		}
	}
	return nil
}

// TokenSource builds a refreshing token source from the files. Refreshed
// tokens are written back to the token file.
func TokenSource(ctx context.Context, f Files) (oauth2.TokenSource, error) {
	if err := f.Check(); err != nil {
		return nil, err
	}

	secret, err := os.ReadFile(f.Credentials)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secret, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing credentials %s: %v", ErrAuthentication, f.Credentials, err)
	}

	tok, err := readToken(f.Token)
	if err != nil {
		return nil, err
	}

	return &persistingSource{
		base: cfg.TokenSource(ctx, tok),
		path: f.Token,
		last: tok.AccessToken,
	}, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: parsing token %s: %v", ErrAuthentication, path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token %s has neither access nor refresh token", ErrAuthentication, path)
	}
	return &tok, nil
}

type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refreshing token: %v", ErrAuthentication, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := writeToken(p.path, tok); err != nil {
			slog.Warn("could not persist refreshed token", "path", p.path, "error", err)
		}
	}
	return tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Classify maps a Google API error onto the retry and authentication
// taxonomy. Errors it does not recognise are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthentication) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return retry.Transient(err)
		}
		return err
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var uerr *url.Error
	if errors.As(err, &uerr) || retry.IsTransient(err) {
		return retry.Transient(err)
	}
	return err
}
