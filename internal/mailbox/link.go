package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kalambet/feedsync/internal/retry"
)

// ErrNoDownloadLink means a message body carried no link with the
// configured prefix.
var ErrNoDownloadLink = errors.New("download link not found in message body")

// maxDownloadBytes caps a linked feed download.
const maxDownloadBytes = 256 << 20

var plainURL = regexp.MustCompile(`https?://[^\s"'<>]+`)

// FindDownloadLink returns the first URL in body that starts with prefix.
// HTML bodies are scanned for anchors first; plain text falls back to a
// URL pattern scan.
func FindDownloadLink(body, prefix string) (string, error) {
	if prefix == "" {
		return "", ErrNoDownloadLink
	}

	if strings.Contains(body, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err == nil {
			var link string
			doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
				href := strings.TrimSpace(a.AttrOr("href", ""))
				if strings.HasPrefix(href, prefix) {
					link = href
					return false
				}
				return true
			})
			if link != "" {
				return link, nil
			}
		}
	}

	for _, u := range plainURL.FindAllString(body, -1) {
		if strings.HasPrefix(u, prefix) {
			return u, nil
		}
	}
	return "", ErrNoDownloadLink
}

// Downloader fetches a linked feed over HTTP.
type Downloader struct {
	client *http.Client
}

// NewDownloader wraps client; nil uses http.DefaultClient.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client}
}

// Download performs a single GET. Network failures, 429 and 5xx are
// reported as transient so callers can retry them.
func (d *Downloader) Download(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "feedsync/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retry.Transient(fmt.Errorf("downloading feed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("feed download returned %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.Transient(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("reading feed download: %w", err))
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("feed download exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}
