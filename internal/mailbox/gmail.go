package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/kalambet/feedsync/internal/auth"
	"github.com/kalambet/feedsync/internal/retry"
)

const (
	gmailUser   = "me"
	labelUnread = "UNREAD"
	labelInbox  = "INBOX"
	listLimit   = 50
)

// ErrNoAttachment means the message has neither a zip attachment nor a
// usable download link.
var ErrNoAttachment = errors.New("message has no feed attachment")

// GmailConfig configures the Gmail provider.
type GmailConfig struct {
	// LinkPrefix enables the download-link fallback for messages that
	// announce the feed instead of attaching it.
	LinkPrefix string
	Policy     retry.Policy
	Downloader *Downloader
}

// Gmail implements Provider on the Gmail API.
type Gmail struct {
	svc    *gmail.Service
	cfg    GmailConfig
	logger *slog.Logger
}

// NewGmail creates a provider. opts usually carry option.WithTokenSource.
func NewGmail(ctx context.Context, cfg GmailConfig, opts ...option.ClientOption) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	if cfg.Downloader == nil {
		cfg.Downloader = NewDownloader(nil)
	}
	if cfg.Policy.Attempts == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}
	return &Gmail{svc: svc, cfg: cfg, logger: slog.Default()}, nil
}

func gmailQuery(f Filter) string {
	q := []string{"is:unread", "in:inbox"}
	if f.Sender != "" {
		q = append(q, "from:"+f.Sender)
	}
	if !f.Since.IsZero() {
		q = append(q, fmt.Sprintf("after:%d", f.Since.Unix()))
	}
	return strings.Join(q, " ")
}

// ListUnread lists unread inbox messages matching the filter's sender and
// window. Subject matching is left to the Locator.
func (g *Gmail) ListUnread(ctx context.Context, f Filter) ([]Candidate, error) {
	q := gmailQuery(f)
	resp, err := retry.Value(ctx, g.cfg.Policy, "gmail list", func(ctx context.Context) (*gmail.ListMessagesResponse, error) {
		r, err := g.svc.Users.Messages.List(gmailUser).Q(q).MaxResults(listLimit).Context(ctx).Do()
		return r, auth.Classify(err)
	})
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		full, err := g.getMessage(ctx, m.Id, "metadata")
		if err != nil {
			return nil, err
		}
		out = append(out, toCandidate(full))
	}
	g.logger.Debug("listed unread messages", "query", q, "count", len(out))
	return out, nil
}

func (g *Gmail) getMessage(ctx context.Context, id, format string) (*gmail.Message, error) {
	return retry.Value(ctx, g.cfg.Policy, "gmail get", func(ctx context.Context) (*gmail.Message, error) {
		m, err := g.svc.Users.Messages.Get(gmailUser, id).Format(format).Context(ctx).Do()
		return m, auth.Classify(err)
	})
}

func toCandidate(m *gmail.Message) Candidate {
	c := Candidate{
		ID:         m.Id,
		ReceivedAt: time.UnixMilli(m.InternalDate).UTC(),
	}
	for _, l := range m.LabelIds {
		if l == labelUnread {
			c.Unread = true
		}
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				c.From = h.Value
			case "subject":
				c.Subject = h.Value
			}
		}
		c.HasAttachment = findZipPart(m.Payload) != nil
	}
	return c
}

// FetchAttachment returns the zip attachment bytes, or the linked feed when
// the message carries none and a link prefix is configured.
func (g *Gmail) FetchAttachment(ctx context.Context, messageID string) ([]byte, error) {
	m, err := g.getMessage(ctx, messageID, "full")
	if err != nil {
		return nil, err
	}

	if part := findZipPart(m.Payload); part != nil {
		if part.Body.Data != "" {
			return decodeData(part.Body.Data)
		}
		att, err := retry.Value(ctx, g.cfg.Policy, "gmail attachment", func(ctx context.Context) (*gmail.MessagePartBody, error) {
			a, err := g.svc.Users.Messages.Attachments.Get(gmailUser, messageID, part.Body.AttachmentId).Context(ctx).Do()
			return a, auth.Classify(err)
		})
		if err != nil {
			return nil, err
		}
		return decodeData(att.Data)
	}

	if g.cfg.LinkPrefix == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAttachment, messageID)
	}
	body, err := messageBody(m.Payload)
	if err != nil {
		return nil, err
	}
	link, err := FindDownloadLink(body, g.cfg.LinkPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoAttachment, messageID, err)
	}
	g.logger.Info("downloading linked feed", "message_id", messageID)
	return retry.Value(ctx, g.cfg.Policy, "feed download", func(ctx context.Context) ([]byte, error) {
		return g.cfg.Downloader.Download(ctx, link)
	})
}

// MarkRead removes the UNREAD label.
func (g *Gmail) MarkRead(ctx context.Context, messageID string) error {
	return g.modify(ctx, "gmail mark read", messageID, labelUnread)
}

// Archive marks the message read and removes it from the inbox.
func (g *Gmail) Archive(ctx context.Context, messageID string) error {
	return g.modify(ctx, "gmail archive", messageID, labelUnread, labelInbox)
}

func (g *Gmail) modify(ctx context.Context, op, messageID string, remove ...string) error {
	return g.cfg.Policy.Do(ctx, op, func(ctx context.Context) error {
		_, err := g.svc.Users.Messages.Modify(gmailUser, messageID, &gmail.ModifyMessageRequest{
			RemoveLabelIds: remove,
		}).Context(ctx).Do()
		return auth.Classify(err)
	})
}

func findZipPart(p *gmail.MessagePart) *gmail.MessagePart {
	if p == nil {
		return nil
	}
	if p.Body != nil && strings.HasSuffix(strings.ToLower(p.Filename), ".zip") &&
		(p.Body.AttachmentId != "" || p.Body.Data != "") {
		return p
	}
	for _, child := range p.Parts {
		if found := findZipPart(child); found != nil {
			return found
		}
	}
	return nil
}

// messageBody prefers text/plain and falls back to text/html.
func messageBody(p *gmail.MessagePart) (string, error) {
	var plain, html string
	var walk func(*gmail.MessagePart)
	walk = func(p *gmail.MessagePart) {
		if p == nil {
			return
		}
		if p.Body != nil && p.Body.Data != "" {
			switch {
			case strings.HasPrefix(p.MimeType, "text/plain") && plain == "":
				plain = p.Body.Data
			case strings.HasPrefix(p.MimeType, "text/html") && html == "":
				html = p.Body.Data
			}
		}
		for _, c := range p.Parts {
			walk(c)
		}
	}
	walk(p)

	raw := plain
	if raw == "" {
		raw = html
	}
	if raw == "" {
		return "", nil
	}
	data, err := decodeData(raw)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeData(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decoding message data: %w", err)
	}
	return data, nil
}
