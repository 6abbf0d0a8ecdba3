// Package mailbox finds the daily feed email and moves it out of the inbox
// once its contents are committed.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoCandidate means no unread message matched the selection rule.
// It is an outcome, not a failure.
var ErrNoCandidate = errors.New("no candidate email")

// Candidate is a message that may carry the feed.
type Candidate struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	Subject       string    `json:"subject"`
	ReceivedAt    time.Time `json:"received_at"`
	Unread        bool      `json:"unread"`
	HasAttachment bool      `json:"has_attachment"`
}

// Filter narrows a provider listing. Providers may apply it loosely; the
// Locator re-checks every field.
type Filter struct {
	Sender  string
	Subject string
	Since   time.Time
}

// Provider is the mailbox the feed is delivered to.
type Provider interface {
	ListUnread(ctx context.Context, f Filter) ([]Candidate, error)
	FetchAttachment(ctx context.Context, messageID string) ([]byte, error)
	MarkRead(ctx context.Context, messageID string) error
	Archive(ctx context.Context, messageID string) error
}

// DuplicateError reports that the newest candidate was already committed.
// Stale is set when the candidate is a different email that predates the
// committed one.
type DuplicateError struct {
	Candidate Candidate
	Stale     bool
}

func (e *DuplicateError) Error() string {
	if e.Stale {
		return fmt.Sprintf("message %s predates the committed feed", e.Candidate.ID)
	}
	return fmt.Sprintf("message %s already processed", e.Candidate.ID)
}
