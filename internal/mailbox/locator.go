package mailbox

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultLookback is the search window used when a rule has no Since.
const DefaultLookback = 24 * time.Hour

// SelectionRule identifies the feed email. Sender is matched as a
// case-insensitive substring of the From header; Subject is a regular
// expression. Lookback sets the window when Since is zero.
type SelectionRule struct {
	Sender   string
	Subject  string
	Since    time.Time
	Lookback time.Duration
}

// Processed identifies the committed feed. CapturedAt is the receive time
// of the committed email.
type Processed struct {
	MessageID  string
	CapturedAt time.Time
}

// Locator picks the one unprocessed candidate for the current run.
type Locator struct {
	provider Provider
	now      func() time.Time
}

// NewLocator creates a Locator over provider.
func NewLocator(provider Provider) *Locator {
	return &Locator{provider: provider, now: time.Now}
}

// Locate returns the most recent matching unread message. It returns
// ErrNoCandidate when nothing matches and *DuplicateError when the most
// recent match is the processed message or was received no later than it.
// Locate never mutates the mailbox.
func (l *Locator) Locate(ctx context.Context, rule SelectionRule, last Processed) (Candidate, error) {
	subject, err := compileSubject(rule.Subject)
	if err != nil {
		return Candidate{}, err
	}

	since := rule.Since
	if since.IsZero() {
		lookback := rule.Lookback
		if lookback <= 0 {
			lookback = DefaultLookback
		}
		since = l.now().Add(-lookback)
	}

	listed, err := l.provider.ListUnread(ctx, Filter{Sender: rule.Sender, Subject: rule.Subject, Since: since})
	if err != nil {
		return Candidate{}, fmt.Errorf("listing unread messages: %w", err)
	}

	sender := strings.ToLower(strings.TrimSpace(rule.Sender))
	var matches []Candidate
	for _, c := range listed {
		if !c.Unread || c.ReceivedAt.Before(since) {
			continue
		}
		if sender != "" && !strings.Contains(strings.ToLower(c.From), sender) {
			continue
		}
		if subject != nil && !subject.MatchString(c.Subject) {
			continue
		}
		matches = append(matches, c)
	}
	if len(matches) == 0 {
		return Candidate{}, ErrNoCandidate
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].ReceivedAt.Equal(matches[j].ReceivedAt) {
			return matches[i].ReceivedAt.After(matches[j].ReceivedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	best := matches[0]
	if last.MessageID != "" && best.ID == last.MessageID {
		return best, &DuplicateError{Candidate: best}
	}
	// An older email left unread must not roll the sheet back.
	if !last.CapturedAt.IsZero() && !best.ReceivedAt.After(last.CapturedAt) {
		return best, &DuplicateError{Candidate: best, Stale: true}
	}
	return best, nil
}

func compileSubject(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling subject pattern %q: %w", pattern, err)
	}
	return re, nil
}
