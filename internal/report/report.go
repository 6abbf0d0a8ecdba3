// Package report renders sync results, run history and committed state for
// the command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kalambet/feedsync/internal/delta"
	"github.com/kalambet/feedsync/internal/pipeline"
	"github.com/kalambet/feedsync/internal/storage"
)

// Format selects the rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText, "":
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown format %q (want text or json)", s)
}

// MaxTextChanges caps the change lines printed in text mode.
const MaxTextChanges = 50

// Sync is the rendered view of one run.
type Sync struct {
	Outcome       string         `json:"outcome"`
	State         string         `json:"state"`
	DryRun        bool           `json:"dry_run"`
	MessageID     string         `json:"message_id,omitempty"`
	PreviousID    string         `json:"previous_message_id,omitempty"`
	Rows          int            `json:"rows"`
	TotalQuantity int64          `json:"total_quantity"`
	Summary       delta.Summary  `json:"summary"`
	Changes       []delta.Change `json:"changes,omitempty"`
	RecordID      string         `json:"record_id,omitempty"`
	ArchiveKey    string         `json:"archive_key,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// FromResult builds a Sync view. runErr is the error Run returned, if any.
func FromResult(res *pipeline.Result, runErr error) Sync {
	s := Sync{}
	if res != nil {
		s.Outcome = string(res.Outcome)
		s.State = string(res.State)
		s.DryRun = res.DryRun
		s.PreviousID = res.PreviousID
		s.Summary = res.Summary
		s.Changes = res.Changes
		s.ArchiveKey = res.ArchiveKey
		if res.Candidate != nil {
			s.MessageID = res.Candidate.ID
		}
		if res.Snapshot != nil {
			s.Rows = res.Snapshot.Len()
			s.TotalQuantity = res.Snapshot.TotalQuantity()
		}
		if res.Record != nil {
			s.RecordID = res.Record.ID
		}
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}
	return s
}

// WriteSync renders s in the given format.
func WriteSync(w io.Writer, f Format, s Sync) error {
	if f == FormatJSON {
		return writeJSON(w, s)
	}

	p := &printer{w: w}
	p.field("outcome", s.Outcome)
	if s.DryRun {
		p.field("mode", "dry run (nothing written)")
	}
	if s.MessageID != "" {
		msg := s.MessageID
		if s.PreviousID != "" {
			msg += " (previous " + s.PreviousID + ")"
		}
		p.field("message", msg)
	}
	if s.Outcome == string(pipeline.OutcomeCommitted) || s.Outcome == string(pipeline.OutcomePreview) {
		p.field("rows", fmt.Sprintf("%d (total quantity %d)", s.Rows, s.TotalQuantity))
		p.field("added", fmt.Sprint(s.Summary.Added))
		p.field("removed", fmt.Sprint(s.Summary.Removed))
		p.field("changed", fmt.Sprint(s.Summary.Changed))
		p.field("unchanged", fmt.Sprint(s.Summary.Unchanged))
	}
	if s.RecordID != "" {
		p.field("record", s.RecordID)
	}
	if s.ArchiveKey != "" {
		p.field("archived", s.ArchiveKey)
	}
	if s.Error != "" {
		p.field("error", s.Error)
	}

	if len(s.Changes) > 0 {
		p.line("")
		p.line("changes:")
		for i, c := range s.Changes {
			if i == MaxTextChanges {
				p.line(fmt.Sprintf("  ... and %d more", len(s.Changes)-MaxTextChanges))
				break
			}
			p.line("  " + changeLine(c))
		}
	}
	return p.err
}

func changeLine(c delta.Change) string {
	switch c.Kind {
	case delta.Added:
		return fmt.Sprintf("+ %s qty=%d desc=%q", c.SKU, c.New.Quantity, c.New.Description)
	case delta.Removed:
		return fmt.Sprintf("- %s qty=%d", c.SKU, c.Old.Quantity)
	default:
		line := fmt.Sprintf("~ %s", c.SKU)
		if c.Old.Quantity != c.New.Quantity {
			line += fmt.Sprintf(" qty=%d->%d", c.Old.Quantity, c.New.Quantity)
		}
		if c.Old.Description != c.New.Description {
			line += fmt.Sprintf(" desc=%q->%q", c.Old.Description, c.New.Description)
		}
		return line
	}
}

// WriteHistory renders audit records, newest first as given.
func WriteHistory(w io.Writer, f Format, recs []storage.RunRecord) error {
	if f == FormatJSON {
		if recs == nil {
			recs = []storage.RunRecord{}
		}
		return writeJSON(w, recs)
	}

	p := &printer{w: w}
	if len(recs) == 0 {
		p.line("no runs recorded")
		return p.err
	}
	for _, r := range recs {
		msg := r.MessageID
		if msg == "" {
			msg = "-"
		}
		line := fmt.Sprintf("%s  %-17s  %s", r.Timestamp.UTC().Format(time.RFC3339), r.Status, msg)
		if c := r.Counts; c != nil {
			line += fmt.Sprintf("  rows=%d +%d -%d ~%d =%d", c.Imported, c.Added, c.Removed, c.Changed, c.Unchanged)
		}
		if r.TotalQuantity != nil {
			line += fmt.Sprintf("  qty=%d", *r.TotalQuantity)
			if r.QuantityChange != nil {
				line += fmt.Sprintf(" (%+d)", *r.QuantityChange)
			}
		}
		if len(r.Progress) > 0 && r.Status == storage.StatusFailed {
			line += "  completed=" + strings.Join(r.Progress, ",")
		}
		if r.Error != "" {
			line += "  error: " + r.Error
		}
		p.line(line)
	}
	return p.err
}

// StateView is the rendered committed state.
type StateView struct {
	Committed     bool       `json:"committed"`
	MessageID     string     `json:"message_id,omitempty"`
	CommittedAt   *time.Time `json:"committed_at,omitempty"`
	CapturedAt    *time.Time `json:"captured_at,omitempty"`
	Rows          int        `json:"rows"`
	TotalQuantity int64      `json:"total_quantity"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
}

// NewStateView summarizes st; nil means nothing was committed yet.
func NewStateView(st *storage.ProcessedState) StateView {
	if st == nil {
		return StateView{}
	}
	committed := st.CommittedAt.UTC()
	captured := st.Snapshot.CapturedAt.UTC()
	return StateView{
		Committed:     true,
		MessageID:     st.MessageID,
		CommittedAt:   &committed,
		CapturedAt:    &captured,
		Rows:          st.Snapshot.Len(),
		TotalQuantity: st.Snapshot.TotalQuantity(),
		Fingerprint:   st.Fingerprint,
	}
}

// WriteState renders the committed state.
func WriteState(w io.Writer, f Format, v StateView) error {
	if f == FormatJSON {
		return writeJSON(w, v)
	}
	p := &printer{w: w}
	if !v.Committed {
		p.line("no snapshot committed yet")
		return p.err
	}
	p.field("message", v.MessageID)
	if v.CommittedAt != nil {
		p.field("committed", v.CommittedAt.Format(time.RFC3339))
	}
	if v.CapturedAt != nil {
		p.field("captured", v.CapturedAt.Format(time.RFC3339))
	}
	p.field("rows", fmt.Sprint(v.Rows))
	p.field("quantity", fmt.Sprint(v.TotalQuantity))
	p.field("fingerprint", v.Fingerprint)
	return p.err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printer remembers the first write error so callers check once.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintln(p.w, s)
}

func (p *printer) field(label, value string) {
	p.line(fmt.Sprintf("%-12s %s", label+":", value))
}
