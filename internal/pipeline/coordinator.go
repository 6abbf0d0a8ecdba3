// Package pipeline runs one feed synchronization: locate the feed email,
// extract its snapshot, diff it against the committed one and commit the
// result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/feedsync/internal/delta"
	"github.com/kalambet/feedsync/internal/feed"
	"github.com/kalambet/feedsync/internal/mailbox"
	"github.com/kalambet/feedsync/internal/storage"
)

// StateStore holds the last committed snapshot.
type StateStore interface {
	LoadState(ctx context.Context) (*storage.ProcessedState, error)
	CommitState(ctx context.Context, snap feed.Snapshot) error
}

// AuditLog receives one record per attempted run.
type AuditLog interface {
	AppendRun(ctx context.Context, rec storage.RunRecord) (storage.RunRecord, error)
}

// Spreadsheet is the commit target.
type Spreadsheet interface {
	WriteRows(ctx context.Context, sheetID string, rows []feed.Row) error
	AppendLog(ctx context.Context, sheetID string, rec storage.RunRecord) error
}

// RawArchive keeps the raw payload of a fetched feed.
type RawArchive interface {
	Archive(ctx context.Context, messageID string, capturedAt time.Time, data []byte) (string, error)
}

// Outcome summarizes how a run ended.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeNoFeed    Outcome = "no_feed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePreview   Outcome = "preview"
	OutcomeFailed    Outcome = "failed"
)

// Config holds the settings that stay fixed across runs.
type Config struct {
	Rule    mailbox.SelectionRule
	SheetID string
	// MirrorLog copies every appended RunRecord to the log worksheet.
	MirrorLog bool
}

// Options tune a single run.
type Options struct {
	DryRun  bool
	Since   time.Time
	SheetID string
}

// Result describes a finished run. Snapshot, Changes and Summary are set
// once extraction succeeded; Record is set whenever a RunRecord was written.
type Result struct {
	State      State
	Outcome    Outcome
	DryRun     bool
	Candidate  *mailbox.Candidate
	PreviousID string
	Snapshot   *feed.Snapshot
	Changes    []delta.Change
	Summary    delta.Summary
	Record     *storage.RunRecord
	ArchiveKey string
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Mailbox   mailbox.Provider
	State     StateStore
	Audit     AuditLog
	Sheet     Spreadsheet
	Archive   RawArchive
	Extractor *feed.Extractor
}

// Coordinator is the sole writer of the processed state and the sole
// appender to the audit log.
type Coordinator struct {
	deps    Deps
	cfg     Config
	locator *mailbox.Locator
	logger  *slog.Logger
}

// NewCoordinator wires a Coordinator. Archive may be nil.
func NewCoordinator(deps Deps, cfg Config) *Coordinator {
	if deps.Extractor == nil {
		deps.Extractor = feed.NewExtractor(feed.DefaultOptions())
	}
	return &Coordinator{
		deps:    deps,
		cfg:     cfg,
		locator: mailbox.NewLocator(deps.Mailbox),
		logger:  slog.Default(),
	}
}

type run struct {
	c    *Coordinator
	opts Options
	m    *machine
	res  *Result
	prev *storage.ProcessedState
}

// Run performs one synchronization. A nil error with Outcome no_feed,
// duplicate, preview or committed is a successful run. Extraction and
// locating failures return the underlying error; commit failures return a
// *CommitError.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*Result, error) {
	r := &run{c: c, opts: opts, m: newMachine(), res: &Result{DryRun: opts.DryRun}}
	defer func() { r.res.State = r.m.state }()

	if err := r.m.advance(StateLocating); err != nil {
		return r.res, err
	}
	cand, err := r.locate(ctx)
	if err != nil {
		var dup *mailbox.DuplicateError
		switch {
		case errors.Is(err, mailbox.ErrNoCandidate):
			c.logger.Info("no feed email found")
			r.res.Outcome = OutcomeNoFeed
			return r.res, r.m.advance(StateDone)
		case errors.As(err, &dup):
			return r.res, r.skipDuplicate(ctx, dup.Candidate)
		default:
			return r.res, r.fail(ctx, "", nil, fmt.Errorf("locating feed email: %w", err))
		}
	}
	r.res.Candidate = &cand
	log := c.logger.With("message_id", cand.ID)
	log.Info("feed email located", "received_at", cand.ReceivedAt)

	if err := r.m.advance(StateExtracting); err != nil {
		return r.res, err
	}
	snap, err := r.extract(ctx, cand)
	if err != nil {
		return r.res, r.fail(ctx, cand.ID, nil, err)
	}
	r.res.Snapshot = &snap
	log.Info("feed extracted", "rows", snap.Len(), "fingerprint", snap.Fingerprint())

	if err := r.m.advance(StateDiffing); err != nil {
		return r.res, err
	}
	var prevSnap *feed.Snapshot
	if r.prev != nil {
		prevSnap = &r.prev.Snapshot
		r.res.PreviousID = r.prev.MessageID
	}
	r.res.Changes = delta.Diff(prevSnap, snap)
	r.res.Summary = delta.Summarize(r.res.Changes, snap)
	log.Info("delta computed",
		"added", r.res.Summary.Added,
		"removed", r.res.Summary.Removed,
		"changed", r.res.Summary.Changed,
		"unchanged", r.res.Summary.Unchanged,
	)

	if opts.DryRun {
		r.res.Outcome = OutcomePreview
		return r.res, r.m.advance(StateDone)
	}

	if err := r.m.advance(StateCommitting); err != nil {
		return r.res, err
	}
	// Once the sheet may be touched the commit runs to completion.
	return r.res, r.commit(context.WithoutCancel(ctx), cand, snap)
}

func (r *run) locate(ctx context.Context) (mailbox.Candidate, error) {
	prev, err := r.c.deps.State.LoadState(ctx)
	if err != nil {
		return mailbox.Candidate{}, fmt.Errorf("loading processed state: %w", err)
	}
	r.prev = prev

	rule := r.c.cfg.Rule
	if !r.opts.Since.IsZero() {
		rule.Since = r.opts.Since
	}
	var last mailbox.Processed
	if prev != nil {
		last = mailbox.Processed{MessageID: prev.MessageID, CapturedAt: prev.Snapshot.CapturedAt}
	}
	return r.c.locator.Locate(ctx, rule, last)
}

func (r *run) extract(ctx context.Context, cand mailbox.Candidate) (feed.Snapshot, error) {
	payload, err := r.c.deps.Mailbox.FetchAttachment(ctx, cand.ID)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("fetching feed attachment: %w", err)
	}

	if !r.opts.DryRun && r.c.deps.Archive != nil {
		key, err := r.c.deps.Archive.Archive(ctx, cand.ID, cand.ReceivedAt, payload)
		if err != nil {
			r.c.logger.Warn("raw feed archive failed", "message_id", cand.ID, "error", err)
		} else {
			r.res.ArchiveKey = key
		}
	}

	snap, err := r.c.deps.Extractor.Extract(cand.ID, cand.ReceivedAt, payload)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("extracting feed: %w", err)
	}
	return snap, nil
}

func (r *run) skipDuplicate(ctx context.Context, cand mailbox.Candidate) error {
	r.res.Candidate = &cand
	r.res.Outcome = OutcomeDuplicate
	r.c.logger.Info("feed email already processed", "message_id", cand.ID)
	if err := r.m.advance(StateSkippedDuplicate); err != nil {
		return err
	}
	if r.opts.DryRun {
		return nil
	}
	_, err := r.appendRecord(ctx, storage.RunRecord{MessageID: cand.ID, Status: storage.StatusSkippedDuplicate})
	return err
}

// fail records a failed run unless this is a dry run and returns cause,
// joined with the audit failure if the record could not be written.
func (r *run) fail(ctx context.Context, messageID string, progress []Stage, cause error) error {
	r.res.Outcome = OutcomeFailed
	if err := r.m.advance(StateFailed); err != nil {
		return errors.Join(cause, err)
	}
	r.c.logger.Error("sync run failed", "message_id", messageID, "error", cause)
	if r.opts.DryRun {
		return cause
	}

	rec := storage.RunRecord{
		MessageID: messageID,
		Status:    storage.StatusFailed,
		Progress:  stageNames(progress),
		Error:     cause.Error(),
	}
	if _, err := r.appendRecord(context.WithoutCancel(ctx), rec); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (r *run) commit(ctx context.Context, cand mailbox.Candidate, snap feed.Snapshot) error {
	var progress []Stage
	commitErr := func(stage Stage, err error) *CommitError {
		return &CommitError{Stage: stage, Progress: append([]Stage(nil), progress...), Err: err}
	}

	sheetID := r.opts.SheetID
	if sheetID == "" {
		sheetID = r.c.cfg.SheetID
	}

	if err := r.c.deps.Sheet.WriteRows(ctx, sheetID, snap.Rows); err != nil {
		return r.fail(ctx, cand.ID, progress, commitErr(StageSheetWrite, err))
	}
	progress = append(progress, StageSheetWrite)

	if err := r.c.deps.State.CommitState(ctx, snap); err != nil {
		return r.fail(ctx, cand.ID, progress, commitErr(StageStateAdvance, err))
	}
	progress = append(progress, StageStateAdvance)

	rec, err := r.appendRecord(ctx, r.successRecord(cand, snap, progress))
	if err != nil {
		// The state already advanced; a failed record with the progress
		// tells the operator which steps took effect.
		return r.fail(ctx, cand.ID, progress, commitErr(StageAuditAppend, err))
	}
	progress = append(progress, StageAuditAppend)
	r.res.Outcome = OutcomeCommitted

	if err := r.c.deps.Mailbox.Archive(ctx, cand.ID); err != nil {
		r.c.logger.Error("email archive failed after commit", "message_id", cand.ID, "record_id", rec.ID, "error", err)
		if advErr := r.m.advance(StateFailed); advErr != nil {
			return advErr
		}
		return commitErr(StageEmailArchive, err)
	}

	r.c.logger.Info("feed committed", "message_id", cand.ID, "record_id", rec.ID, "rows", snap.Len())
	return r.m.advance(StateDone)
}

func (r *run) successRecord(cand mailbox.Candidate, snap feed.Snapshot, progress []Stage) storage.RunRecord {
	sum := r.res.Summary
	total := snap.TotalQuantity()
	rec := storage.RunRecord{
		MessageID: cand.ID,
		Status:    storage.StatusSuccess,
		Counts: &storage.Counts{
			Imported:  snap.Len(),
			Added:     sum.Added,
			Removed:   sum.Removed,
			Changed:   sum.Changed,
			Unchanged: sum.Unchanged,
		},
		TotalQuantity: &total,
		Progress:      stageNames(progress),
	}
	if r.prev != nil {
		change := total - r.prev.Snapshot.TotalQuantity()
		rec.QuantityChange = &change
	}
	return rec
}

// appendRecord writes rec to the audit log and, when configured, mirrors it
// to the log worksheet on a best-effort basis.
func (r *run) appendRecord(ctx context.Context, rec storage.RunRecord) (storage.RunRecord, error) {
	rec, err := r.c.deps.Audit.AppendRun(ctx, rec)
	if err != nil {
		return rec, err
	}
	r.res.Record = &rec

	if r.c.cfg.MirrorLog && r.c.deps.Sheet != nil {
		sheetID := r.opts.SheetID
		if sheetID == "" {
			sheetID = r.c.cfg.SheetID
		}
		if err := r.c.deps.Sheet.AppendLog(ctx, sheetID, rec); err != nil {
			r.c.logger.Warn("log worksheet mirror failed", "record_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}

func stageNames(stages []Stage) []string {
	if len(stages) == 0 {
		return nil
	}
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
