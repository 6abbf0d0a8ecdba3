package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/kalambet/feedsync/internal/feed"
)

type snapshotBlob struct {
	SourceID   string     `json:"source_id"`
	CapturedAt string     `json:"captured_at"`
	Rows       []feed.Row `json:"rows"`
}

// LoadState returns the last committed state, or nil when nothing was ever
// committed.
func (s *Store) LoadState(ctx context.Context) (*ProcessedState, error) {
	var (
		st          ProcessedState
		committedAt string
		blob        []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT message_id, committed_at, fingerprint, snapshot
		FROM processed_state WHERE id = 1`,
	).Scan(&st.MessageID, &committedAt, &st.Fingerprint, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	if st.CommittedAt, err = parseTime("committed_at", committedAt); err != nil {
		return nil, err
	}
	if st.Snapshot, err = decodeSnapshot(blob); err != nil {
		return nil, fmt.Errorf("decoding snapshot for %s: %w", st.MessageID, err)
	}
	return &st, nil
}

// CommitState replaces the processed state with snap in a single
// transaction. Readers observe either the previous state or the new one.
func (s *Store) CommitState(ctx context.Context, snap feed.Snapshot) error {
	if snap.SourceID == "" {
		return errors.New("committing state: snapshot has no source message id")
	}

	blob, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning state transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO processed_state (id, message_id, captured_at, committed_at, row_count, total_quantity, fingerprint, snapshot)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message_id = excluded.message_id,
			captured_at = excluded.captured_at,
			committed_at = excluded.committed_at,
			row_count = excluded.row_count,
			total_quantity = excluded.total_quantity,
			fingerprint = excluded.fingerprint,
			snapshot = excluded.snapshot`,
		snap.SourceID, formatTime(snap.CapturedAt), formatTime(s.now()),
		snap.Len(), snap.TotalQuantity(), snap.Fingerprint(), blob,
	)
	if err != nil {
		return fmt.Errorf("writing state row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}
	return nil
}

func encodeSnapshot(snap feed.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snapshotBlob{
		SourceID:   snap.SourceID,
		CapturedAt: formatTime(snap.CapturedAt),
		Rows:       snap.Rows,
	})
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeSnapshot(blob []byte) (feed.Snapshot, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("decompressing: %w", err)
	}
	var b snapshotBlob
	if err := json.Unmarshal(raw, &b); err != nil {
		return feed.Snapshot{}, fmt.Errorf("unmarshalling: %w", err)
	}
	capturedAt, err := parseTime("captured_at", b.CapturedAt)
	if err != nil {
		return feed.Snapshot{}, err
	}
	return feed.NewSnapshot(b.SourceID, capturedAt, b.Rows)
}
