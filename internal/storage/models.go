package storage

import (
	"fmt"
	"time"

	"github.com/kalambet/feedsync/internal/feed"
)

// RunStatus is the terminal status of one pipeline run.
type RunStatus string

const (
	StatusSuccess          RunStatus = "success"
	StatusSkippedDuplicate RunStatus = "skipped_duplicate"
	StatusFailed           RunStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusSkippedDuplicate, StatusFailed:
		return true
	}
	return false
}

// Counts holds the row tallies of a run that got as far as diffing.
type Counts struct {
	Imported  int `json:"rows_imported"`
	Added     int `json:"rows_added"`
	Removed   int `json:"rows_removed"`
	Changed   int `json:"rows_changed"`
	Unchanged int `json:"rows_unchanged"`
}

// RunRecord is one immutable audit entry. Counts, TotalQuantity and
// QuantityChange are nil when the run never produced a snapshot.
type RunRecord struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	MessageID      string    `json:"message_id"`
	Status         RunStatus `json:"status"`
	Counts         *Counts   `json:"counts,omitempty"`
	TotalQuantity  *int64    `json:"total_quantity,omitempty"`
	QuantityChange *int64    `json:"quantity_change,omitempty"`
	Progress       []string  `json:"progress,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// ProcessedState is the durable pointer to the last committed snapshot.
type ProcessedState struct {
	MessageID   string        `json:"message_id"`
	CommittedAt time.Time     `json:"committed_at"`
	Fingerprint string        `json:"fingerprint"`
	Snapshot    feed.Snapshot `json:"-"`
}

// AuditWriteError reports a storage failure while appending a RunRecord.
type AuditWriteError struct {
	RecordID string
	Err      error
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("appending run record %s: %v", e.RecordID, e.Err)
}

func (e *AuditWriteError) Unwrap() error { return e.Err }

// HistoryQuery filters RunHistory. Zero values mean no filter; Limit <= 0
// returns every record.
type HistoryQuery struct {
	Limit     int
	Status    RunStatus
	MessageID string
}
