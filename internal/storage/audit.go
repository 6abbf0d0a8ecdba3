package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var runColumns = []string{
	"id", "timestamp", "message_id", "status",
	"rows_imported", "rows_added", "rows_removed", "rows_changed", "rows_unchanged",
	"total_quantity", "quantity_change", "progress", "error",
}

// AppendRun writes rec to the audit log. Missing ID and Timestamp are
// filled in. Records are never updated after insertion; the schema
// rejects UPDATE and DELETE.
func (s *Store) AppendRun(ctx context.Context, rec RunRecord) (RunRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if !rec.Status.Valid() {
		return rec, &AuditWriteError{RecordID: rec.ID, Err: fmt.Errorf("invalid status %q", rec.Status)}
	}

	progress, err := json.Marshal(rec.Progress)
	if err != nil {
		return rec, &AuditWriteError{RecordID: rec.ID, Err: err}
	}

	var imported, added, removed, changed, unchanged sql.NullInt64
	if c := rec.Counts; c != nil {
		imported = sql.NullInt64{Int64: int64(c.Imported), Valid: true}
		added = sql.NullInt64{Int64: int64(c.Added), Valid: true}
		removed = sql.NullInt64{Int64: int64(c.Removed), Valid: true}
		changed = sql.NullInt64{Int64: int64(c.Changed), Valid: true}
		unchanged = sql.NullInt64{Int64: int64(c.Unchanged), Valid: true}
	}

	query, args, err := sq.Insert("run_records").
		Columns(runColumns...).
		Values(
			rec.ID, formatTime(rec.Timestamp), rec.MessageID, string(rec.Status),
			imported, added, removed, changed, unchanged,
			nullInt(rec.TotalQuantity), nullInt(rec.QuantityChange),
			string(progress), rec.Error,
		).
		ToSql()
	if err != nil {
		return rec, &AuditWriteError{RecordID: rec.ID, Err: err}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return rec, &AuditWriteError{RecordID: rec.ID, Err: err}
	}
	return rec, nil
}

// RunHistory returns audit records newest first.
func (s *Store) RunHistory(ctx context.Context, q HistoryQuery) ([]RunRecord, error) {
	b := sq.Select(runColumns...).From("run_records").OrderBy("seq DESC")
	if q.Status != "" {
		b = b.Where(sq.Eq{"status": string(q.Status)})
	}
	if q.MessageID != "" {
		b = b.Where(sq.Eq{"message_id": q.MessageID})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building history query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		rec                                         RunRecord
		ts, status, progress                        string
		imported, added, removed, changed, unchanged sql.NullInt64
		total, change                               sql.NullInt64
	)
	if err := rows.Scan(
		&rec.ID, &ts, &rec.MessageID, &status,
		&imported, &added, &removed, &changed, &unchanged,
		&total, &change, &progress, &rec.Error,
	); err != nil {
		return RunRecord{}, fmt.Errorf("scanning run record: %w", err)
	}

	var err error
	if rec.Timestamp, err = parseTime("timestamp", ts); err != nil {
		return RunRecord{}, err
	}
	rec.Status = RunStatus(status)

	if imported.Valid {
		rec.Counts = &Counts{
			Imported:  int(imported.Int64),
			Added:     int(added.Int64),
			Removed:   int(removed.Int64),
			Changed:   int(changed.Int64),
			Unchanged: int(unchanged.Int64),
		}
	}
	if total.Valid {
		v := total.Int64
		rec.TotalQuantity = &v
	}
	if change.Valid {
		v := change.Int64
		rec.QuantityChange = &v
	}
	if progress != "" && progress != "null" {
		if err := json.Unmarshal([]byte(progress), &rec.Progress); err != nil {
			return RunRecord{}, fmt.Errorf("decoding progress of %s: %w", rec.ID, err)
		}
	}
	return rec, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
