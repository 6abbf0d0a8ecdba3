// Package delta computes row-level differences between two snapshots.
package delta

import "github.com/kalambet/feedsync/internal/feed"

// Kind classifies a Change.
type Kind string

const (
	Added   Kind = "added"
	Removed Kind = "removed"
	Changed Kind = "changed"
)

// Change is one per-key difference. Old is nil for Added, New is nil for
// Removed; both are set for Changed.
type Change struct {
	Kind Kind      `json:"kind"`
	SKU  string    `json:"sku"`
	Old  *feed.Row `json:"old,omitempty"`
	New  *feed.Row `json:"new,omitempty"`
}

// Summary counts each class. Unchanged keys never appear in a Change slice
// but are counted here so the four classes add up to the key union.
type Summary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
}

// Total returns the size of the key union covered by s.
func (s Summary) Total() int {
	return s.Added + s.Removed + s.Changed + s.Unchanged
}

// Diff compares previous against current. A nil previous means no snapshot
// was ever committed and every current row is Added.
//
// Output follows current's row order; Removed entries are appended in
// previous's row order.
func Diff(previous *feed.Snapshot, current feed.Snapshot) []Change {
	changes := make([]Change, 0, current.Len())

	for i := range current.Rows {
		cur := current.Rows[i]
		if previous == nil {
			changes = append(changes, Change{Kind: Added, SKU: cur.SKU, New: &cur})
			continue
		}
		old, ok := previous.Lookup(cur.SKU)
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Added, SKU: cur.SKU, New: &cur})
		case !old.SameAttributes(cur):
			changes = append(changes, Change{Kind: Changed, SKU: cur.SKU, Old: &old, New: &cur})
		}
	}

	if previous == nil {
		return changes
	}
	for i := range previous.Rows {
		old := previous.Rows[i]
		if _, ok := current.Lookup(old.SKU); !ok {
			changes = append(changes, Change{Kind: Removed, SKU: old.SKU, Old: &old})
		}
	}
	return changes
}

// Summarize counts changes by class. Unchanged is derived from current's
// size: every current key is either Added, Changed or Unchanged.
func Summarize(changes []Change, current feed.Snapshot) Summary {
	var s Summary
	for _, c := range changes {
		switch c.Kind {
		case Added:
			s.Added++
		case Removed:
			s.Removed++
		case Changed:
			s.Changed++
		}
	}
	s.Unchanged = current.Len() - s.Added - s.Changed
	return s
}
