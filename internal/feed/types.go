package feed

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spaolacci/murmur3"
)

// Row is one inventory line keyed by SKU. Description and Quantity are the
// tracked attributes compared between snapshots.
type Row struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
}

// SameAttributes reports whether r and o carry identical tracked attributes.
func (r Row) SameAttributes(o Row) bool {
	return r.Description == o.Description && r.Quantity == o.Quantity
}

// Snapshot is a complete, validated set of rows captured from one feed
// delivery. Build one with NewSnapshot; the zero value is an empty feed.
type Snapshot struct {
	SourceID   string    `json:"source_id"`
	CapturedAt time.Time `json:"captured_at"`
	Rows       []Row     `json:"rows"`

	index map[string]int
}

// MaxTotalQuantity bounds the absolute total quantity of a snapshot so
// totals and the change between two totals fit in an int64.
const MaxTotalQuantity = math.MaxInt64 / 2

// NewSnapshot validates key uniqueness and the total quantity bound and
// returns a Snapshot owning a copy of rows. A duplicate SKU yields a
// MalformedError of kind KindDuplicateKey.
func NewSnapshot(sourceID string, capturedAt time.Time, rows []Row) (Snapshot, error) {
	s := Snapshot{
		SourceID:   sourceID,
		CapturedAt: capturedAt.UTC(),
		Rows:       make([]Row, len(rows)),
		index:      make(map[string]int, len(rows)),
	}
	copy(s.Rows, rows)
	var total int64
	for i, r := range s.Rows {
		q := r.Quantity
		if (q > 0 && total > MaxTotalQuantity-q) || (q < 0 && total < -MaxTotalQuantity-q) {
			return Snapshot{}, &MalformedError{
				Kind:   KindInvalidRow,
				Line:   i + 2,
				Detail: fmt.Sprintf("total quantity exceeds %d", int64(MaxTotalQuantity)),
			}
		}
		total += q
		if first, dup := s.index[r.SKU]; dup {
			return Snapshot{}, &MalformedError{
				Kind:   KindDuplicateKey,
				Line:   i + 2,
				Detail: fmt.Sprintf("sku %q already seen on line %d", r.SKU, first+2),
			}
		}
		s.index[r.SKU] = i
	}
	return s, nil
}

// Lookup returns the row for sku.
func (s *Snapshot) Lookup(sku string) (Row, bool) {
	if s.index == nil {
		s.reindex()
	}
	i, ok := s.index[sku]
	if !ok {
		return Row{}, false
	}
	return s.Rows[i], true
}

// Len returns the number of rows.
func (s Snapshot) Len() int { return len(s.Rows) }

// TotalQuantity sums Quantity across all rows. NewSnapshot keeps the sum
// within MaxTotalQuantity.
func (s Snapshot) TotalQuantity() int64 {
	var total int64
	for _, r := range s.Rows {
		total += r.Quantity
	}
	return total
}

// Fingerprint is a murmur3-128 digest of the ordered rows, rendered as hex.
// Two snapshots with the same rows in the same order share a fingerprint
// regardless of SourceID.
func (s Snapshot) Fingerprint() string {
	h := murmur3.New128()
	for _, r := range s.Rows {
		h.Write([]byte(r.SKU))
		h.Write([]byte{0})
		h.Write([]byte(r.Description))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(r.Quantity, 10)))
		h.Write([]byte{'\n'})
	}
	hi, lo := h.Sum128()
	return fmt.Sprintf("%016x%016x", hi, lo)
}

func (s *Snapshot) reindex() {
	s.index = make(map[string]int, len(s.Rows))
	for i, r := range s.Rows {
		s.index[r.SKU] = i
	}
}
