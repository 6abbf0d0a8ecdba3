package delta

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kalambet/feedsync/internal/feed"
)

// slots encodes a snapshot as a fixed key space: slot i holds SKU "k<i>"
// with quantity v, or is absent when v < 0. Two generated slot slices
// therefore overlap on a random subset of keys.
func fromSlots(id string, slots []int) feed.Snapshot {
	rows := make([]feed.Row, 0, len(slots))
	for i, v := range slots {
		if v < 0 {
			continue
		}
		rows = append(rows, feed.Row{SKU: fmt.Sprintf("k%d", i), Description: "d", Quantity: int64(v)})
	}
	s, err := feed.NewSnapshot(id, time.Unix(0, 0), rows)
	if err != nil {
		panic(err)
	}
	return s
}

func keyUnion(a, b feed.Snapshot) map[string]bool {
	u := make(map[string]bool)
	for _, r := range a.Rows {
		u[r.SKU] = true
	}
	for _, r := range b.Rows {
		u[r.SKU] = true
	}
	return u
}

// TestProperty_DeltaPartition checks that Added, Removed, Changed and
// Unchanged partition the union of keys exactly.
func TestProperty_DeltaPartition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	slotGen := gen.SliceOfN(24, gen.IntRange(-1, 3))

	properties.Property("every key lands in exactly one class", prop.ForAll(
		func(a, b []int) bool {
			prev := fromSlots("a", a)
			cur := fromSlots("b", b)
			changes := Diff(&prev, cur)

			seen := make(map[string]Kind)
			for _, c := range changes {
				if _, dup := seen[c.SKU]; dup {
					return false
				}
				seen[c.SKU] = c.Kind
			}

			for sku := range keyUnion(prev, cur) {
				old, inPrev := prev.Lookup(sku)
				now, inCur := cur.Lookup(sku)
				kind, listed := seen[sku]
				switch {
				case inPrev && !inCur:
					if !listed || kind != Removed {
						return false
					}
				case !inPrev && inCur:
					if !listed || kind != Added {
						return false
					}
				case old.SameAttributes(now):
					// Unchanged keys are omitted and must really be identical.
					if listed {
						return false
					}
				default:
					if !listed || kind != Changed {
						return false
					}
				}
			}
			return len(seen) <= len(keyUnion(prev, cur))
		},
		slotGen, slotGen,
	))

	properties.Property("summary covers the key union", prop.ForAll(
		func(a, b []int) bool {
			prev := fromSlots("a", a)
			cur := fromSlots("b", b)
			sum := Summarize(Diff(&prev, cur), cur)
			return sum.Total() == len(keyUnion(prev, cur)) && sum.Unchanged >= 0
		},
		slotGen, slotGen,
	))

	properties.Property("first run classifies everything as added", prop.ForAll(
		func(b []int) bool {
			cur := fromSlots("b", b)
			changes := Diff(nil, cur)
			if len(changes) != cur.Len() {
				return false
			}
			for _, c := range changes {
				if c.Kind != Added {
					return false
				}
			}
			return true
		},
		slotGen,
	))

	properties.Property("removed entries trail added and changed", prop.ForAll(
		func(a, b []int) bool {
			prev := fromSlots("a", a)
			cur := fromSlots("b", b)
			removing := false
			for _, c := range Diff(&prev, cur) {
				if c.Kind == Removed {
					removing = true
				} else if removing {
					return false
				}
			}
			return true
		},
		slotGen, slotGen,
	))

	properties.TestingRun(t)
}
