// Package archive holds the bounded record of executed orders per
// token. Newest entries sit at the front; housekeeping trims entries by
// age.
package archive

import "github.com/spotbeacon/engine/pkg/engine/order"

// Archive is a front-push deque of archived orders for one token. Size
// bounding happens in housekeeping (by age), not here.
type Archive struct {
	entries []*order.Order
}

// New creates an empty archive.
func New() *Archive { return &Archive{} }

// PushFront records a newly archived order at the front.
func (a *Archive) PushFront(o *order.Order) {
	a.entries = append([]*order.Order{o}, a.entries...)
}

// All returns every archived order, newest first.
func (a *Archive) All() []*order.Order { return a.entries }

// Len returns the number of archived orders.
func (a *Archive) Len() int { return len(a.entries) }

// TrimOlderThan drops every entry whose ExecutedAt is older than the cutoff
// timestamp, preserving front-to-back (newest-first) order. Because entries
// are pushed newest-first, once we hit an entry at or after the cutoff from
// the back we can stop — but archived orders needn't be monotonically
// ordered by ExecutedAt across partial-fill residues, so this scans fully
// for correctness rather than relying on that assumption.
func (a *Archive) TrimOlderThan(cutoff uint64) int {
	kept := a.entries[:0:0]
	dropped := 0
	for _, o := range a.entries {
		if o.ExecutedAt < cutoff {
			dropped++
			continue
		}
		kept = append(kept, o)
	}
	a.entries = kept
	return dropped
}
