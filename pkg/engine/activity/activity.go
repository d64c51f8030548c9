// Package activity tracks per-user order-creation timestamps for the
// one-hour rate limit.
package activity

import "github.com/spotbeacon/engine/pkg/engine/apperr"

const windowNanos = uint64(60 * 60 * 1_000_000_000)

// Log is the per-user set of recent order-creation timestamps.
type Log struct {
	byUser map[[20]byte][]uint64
	max    int
}

// New creates an activity log enforcing maxPerHour creations per user.
func New(maxPerHour int) *Log {
	return &Log{byUser: make(map[[20]byte][]uint64), max: maxPerHour}
}

// Record prunes timestamps older than one hour from now, then either
// records now and returns nil, or returns ErrRateLimited if the pruned
// set already holds max entries.
func (l *Log) Record(user [20]byte, now uint64) error {
	pruned := l.byUser[user][:0:0]
	for _, ts := range l.byUser[user] {
		if ts >= now || now-ts < windowNanos {
			pruned = append(pruned, ts)
		}
	}
	if len(pruned) >= l.max {
		l.byUser[user] = pruned
		return apperr.ErrRateLimited
	}
	l.byUser[user] = append(pruned, now)
	return nil
}

// Export returns every retained timestamp by user, for snapshotting.
func (l *Log) Export() map[[20]byte][]uint64 {
	out := make(map[[20]byte][]uint64, len(l.byUser))
	for user, ts := range l.byUser {
		out[user] = append([]uint64(nil), ts...)
	}
	return out
}

// Import replaces the log's contents with previously exported state.
func (l *Log) Import(byUser map[[20]byte][]uint64) {
	l.byUser = make(map[[20]byte][]uint64, len(byUser))
	for user, ts := range byUser {
		l.byUser[user] = append([]uint64(nil), ts...)
	}
}

// Count returns the number of timestamps currently retained for user
// (after pruning against now), for diagnostics/testing.
func (l *Log) Count(user [20]byte, now uint64) int {
	n := 0
	for _, ts := range l.byUser[user] {
		if ts >= now || now-ts < windowNanos {
			n++
		}
	}
	return n
}
