// Package token manages listed-token metadata
// (symbol/fee/decimals/logo/last_activity_timestamp) and the listing
// state: list, relist, delist.
package token

import "github.com/holiman/uint256"

// Metadata is the per-listed-token record.
type Metadata struct {
	Symbol                string
	Fee                   *uint256.Int // ledger transfer fee, in the token's base units
	Decimals              uint32       // 0-38
	Logo                  string       // optional
	LastActivityTimestamp uint64
}

// Registry holds metadata for every listed token. It does not itself
// enforce the relisting bulk-cancel policy — that requires touching the
// order book and pools, so it lives at the top-level engine, which
// reads Get's previous value before overwriting to decide whether a
// relisting changed fee or decimals.
type Registry struct {
	byToken map[[20]byte]*Metadata
}

// New creates an empty token registry.
func New() *Registry {
	return &Registry{byToken: make(map[[20]byte]*Metadata)}
}

// Get returns the metadata for token, or (nil, false) if unlisted.
func (r *Registry) Get(tok [20]byte) (*Metadata, bool) {
	m, ok := r.byToken[tok]
	return m, ok
}

// Set overwrites (or creates) the metadata for token.
func (r *Registry) Set(tok [20]byte, m *Metadata) {
	r.byToken[tok] = m
}

// Listed reports whether token has metadata on file.
func (r *Registry) Listed(tok [20]byte) bool {
	_, ok := r.byToken[tok]
	return ok
}

// Delist removes token's metadata entirely.
func (r *Registry) Delist(tok [20]byte) {
	delete(r.byToken, tok)
}

// Tokens returns every listed token id.
func (r *Registry) Tokens() [][20]byte {
	out := make([][20]byte, 0, len(r.byToken))
	for k := range r.byToken {
		out = append(out, k)
	}
	return out
}

// TouchActivity updates a token's last_activity_timestamp.
func (r *Registry) TouchActivity(tok [20]byte, ts uint64) {
	if m, ok := r.byToken[tok]; ok {
		m.LastActivityTimestamp = ts
	}
}
