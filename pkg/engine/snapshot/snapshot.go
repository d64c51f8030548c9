// Package snapshot implements persistence of the full engine state:
// a CBOR blob (github.com/fxamacker/cbor/v2) behind a fixed 16-byte
// header, written through a small byte-addressable Memory interface so
// the header/offset/length bookkeeping is independent of the backing
// store.
package snapshot

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Memory is a flat addressable byte store: growable, addressable by
// byte offset, with no notion of files.
type Memory interface {
	Size() int64
	Grow(toSize int64) error
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// headerSize is the fixed 16-byte header: offset (8 bytes BE) then
// length (8 bytes BE).
const headerSize = 16

// dataOffset is where the very first snapshot's bytes begin, right
// after the header.
const dataOffset = headerSize

// State is the full serializable engine snapshot. The top-level engine
// populates one of these from its live maps before calling Write, and
// rehydrates its live maps from one returned by Read.
type State struct {
	Books         map[[20]byte]BookState    `cbor:"books"`
	Archives      map[[20]byte][]OrderState `cbor:"archives"`
	Pools         map[[20]byte]PoolState    `cbor:"pools"`
	Tokens        map[[20]byte]TokenState   `cbor:"tokens"`
	RevenueAcct   *[20]byte                 `cbor:"revenue_acct"`
	NextEventID   uint64                    `cbor:"next_event_id"`
	Logs          []LogEntry                `cbor:"logs"`
	PaymentToken  [20]byte                  `cbor:"payment_token"`
	OrderActivity map[[20]byte][]uint64     `cbor:"order_activity"`
}

// BookState is a token's open orders, split by side.
type BookState struct {
	Buys  []OrderState `cbor:"buys"`
	Sells []OrderState `cbor:"sells"`
}

// OrderState is the wire form of order.Order: plain byte slices for the
// u128 fields, since cbor has no native big-integer support.
type OrderState struct {
	Side       uint8  `cbor:"side"`
	Owner      [20]byte `cbor:"owner"`
	Amount     []byte `cbor:"amount"`
	Price      []byte `cbor:"price"`
	CreatedAt  uint64 `cbor:"created_at"`
	ExecutedAt uint64 `cbor:"executed_at"`
	Decimals   uint32 `cbor:"decimals"`
	PaymentFee []byte `cbor:"payment_fee"`
	TxFeeNumer uint64 `cbor:"tx_fee_numer"`
}

// PoolState is a token's balances, owner -> amount bytes.
type PoolState struct {
	Balances map[[20]byte][]byte `cbor:"balances"`
}

// TokenState is the wire form of token.Metadata.
type TokenState struct {
	Symbol                string `cbor:"symbol"`
	Fee                   []byte `cbor:"fee"`
	Decimals              uint32 `cbor:"decimals"`
	Logo                  string `cbor:"logo"`
	LastActivityTimestamp uint64 `cbor:"last_activity_timestamp"`
}

// LogEntry is one bounded front-push log record.
type LogEntry struct {
	EventID uint64 `cbor:"event_id"`
	Message string `cbor:"message"`
}

// Write serializes state with CBOR and persists it to mem starting right
// after the fixed header, then writes the header itself last. The body
// always goes to the same offset and overwrites the previous snapshot's
// body in place, so a write interrupted after the body and before the
// header leaves the old header's length describing the new body.
func Write(mem Memory, state *State) error {
	body, err := cbor.Marshal(state)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	needed := dataOffset + int64(len(body))
	if mem.Size() < needed {
		if err := mem.Grow(needed); err != nil {
			return fmt.Errorf("snapshot: grow: %w", err)
		}
	}
	if _, err := mem.WriteAt(body, dataOffset); err != nil {
		return fmt.Errorf("snapshot: write body: %w", err)
	}

	var header [headerSize]byte
	binary.BigEndian.PutUint64(header[0:8], uint64(dataOffset))
	binary.BigEndian.PutUint64(header[8:16], uint64(len(body)))
	if _, err := mem.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	return nil
}

// Read loads the header at offset 0, then the body it describes, and
// decodes it with CBOR.
func Read(mem Memory) (*State, error) {
	if mem.Size() < headerSize {
		return &State{}, nil
	}
	var header [headerSize]byte
	if _, err := mem.ReadAt(header[:], 0); err != nil {
		return nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	offset := int64(binary.BigEndian.Uint64(header[0:8]))
	length := int64(binary.BigEndian.Uint64(header[8:16]))
	if length == 0 {
		return &State{}, nil
	}

	body := make([]byte, length)
	if _, err := mem.ReadAt(body, offset); err != nil {
		return nil, fmt.Errorf("snapshot: read body: %w", err)
	}

	var state State
	if err := cbor.Unmarshal(body, &state); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal: %w", err)
	}
	return &state, nil
}
