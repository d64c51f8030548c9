package ledger

import (
	"encoding/hex"

	"github.com/holiman/uint256"

	"github.com/spotbeacon/engine/pkg/engine/pool"
)

func hexOf(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func parseAmount(s string) (*pool.Amount, error) {
	return uint256.FromDecimal(s)
}
