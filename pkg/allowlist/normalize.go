package allowlist

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Normalize returns the canonical comparison form of addr. Ethereum
// addresses become 0x-prefixed lowercase hex; anything else is trimmed and
// lowercased.
func Normalize(addr string) string {
	s := strings.TrimSpace(addr)
	if common.IsHexAddress(s) {
		return strings.ToLower(common.HexToAddress(s).Hex())
	}
	return strings.ToLower(s)
}
