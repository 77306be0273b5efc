package tipping

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// maxAmountBits bounds deposits to the unsigned 128-bit range of attached
// amounts.
const maxAmountBits = 128

// ParseAmount parses a decimal amount string into a non-negative integer that
// fits in 128 bits.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, newError(CodeParseError, "amount required")
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, newError(CodeParseError, "invalid amount %q: %v", trimmed, err)
	}
	if value.BitLen() > maxAmountBits {
		return nil, newError(CodeParseError, "amount %q exceeds 128 bits", trimmed)
	}
	return value.ToBig(), nil
}

// ParseTrackID parses an external track identifier. Values outside the
// unsigned 32-bit range are rejected rather than truncated.
func ParseTrackID(raw string) (TrackID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, newError(CodeParseError, "track id required")
	}
	parsed, err := strconv.ParseUint(trimmed, 10, 32)
	if err != nil {
		return 0, newError(CodeParseError, "invalid track id %q", trimmed)
	}
	return TrackID(parsed), nil
}

// FormatAmount renders an amount as a decimal string; nil renders as zero.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
