package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"tinybank/crypto"
)

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func formatAddress(addr [20]byte) string {
	return crypto.FromArray(addr).String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
