package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateWallet checks that w is a 0x-prefixed 20-byte hex address.
func ValidateWallet(w string) error {
	if !strings.HasPrefix(w, "0x") && !strings.HasPrefix(w, "0X") {
		return fmt.Errorf("%w: %q: missing 0x prefix", ErrInvalidWallet, w)
	}
	if !common.IsHexAddress(w) {
		return fmt.Errorf("%w: %q", ErrInvalidWallet, w)
	}
	return nil
}

// NormalizeWallet validates w and returns its lowercase form, so checksum
// and plain casings of one address share a chain.
func NormalizeWallet(w string) (string, error) {
	w = strings.TrimSpace(w)
	if err := ValidateWallet(w); err != nil {
		return "", err
	}
	return "0x" + strings.ToLower(w[2:]), nil
}
