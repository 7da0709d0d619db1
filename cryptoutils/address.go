package cryptoutils

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

// NormalizeAddress parses a 20-byte hex address (0x optional) and returns it.
// Its Hex() form is the EIP-55 checksummed encoding.
func NormalizeAddress(addr string) (common.Address, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", interfaces.ErrValidation, addr)
	}
	return common.HexToAddress(addr), nil
}

// AddressesEqual compares a recovered address with a stored one, ignoring
// checksum case.
func AddressesEqual(recovered common.Address, stored string) bool {
	return strings.EqualFold(recovered.Hex(), strings.TrimSpace(stored))
}

// ParsePrivateKey parses a secp256k1 private key given as 64 hex characters,
// with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if len(clean) != 64 {
		return nil, fmt.Errorf("invalid private key: expected 64 hex characters, got %d", len(clean))
	}
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
