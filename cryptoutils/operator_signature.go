package cryptoutils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

// signatureLength is r || s || v.
const signatureLength = crypto.SignatureLength

// OperatorChangeMessage returns the canonical message a device signs to
// request an operator change. Fields are joined with ':' in this exact order.
func OperatorChangeMessage(eid, newICCID, newMNO string) string {
	return eid + ":" + newICCID + ":" + newMNO
}

// OperatorChangeHash returns the personal-message hash of the canonical
// operator change message.
func OperatorChangeHash(eid, newICCID, newMNO string) []byte {
	return accounts.TextHash([]byte(OperatorChangeMessage(eid, newICCID, newMNO)))
}

// RecoverOperatorChangeSigner recovers the address that signed the operator
// change request. The signature is hex encoded, with or without 0x prefix, and
// its recovery id may be 0/1 or 27/28.
//
// Returns interfaces.ErrMalformedSignature if the signature cannot be decoded
// or no public key can be recovered from it.
func RecoverOperatorChangeSigner(eid, newICCID, newMNO, signature string) (common.Address, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}

	pubkey, err := crypto.SigToPub(OperatorChangeHash(eid, newICCID, newMNO), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", interfaces.ErrMalformedSignature, err)
	}

	return crypto.PubkeyToAddress(*pubkey), nil
}

// SignOperatorChange signs the operator change request with the device key and
// returns the 0x-prefixed hex signature with a 27/28 recovery id, the format
// wallets produce for personal_sign.
func SignOperatorChange(key *ecdsa.PrivateKey, eid, newICCID, newMNO string) (string, error) {
	sig, err := crypto.Sign(OperatorChangeHash(eid, newICCID, newMNO), key)
	if err != nil {
		return "", fmt.Errorf("could not sign operator change: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return "0x" + hex.EncodeToString(sig), nil
}

func decodeSignature(signature string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(signature), "0x"), "0X")
	sig, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", interfaces.ErrMalformedSignature, err)
	}
	if len(sig) != signatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", interfaces.ErrMalformedSignature, signatureLength, len(sig))
	}

	v := sig[crypto.RecoveryIDOffset]
	switch v {
	case 0, 1:
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	default:
		return nil, fmt.Errorf("%w: invalid recovery id %d", interfaces.ErrMalformedSignature, v)
	}

	return sig, nil
}
