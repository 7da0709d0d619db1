package cryptoutils

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

const (
	testEID   = "89049032000000000010"
	testICCID = "895531223591588529"
	testMNO   = "Digi"
)

func TestOperatorChangeMessage(t *testing.T) {
	assert.Equal(t, "89049032000000000010:895531223591588529:Digi", OperatorChangeMessage(testEID, testICCID, testMNO))
}

// TestOperatorChangeHash checks the personal-message prefix is applied rather than a raw hash.
func TestOperatorChangeHash(t *testing.T) {
	msg := OperatorChangeMessage(testEID, testICCID, testMNO)
	prefixed := "\x19Ethereum Signed Message:\n" + "44" + msg
	require.Len(t, msg, 44)

	assert.Equal(t, crypto.Keccak256([]byte(prefixed)), OperatorChangeHash(testEID, testICCID, testMNO))
	assert.NotEqual(t, crypto.Keccak256([]byte(msg)), OperatorChangeHash(testEID, testICCID, testMNO))
}

func TestRecoverOperatorChangeSigner(t *testing.T) {
	deviceKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	deviceAddr := crypto.PubkeyToAddress(deviceKey.PublicKey)

	t.Run("signed by device key", func(t *testing.T) {
		sig, err := SignOperatorChange(deviceKey, testEID, testICCID, testMNO)
		require.NoError(t, err)

		signer, err := RecoverOperatorChangeSigner(testEID, testICCID, testMNO, sig)
		require.NoError(t, err)
		assert.Equal(t, deviceAddr, signer)
		assert.True(t, AddressesEqual(signer, strings.ToLower(deviceAddr.Hex())))
	})

	t.Run("signed by another key", func(t *testing.T) {
		sig, err := SignOperatorChange(otherKey, testEID, testICCID, testMNO)
		require.NoError(t, err)

		signer, err := RecoverOperatorChangeSigner(testEID, testICCID, testMNO, sig)
		require.NoError(t, err)
		assert.False(t, AddressesEqual(signer, deviceAddr.Hex()))
	})

	t.Run("payload differs from signed payload", func(t *testing.T) {
		sig, err := SignOperatorChange(deviceKey, testEID, testICCID, testMNO)
		require.NoError(t, err)

		signer, err := RecoverOperatorChangeSigner(testEID, testICCID, "Orange", sig)
		require.NoError(t, err)
		assert.NotEqual(t, deviceAddr, signer)
	})

	t.Run("no prefix and raw recovery id", func(t *testing.T) {
		raw, err := crypto.Sign(OperatorChangeHash(testEID, testICCID, testMNO), deviceKey)
		require.NoError(t, err)

		signer, err := RecoverOperatorChangeSigner(testEID, testICCID, testMNO, hex.EncodeToString(raw))
		require.NoError(t, err)
		assert.Equal(t, deviceAddr, signer)
	})
}

func TestRecoverOperatorChangeSigner_Malformed(t *testing.T) {
	testCases := []struct {
		name      string
		signature string
	}{
		{name: "empty", signature: ""},
		{name: "not hex", signature: "0xzz"},
		{name: "too short", signature: "0x" + strings.Repeat("ab", 64)},
		{name: "too long", signature: "0x" + strings.Repeat("ab", 66)},
		{name: "bad recovery id", signature: "0x" + strings.Repeat("11", 64) + "05"},
		{name: "zero r and s", signature: "0x" + strings.Repeat("00", 64) + "1b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RecoverOperatorChangeSigner(testEID, testICCID, testMNO, tc.signature)
			require.Error(t, err)
			assert.ErrorIs(t, err, interfaces.ErrMalformedSignature)
			assert.ErrorIs(t, err, interfaces.ErrSignature)
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	addr, err := NormalizeAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", addr.Hex())

	addr, err = NormalizeAddress("5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", addr.Hex())

	_, err = NormalizeAddress("0x1234")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	encoded := hex.EncodeToString(crypto.FromECDSA(key))

	parsed, err := ParsePrivateKey("0x" + encoded)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParsePrivateKey(encoded[:10])
	assert.Error(t, err)
}
