package provisioning

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/esim-operator-registry/cryptoutils"
	"github.com/ruteri/esim-operator-registry/interfaces"
	"github.com/ruteri/esim-operator-registry/ledger"
	"github.com/ruteri/esim-operator-registry/storage"
)

const (
	testEID   = "89049032000000000010"
	testICCID = "895531223591588529"
	testMNO   = "Digi"
)

type testEnv struct {
	registry     *storage.SQLiteRegistry
	ledger       *ledger.MockLedger
	registration *RegistrationCoordinator
	change       *OperatorChangeCoordinator
	reconciler   *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := storage.NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = registry.Close() })

	mockLedger := new(ledger.MockLedger)

	return &testEnv{
		registry:     registry,
		ledger:       mockLedger,
		registration: NewRegistrationCoordinator(registry, mockLedger, log),
		change:       NewOperatorChangeCoordinator(registry, mockLedger, log),
		reconciler:   NewReconciler(registry, mockLedger, log),
	}
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func (e *testEnv) registerDevice(t *testing.T, eid, iccid, mno string, key *ecdsa.PrivateKey) {
	t.Helper()
	pubkey := crypto.PubkeyToAddress(key.PublicKey)
	e.ledger.On("RegisterDevice", mock.Anything, eid, iccid, mno, pubkey).Return(common.HexToHash("0xaa"), nil).Once()

	_, err := e.registration.Register(context.Background(), RegistrationRequest{
		EID: eid, ICCID: iccid, MNO: mno, Pubkey: pubkey.Hex(),
	})
	require.NoError(t, err)
}

func signedRequest(t *testing.T, key *ecdsa.PrivateKey, eid, iccid, mno string) ChangeRequest {
	t.Helper()
	sig, err := cryptoutils.SignOperatorChange(key, eid, iccid, mno)
	require.NoError(t, err)
	return ChangeRequest{EID: eid, NewICCID: iccid, NewMNO: mno, Signature: sig}
}

func TestOperatorChange_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k1 := newKey(t)

	env.registerDevice(t, testEID, "111", "Orange", k1)

	txHash := common.HexToHash("0xbeef")
	env.ledger.On("ChangeOperator", mock.Anything, testEID, testICCID, testMNO).Return(txHash, nil).Once()

	result, err := env.change.RequestChange(ctx, signedRequest(t, k1, testEID, testICCID, testMNO))
	require.NoError(t, err)

	assert.Equal(t, ChangeCompleted, result.State)
	assert.Equal(t, "111", result.OldICCID)
	assert.Equal(t, "Orange", result.OldMNO)
	assert.Equal(t, testICCID, result.NewICCID)
	assert.Equal(t, testMNO, result.NewMNO)
	assert.Equal(t, txHash, result.TxHash)
	assert.True(t, result.LocalCommitted)

	device, err := env.registry.GetCurrent(ctx, testEID)
	require.NoError(t, err)
	assert.Equal(t, testICCID, device.ICCID)
	assert.Equal(t, testMNO, device.MNO)

	history, err := env.registry.History(ctx, testEID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "111", history[0].OldICCID)
	assert.Equal(t, "Orange", history[0].OldMNO)
	assert.Equal(t, testICCID, history[0].NewICCID)
	assert.Equal(t, testMNO, history[0].NewMNO)

	pending, err := env.registry.PendingMirrors(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	mirror, err := env.registry.GetMirror(ctx, result.MirrorID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.MirrorSubmitted, mirror.Status)
	assert.Equal(t, txHash.Hex(), mirror.TxHash)

	env.ledger.AssertExpectations(t)
}

func TestOperatorChange_UnknownDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.change.RequestChange(ctx, signedRequest(t, newKey(t), testEID, testICCID, testMNO))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.Equal(t, ChangeRejectedNotFound, result.State)
	assert.False(t, result.LocalCommitted)

	history, err := env.registry.History(ctx, testEID)
	require.NoError(t, err)
	assert.Empty(t, history)

	env.ledger.AssertNotCalled(t, "ChangeOperator", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOperatorChange_BadSignature(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k1 := newKey(t)
	env.registerDevice(t, testEID, "111", "Orange", k1)

	tests := []struct {
		name    string
		request ChangeRequest
		wantErr error
	}{
		{
			name:    "signed by another key",
			request: signedRequest(t, newKey(t), testEID, testICCID, testMNO),
			wantErr: interfaces.ErrSignatureMismatch,
		},
		{
			name: "signed payload differs",
			request: func() ChangeRequest {
				req := signedRequest(t, k1, testEID, testICCID, testMNO)
				req.NewMNO = "Vodafone"
				return req
			}(),
			wantErr: interfaces.ErrSignatureMismatch,
		},
		{
			name:    "malformed",
			request: ChangeRequest{EID: testEID, NewICCID: testICCID, NewMNO: testMNO, Signature: "0xdeadbeef"},
			wantErr: interfaces.ErrMalformedSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.change.RequestChange(ctx, tt.request)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, interfaces.ErrSignature)
			assert.Equal(t, ChangeRejectedBadSignature, result.State)
		})
	}

	device, err := env.registry.GetCurrent(ctx, testEID)
	require.NoError(t, err)
	assert.Equal(t, "111", device.ICCID)

	history, err := env.registry.History(ctx, testEID)
	require.NoError(t, err)
	assert.Empty(t, history)

	env.ledger.AssertNotCalled(t, "ChangeOperator", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOperatorChange_Validation(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.change.RequestChange(context.Background(), ChangeRequest{EID: testEID, NewICCID: " ", NewMNO: testMNO})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
	assert.Contains(t, err.Error(), "new_iccid")
	assert.Contains(t, err.Error(), "signature")
	assert.Equal(t, ChangeReceived, result.State)
}

func TestOperatorChange_PartialCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k1 := newKey(t)
	env.registerDevice(t, testEID, "111", "Orange", k1)

	ledgerErr := fmt.Errorf("%w: changeOperator: connection refused", interfaces.ErrLedgerUnavailable)
	env.ledger.On("ChangeOperator", mock.Anything, testEID, testICCID, testMNO).Return(common.Hash{}, ledgerErr).Once()

	result, err := env.change.RequestChange(ctx, signedRequest(t, k1, testEID, testICCID, testMNO))
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrLedgerMirrorPending)
	assert.ErrorIs(t, err, interfaces.ErrLedgerUnavailable)
	assert.NotErrorIs(t, err, interfaces.ErrLedgerRejected)

	var partial *PartialCompletionError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, interfaces.OpChangeOperator, partial.Operation)
	assert.Equal(t, result.MirrorID, partial.MirrorID)

	assert.Equal(t, ChangeLedgerSubmitFailed, result.State)
	assert.True(t, result.LocalCommitted)
	assert.Equal(t, "111", result.OldICCID)
	assert.Equal(t, "Orange", result.OldMNO)
	assert.Equal(t, common.Hash{}, result.TxHash)

	// Local state is authoritative.
	device, err := env.registry.GetCurrent(ctx, testEID)
	require.NoError(t, err)
	assert.Equal(t, testICCID, device.ICCID)

	pending, err := env.registry.PendingMirrors(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, result.MirrorID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.True(t, strings.Contains(pending[0].LastError, "connection refused"))
}

func TestOperatorChange_IgnoresCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	k1 := newKey(t)
	env.registerDevice(t, testEID, "111", "Orange", k1)

	env.ledger.On("ChangeOperator", mock.Anything, testEID, testICCID, testMNO).Return(common.HexToHash("0x01"), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.change.RequestChange(ctx, signedRequest(t, k1, testEID, testICCID, testMNO))
	require.NoError(t, err)
	assert.Equal(t, ChangeCompleted, result.State)
}

func TestOperatorChange_Sequence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	k1 := newKey(t)
	env.registerDevice(t, testEID, "111", "Orange", k1)

	env.ledger.On("ChangeOperator", mock.Anything, testEID, mock.Anything, mock.Anything).Return(common.HexToHash("0x01"), nil)

	trajectory := [][2]string{{"111", "Orange"}, {"222", "Vodafone"}, {"333", "Digi"}, {"444", "Orange"}}
	for _, next := range trajectory[1:] {
		_, err := env.change.RequestChange(ctx, signedRequest(t, k1, testEID, next[0], next[1]))
		require.NoError(t, err)
	}

	history, err := env.registry.History(ctx, testEID)
	require.NoError(t, err)
	require.Len(t, history, len(trajectory)-1)
	for i, record := range history {
		assert.Equal(t, trajectory[i], [2]string{record.OldICCID, record.OldMNO})
		assert.Equal(t, trajectory[i+1], [2]string{record.NewICCID, record.NewMNO})
	}
}

func TestRegistration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := newKey(t)
	pubkey := crypto.PubkeyToAddress(key.PublicKey)

	txHash := common.HexToHash("0xaa")
	env.ledger.On("RegisterDevice", mock.Anything, "E1", "I1", "M1", pubkey).Return(txHash, nil).Once()

	result, err := env.registration.Register(ctx, RegistrationRequest{
		EID: "E1", ICCID: "I1", MNO: "M1", Pubkey: strings.ToLower(pubkey.Hex()),
	})
	require.NoError(t, err)
	assert.Equal(t, txHash, result.TxHash)
	assert.Equal(t, pubkey, result.Pubkey)
	assert.True(t, result.LocalCommitted)

	stored, err := env.registry.GetKey(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, pubkey, stored)

	// Duplicate registration never reaches the ledger.
	_, err = env.registration.Register(ctx, RegistrationRequest{EID: "E1", ICCID: "I2", MNO: "M2", Pubkey: pubkey.Hex()})
	assert.ErrorIs(t, err, interfaces.ErrDuplicate)

	devices, err := env.registry.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "I1", devices[0].ICCID)

	env.ledger.AssertExpectations(t)
	env.ledger.AssertNumberOfCalls(t, "RegisterDevice", 1)
}

func TestRegistration_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.registration.Register(ctx, RegistrationRequest{EID: "E1", ICCID: "I1", Pubkey: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"})
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = env.registration.Register(ctx, RegistrationRequest{EID: "E1", ICCID: "I1", MNO: "M1", Pubkey: "0x1234"})
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	devices, err := env.registry.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
	env.ledger.AssertNotCalled(t, "RegisterDevice", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistration_PartialCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pubkey := crypto.PubkeyToAddress(newKey(t).PublicKey)

	ledgerErr := fmt.Errorf("%w: registerDevice: insufficient funds", interfaces.ErrLedgerRejected)
	env.ledger.On("RegisterDevice", mock.Anything, "E1", "I1", "M1", pubkey).Return(common.Hash{}, ledgerErr).Once()

	result, err := env.registration.Register(ctx, RegistrationRequest{EID: "E1", ICCID: "I1", MNO: "M1", Pubkey: pubkey.Hex()})
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrLedgerMirrorPending)
	assert.ErrorIs(t, err, interfaces.ErrLedgerRejected)
	assert.True(t, result.LocalCommitted)

	_, err = env.registry.GetCurrent(ctx, "E1")
	assert.NoError(t, err)
}
