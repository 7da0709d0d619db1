package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

// MockLedger mocks the interfaces.Ledger interface
type MockLedger struct {
	mock.Mock
}

// RegisterDevice mocks the RegisterDevice method
func (m *MockLedger) RegisterDevice(ctx context.Context, eid, iccid, mno string, pubkey common.Address) (interfaces.TxHash, error) {
	args := m.Called(ctx, eid, iccid, mno, pubkey)
	return args.Get(0).(interfaces.TxHash), args.Error(1)
}

// ChangeOperator mocks the ChangeOperator method
func (m *MockLedger) ChangeOperator(ctx context.Context, eid, newICCID, newMNO string) (interfaces.TxHash, error) {
	args := m.Called(ctx, eid, newICCID, newMNO)
	return args.Get(0).(interfaces.TxHash), args.Error(1)
}
