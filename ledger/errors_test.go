package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

type testRPCError struct{ msg string }

func (e testRPCError) Error() string  { return e.msg }
func (e testRPCError) ErrorCode() int { return -32000 }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rpc error", testRPCError{"custom node refusal"}, interfaces.ErrLedgerRejected},
		{"nonce too low", errors.New("nonce too low: next nonce 5, tx nonce 3"), interfaces.ErrLedgerRejected},
		{"insufficient funds", fmt.Errorf("send: %w", errors.New("insufficient funds for gas * price + value")), interfaces.ErrLedgerRejected},
		{"underpriced", errors.New("transaction underpriced"), interfaces.ErrLedgerRejected},
		{"deadline", fmt.Errorf("pending nonce: %w", context.DeadlineExceeded), interfaces.ErrLedgerUnavailable},
		{"http error", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, interfaces.ErrLedgerUnavailable},
		{"connection refused", errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), interfaces.ErrLedgerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(interfaces.OpChangeOperator, tt.err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.NoError(t, classify(interfaces.OpChangeOperator, nil))

	already := fmt.Errorf("%w: boom", interfaces.ErrLedgerRejected)
	assert.Equal(t, already, classify(interfaces.OpRegisterDevice, already))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "ok", resultLabel(nil))
	assert.Equal(t, "rejected", resultLabel(fmt.Errorf("%w: x", interfaces.ErrLedgerRejected)))
	assert.Equal(t, "unavailable", resultLabel(fmt.Errorf("%w: x", interfaces.ErrLedgerUnavailable)))
}
