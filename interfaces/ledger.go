package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger submits the two consumed registry contract operations as signed
// transactions from the server identity. Calls return once the network has
// accepted the transaction into its pending pool, not after confirmation.
//
// Errors wrap ErrLedgerUnavailable or ErrLedgerRejected.
type Ledger interface {
	RegisterDevice(ctx context.Context, eid, iccid, mno string, pubkey common.Address) (TxHash, error)
	ChangeOperator(ctx context.Context, eid, newICCID, newMNO string) (TxHash, error)
}
