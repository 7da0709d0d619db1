package interfaces

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RecordID identifies a row in the local registry.
type RecordID int64

// TxHash is the identifier of a transaction accepted by the ledger network.
type TxHash = common.Hash

// Device is the identity record of one eSIM.
type Device struct {
	ID    RecordID `json:"-"`
	EID   string   `json:"eid"`
	ICCID string   `json:"iccid"`
	MNO   string   `json:"mno"`
}

// DeviceKey binds a device to the address that signs its requests.
type DeviceKey struct {
	EID    string         `json:"eid"`
	Pubkey common.Address `json:"pubkey"`
}

// OperatorChange is one accepted transition of a device's (iccid, mno).
type OperatorChange struct {
	ID        RecordID  `json:"-"`
	EID       string    `json:"eid"`
	OldICCID  string    `json:"old_iccid"`
	OldMNO    string    `json:"old_mno"`
	NewICCID  string    `json:"new_iccid"`
	NewMNO    string    `json:"new_mno"`
	Timestamp time.Time `json:"timestamp"`

	// MirrorID references the journal entry created with this change.
	MirrorID RecordID `json:"-"`
}

// LedgerOperation names a remote operation of the registry contract.
type LedgerOperation string

const (
	OpRegisterDevice LedgerOperation = "registerDevice"
	OpChangeOperator LedgerOperation = "changeOperator"
)

// Valid reports whether op is one of the consumed contract operations.
func (op LedgerOperation) Valid() bool {
	return op == OpRegisterDevice || op == OpChangeOperator
}

// MirrorStatus is the state of a ledger mirror journal entry.
type MirrorStatus string

const (
	// MirrorPending entries wait for an operator resubmission.
	MirrorPending MirrorStatus = "pending"

	// MirrorSubmitting entries are claimed by a run talking to the ledger.
	MirrorSubmitting MirrorStatus = "submitting"

	MirrorSubmitted MirrorStatus = "submitted"

	// MirrorSuperseded entries were overtaken by a later operator change and
	// are never submitted.
	MirrorSuperseded MirrorStatus = "superseded"
)

// MirrorEntry describes the ledger call that mirrors one local write.
type MirrorEntry struct {
	ID        RecordID        `json:"id"`
	Operation LedgerOperation `json:"operation"`
	EID       string          `json:"eid"`
	RecordID  RecordID        `json:"record_id"`
	Args      MirrorArgs      `json:"args"`
	Status    MirrorStatus    `json:"status"`
	TxHash    string          `json:"tx_hash,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MirrorArgs are the arguments of a mirrored ledger call. Pubkey is only set
// for registerDevice.
type MirrorArgs struct {
	EID    string `json:"eid"`
	ICCID  string `json:"iccid"`
	MNO    string `json:"mno"`
	Pubkey string `json:"pubkey,omitempty"`
}
