package provisioning

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

// ChangeState is the stage an operator change request reached.
type ChangeState string

const (
	ChangeReceived     ChangeState = "received"
	ChangeKeyLookup    ChangeState = "key_lookup"
	ChangeVerifying    ChangeState = "verifying"
	ChangeLocalCommit  ChangeState = "local_commit"
	ChangeLedgerSubmit ChangeState = "ledger_submit"
	ChangeCompleted    ChangeState = "completed"

	ChangeRejectedNotFound     ChangeState = "rejected_not_found"
	ChangeRejectedBadSignature ChangeState = "rejected_bad_signature"
	ChangeLocalCommitFailed    ChangeState = "local_commit_failed"
	ChangeLedgerSubmitFailed   ChangeState = "ledger_submit_failed"
)

// ChangeRequest is a device-signed operator change request.
type ChangeRequest struct {
	EID       string
	NewICCID  string
	NewMNO    string
	Signature string
}

// ChangeResult is the outcome of an operator change request. When
// LocalCommitted is set, the old and new values reflect the durable local
// change even if the request failed afterwards.
type ChangeResult struct {
	State ChangeState

	EID      string
	OldICCID string
	OldMNO   string
	NewICCID string
	NewMNO   string

	Timestamp      time.Time
	ChangeID       interfaces.RecordID
	MirrorID       interfaces.RecordID
	LocalCommitted bool
	TxHash         interfaces.TxHash
}

// RegistrationRequest registers a new device identity.
type RegistrationRequest struct {
	EID    string
	ICCID  string
	MNO    string
	Pubkey string
}

// RegistrationResult is the outcome of a registration.
type RegistrationResult struct {
	EID    string
	ICCID  string
	MNO    string
	Pubkey common.Address

	DeviceID       interfaces.RecordID
	MirrorID       interfaces.RecordID
	LocalCommitted bool
	TxHash         interfaces.TxHash
}

// PartialCompletionError reports that a local write is durable but its ledger
// mirror was not submitted. It matches both interfaces.ErrLedgerMirrorPending
// and the ledger error kind with errors.Is.
type PartialCompletionError struct {
	Operation interfaces.LedgerOperation
	EID       string
	MirrorID  interfaces.RecordID
	Err       error
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("%s for %s applied locally, ledger mirror %d pending: %v", e.Operation, e.EID, e.MirrorID, e.Err)
}

func (e *PartialCompletionError) Unwrap() []error {
	return []error{interfaces.ErrLedgerMirrorPending, e.Err}
}
