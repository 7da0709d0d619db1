package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// DeviceRegistry is the durable store of devices, device keys and the
// operator-change history.
//
// Implementations must serialize all write operations: two concurrent
// ApplyChange calls for the same eid never interleave their read-modify-write.
type DeviceRegistry interface {
	// Register inserts the device and its key as one atomic unit together with
	// the registerDevice mirror entry. Fails with ErrDuplicate if eid exists.
	Register(ctx context.Context, device Device, pubkey common.Address) (RecordID, MirrorEntry, error)

	// GetCurrent returns the current state of the device or ErrNotFound.
	GetCurrent(ctx context.Context, eid string) (Device, error)

	// GetKey returns the registered key of the device or ErrNotFound.
	GetKey(ctx context.Context, eid string) (common.Address, error)

	// ApplyChange atomically reads the current state, writes the new one and
	// appends the history record and changeOperator mirror entry.
	// Fails with ErrNotFound if eid is unknown.
	ApplyChange(ctx context.Context, eid, newICCID, newMNO string) (OperatorChange, error)

	// History returns the accepted changes of eid, oldest first.
	History(ctx context.Context, eid string) ([]OperatorChange, error)

	// ListAll returns a snapshot of all devices.
	ListAll(ctx context.Context) ([]Device, error)

	MirrorJournal
}

// MirrorJournal tracks ledger mirroring of local writes.
//
// Entries are created in MirrorSubmitting, claimed by the run that made the
// local write. Only the holder of a claim may call the ledger for an entry;
// every transition out of a state is a compare-and-set that fails with
// ErrMirrorConflict when the entry has moved on.
type MirrorJournal interface {
	// PendingMirrors returns unclaimed entries awaiting resubmission.
	PendingMirrors(ctx context.Context) ([]MirrorEntry, error)
	GetMirror(ctx context.Context, id RecordID) (MirrorEntry, error)

	// ClaimMirror moves a pending entry to submitting and returns it.
	ClaimMirror(ctx context.Context, id RecordID) (MirrorEntry, error)
	// ReleaseMirror returns a claimed entry to pending without counting an attempt.
	ReleaseMirror(ctx context.Context, id RecordID) error

	// MarkMirrorSubmitted completes a claimed entry with the accepted transaction.
	MarkMirrorSubmitted(ctx context.Context, id RecordID, tx TxHash) error
	// MarkMirrorFailed records a failed attempt and returns the claimed entry to pending.
	MarkMirrorFailed(ctx context.Context, id RecordID, reason string) error
	// MarkMirrorSuperseded retires a claimed entry that must not be submitted.
	MarkMirrorSuperseded(ctx context.Context, id RecordID, reason string) error
}
