package interfaces

import "errors"

var (
	// ErrValidation reports missing or malformed input.
	ErrValidation = errors.New("validation error")

	// ErrNotFound reports an unknown eid or record.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate reports a registration conflict.
	ErrDuplicate = errors.New("duplicate device")

	// ErrSignature is the parent of all signature failures.
	ErrSignature = errors.New("signature error")

	// ErrStorage reports a local persistence failure. The in-flight local
	// transaction has been rolled back.
	ErrStorage = errors.New("storage error")

	// ErrLedgerUnavailable reports a network, RPC or timeout failure.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrLedgerRejected reports a transaction refused by the network.
	ErrLedgerRejected = errors.New("ledger rejected transaction")

	// ErrLedgerMirrorPending reports that the local write is durable but the
	// ledger mirror could not be submitted.
	ErrLedgerMirrorPending = errors.New("applied locally, ledger mirror pending")

	// ErrMirrorConflict reports a ledger mirror entry that is not in the state
	// the requested transition needs, e.g. one already claimed by another run.
	ErrMirrorConflict = errors.New("ledger mirror conflict")
)

var (
	// ErrMalformedSignature reports a signature that cannot be decoded or recovered.
	ErrMalformedSignature = &kindError{msg: "malformed signature", kind: ErrSignature}

	// ErrSignatureMismatch reports a valid signature made by another key.
	ErrSignatureMismatch = &kindError{msg: "signature does not match device key", kind: ErrSignature}
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }
