// Package interfaces defines core interfaces and types for the eSIM operator
// registry, separating interface definitions from implementations.
//
// # Registry Interfaces
//
// DeviceRegistry: Durable store of device identity records, device public keys,
// the append-only operator-change history and the ledger mirror journal. All
// write operations are serialized by the implementation.
//
// Ledger: Capability interface over the external registry contract. It exposes
// exactly the two remote operations the system consumes, registerDevice and
// changeOperator, each submitted as a signed transaction.
//
// # Types
//
//   - Device: current (iccid, mno) of an eSIM identified by its eid
//   - DeviceKey: checksummed address verifying a device's signed requests
//   - OperatorChange: one accepted operator change with its pre and post state
//   - MirrorEntry: local journal row describing the ledger call mirroring a write
//
// # Errors
//
// The error taxonomy (ErrValidation, ErrNotFound, ErrDuplicate, ErrSignature,
// ErrStorage, ErrLedgerUnavailable, ErrLedgerRejected, ErrLedgerMirrorPending,
// ErrMirrorConflict) is shared by every component and matched with errors.Is.
package interfaces
