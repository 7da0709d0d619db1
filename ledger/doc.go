// Package ledger submits device registry operations to the on-chain registry
// contract.
//
// The contract is consumed through exactly two operations:
//
//	registerDevice(string eid, string iccid, string mno, address pubkey)
//	changeOperator(string eid, string newIccid, string newMno)
//
// Client signs each call with the server key as a legacy transaction and
// returns the transaction hash once the node accepts it into its pool. It does
// not wait for inclusion.
//
// # ABI
//
// The embedded registry.abi.json is used unless another ABI is supplied with
// LoadABI, which accepts a bare ABI array or a Hardhat/Foundry artifact. If the
// supplied registerDevice takes pubkey as a string, the checksummed hex form of
// the address is passed.
//
// # Errors
//
// Every failure wraps interfaces.ErrLedgerRejected (the node refused the
// transaction, or it can never be encoded) or interfaces.ErrLedgerUnavailable
// (network, HTTP or timeout failure). Calls are bounded by the configured
// timeout, 30 seconds by default.
//
// # Testing
//
// MockLedger is a testify mock of interfaces.Ledger for coordinator tests.
package ledger
