// Package provisioning coordinates the dual write of device registrations and
// operator changes: the local Device Registry first, then the ledger.
//
// The local commit is the durability point. A request that fails before it
// leaves no trace. A request whose ledger submission fails after it returns
// its populated result together with a *PartialCompletionError, which matches
// interfaces.ErrLedgerMirrorPending, and leaves a pending entry in the ledger
// mirror journal. Nothing retries automatically; Reconciler resubmits a
// pending entry when an operator asks for it. Journal entries are written
// already claimed by the coordinator that created them and only become
// pending once its ledger call has failed, so a resubmission never races the
// original submission.
//
// Operator change requests move through the states
//
//	received -> key_lookup -> verifying -> local_commit -> ledger_submit -> completed
//
// and stop at rejected_not_found, rejected_bad_signature, local_commit_failed
// or ledger_submit_failed on failure. ChangeResult.State reports where a
// request ended.
package provisioning
