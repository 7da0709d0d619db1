package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ruteri/esim-operator-registry/cryptoutils"
	"github.com/ruteri/esim-operator-registry/interfaces"
	"github.com/ruteri/esim-operator-registry/metrics"
)

// OperatorChangeCoordinator authorizes device-signed operator changes, commits
// them to the local registry and mirrors them to the ledger.
type OperatorChangeCoordinator struct {
	registry interfaces.DeviceRegistry
	ledger   interfaces.Ledger
	log      *slog.Logger
}

func NewOperatorChangeCoordinator(registry interfaces.DeviceRegistry, ledger interfaces.Ledger, log *slog.Logger) *OperatorChangeCoordinator {
	return &OperatorChangeCoordinator{
		registry: registry,
		ledger:   ledger,
		log:      log,
	}
}

// RequestChange runs one operator change request to completion.
//
// Validation, unknown eid and signature failures return before anything is
// written. Once the local change is committed it stays committed: a ledger
// failure afterwards returns the populated result with a
// *PartialCompletionError. Caller cancellation does not interrupt the run.
func (c *OperatorChangeCoordinator) RequestChange(ctx context.Context, req ChangeRequest) (ChangeResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := c.log.With("run", uuid.NewString(), "eid", req.EID)

	result := ChangeResult{
		State:    ChangeReceived,
		EID:      req.EID,
		NewICCID: req.NewICCID,
		NewMNO:   req.NewMNO,
	}

	if err := validateChangeRequest(req); err != nil {
		metrics.RecordOperatorChange(metrics.OutcomeError)
		return result, err
	}

	result.State = ChangeKeyLookup
	pubkey, err := c.registry.GetKey(ctx, req.EID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			result.State = ChangeRejectedNotFound
		}
		log.Info("Operator change rejected", "state", result.State, "err", err)
		metrics.RecordOperatorChange(metrics.OutcomeError)
		return result, err
	}

	result.State = ChangeVerifying
	signer, err := cryptoutils.RecoverOperatorChangeSigner(req.EID, req.NewICCID, req.NewMNO, req.Signature)
	if err != nil {
		result.State = ChangeRejectedBadSignature
		log.Info("Operator change rejected", "state", result.State, "err", err)
		metrics.RecordOperatorChange(metrics.OutcomeError)
		return result, err
	}
	if !cryptoutils.AddressesEqual(signer, pubkey.Hex()) {
		result.State = ChangeRejectedBadSignature
		log.Info("Operator change rejected", "state", result.State, "signer", signer.Hex(), "expected", pubkey.Hex())
		metrics.RecordOperatorChange(metrics.OutcomeError)
		return result, fmt.Errorf("%w: signed by %s", interfaces.ErrSignatureMismatch, signer.Hex())
	}

	result.State = ChangeLocalCommit
	change, err := c.registry.ApplyChange(ctx, req.EID, req.NewICCID, req.NewMNO)
	if err != nil {
		result.State = ChangeLocalCommitFailed
		log.Error("Operator change local commit failed", "err", err)
		metrics.RecordOperatorChange(metrics.OutcomeError)
		return result, err
	}
	result.OldICCID = change.OldICCID
	result.OldMNO = change.OldMNO
	result.Timestamp = change.Timestamp
	result.ChangeID = change.ID
	result.MirrorID = change.MirrorID
	result.LocalCommitted = true

	result.State = ChangeLedgerSubmit
	txHash, err := c.ledger.ChangeOperator(ctx, req.EID, req.NewICCID, req.NewMNO)
	if err != nil {
		result.State = ChangeLedgerSubmitFailed
		if markErr := c.registry.MarkMirrorFailed(ctx, change.MirrorID, err.Error()); markErr != nil {
			log.Error("Failed to record ledger mirror failure", "mirror", change.MirrorID, "err", markErr)
		}
		log.Warn("Operator change applied locally, ledger mirror pending", "mirror", change.MirrorID, "err", err)
		metrics.RecordOperatorChange(metrics.OutcomePartial)
		return result, &PartialCompletionError{
			Operation: interfaces.OpChangeOperator,
			EID:       req.EID,
			MirrorID:  change.MirrorID,
			Err:       err,
		}
	}
	result.TxHash = txHash

	if err := c.registry.MarkMirrorSubmitted(ctx, change.MirrorID, txHash); err != nil {
		log.Error("Failed to record ledger mirror submission", "mirror", change.MirrorID, "tx", txHash.Hex(), "err", err)
	}

	result.State = ChangeCompleted
	log.Info("Operator change completed",
		"oldICCID", change.OldICCID, "oldMNO", change.OldMNO,
		"newICCID", req.NewICCID, "newMNO", req.NewMNO,
		"tx", txHash.Hex())
	metrics.RecordOperatorChange(metrics.OutcomeSuccess)

	return result, nil
}

func validateChangeRequest(req ChangeRequest) error {
	return requireFields(map[string]string{
		"eid":       req.EID,
		"new_iccid": req.NewICCID,
		"new_mno":   req.NewMNO,
		"signature": req.Signature,
	}, "eid", "new_iccid", "new_mno", "signature")
}

// requireFields checks the named fields in order and reports every empty one.
func requireFields(values map[string]string, order ...string) error {
	var missing []string
	for _, name := range order {
		if strings.TrimSpace(values[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", interfaces.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
