package provisioning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/esim-operator-registry/cryptoutils"
	"github.com/ruteri/esim-operator-registry/interfaces"
)

// Reconciler lists and resubmits ledger mirror entries that were committed
// locally but never accepted by the ledger. It only acts on operator request.
type Reconciler struct {
	registry interfaces.DeviceRegistry
	ledger   interfaces.Ledger
	log      *slog.Logger
}

func NewReconciler(registry interfaces.DeviceRegistry, ledger interfaces.Ledger, log *slog.Logger) *Reconciler {
	return &Reconciler{
		registry: registry,
		ledger:   ledger,
		log:      log,
	}
}

// Pending returns the mirror entries awaiting submission, oldest first.
func (r *Reconciler) Pending(ctx context.Context) ([]interfaces.MirrorEntry, error) {
	return r.registry.PendingMirrors(ctx)
}

// Resubmit submits the ledger call of one pending mirror entry.
//
// The entry is claimed in the journal before the ledger is called, so an entry
// still being submitted by its coordinator, or by a concurrent Resubmit, is
// refused with interfaces.ErrMirrorConflict. An operator change entry is
// retired as superseded once the device has moved on to a different
// (iccid, mno), since mirroring it would put the ledger behind the local state.
func (r *Reconciler) Resubmit(ctx context.Context, id interfaces.RecordID) (interfaces.TxHash, error) {
	ctx = context.WithoutCancel(ctx)

	entry, err := r.registry.ClaimMirror(ctx, id)
	if err != nil {
		return interfaces.TxHash{}, err
	}

	log := r.log.With("mirror", id, "operation", entry.Operation, "eid", entry.EID)

	var txHash interfaces.TxHash
	switch entry.Operation {
	case interfaces.OpRegisterDevice:
		pubkey, err := cryptoutils.NormalizeAddress(entry.Args.Pubkey)
		if err != nil {
			return interfaces.TxHash{}, r.release(ctx, log, id, err)
		}
		txHash, err = r.ledger.RegisterDevice(ctx, entry.Args.EID, entry.Args.ICCID, entry.Args.MNO, pubkey)
		if err != nil {
			return interfaces.TxHash{}, r.recordFailure(ctx, log, entry, err)
		}
	case interfaces.OpChangeOperator:
		current, err := r.registry.GetCurrent(ctx, entry.Args.EID)
		if err != nil {
			return interfaces.TxHash{}, r.release(ctx, log, id, err)
		}
		if current.ICCID != entry.Args.ICCID || current.MNO != entry.Args.MNO {
			return interfaces.TxHash{}, r.supersede(ctx, log, id, current)
		}
		txHash, err = r.ledger.ChangeOperator(ctx, entry.Args.EID, entry.Args.ICCID, entry.Args.MNO)
		if err != nil {
			return interfaces.TxHash{}, r.recordFailure(ctx, log, entry, err)
		}
	default:
		return interfaces.TxHash{}, r.release(ctx, log, id,
			fmt.Errorf("%w: unknown ledger operation %q", interfaces.ErrValidation, entry.Operation))
	}

	if err := r.registry.MarkMirrorSubmitted(ctx, id, txHash); err != nil {
		log.Error("Failed to record ledger mirror submission", "tx", txHash.Hex(), "err", err)
		return txHash, err
	}

	log.Info("Ledger mirror resubmitted", "tx", txHash.Hex(), "attempts", entry.Attempts+1)
	return txHash, nil
}

func (r *Reconciler) supersede(ctx context.Context, log *slog.Logger, id interfaces.RecordID, current interfaces.Device) error {
	reason := fmt.Sprintf("superseded: device is now on iccid %s, mno %s", current.ICCID, current.MNO)
	if err := r.registry.MarkMirrorSuperseded(ctx, id, reason); err != nil {
		log.Error("Failed to retire superseded ledger mirror", "err", err)
		return err
	}
	log.Info("Ledger mirror superseded by a later operator change", "iccid", current.ICCID, "mno", current.MNO)
	return fmt.Errorf("%w: mirror entry %d superseded by a later operator change", interfaces.ErrMirrorConflict, id)
}

// release gives up the claim taken for a resubmission that never reached the
// ledger and returns cause.
func (r *Reconciler) release(ctx context.Context, log *slog.Logger, id interfaces.RecordID, cause error) error {
	if err := r.registry.ReleaseMirror(ctx, id); err != nil {
		log.Error("Failed to release ledger mirror claim", "err", err)
	}
	return cause
}

func (r *Reconciler) recordFailure(ctx context.Context, log *slog.Logger, entry interfaces.MirrorEntry, err error) error {
	if markErr := r.registry.MarkMirrorFailed(ctx, entry.ID, err.Error()); markErr != nil {
		log.Error("Failed to record ledger mirror failure", "err", markErr)
	}
	log.Warn("Ledger mirror resubmission failed", "err", err)
	return err
}
