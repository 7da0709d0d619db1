package provisioning

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ruteri/esim-operator-registry/cryptoutils"
	"github.com/ruteri/esim-operator-registry/interfaces"
	"github.com/ruteri/esim-operator-registry/metrics"
)

// RegistrationCoordinator creates device identities locally and mirrors them
// to the ledger. Callers are trusted; there is no signature step.
type RegistrationCoordinator struct {
	registry interfaces.DeviceRegistry
	ledger   interfaces.Ledger
	log      *slog.Logger
}

func NewRegistrationCoordinator(registry interfaces.DeviceRegistry, ledger interfaces.Ledger, log *slog.Logger) *RegistrationCoordinator {
	return &RegistrationCoordinator{
		registry: registry,
		ledger:   ledger,
		log:      log,
	}
}

// Register validates and stores the device, then submits registerDevice.
// The partial completion policy is the same as for operator changes.
func (c *RegistrationCoordinator) Register(ctx context.Context, req RegistrationRequest) (RegistrationResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := c.log.With("run", uuid.NewString(), "eid", req.EID)

	result := RegistrationResult{EID: req.EID, ICCID: req.ICCID, MNO: req.MNO}

	if err := requireFields(map[string]string{
		"eid":    req.EID,
		"iccid":  req.ICCID,
		"mno":    req.MNO,
		"pubkey": req.Pubkey,
	}, "eid", "iccid", "mno", "pubkey"); err != nil {
		metrics.RecordRegistration(metrics.OutcomeError)
		return result, err
	}

	pubkey, err := cryptoutils.NormalizeAddress(req.Pubkey)
	if err != nil {
		metrics.RecordRegistration(metrics.OutcomeError)
		return result, err
	}
	result.Pubkey = pubkey

	id, mirror, err := c.registry.Register(ctx, interfaces.Device{EID: req.EID, ICCID: req.ICCID, MNO: req.MNO}, pubkey)
	if err != nil {
		log.Info("Registration rejected", "err", err)
		metrics.RecordRegistration(metrics.OutcomeError)
		return result, err
	}
	result.DeviceID = id
	result.MirrorID = mirror.ID
	result.LocalCommitted = true

	txHash, err := c.ledger.RegisterDevice(ctx, req.EID, req.ICCID, req.MNO, pubkey)
	if err != nil {
		if markErr := c.registry.MarkMirrorFailed(ctx, mirror.ID, err.Error()); markErr != nil {
			log.Error("Failed to record ledger mirror failure", "mirror", mirror.ID, "err", markErr)
		}
		log.Warn("Device registered locally, ledger mirror pending", "mirror", mirror.ID, "err", err)
		metrics.RecordRegistration(metrics.OutcomePartial)
		return result, &PartialCompletionError{
			Operation: interfaces.OpRegisterDevice,
			EID:       req.EID,
			MirrorID:  mirror.ID,
			Err:       err,
		}
	}
	result.TxHash = txHash

	if err := c.registry.MarkMirrorSubmitted(ctx, mirror.ID, txHash); err != nil {
		log.Error("Failed to record ledger mirror submission", "mirror", mirror.ID, "tx", txHash.Hex(), "err", err)
	}

	log.Info("Device registered", "pubkey", pubkey.Hex(), "tx", txHash.Hex())
	metrics.RecordRegistration(metrics.OutcomeSuccess)

	return result, nil
}
