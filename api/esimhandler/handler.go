package esimhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ruteri/esim-operator-registry/api"
	"github.com/ruteri/esim-operator-registry/interfaces"
	"github.com/ruteri/esim-operator-registry/provisioning"
)

const maxBodyBytes = 1 << 20

// Registrar registers device identities.
type Registrar interface {
	Register(ctx context.Context, req provisioning.RegistrationRequest) (provisioning.RegistrationResult, error)
}

// OperatorChanger runs device-signed operator change requests.
type OperatorChanger interface {
	RequestChange(ctx context.Context, req provisioning.ChangeRequest) (provisioning.ChangeResult, error)
}

// MirrorReconciler lists and resubmits pending ledger mirror entries.
type MirrorReconciler interface {
	Pending(ctx context.Context) ([]interfaces.MirrorEntry, error)
	Resubmit(ctx context.Context, id interfaces.RecordID) (interfaces.TxHash, error)
}

// Handler serves the device registry API.
type Handler struct {
	registry   interfaces.DeviceRegistry
	registrar  Registrar
	changer    OperatorChanger
	reconciler MirrorReconciler
	validate   *validator.Validate
	log        *slog.Logger
}

func NewHandler(registry interfaces.DeviceRegistry, registrar Registrar, changer OperatorChanger, reconciler MirrorReconciler, log *slog.Logger) *Handler {
	return &Handler{
		registry:   registry,
		registrar:  registrar,
		changer:    changer,
		reconciler: reconciler,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		log:        log,
	}
}

// RegisterRoutes configures the router with the registry endpoints:
//   - GET / - service banner
//   - POST /register_identity - register a device
//   - GET /devices - list devices
//   - POST /request_operator_change - device-signed operator change
//   - GET /operator_history/{eid} - operator changes of one device
//   - GET /ledger/pending - ledger mirror entries awaiting submission
//   - POST /ledger/pending/{id}/resubmit - resubmit one entry
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleHome)
	r.Post("/register_identity", h.HandleRegisterIdentity)
	r.Get("/devices", h.HandleListDevices)
	r.Post("/request_operator_change", h.HandleOperatorChange)
	r.Get("/operator_history/{eid}", h.HandleOperatorHistory)
	r.Get("/ledger/pending", h.HandlePendingMirrors)
	r.Post("/ledger/pending/{id}/resubmit", h.HandleResubmitMirror)
}

func (h *Handler) HandleHome(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.StatusResponse{
		Status:  api.StatusSuccess,
		Message: "eSIM operator registry running",
	})
}

// HandleRegisterIdentity registers a device identity and mirrors it to the ledger.
//
// Status codes:
//   - 201 Created: registered and submitted
//   - 400 Bad Request: malformed body, missing fields, invalid pubkey, duplicate eid
//   - 500 Internal Server Error: storage failure, or ledger failure after the
//     local registration ("partial")
func (h *Handler) HandleRegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.registrar.Register(r.Context(), provisioning.RegistrationRequest{
		EID:    req.EID,
		ICCID:  req.ICCID,
		MNO:    req.MNO,
		Pubkey: req.Pubkey,
	})

	if err != nil {
		h.writeJSON(w, httpStatusFor(err), api.RegisterIdentityResponse{
			Status:  statusFor(err),
			Message: err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusCreated, api.RegisterIdentityResponse{
		Status:  api.StatusSuccess,
		Message: "device registered",
		TxHash:  result.TxHash.Hex(),
	})
}

func (h *Handler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.ListAll(r.Context())
	if err != nil {
		h.log.Error("Failed to list devices", "err", err)
		h.writeJSON(w, httpStatusFor(err), api.DevicesResponse{Status: api.StatusError, Message: err.Error(), Devices: []interfaces.Device{}})
		return
	}

	h.writeJSON(w, http.StatusOK, api.DevicesResponse{Status: api.StatusSuccess, Devices: devices})
}

// HandleOperatorChange verifies and applies a device-signed operator change.
//
// Status codes:
//   - 200 OK: applied and submitted to the ledger
//   - 400 Bad Request: malformed body, missing fields, malformed signature
//   - 401 Unauthorized: signature not made by the device key
//   - 404 Not Found: unknown eid
//   - 500 Internal Server Error: storage failure, or ledger failure after the
//     local change ("partial")
func (h *Handler) HandleOperatorChange(w http.ResponseWriter, r *http.Request) {
	var req api.OperatorChangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.changer.RequestChange(r.Context(), provisioning.ChangeRequest{
		EID:       req.EID,
		NewICCID:  req.NewICCID,
		NewMNO:    req.NewMNO,
		Signature: req.Signature,
	})

	resp := api.OperatorChangeResponse{
		Status:  api.StatusSuccess,
		Message: "operator change completed",
	}
	if result.LocalCommitted {
		resp.OldICCID = result.OldICCID
		resp.OldMNO = result.OldMNO
		resp.NewICCID = result.NewICCID
		resp.NewMNO = result.NewMNO
	}
	if err != nil {
		resp.Status = statusFor(err)
		resp.Message = err.Error()
		h.writeJSON(w, httpStatusFor(err), resp)
		return
	}
	resp.TxHash = result.TxHash.Hex()

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleOperatorHistory(w http.ResponseWriter, r *http.Request) {
	eid := chi.URLParam(r, "eid")

	history, err := h.registry.History(r.Context(), eid)
	if err != nil {
		h.log.Error("Failed to read operator history", "eid", eid, "err", err)
		h.writeJSON(w, httpStatusFor(err), api.HistoryResponse{Status: api.StatusError, Message: err.Error(), History: []api.HistoryEntry{}})
		return
	}

	entries := make([]api.HistoryEntry, 0, len(history))
	for _, change := range history {
		entries = append(entries, api.NewHistoryEntry(change))
	}
	h.writeJSON(w, http.StatusOK, api.HistoryResponse{Status: api.StatusSuccess, History: entries})
}

func (h *Handler) HandlePendingMirrors(w http.ResponseWriter, r *http.Request) {
	pending, err := h.reconciler.Pending(r.Context())
	if err != nil {
		h.log.Error("Failed to list pending ledger mirrors", "err", err)
		h.writeJSON(w, httpStatusFor(err), api.PendingMirrorsResponse{Status: api.StatusError, Message: err.Error(), Pending: []interfaces.MirrorEntry{}})
		return
	}
	h.writeJSON(w, http.StatusOK, api.PendingMirrorsResponse{Status: api.StatusSuccess, Pending: pending})
}

// HandleResubmitMirror resubmits one pending ledger mirror entry. Entries that
// are being submitted, already submitted or superseded are refused with 409.
func (h *Handler) HandleResubmitMirror(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeJSON(w, http.StatusBadRequest, api.ResubmitResponse{Status: api.StatusError, Message: "invalid mirror entry id"})
		return
	}

	txHash, err := h.reconciler.Resubmit(r.Context(), interfaces.RecordID(id))
	if err != nil {
		h.writeJSON(w, httpStatusFor(err), api.ResubmitResponse{Status: api.StatusError, Message: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, api.ResubmitResponse{
		Status:  api.StatusSuccess,
		Message: "ledger mirror submitted",
		TxHash:  txHash.Hex(),
	})
}

// decode reads and validates a JSON body, writing the 400 response itself
// when it fails.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		h.writeJSON(w, http.StatusBadRequest, api.StatusResponse{Status: api.StatusError, Message: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, jsonFieldName(fe.Field()))
			}
			err = fmt.Errorf("%w: missing required fields: %s", interfaces.ErrValidation, strings.Join(missing, ", "))
		}
		h.writeJSON(w, http.StatusBadRequest, api.StatusResponse{Status: api.StatusError, Message: err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// httpStatusFor maps the error taxonomy to HTTP status codes.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrLedgerMirrorPending):
		return http.StatusInternalServerError
	case errors.Is(err, interfaces.ErrSignatureMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrMirrorConflict):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrValidation),
		errors.Is(err, interfaces.ErrDuplicate),
		errors.Is(err, interfaces.ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func statusFor(err error) string {
	if errors.Is(err, interfaces.ErrLedgerMirrorPending) {
		return api.StatusPartial
	}
	return api.StatusError
}

var jsonFieldNames = map[string]string{
	"EID":       "eid",
	"ICCID":     "iccid",
	"MNO":       "mno",
	"Pubkey":    "pubkey",
	"NewICCID":  "new_iccid",
	"NewMNO":    "new_mno",
	"Signature": "signature",
}

func jsonFieldName(field string) string {
	if name, ok := jsonFieldNames[field]; ok {
		return name
	}
	return field
}
