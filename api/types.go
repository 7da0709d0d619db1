package api

import (
	"time"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

// Response status discriminators.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPartial = "partial"
)

// TimestampLayout is the UTC layout of history timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// RegisterIdentityRequest is the body of POST /register_identity.
type RegisterIdentityRequest struct {
	EID    string `json:"eid" validate:"required"`
	ICCID  string `json:"iccid" validate:"required"`
	MNO    string `json:"mno" validate:"required"`
	Pubkey string `json:"pubkey" validate:"required"`
}

// RegisterIdentityResponse is returned by POST /register_identity.
type RegisterIdentityResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	TxHash  string `json:"tx_hash"`
}

// OperatorChangeRequest is the body of POST /request_operator_change. The
// signature covers "{eid}:{new_iccid}:{new_mno}" as a personal message.
type OperatorChangeRequest struct {
	EID       string `json:"eid" validate:"required"`
	NewICCID  string `json:"new_iccid" validate:"required"`
	NewMNO    string `json:"new_mno" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

// OperatorChangeResponse is returned by POST /request_operator_change. Old
// values are set whenever the change was applied locally.
type OperatorChangeResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	TxHash   string `json:"tx_hash"`
	OldICCID string `json:"old_iccid,omitempty"`
	OldMNO   string `json:"old_mno,omitempty"`
	NewICCID string `json:"new_iccid,omitempty"`
	NewMNO   string `json:"new_mno,omitempty"`
}

type DevicesResponse struct {
	Status  string              `json:"status"`
	Message string              `json:"message,omitempty"`
	Devices []interfaces.Device `json:"devices"`
}

type HistoryEntry struct {
	OldICCID  string `json:"old_iccid"`
	NewICCID  string `json:"new_iccid"`
	OldMNO    string `json:"old_mno"`
	NewMNO    string `json:"new_mno"`
	Timestamp string `json:"timestamp"`
}

// NewHistoryEntry converts a stored operator change into its wire form.
func NewHistoryEntry(change interfaces.OperatorChange) HistoryEntry {
	return HistoryEntry{
		OldICCID:  change.OldICCID,
		NewICCID:  change.NewICCID,
		OldMNO:    change.OldMNO,
		NewMNO:    change.NewMNO,
		Timestamp: change.Timestamp.UTC().Format(TimestampLayout),
	}
}

// ParseTimestamp parses a history timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

type HistoryResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	History []HistoryEntry `json:"history"`
}

type PendingMirrorsResponse struct {
	Status  string                   `json:"status"`
	Message string                   `json:"message,omitempty"`
	Pending []interfaces.MirrorEntry `json:"pending"`
}

type ResubmitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

// StatusResponse carries only the discriminator and a message.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
