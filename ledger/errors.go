package ledger

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

// Messages nodes return when they refuse a transaction. Matched on the error
// text since JSON-RPC only carries the message across the wire.
var rejectionMessages = []string{
	"nonce too low",
	"nonce too high",
	"insufficient funds",
	"underpriced",
	"replacement transaction",
	"already known",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"gas limit reached",
	"execution reverted",
	"invalid sender",
	"fee cap less than block base fee",
	"max fee per gas less than block base fee",
	"tip higher than fee cap",
	"oversized data",
	"invalid chain id",
	"only replay-protected",
}

// classify wraps err with ErrLedgerRejected or ErrLedgerUnavailable.
//
// Errors returned by the node through JSON-RPC mean the node saw and refused
// the transaction. Everything that prevented the node from answering
// (transport failures, HTTP errors, timeouts) means the ledger is unavailable.
func classify(op interfaces.LedgerOperation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, interfaces.ErrLedgerRejected) || errors.Is(err, interfaces.ErrLedgerUnavailable) {
		return err
	}

	kind := interfaces.ErrLedgerUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
	case isTimeout(err):
	case isHTTPError(err):
	case isRejection(err):
		kind = interfaces.ErrLedgerRejected
	}

	return fmt.Errorf("%w: %s: %v", kind, op, err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isHTTPError(err error) bool {
	var httpErr rpc.HTTPError
	return errors.As(err, &httpErr)
}

func isRejection(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range rejectionMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interfaces.ErrLedgerRejected):
		return "rejected"
	default:
		return "unavailable"
	}
}
