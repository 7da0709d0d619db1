/*
Package esimhandler implements the registry's HTTP API and a client for it.

# Endpoints

  - GET /                                - service banner
  - POST /register_identity              - register {eid, iccid, mno, pubkey}
  - GET /devices                         - list every device
  - POST /request_operator_change        - {eid, new_iccid, new_mno, signature}
  - GET /operator_history/{eid}          - changes of one device, oldest first
  - GET /ledger/pending                  - ledger mirror entries not yet submitted
  - POST /ledger/pending/{id}/resubmit   - retry one entry

Responses carry a "status" of "success", "error" or "partial". "partial"
means the local write committed but the ledger submission failed; the entry
shows up under /ledger/pending.

# Error mapping

	ErrValidation, ErrDuplicate, ErrMalformedSignature  400
	ErrSignatureMismatch                                 401
	ErrNotFound                                          404
	ErrStorage, ledger failures, partial completion      500

Authentication is applied by the server package, not here.
*/
package esimhandler
