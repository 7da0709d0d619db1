// Package cryptoutils provides the signature and key handling used by the eSIM
// operator registry.
//
// Devices authorize an operator change by signing the canonical message
//
//	"{eid}:{new_iccid}:{new_mno}"
//
// with the personal-message encoding (EIP-191, "\x19Ethereum Signed Message:\n"
// followed by the decimal message length and the message, hashed with
// Keccak-256). The server recovers the signer address from the 65-byte
// signature and compares it, case-insensitively, to the address registered
// for the device.
//
// # Key Functions
//
//   - OperatorChangeMessage: builds the canonical message
//   - RecoverOperatorChangeSigner: recovers the signer of a change request
//   - SignOperatorChange: produces the signature a device would send
//   - NormalizeAddress: validates and checksums an address (EIP-55)
//   - ParsePrivateKey: parses a hex private key, with or without 0x
//
// Recovery is pure: it never touches storage, the caller supplies the expected
// address from the device registry.
package cryptoutils
