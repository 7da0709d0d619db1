package ledger

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/ruteri/esim-operator-registry/interfaces"
)

//go:embed registry.abi.json
var defaultABI []byte

// DefaultABI returns the embedded registry contract ABI exposing
// registerDevice(string,string,string,address) and
// changeOperator(string,string,string).
func DefaultABI() (abi.ABI, error) {
	return ParseABI(defaultABI)
}

// LoadABI reads a contract ABI from path. The file is either a bare ABI array
// or a build artifact with an "abi" field (Hardhat, Foundry).
func LoadABI(path string) (abi.ABI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("could not read contract abi: %w", err)
	}
	return ParseABI(data)
}

// ParseABI parses a bare ABI array or an artifact object and checks that both
// consumed operations are present.
func ParseABI(data []byte) (abi.ABI, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(data, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("invalid contract artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("contract artifact has no abi field")
		}
		data = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(data))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("invalid contract abi: %w", err)
	}

	expected := map[interfaces.LedgerOperation]int{
		interfaces.OpRegisterDevice: 4,
		interfaces.OpChangeOperator: 3,
	}
	for op, inputs := range expected {
		method, ok := parsed.Methods[string(op)]
		if !ok {
			return abi.ABI{}, fmt.Errorf("contract abi has no %s method", op)
		}
		if len(method.Inputs) != inputs {
			return abi.ABI{}, fmt.Errorf("contract abi method %s takes %d arguments, expected %d", op, len(method.Inputs), inputs)
		}
		for _, input := range method.Inputs[:3] {
			if input.Type.T != abi.StringTy {
				return abi.ABI{}, fmt.Errorf("contract abi method %s: argument %s must be a string", op, input.Name)
			}
		}
	}

	switch t := parsed.Methods[string(interfaces.OpRegisterDevice)].Inputs[3].Type.T; t {
	case abi.AddressTy, abi.StringTy:
	default:
		return abi.ABI{}, fmt.Errorf("contract abi method registerDevice: pubkey must be an address or a string")
	}

	return parsed, nil
}

// pubkeyAsString reports whether the contract takes the device key as its
// checksummed hex string rather than an address.
func pubkeyAsString(contractABI abi.ABI) bool {
	method := contractABI.Methods[string(interfaces.OpRegisterDevice)]
	return method.Inputs[3].Type.T == abi.StringTy
}

func methodNames(contractABI abi.ABI) string {
	names := make([]string, 0, len(contractABI.Methods))
	for name := range contractABI.Methods {
		names = append(names, name)
	}
	return strings.Join(names, ",")
}
