package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultABI(t *testing.T) {
	parsed, err := DefaultABI()
	require.NoError(t, err)

	assert.Equal(t, "registerDevice(string,string,string,address)", parsed.Methods["registerDevice"].Sig)
	assert.Equal(t, "changeOperator(string,string,string)", parsed.Methods["changeOperator"].Sig)
	assert.False(t, pubkeyAsString(parsed))
}

func TestLoadABI_Artifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "EsimRegistry.json")
	artifact := `{"abi": ` + string(defaultABI) + `, "bytecode": "0x"}`
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o600))

	parsed, err := LoadABI(path)
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, "registerDevice")
	assert.Contains(t, parsed.Methods, "changeOperator")
}

func TestParseABI_Invalid(t *testing.T) {
	tests := []struct {
		name string
		abi  string
	}{
		{"not json", `not json`},
		{"artifact without abi", `{"bytecode": "0x"}`},
		{"missing changeOperator", `[{"type":"function","name":"registerDevice","inputs":[
			{"name":"eid","type":"string"},{"name":"iccid","type":"string"},{"name":"mno","type":"string"},{"name":"pubkey","type":"address"}]}]`},
		{"wrong arity", `[
			{"type":"function","name":"registerDevice","inputs":[{"name":"eid","type":"string"}]},
			{"type":"function","name":"changeOperator","inputs":[{"name":"eid","type":"string"},{"name":"newIccid","type":"string"},{"name":"newMno","type":"string"}]}]`},
		{"non-string eid", `[
			{"type":"function","name":"registerDevice","inputs":[{"name":"eid","type":"bytes32"},{"name":"iccid","type":"string"},{"name":"mno","type":"string"},{"name":"pubkey","type":"address"}]},
			{"type":"function","name":"changeOperator","inputs":[{"name":"eid","type":"string"},{"name":"newIccid","type":"string"},{"name":"newMno","type":"string"}]}]`},
		{"uint pubkey", `[
			{"type":"function","name":"registerDevice","inputs":[{"name":"eid","type":"string"},{"name":"iccid","type":"string"},{"name":"mno","type":"string"},{"name":"pubkey","type":"uint256"}]},
			{"type":"function","name":"changeOperator","inputs":[{"name":"eid","type":"string"},{"name":"newIccid","type":"string"},{"name":"newMno","type":"string"}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseABI([]byte(tt.abi))
			assert.Error(t, err)
		})
	}
}

func TestLoadABI_MissingFile(t *testing.T) {
	_, err := LoadABI(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
