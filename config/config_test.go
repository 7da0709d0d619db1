package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func validConfig() *Config {
	cfg := Default()
	cfg.RPCURL = "http://127.0.0.1:8545"
	cfg.PrivateKey = testPrivateKey
	cfg.ContractAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	cfg.AuthUser = "admin"
	cfg.AuthPassword = "secret"
	return cfg
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
rpc_url: http://node:8545
contract_address: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
auth_user: yaml-user
gas_limit: 3000000
ledger_timeout: 10s
`), 0o600))

	t.Setenv("ESIM_AUTH_USER", "env-user")
	t.Setenv("ESIM_PRIVATE_KEY", testPrivateKey)
	t.Setenv("ESIM_AUTH_PASSWORD", "secret")
	t.Setenv("ESIM_PPROF", "true")

	cfg, err := Load(LoadOptions{ConfigFile: configFile})
	require.NoError(t, err)

	assert.Equal(t, "http://node:8545", cfg.RPCURL)
	assert.Equal(t, "env-user", cfg.AuthUser)
	assert.Equal(t, uint64(3_000_000), cfg.GasLimit)
	assert.Equal(t, 10*time.Second, cfg.LedgerTimeout)
	assert.True(t, cfg.EnablePprof)

	// Untouched keys keep their defaults.
	assert.Equal(t, uint64(1_000_000_000), cfg.GasPriceWei)
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)

	require.NoError(t, cfg.Validate())
}

func TestLoad_LegacyEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"RPC_URL=http://legacy:8545\n"+
			"PRIVATE_KEY=0x"+testPrivateKey+"\n"+
			"CONTRACT_ADDRESS=0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed\n"+
			"AUTH_USER=legacy\n"+
			"AUTH_PASS=pass\n"), 0o600))

	for _, name := range []string{"RPC_URL", "PRIVATE_KEY", "CONTRACT_ADDRESS", "AUTH_USER", "AUTH_PASS"} {
		// Registers cleanup so godotenv's writes do not leak into other tests.
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	cfg, err := Load(LoadOptions{EnvFile: envFile, EnvFileRequired: true})
	require.NoError(t, err)

	assert.Equal(t, "http://legacy:8545", cfg.RPCURL)
	assert.Equal(t, "legacy", cfg.AuthUser)
	assert.Equal(t, "pass", cfg.AuthPassword)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingEnvFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), ".env")

	_, err := Load(LoadOptions{EnvFile: missing})
	assert.NoError(t, err)

	_, err = Load(LoadOptions{EnvFile: missing, EnvFileRequired: true})
	assert.Error(t, err)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	certFile := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(certFile, []byte("pem"), 0o600))

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bcrypt hash instead of password", func(c *Config) { c.AuthPassword = ""; c.AuthPasswordHash = string(hash) }, false},
		{"missing rpc url", func(c *Config) { c.RPCURL = "" }, true},
		{"missing private key", func(c *Config) { c.PrivateKey = "" }, true},
		{"malformed private key", func(c *Config) { c.PrivateKey = "abcd" }, true},
		{"missing contract", func(c *Config) { c.ContractAddress = "" }, true},
		{"malformed contract", func(c *Config) { c.ContractAddress = "0x1234" }, true},
		{"missing auth user", func(c *Config) { c.AuthUser = "" }, true},
		{"missing password", func(c *Config) { c.AuthPassword = "" }, true},
		{"hash not bcrypt", func(c *Config) { c.AuthPassword = ""; c.AuthPasswordHash = "plain" }, true},
		{"missing abi file", func(c *Config) { c.ContractABIPath = "/nonexistent/abi.json" }, true},
		{"zero gas limit", func(c *Config) { c.GasLimit = 0 }, true},
		{"tls cert and key", func(c *Config) { c.TLSCertFile = certFile; c.TLSKeyFile = certFile }, false},
		{"tls cert without key", func(c *Config) { c.TLSCertFile = certFile }, true},
		{"tls cert missing", func(c *Config) { c.TLSCertFile = "/nonexistent/cert.pem"; c.TLSKeyFile = certFile }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
