// Package config builds the startup configuration of the registry server.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. built-in defaults
//  2. an optional YAML file
//  3. a .env file, loaded into the process environment
//  4. the legacy variables RPC_URL, PRIVATE_KEY, CONTRACT_ADDRESS, AUTH_USER, AUTH_PASS
//  5. ESIM_* environment variables, e.g. ESIM_RPC_URL, ESIM_AUTH_PASSWORD_HASH
//
// Command line flags are applied by the binary on top of the result. Validate
// must pass before any component is constructed.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ruteri/esim-operator-registry/cryptoutils"
)

const EnvPrefix = "ESIM_"

// legacyEnv maps the variable names of earlier deployments to config keys.
var legacyEnv = map[string]string{
	"RPC_URL":          "rpc_url",
	"PRIVATE_KEY":      "private_key",
	"CONTRACT_ADDRESS": "contract_address",
	"AUTH_USER":        "auth_user",
	"AUTH_PASS":        "auth_password",
}

type Config struct {
	// Ledger
	RPCURL          string        `koanf:"rpc_url" validate:"required,url"`
	ChainID         int64         `koanf:"chain_id" validate:"gte=0"`
	PrivateKey      string        `koanf:"private_key" validate:"required"`
	ContractAddress string        `koanf:"contract_address" validate:"required,eth_addr"`
	ContractABIPath string        `koanf:"contract_abi_path" validate:"omitempty,file"`
	GasLimit        uint64        `koanf:"gas_limit" validate:"gt=0"`
	GasPriceWei     uint64        `koanf:"gas_price_wei" validate:"gt=0"`
	LedgerTimeout   time.Duration `koanf:"ledger_timeout" validate:"gt=0"`

	// Storage
	DatabasePath string `koanf:"database_path" validate:"required"`

	// Credentials gating the HTTP API. Either a plaintext password or a
	// bcrypt hash of it.
	AuthUser         string `koanf:"auth_user" validate:"required"`
	AuthPassword     string `koanf:"auth_password" validate:"required_without=AuthPasswordHash"`
	AuthPasswordHash string `koanf:"auth_password_hash" validate:"required_without=AuthPassword"`
	AuthRealm        string `koanf:"auth_realm"`

	// HTTP
	ListenAddr      string        `koanf:"listen_addr" validate:"required"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	EnablePprof     bool          `koanf:"pprof"`
	DrainDuration   time.Duration `koanf:"drain_duration"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// HTTPS. Cert and key files must be set together.
	TLSCertFile   string `koanf:"tls_cert_file" validate:"omitempty,file"`
	TLSKeyFile    string `koanf:"tls_key_file" validate:"omitempty,file"`
	SelfSignedTLS bool   `koanf:"tls_self_signed"`

	// Logging
	LogJSON    bool   `koanf:"log_json"`
	LogDebug   bool   `koanf:"log_debug"`
	LogUID     bool   `koanf:"log_uid"`
	LogService string `koanf:"log_service"`
}

// Default returns the configuration used for every key no source sets.
func Default() *Config {
	return &Config{
		ChainID:         0,
		GasLimit:        2_000_000,
		GasPriceWei:     1_000_000_000,
		LedgerTimeout:   30 * time.Second,
		DatabasePath:    "esim-registry.db",
		AuthRealm:       "esim-registry",
		ListenAddr:      "127.0.0.1:8080",
		MetricsAddr:     "127.0.0.1:8090",
		DrainDuration:   45 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		LogService:      "esim-registry",
	}
}

type LoadOptions struct {
	// ConfigFile is an optional YAML file.
	ConfigFile string

	// EnvFile is loaded into the environment if it exists. Missing files are
	// an error only when EnvFileRequired is set.
	EnvFile         string
	EnvFileRequired bool
}

// Load layers the configuration sources described in the package doc. It
// does not validate.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			if opts.EnvFileRequired || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
			}
		}
	}

	k := koanf.New(".")

	if opts.ConfigFile != "" {
		if err := k.Load(file.Provider(opts.ConfigFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		TransformFunc: func(key, value string) (string, any) {
			mapped, ok := legacyEnv[key]
			if !ok {
				return "", nil
			}
			return mapped, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load legacy env variables: %w", err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load env variables: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate fails if any required setting is absent or malformed.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := cryptoutils.ParsePrivateKey(c.PrivateKey); err != nil {
		return fmt.Errorf("invalid configuration: private_key: %w", err)
	}
	if c.AuthPasswordHash != "" && !strings.HasPrefix(c.AuthPasswordHash, "$2") {
		return errors.New("invalid configuration: auth_password_hash is not a bcrypt hash")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("invalid configuration: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

// Contract returns the registry contract address.
func (c *Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// GasPrice returns the legacy transaction gas price in wei.
func (c *Config) GasPrice() *big.Int {
	return new(big.Int).SetUint64(c.GasPriceWei)
}
