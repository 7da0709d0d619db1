package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/esim-operator-registry/api"
	"github.com/ruteri/esim-operator-registry/common"
	"github.com/ruteri/esim-operator-registry/config"
)

// SetupLogger builds the process logger from the loaded configuration.
func SetupLogger(cfg *config.Config) (log *slog.Logger) {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cfg.LogDebug,
		JSON:    cfg.LogJSON,
		Service: cfg.LogService,
		Version: common.Version,
	})

	if cfg.LogUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// LoadConfig loads the layered configuration and applies every flag the user
// set explicitly on top of it.
func LoadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile:      cCtx.String(ConfigFileFlag.Name),
		EnvFile:         cCtx.String(EnvFileFlag.Name),
		EnvFileRequired: cCtx.IsSet(EnvFileFlag.Name),
	})
	if err != nil {
		return nil, err
	}

	setString := func(flag *cli.StringFlag, dst *string) {
		if cCtx.IsSet(flag.Name) {
			*dst = cCtx.String(flag.Name)
		}
	}
	setBool := func(flag *cli.BoolFlag, dst *bool) {
		if cCtx.IsSet(flag.Name) {
			*dst = cCtx.Bool(flag.Name)
		}
	}

	setString(RpcAddrFlag, &cfg.RPCURL)
	setString(ListenAddrFlag, &cfg.ListenAddr)
	setString(MetricsAddrFlag, &cfg.MetricsAddr)
	setString(DatabaseFlag, &cfg.DatabasePath)
	setString(ContractABIFlag, &cfg.ContractABIPath)
	setString(TLSCertFlag, &cfg.TLSCertFile)
	setString(TLSKeyFlag, &cfg.TLSKeyFile)
	setBool(TLSSelfSignedFlag, &cfg.SelfSignedTLS)
	setBool(PprofFlag, &cfg.EnablePprof)
	setBool(LogJsonFlag, &cfg.LogJSON)
	setBool(LogDebugFlag, &cfg.LogDebug)
	setBool(LogUidFlag, &cfg.LogUID)
	setString(LogServiceFlag, &cfg.LogService)
	if cCtx.IsSet(DrainSecondsFlag.Name) {
		cfg.DrainDuration = time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second
	}

	return cfg, nil
}

func ConfigureServer(cfg *config.Config, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:    cfg.ListenAddr,
		MetricsAddr:   cfg.MetricsAddr,
		Log:           logger,
		EnablePprof:   cfg.EnablePprof,
		TLSCertFile:   cfg.TLSCertFile,
		TLSKeyFile:    cfg.TLSKeyFile,
		SelfSignedTLS: cfg.SelfSignedTLS,
		Auth: api.BasicAuthConfig{
			User:         cfg.AuthUser,
			Password:     cfg.AuthPassword,
			PasswordHash: cfg.AuthPasswordHash,
			Realm:        cfg.AuthRealm,
		},
		DrainDuration:            cfg.DrainDuration,
		GracefulShutdownDuration: cfg.ShutdownTimeout,
		ReadTimeout:              cfg.ReadTimeout,
		WriteTimeout:             cfg.WriteTimeout,
	}
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "YAML configuration file",
}
var EnvFileFlag = &cli.StringFlag{
	Name:  "env-file",
	Value: ".env",
	Usage: "dotenv file loaded into the environment; required to exist only when set explicitly",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Usage: "address to connect to RPC",
}
var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Usage: "address to listen on for API",
}
var DatabaseFlag = &cli.StringFlag{
	Name:  "db",
	Usage: "path of the SQLite registry database",
}
var ContractABIFlag = &cli.StringFlag{
	Name:  "contract-abi",
	Usage: "registry contract ABI or build artifact JSON; the bundled ABI is used when empty",
}

var TLSCertFlag = &cli.StringFlag{
	Name:  "tls-cert",
	Usage: "PEM certificate for HTTPS",
}
var TLSKeyFlag = &cli.StringFlag{
	Name:  "tls-key",
	Usage: "PEM private key for HTTPS",
}
var TLSSelfSignedFlag = &cli.BoolFlag{
	Name:  "tls-self-signed",
	Usage: "serve HTTPS with a generated self-signed certificate",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	ConfigFileFlag,
	EnvFileFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var ServerFlags = append([]cli.Flag{
	RpcAddrFlag,
	ListenAddrFlag,
	DatabaseFlag,
	ContractABIFlag,
	TLSCertFlag,
	TLSKeyFlag,
	TLSSelfSignedFlag,
}, CommonFlags...)
