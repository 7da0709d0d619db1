package flags

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/esim-operator-registry/config"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
rpc_url: http://file:8545
listen_addr: 0.0.0.0:5000
database_path: /var/lib/esim/file.db
auth_user: admin
auth_password: "1234"
`), 0o600))

	var cfg *config.Config
	app := &cli.App{
		Flags: ServerFlags,
		Action: func(cCtx *cli.Context) error {
			var err error
			cfg, err = LoadConfig(cCtx)
			return err
		},
	}

	err := app.Run([]string{"esim-server",
		"--config", configFile,
		"--rpc-addr", "http://flag:8545",
		"--drain-seconds", "5",
		"--tls-self-signed",
		"--log-json",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "http://flag:8545", cfg.RPCURL)
	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/esim/file.db", cfg.DatabasePath)
	assert.Equal(t, 5*time.Second, cfg.DrainDuration)
	assert.True(t, cfg.SelfSignedTLS)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "127.0.0.1:8090", cfg.MetricsAddr)

	srvCfg := ConfigureServer(cfg, SetupLogger(cfg))
	assert.Equal(t, "0.0.0.0:5000", srvCfg.ListenAddr)
	assert.Equal(t, "admin", srvCfg.Auth.User)
	assert.Equal(t, "1234", srvCfg.Auth.Password)
	assert.True(t, srvCfg.SelfSignedTLS)
	assert.Equal(t, cfg.ShutdownTimeout, srvCfg.GracefulShutdownDuration)
}

func TestLoadConfig_ExplicitEnvFileMustExist(t *testing.T) {
	app := &cli.App{
		Flags:  ServerFlags,
		Action: func(cCtx *cli.Context) error { _, err := LoadConfig(cCtx); return err },
	}

	err := app.Run([]string{"esim-server", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	assert.Error(t, err)
}
