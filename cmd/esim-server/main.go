package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/esim-operator-registry/api/esimhandler"
	"github.com/ruteri/esim-operator-registry/api/server"
	"github.com/ruteri/esim-operator-registry/cmd/flags"
	"github.com/ruteri/esim-operator-registry/cryptoutils"
	"github.com/ruteri/esim-operator-registry/ledger"
	"github.com/ruteri/esim-operator-registry/provisioning"
	"github.com/ruteri/esim-operator-registry/storage"
)

func main() {
	app := &cli.App{
		Name:  "esim-server",
		Usage: "Serve the eSIM operator registry API, mirroring changes to the registry contract",
		Flags: flags.ServerFlags,
		Action: func(cCtx *cli.Context) error {
			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := flags.SetupLogger(cfg)

			signingKey, err := cryptoutils.ParsePrivateKey(cfg.PrivateKey)
			if err != nil {
				return err
			}

			var contractABI *abi.ABI
			if cfg.ContractABIPath != "" {
				logger.Info("Loading contract ABI", "path", cfg.ContractABIPath)
				loaded, err := ledger.LoadABI(cfg.ContractABIPath)
				if err != nil {
					logger.Error("Failed to load contract ABI", "err", err)
					return err
				}
				contractABI = &loaded
			}

			// Connect to Ethereum
			logger.Info("Connecting to Ethereum RPC", "address", cfg.RPCURL)
			ethClient, err := ethclient.Dial(cfg.RPCURL)
			if err != nil {
				logger.Error("Failed to dial RPC", "err", err)
				return err
			}
			defer ethClient.Close()

			chainID, err := resolveChainID(cCtx.Context, ethClient, cfg.ChainID)
			if err != nil {
				logger.Error("Failed to determine chain id", "err", err)
				return err
			}

			ledgerClient, err := ledger.NewClient(ethClient, ledger.ClientConfig{
				Contract: cfg.Contract(),
				ChainID:  chainID,
				Key:      signingKey,
				ABI:      contractABI,
				GasLimit: cfg.GasLimit,
				GasPrice: cfg.GasPrice(),
				Timeout:  cfg.LedgerTimeout,
				Log:      logger,
			})
			if err != nil {
				logger.Error("Failed to create ledger client", "err", err)
				return err
			}
			logger.Info("Ledger client ready",
				"contract", cfg.Contract().Hex(),
				"chainID", chainID,
				"from", ledgerClient.From().Hex())

			registry, err := storage.NewSQLiteRegistry(cfg.DatabasePath, logger)
			if err != nil {
				logger.Error("Failed to open registry database", "path", cfg.DatabasePath, "err", err)
				return err
			}
			defer registry.Close()

			reconciler := provisioning.NewReconciler(registry, ledgerClient, logger)
			if pending, err := reconciler.Pending(cCtx.Context); err != nil {
				logger.Warn("Failed to list pending ledger mirrors", "err", err)
			} else if len(pending) > 0 {
				logger.Warn("Ledger mirror entries awaiting resubmission", "count", len(pending))
			}

			handler := esimhandler.NewHandler(
				registry,
				provisioning.NewRegistrationCoordinator(registry, ledgerClient, logger),
				provisioning.NewOperatorChangeCoordinator(registry, ledgerClient, logger),
				reconciler,
				logger,
			)

			srv, err := server.New(flags.ConfigureServer(cfg, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			srv.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// resolveChainID returns the configured chain id, or asks the node when none
// is configured.
func resolveChainID(ctx context.Context, client *ethclient.Client, configured int64) (*big.Int, error) {
	if configured > 0 {
		return big.NewInt(configured), nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	return chainID, nil
}
