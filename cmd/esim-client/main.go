package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ruteri/esim-operator-registry/api"
	"github.com/ruteri/esim-operator-registry/api/esimhandler"
	"github.com/ruteri/esim-operator-registry/cryptoutils"
)

var flagBackendURL = &cli.StringFlag{
	Name:    "backend-url",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"BACKEND_URL"},
	Usage:   "Registry server to connect to",
}
var flagUser = &cli.StringFlag{
	Name:    "user",
	Value:   "admin",
	EnvVars: []string{"AUTH_USER"},
	Usage:   "Basic auth user",
}
var flagPassword = &cli.StringFlag{
	Name:    "password",
	EnvVars: []string{"AUTH_PASS"},
	Usage:   "Basic auth password",
}
var flagInsecureTLS = &cli.BoolFlag{
	Name:  "insecure-tls",
	Value: true,
	Usage: "Skip TLS verification, for servers with self-signed certificates",
}

var flagPrivateKey = &cli.StringFlag{
	Name:    "privkey",
	EnvVars: []string{"IPA_PRIVKEY"},
	Usage:   "Device private key used for signing, 64 hex characters",
}
var flagEID = &cli.StringFlag{Name: "eid", Required: true, Usage: "Device EID"}
var flagICCID = &cli.StringFlag{Name: "iccid", Required: true, Usage: "Device ICCID"}
var flagMNO = &cli.StringFlag{Name: "mno", Required: true, Usage: "Mobile network operator"}
var flagNewICCID = &cli.StringFlag{Name: "new-iccid", Required: true, Usage: "ICCID of the new profile"}
var flagNewMNO = &cli.StringFlag{Name: "new-mno", Required: true, Usage: "Operator of the new profile"}
var flagPubkey = &cli.StringFlag{Name: "pubkey", Usage: "Device address; derived from --privkey when omitted"}

func main() {
	// Flags read BACKEND_URL, AUTH_* and IPA_PRIVKEY, so .env must be loaded
	// before the app parses them. Variables already set take precedence.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "esim-client",
		Usage: "Device and administrator client for the eSIM operator registry",
		Flags: []cli.Flag{
			flagBackendURL,
			flagUser,
			flagPassword,
			flagInsecureTLS,
		},
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "Generate a device key pair",
				Action: func(cCtx *cli.Context) error {
					key, err := crypto.GenerateKey()
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"address":     crypto.PubkeyToAddress(key.PublicKey).Hex(),
						"private_key": hexutil.Encode(crypto.FromECDSA(key)),
					})
				},
			},
			{
				Name:  "sign",
				Usage: "Sign an operator change without sending it",
				Flags: []cli.Flag{flagPrivateKey, flagEID, flagNewICCID, flagNewMNO},
				Action: func(cCtx *cli.Context) error {
					req, signer, err := signedChange(cCtx)
					if err != nil {
						return err
					}
					return printJSON(map[string]string{
						"message":   cryptoutils.OperatorChangeMessage(req.EID, req.NewICCID, req.NewMNO),
						"signature": req.Signature,
						"address":   signer,
					})
				},
			},
			{
				Name:  "change-operator",
				Usage: "Sign and submit an operator change",
				Flags: []cli.Flag{flagPrivateKey, flagEID, flagNewICCID, flagNewMNO},
				Action: func(cCtx *cli.Context) error {
					req, signer, err := signedChange(cCtx)
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "Signing address: %s\n", signer)

					resp, err := newClient(cCtx).RequestOperatorChange(cCtx.Context, req)
					return printResult(resp, err)
				},
			},
			{
				Name:  "register",
				Usage: "Register a device identity",
				Flags: []cli.Flag{flagPrivateKey, flagPubkey, flagEID, flagICCID, flagMNO},
				Action: func(cCtx *cli.Context) error {
					pubkey := cCtx.String(flagPubkey.Name)
					if pubkey == "" {
						key, err := deviceKey(cCtx)
						if err != nil {
							return err
						}
						pubkey = crypto.PubkeyToAddress(key.PublicKey).Hex()
					}

					resp, err := newClient(cCtx).RegisterIdentity(cCtx.Context, api.RegisterIdentityRequest{
						EID:    cCtx.String(flagEID.Name),
						ICCID:  cCtx.String(flagICCID.Name),
						MNO:    cCtx.String(flagMNO.Name),
						Pubkey: pubkey,
					})
					return printResult(resp, err)
				},
			},
			{
				Name:  "devices",
				Usage: "List registered devices",
				Action: func(cCtx *cli.Context) error {
					resp, err := newClient(cCtx).Devices(cCtx.Context)
					return printResult(resp, err)
				},
			},
			{
				Name:      "history",
				Usage:     "Show the operator history of a device",
				ArgsUsage: "<eid>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return errors.New("expected exactly one eid argument")
					}
					resp, err := newClient(cCtx).OperatorHistory(cCtx.Context, cCtx.Args().First())
					return printResult(resp, err)
				},
			},
			{
				Name:  "pending",
				Usage: "List ledger mirror entries awaiting submission",
				Action: func(cCtx *cli.Context) error {
					resp, err := newClient(cCtx).PendingMirrors(cCtx.Context)
					return printResult(resp, err)
				},
			},
			{
				Name:      "resubmit",
				Usage:     "Resubmit a pending ledger mirror entry",
				ArgsUsage: "<id>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return errors.New("expected exactly one entry id argument")
					}
					id, err := strconv.ParseInt(cCtx.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid entry id: %w", err)
					}
					resp, err := newClient(cCtx).ResubmitMirror(cCtx.Context, id)
					return printResult(resp, err)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) *esimhandler.Client {
	return esimhandler.NewClient(esimhandler.ClientConfig{
		BaseURL:            cCtx.String(flagBackendURL.Name),
		User:               cCtx.String(flagUser.Name),
		Password:           cCtx.String(flagPassword.Name),
		InsecureSkipVerify: cCtx.Bool(flagInsecureTLS.Name),
	})
}

func deviceKey(cCtx *cli.Context) (*ecdsa.PrivateKey, error) {
	raw := cCtx.String(flagPrivateKey.Name)
	if raw == "" {
		return nil, errors.New("device private key required: set --privkey or IPA_PRIVKEY")
	}
	return cryptoutils.ParsePrivateKey(raw)
}

func signedChange(cCtx *cli.Context) (api.OperatorChangeRequest, string, error) {
	key, err := deviceKey(cCtx)
	if err != nil {
		return api.OperatorChangeRequest{}, "", err
	}

	req := api.OperatorChangeRequest{
		EID:      cCtx.String(flagEID.Name),
		NewICCID: cCtx.String(flagNewICCID.Name),
		NewMNO:   cCtx.String(flagNewMNO.Name),
	}
	req.Signature, err = cryptoutils.SignOperatorChange(key, req.EID, req.NewICCID, req.NewMNO)
	if err != nil {
		return api.OperatorChangeRequest{}, "", err
	}
	return req, crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// printResult prints the decoded response, also for API errors that carry a
// body such as partial completions.
func printResult(resp any, err error) error {
	var apiErr *esimhandler.APIError
	if err != nil && !errors.As(err, &apiErr) {
		return err
	}
	if printErr := printJSON(resp); printErr != nil {
		return printErr
	}
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
