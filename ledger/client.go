package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/ruteri/esim-operator-registry/interfaces"
	"github.com/ruteri/esim-operator-registry/metrics"
)

const (
	DefaultGasLimit = uint64(2_000_000)
	DefaultTimeout  = 30 * time.Second

	// maxLaggingNonceReads is how many submissions in a row may find the node
	// stuck on the same nonce below the cached one before the cache is dropped.
	maxLaggingNonceReads = 3
)

var DefaultGasPrice = big.NewInt(params.GWei)

// ErrNoSigningKey is returned when the client is created without the server key.
var ErrNoSigningKey = errors.New("no signing key configured")

// ClientConfig configures a ledger Client. Zero values select the defaults.
type ClientConfig struct {
	Contract common.Address
	ChainID  *big.Int
	Key      *ecdsa.PrivateKey

	// ABI of the registry contract. Nil selects DefaultABI.
	ABI *abi.ABI

	GasLimit uint64
	GasPrice *big.Int
	Timeout  time.Duration

	Log *slog.Logger
}

// Client implements interfaces.Ledger against a registry contract deployed on
// an Ethereum-compatible network.
//
// Transactions are legacy transactions with a fixed gas limit and price, signed
// by the server key. Nonce allocation, signing and sending happen under one
// mutex so concurrent submissions from this process never reuse a nonce.
type Client struct {
	backend  bind.ContractBackend
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	auth     *bind.TransactOpts

	gasLimit       uint64
	gasPrice       *big.Int
	timeout        time.Duration
	pubkeyAsString bool

	nonceMu   sync.Mutex
	nextNonce *uint64
	// lagNonce is the node nonce seen by the last lagReads submissions that
	// found the node behind nextNonce.
	lagNonce uint64
	lagReads int

	log *slog.Logger
}

// NewClient creates a client submitting to cfg.Contract through backend.
func NewClient(backend bind.ContractBackend, cfg ClientConfig) (*Client, error) {
	if cfg.Key == nil {
		return nil, ErrNoSigningKey
	}
	if cfg.ChainID == nil {
		return nil, errors.New("chain id is required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("contract address is required")
	}

	contractABI := cfg.ABI
	if contractABI == nil {
		parsed, err := DefaultABI()
		if err != nil {
			return nil, err
		}
		contractABI = &parsed
	}

	auth, err := bind.NewKeyedTransactorWithChainID(cfg.Key, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("could not create transactor: %w", err)
	}

	c := &Client{
		backend:        backend,
		contract:       bind.NewBoundContract(cfg.Contract, *contractABI, backend, backend, backend),
		abi:            *contractABI,
		address:        cfg.Contract,
		auth:           auth,
		gasLimit:       cfg.GasLimit,
		gasPrice:       cfg.GasPrice,
		timeout:        cfg.Timeout,
		pubkeyAsString: pubkeyAsString(*contractABI),
		log:            cfg.Log,
	}
	if c.gasLimit == 0 {
		c.gasLimit = DefaultGasLimit
	}
	if c.gasPrice == nil {
		c.gasPrice = DefaultGasPrice
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if c.log == nil {
		c.log = slog.Default()
	}

	c.log.Debug("Ledger client created",
		"contract", cfg.Contract.Hex(),
		"from", auth.From.Hex(),
		"chainID", cfg.ChainID.String(),
		"methods", methodNames(*contractABI))

	return c, nil
}

// From returns the address of the server signing identity.
func (c *Client) From() common.Address {
	return c.auth.From
}

// RegisterDevice submits registerDevice(eid, iccid, mno, pubkey).
func (c *Client) RegisterDevice(ctx context.Context, eid, iccid, mno string, pubkey common.Address) (interfaces.TxHash, error) {
	var key any = pubkey
	if c.pubkeyAsString {
		key = pubkey.Hex()
	}
	return c.Submit(ctx, interfaces.OpRegisterDevice, eid, iccid, mno, key)
}

// ChangeOperator submits changeOperator(eid, newICCID, newMNO).
func (c *Client) ChangeOperator(ctx context.Context, eid, newICCID, newMNO string) (interfaces.TxHash, error) {
	return c.Submit(ctx, interfaces.OpChangeOperator, eid, newICCID, newMNO)
}

// Submit encodes a call to op with args, signs it and sends it to the
// network. It returns once the node has accepted the transaction.
func (c *Client) Submit(ctx context.Context, op interfaces.LedgerOperation, args ...any) (interfaces.TxHash, error) {
	start := time.Now()
	hash, err := c.submit(ctx, op, args...)
	metrics.RecordLedgerSubmission(string(op), resultLabel(err), time.Since(start))
	if err != nil {
		c.log.Warn("Ledger submission failed", "operation", op, "err", err)
		return interfaces.TxHash{}, err
	}
	return hash, nil
}

func (c *Client) submit(ctx context.Context, op interfaces.LedgerOperation, args ...any) (interfaces.TxHash, error) {
	if _, ok := c.abi.Methods[string(op)]; !ok {
		return interfaces.TxHash{}, fmt.Errorf("%w: unknown operation %q", interfaces.ErrLedgerRejected, op)
	}
	input, err := c.abi.Pack(string(op), args...)
	if err != nil {
		return interfaces.TxHash{}, fmt.Errorf("%w: could not encode %s: %v", interfaces.ErrLedgerRejected, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nodeNonce, err := c.backend.PendingNonceAt(ctx, c.auth.From)
	if err != nil {
		return interfaces.TxHash{}, classify(op, fmt.Errorf("pending nonce: %w", err))
	}
	nonce := c.allocateNonce(nodeNonce)

	opts := &bind.TransactOpts{
		From:     c.auth.From,
		Signer:   c.auth.Signer,
		Nonce:    new(big.Int).SetUint64(nonce),
		GasPrice: c.gasPrice,
		GasLimit: c.gasLimit,
		Context:  ctx,
	}

	tx, err := c.contract.RawTransact(opts, input)
	if err != nil {
		c.resetNonce()
		return interfaces.TxHash{}, classify(op, err)
	}

	next := nonce + 1
	c.nextNonce = &next

	c.log.Info("Ledger transaction submitted", "operation", op, "tx", tx.Hash().Hex(), "nonce", nonce)
	return tx.Hash(), nil
}

// allocateNonce picks the nonce of the next transaction given the node's
// pending nonce. Must be called with nonceMu held.
//
// The node may not have promoted our previous transaction yet, so a cached
// nonce ahead of the node wins. If the node stays on the same lower nonce for
// more than maxLaggingNonceReads submissions, a transaction was most likely
// dropped from its pool and everything above it is queued behind the gap; the
// cache is dropped so the gap gets refilled.
func (c *Client) allocateNonce(nodeNonce uint64) uint64 {
	if c.nextNonce == nil || *c.nextNonce <= nodeNonce {
		c.lagReads = 0
		return nodeNonce
	}

	if c.lagReads > 0 && c.lagNonce == nodeNonce {
		c.lagReads++
	} else {
		c.lagNonce = nodeNonce
		c.lagReads = 1
	}

	if c.lagReads > maxLaggingNonceReads {
		c.log.Warn("Node nonce stuck below local nonce, resynchronizing",
			"nodeNonce", nodeNonce, "cachedNonce", *c.nextNonce, "reads", c.lagReads)
		c.resetNonce()
		return nodeNonce
	}
	return *c.nextNonce
}

func (c *Client) resetNonce() {
	c.nextNonce = nil
	c.lagReads = 0
}
