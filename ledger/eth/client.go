// Package eth implements ledger.Client over an Ethereum JSON-RPC endpoint.
package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/sirupsen/logrus"
)

// Options are shared by both network clients.
type Options struct {
	PrivateKey   string
	GasLimit     uint64
	PollInterval time.Duration
	Logger       *logrus.Logger
}

type Client struct {
	network  ledger.Network
	rpc      *ethclient.Client
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64
	poll     time.Duration
	logger   *logrus.Logger

	// serializes nonce lookup and send
	sendMu sync.Mutex
}

var _ ledger.Client = (*Client)(nil)

// Dial connects to one network. An empty private key yields a read-only client.
func Dial(ctx context.Context, network ledger.Network, nc config.LedgerNetwork, opts Options) (*Client, error) {
	if !common.IsHexAddress(nc.ContractAddress) {
		return nil, fmt.Errorf("%s ledger: invalid contract address %q", network, nc.ContractAddress)
	}
	parsed, err := LoadABI(network, nc.ABIPath)
	if err != nil {
		return nil, fmt.Errorf("%s ledger: %w", network, err)
	}

	c := &Client{
		network:  network,
		abi:      parsed,
		contract: common.HexToAddress(nc.ContractAddress),
		chainID:  big.NewInt(nc.ChainID),
		gasLimit: opts.GasLimit,
		poll:     opts.PollInterval,
		logger:   opts.Logger,
	}
	if c.poll <= 0 {
		c.poll = time.Second
	}
	if c.gasLimit == 0 {
		c.gasLimit = 2_000_000
	}
	if c.logger == nil {
		c.logger = config.GetLogger()
	}
	if opts.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(opts.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%s ledger: private key: %w", network, err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}

	rc, err := ethclient.DialContext(ctx, nc.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s ledger %s: %v", ledger.ErrUnavailable, network, nc.RPCURL, err)
	}
	c.rpc = rc
	return c, nil
}

// NewFromConfig dials both networks and routes between them. In local_only mode
// it returns a no-op client.
func NewFromConfig(ctx context.Context, cfg config.LedgerConfig) (ledger.Client, error) {
	if cfg.Mode == config.LedgerModeLocalOnly {
		return ledger.Noop{}, nil
	}
	opts := Options{
		PrivateKey:   cfg.PrivateKey,
		GasLimit:     cfg.GasLimit,
		PollInterval: cfg.PollInterval,
		Logger:       config.GetLogger(),
	}
	accounts, err := Dial(ctx, ledger.NetworkAccounts, cfg.Accounts, opts)
	if err != nil {
		return nil, err
	}
	operations, err := Dial(ctx, ledger.NetworkOperations, cfg.Operations, opts)
	if err != nil {
		_ = accounts.Close()
		return nil, err
	}
	return ledger.NewRouter(accounts, operations), nil
}

func (c *Client) spec(kind ledger.EntityKind) (ledger.KindSpec, error) {
	s, ok := kind.Spec()
	if !ok || s.Network != c.network {
		return s, fmt.Errorf("%w: kind %q on %s ledger", ledger.ErrUnsupported, kind, c.network)
	}
	return s, nil
}

func (c *Client) pack(call ledger.Call) ([]byte, error) {
	s, err := c.spec(call.Kind())
	if err != nil {
		return nil, err
	}
	args, err := encodeArgs(call.Record)
	if err != nil {
		return nil, err
	}
	data, err := c.abi.Pack(s.WriteMethod, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", ledger.ErrRejected, s.WriteMethod, err)
	}
	return data, nil
}

// isRevert reports whether a call error came from contract execution rather than transport.
func isRevert(err error) bool {
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "revert") || strings.Contains(msg, "invalid opcode")
}

func (c *Client) callErr(op string, err error) error {
	if isRevert(err) {
		return fmt.Errorf("%w: %s: %v", ledger.ErrRejected, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ledger.ErrUnavailable, op, err)
}

func (c *Client) Simulate(ctx context.Context, call ledger.Call) error {
	data, err := c.pack(call)
	if err != nil {
		return err
	}
	from := c.from
	if common.IsHexAddress(call.Sender) {
		from = common.HexToAddress(call.Sender)
	}
	msg := ethereum.CallMsg{From: from, To: &c.contract, Gas: c.gasLimit, Data: data}
	if _, err := c.rpc.CallContract(ctx, msg, nil); err != nil {
		return c.callErr("simulate "+call.Method(), err)
	}
	return nil
}

func (c *Client) Submit(ctx context.Context, call ledger.Call) (ledger.TxHandle, error) {
	if c.key == nil {
		return ledger.TxHandle{}, fmt.Errorf("%w: %w: %s ledger client has no signing key", ledger.ErrNotSubmitted, ledger.ErrUnsupported, c.network)
	}
	data, err := c.pack(call)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("%w: %w", ledger.ErrNotSubmitted, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonce, err := c.rpc.PendingNonceAt(ctx, c.from)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("%w: %w", ledger.ErrNotSubmitted, c.callErr("nonce", err))
	}
	gasPrice, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("%w: %w", ledger.ErrNotSubmitted, c.callErr("gas price", err))
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.gasLimit,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return ledger.TxHandle{}, fmt.Errorf("%w: sign %s: %w", ledger.ErrNotSubmitted, call.Method(), err)
	}
	if err := c.rpc.SendTransaction(ctx, signed); err != nil {
		return ledger.TxHandle{}, c.callErr("send "+call.Method(), err)
	}

	c.logger.WithFields(logrus.Fields{
		"network": c.network,
		"method":  call.Method(),
		"id":      call.Record.RecordID(),
		"tx":      signed.Hash().Hex(),
		"nonce":   nonce,
	}).Info("ledger transaction submitted")

	return ledger.TxHandle{
		Kind:        call.Kind(),
		Network:     c.network,
		Hash:        signed.Hash().Hex(),
		SubmittedAt: time.Now().UTC(),
	}, nil
}

// AwaitConfirmation polls for the receipt until ctx ends. A reverted receipt is ErrRejected.
func (c *Client) AwaitConfirmation(ctx context.Context, h ledger.TxHandle) (ledger.Receipt, error) {
	hash := common.HexToHash(h.Hash)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		receipt, err := c.rpc.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			out := ledger.Receipt{TxHash: h.Hash, BlockHash: receipt.BlockHash.Hex()}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if receipt.Status == types.ReceiptStatusFailed {
				return out, fmt.Errorf("%w: transaction %s reverted", ledger.ErrRejected, h.Hash)
			}
			return out, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() == nil {
				c.logger.WithFields(logrus.Fields{"network": c.network, "tx": h.Hash}).
					WithError(err).Warn("receipt lookup failed, retrying")
			}
		}

		select {
		case <-ctx.Done():
			return ledger.Receipt{}, fmt.Errorf("await %s: %w", h.Hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) view(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ledger.ErrUnsupported, method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ledger.ErrUnsupported, method, len(vals))
	}
	return vals, nil
}

func (c *Client) GetAggregate(ctx context.Context, kind ledger.EntityKind) ([]ledger.Record, error) {
	s, err := c.spec(kind)
	if err != nil {
		return nil, err
	}
	if _, ok := c.abi.Methods[s.AggregateMethod]; !ok {
		return nil, fmt.Errorf("%w: no %s in contract abi", ledger.ErrUnsupported, s.AggregateMethod)
	}
	vals, err := c.view(ctx, s.AggregateMethod)
	if err != nil {
		if errors.Is(err, ledger.ErrUnsupported) {
			return nil, err
		}
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s: %v", ledger.ErrUnsupported, s.AggregateMethod, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrUnavailable, s.AggregateMethod, err)
	}
	return decodeRecords(kind, vals[0])
}

func (c *Client) GetByID(ctx context.Context, kind ledger.EntityKind, id string) (ledger.Record, error) {
	s, err := c.spec(kind)
	if err != nil {
		return nil, err
	}
	vals, err := c.view(ctx, s.GetMethod, id)
	if err != nil {
		if errors.Is(err, ledger.ErrUnsupported) {
			return nil, err
		}
		if isRevert(err) {
			return nil, fmt.Errorf("%w: %s %q: %v", ledger.ErrNotFound, kind, id, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrUnavailable, s.GetMethod, err)
	}
	rec, err := decodeRecord(kind, vals[0])
	if err != nil {
		return nil, err
	}
	// unset mappings come back zero-valued
	if rec.RecordID() == "" {
		return nil, fmt.Errorf("%w: %s %q", ledger.ErrNotFound, kind, id)
	}
	return rec, nil
}

// ScanEvents installs a log filter for the contract event and drains it.
func (c *Client) ScanEvents(ctx context.Context, kind ledger.EntityKind, fromBlock uint64) ([]ledger.Event, error) {
	s, err := c.spec(kind)
	if err != nil {
		return nil, err
	}
	ev, ok := c.abi.Events[s.EventName]
	if !ok {
		return nil, fmt.Errorf("%w: no %s event in contract abi", ledger.ErrUnsupported, s.EventName)
	}

	arg := map[string]interface{}{
		"address":   []common.Address{c.contract},
		"topics":    [][]common.Hash{{ev.ID}},
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   "latest",
	}
	rc := c.rpc.Client()
	var filterID string
	if err := rc.CallContext(ctx, &filterID, "eth_newFilter", arg); err != nil {
		return nil, fmt.Errorf("%w: eth_newFilter: %v", ledger.ErrUnsupported, err)
	}
	defer func() {
		var ok bool
		if err := rc.CallContext(context.WithoutCancel(ctx), &ok, "eth_uninstallFilter", filterID); err != nil {
			c.logger.WithError(err).WithField("filter", filterID).Debug("uninstall filter failed")
		}
	}()

	var logs []types.Log
	if err := rc.CallContext(ctx, &logs, "eth_getFilterLogs", filterID); err != nil {
		return nil, fmt.Errorf("%w: eth_getFilterLogs: %v", ledger.ErrUnsupported, err)
	}
	return c.events(kind, logs, func(data []byte) (string, error) {
		vals, err := c.abi.Unpack(s.EventName, data)
		if err != nil || len(vals) == 0 {
			return decodeEventID(data)
		}
		id, ok := vals[0].(string)
		if !ok {
			return "", fmt.Errorf("event %s: id is %T", s.EventName, vals[0])
		}
		return id, nil
	}), nil
}

// ScanRawLogs queries logs by address and first topic only; the ABI is not consulted.
func (c *Client) ScanRawLogs(ctx context.Context, kind ledger.EntityKind, fromBlock uint64, topic ledger.Topic) ([]ledger.Event, error) {
	if _, err := c.spec(kind); err != nil {
		return nil, err
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{common.Hash(topic)}},
	}
	logs, err := c.rpc.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getLogs: %v", ledger.ErrUnavailable, err)
	}
	return c.events(kind, logs, decodeEventID), nil
}

func (c *Client) events(kind ledger.EntityKind, logs []types.Log, decode func([]byte) (string, error)) []ledger.Event {
	out := make([]ledger.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		id, err := decode(l.Data)
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"network": c.network,
				"kind":    kind,
				"tx":      l.TxHash.Hex(),
				"block":   l.BlockNumber,
			}).WithError(err).Warn("skipping undecodable log")
			continue
		}
		out = append(out, ledger.Event{
			Kind:        kind,
			ID:          id,
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
			TxHash:      l.TxHash.Hex(),
		})
	}
	return out
}

func (c *Client) Close() error {
	if c.rpc != nil {
		c.rpc.Close()
	}
	return nil
}
