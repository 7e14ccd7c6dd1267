package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/metrics"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fallbackGas is used when estimation fails for a reason other than a revert.
var fallbackGas = map[string]uint64{
	ledger.MethodHarvestProduct:    300000,
	ledger.MethodUpdateStatus:      200000,
	ledger.MethodPutProductForSale: 200000,
	ledger.MethodPurchaseProduct:   250000,
	ledger.MethodAuthorizeUser:     200000,
}

const defaultFallbackGas = 300000

type Options struct {
	GasMarginPercent int
	ReceiptTimeout   time.Duration
	PollInterval     time.Duration
	GasPrice         decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		GasMarginPercent: 20,
		ReceiptTimeout:   180 * time.Second,
		PollInterval:     500 * time.Millisecond,
		GasPrice:         decimal.NewFromInt(1_000_000_000),
	}
}

// Conn is the connection context: node, signer, selected account and the contract handle
// bound to that account.
type Conn struct {
	Backend  Backend
	Signer   Signer
	account  models.Address
	contract *Contract
}

// Client is shared by all callers. Only account switches mutate it.
type Client struct {
	mu     sync.RWMutex
	conn   Conn
	opts   Options
	logger *zap.Logger
}

// NewClient selects the signer's first account as the current one.
func NewClient(ctx context.Context, backend Backend, signer Signer, opts Options, logger *zap.Logger) (*Client, error) {
	accounts, err := signer.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, errors.New("signer has no accounts")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = DefaultOptions().ReceiptTimeout
	}

	return &Client{
		conn: Conn{
			Backend: backend,
			Signer:  signer,
			account: accounts[0],
		},
		opts:   opts,
		logger: logger,
	}, nil
}

func (c *Client) Account() models.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.account
}

// SetAccount switches the current account and drops the cached contract handle.
func (c *Client) SetAccount(addr models.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn.account.Equal(addr) {
		return
	}
	c.logger.Info("account changed",
		zap.String("from", c.conn.account.Short()),
		zap.String("to", addr.Short()),
	)
	c.conn.account = addr
	c.conn.contract = nil
}

// Watch follows account changes pushed by w until the returned func is called.
func (c *Client) Watch(w AccountWatcher) func() {
	return w.SubscribeAccountChanged(c.SetAccount)
}

// Contract returns the handle bound to the current account.
func (c *Client) Contract() *Contract {
	c.mu.RLock()
	handle := c.conn.contract
	c.mu.RUnlock()
	if handle != nil {
		return handle
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn.contract == nil {
		c.conn.contract = &Contract{client: c, from: c.conn.account}
	}
	return c.conn.contract
}

// As returns a handle sending from the given account.
func (c *Client) As(from models.Address) *Contract {
	if from == "" {
		return c.Contract()
	}
	return &Contract{client: c, from: from}
}

// GasLimit pads the node's estimate by the configured margin. A revert during estimation is
// returned as a TxError; any other estimation failure falls back to the method's budget.
func (c *Client) GasLimit(ctx context.Context, msg CallMsg) (uint64, error) {
	estimate, err := c.conn.Backend.EstimateGas(ctx, msg)
	if err != nil {
		var revert *RevertError
		if errors.As(err, &revert) {
			return 0, revertError(msg.Call.Method, "", revert.Reason)
		}

		gas, ok := fallbackGas[msg.Call.Method]
		if !ok {
			gas = defaultFallbackGas
		}
		c.logger.Warn("gas estimation failed, using fallback",
			zap.String("method", msg.Call.Method),
			zap.Uint64("gas", gas),
			zap.Error(err),
		)
		return gas, nil
	}

	return estimate * uint64(100+c.opts.GasMarginPercent) / 100, nil
}

// Transact estimates, signs, submits and waits for the terminal receipt. A reverted receipt
// is returned together with its TxError.
func (c *Client) Transact(ctx context.Context, from models.Address, call ledger.Call, value decimal.Decimal) (*Receipt, error) {
	start := time.Now()

	receipt, err := c.transact(ctx, from, call, value)
	outcome := "confirmed"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.ChainSubmissions.WithLabelValues(call.Method, outcome).Inc()
	if receipt != nil {
		metrics.ChainConfirmationSeconds.WithLabelValues(call.Method).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		hash := ""
		var txErr *TxError
		if errors.As(err, &txErr) {
			hash = txErr.TxHash
		}
		c.logger.Warn("transaction failed",
			zap.String("method", call.Method),
			zap.String("from", from.Short()),
			zap.String("kind", KindOf(err).String()),
			zap.String("tx_hash", hash),
			zap.Error(err),
		)
	}
	return receipt, err
}

func (c *Client) transact(ctx context.Context, from models.Address, call ledger.Call, value decimal.Decimal) (*Receipt, error) {
	op := call.Method

	gas, err := c.GasLimit(ctx, CallMsg{From: from, Call: call, Value: value})
	if err != nil {
		return nil, classify(op, err)
	}

	signed, err := c.conn.Signer.SignTx(ctx, &Transaction{
		From:     from,
		Call:     call,
		Value:    value,
		Gas:      gas,
		GasPrice: c.opts.GasPrice,
	})
	if err != nil {
		return nil, classify(op, err)
	}

	hash, err := c.conn.Backend.SendTransaction(ctx, signed)
	if err != nil {
		return nil, classify(op, err)
	}
	c.logger.Debug("transaction sent",
		zap.String("method", op),
		zap.String("tx_hash", hash),
		zap.Uint64("gas", gas),
	)

	receipt, err := c.WaitReceipt(ctx, hash)
	if err != nil {
		txErr := classify(op, err)
		txErr.Op = op
		txErr.TxHash = hash
		return nil, txErr
	}
	if !receipt.Succeeded() {
		return receipt, revertError(op, hash, receipt.RevertReason)
	}
	return receipt, nil
}

// WaitReceipt polls for the receipt of hash until it exists or the receipt timeout elapses.
// Giving up says nothing about whether the transaction will still confirm.
func (c *Client) WaitReceipt(ctx context.Context, hash string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.conn.Backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			c.logger.Debug("receipt lookup failed", zap.String("tx_hash", hash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, &TxError{Kind: KindTimeout, Op: "waitReceipt", TxHash: hash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (c *Client) read(ctx context.Context, call ledger.Call) (ledger.ReadResult, error) {
	out, err := c.conn.Backend.Call(ctx, CallMsg{From: c.Account(), Call: call})
	if err != nil {
		var revert *RevertError
		if errors.As(err, &revert) {
			if sentinel := ledger.ErrorFromReason(revert.Reason); sentinel != nil {
				return out, fmt.Errorf("%s: %w", call.Method, sentinel)
			}
		}
		return out, fmt.Errorf("%s: %w", call.Method, err)
	}
	return out, nil
}

func (c *Client) ProductCount(ctx context.Context) (int64, error) {
	out, err := c.read(ctx, ledger.ProductCountCall())
	return out.Count, err
}

// ProductDetails fails with ledger.ErrNotFound for unknown ids.
func (c *Client) ProductDetails(ctx context.Context, id int64) (models.Product, error) {
	out, err := c.read(ctx, ledger.ProductDetailsCall(id))
	return out.Product, err
}

func (c *Client) AllProductIDs(ctx context.Context) ([]int64, error) {
	out, err := c.read(ctx, ledger.AllProductIDsCall())
	return out.IDs, err
}

func (c *Client) IsAuthorized(ctx context.Context, addr models.Address) (bool, error) {
	out, err := c.read(ctx, ledger.AuthorizedCall(addr))
	return out.Authorized, err
}

func (c *Client) HeadBlock(ctx context.Context) (int64, error) {
	return c.conn.Backend.HeadBlock(ctx)
}

// Contract is a typed handle sending transactions from one account.
type Contract struct {
	client *Client
	from   models.Address
}

func (k *Contract) From() models.Address {
	return k.from
}

func (k *Contract) Harvest(ctx context.Context, name, farmer, location string, harvestDate int64) (*Receipt, error) {
	return k.client.Transact(ctx, k.from, ledger.HarvestCall(name, farmer, location, harvestDate), decimal.Zero)
}

func (k *Contract) UpdateStatus(ctx context.Context, id int64, status models.Status) (*Receipt, error) {
	return k.client.Transact(ctx, k.from, ledger.UpdateStatusCall(id, status), decimal.Zero)
}

func (k *Contract) PutForSale(ctx context.Context, id int64, price decimal.Decimal) (*Receipt, error) {
	return k.client.Transact(ctx, k.from, ledger.PutForSaleCall(id, price), decimal.Zero)
}

func (k *Contract) Purchase(ctx context.Context, id int64, payment decimal.Decimal) (*Receipt, error) {
	return k.client.Transact(ctx, k.from, ledger.PurchaseCall(id), payment)
}

func (k *Contract) AuthorizeUser(ctx context.Context, user models.Address) (*Receipt, error) {
	return k.client.Transact(ctx, k.from, ledger.AuthorizeUserCall(user), decimal.Zero)
}
