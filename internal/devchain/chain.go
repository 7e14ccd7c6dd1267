// Package devchain is an in-process development chain hosting the supply-chain contract.
// It keeps balances, charges gas, mines pending transactions into blocks and streams
// receipts, which is enough to exercise every outcome the chain client distinguishes.
package devchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	intrinsicGas     uint64 = 21000
	subscriberBuffer        = 256
)

var (
	ErrInvalidSignature = errors.New("invalid sender")
	ErrIntrinsicGas     = errors.New("intrinsic gas too low")
	ErrInsufficientFund = errors.New("insufficient funds for gas * price + value")
)

type Options struct {
	// BlockInterval of zero mines every transaction as soon as it is sent.
	BlockInterval time.Duration
}

type Block struct {
	Number    int64
	Timestamp time.Time
	TxHashes  []string
}

type pendingTx struct {
	hash string
	tx   chain.Transaction
}

type subscriber struct {
	ctx context.Context
	ch  chan *chain.Receipt
}

type Chain struct {
	mu       sync.Mutex
	contract *ledger.Contract
	balances map[models.Address]decimal.Decimal
	nonces   map[models.Address]uint64
	pending  []pendingTx
	receipts map[string]*chain.Receipt
	blocks   []Block

	subsMu sync.Mutex
	subs   map[uint64]subscriber
	nextID uint64

	opts   Options
	logger *zap.Logger
}

func New(contract *ledger.Contract, opts Options, logger *zap.Logger) *Chain {
	return &Chain{
		contract: contract,
		balances: make(map[models.Address]decimal.Decimal),
		nonces:   make(map[models.Address]uint64),
		receipts: make(map[string]*chain.Receipt),
		subs:     make(map[uint64]subscriber),
		opts:     opts,
		logger:   logger,
	}
}

func key(addr models.Address) models.Address {
	return models.Address(strings.ToLower(string(addr)))
}

func (c *Chain) Contract() *ledger.Contract {
	return c.contract
}

// Fund credits amount to addr.
func (c *Chain) Fund(addr models.Address, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[key(addr)] = c.balances[key(addr)].Add(amount)
}

func (c *Chain) BalanceOf(addr models.Address) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[key(addr)]
}

func (c *Chain) EstimateGas(_ context.Context, msg chain.CallMsg) (uint64, error) {
	gas, ok := ledger.GasCost(msg.Call.Method)
	if !ok {
		return 0, &chain.RevertError{Reason: ledger.ErrUnknownMethod.Error()}
	}

	c.mu.Lock()
	balance := c.balances[key(msg.From)]
	c.mu.Unlock()
	if msg.Value.GreaterThan(balance) {
		return 0, errors.New("insufficient funds for transfer")
	}

	if err := c.contract.Check(msg.From, msg.Call, msg.Value); err != nil {
		return 0, &chain.RevertError{Reason: err.Error()}
	}
	return gas, nil
}

func (c *Chain) SendTransaction(_ context.Context, signed *chain.SignedTx) (string, error) {
	if signed.Signature != Sign(signed.Transaction) {
		return "", ErrInvalidSignature
	}
	tx := signed.Transaction
	if tx.Gas < intrinsicGas {
		return "", ErrIntrinsicGas
	}

	cost := decimal.NewFromInt(int64(tx.Gas)).Mul(tx.GasPrice).Add(tx.Value)

	c.mu.Lock()
	from := key(tx.From)
	if c.balances[from].LessThan(cost) {
		c.mu.Unlock()
		return "", ErrInsufficientFund
	}
	nonce := c.nonces[from]
	c.nonces[from] = nonce + 1
	hash := txHash(from, nonce)
	c.pending = append(c.pending, pendingTx{hash: hash, tx: tx})
	c.mu.Unlock()

	c.logger.Debug("transaction pooled",
		zap.String("tx_hash", hash),
		zap.String("method", tx.Call.Method),
		zap.Uint64("nonce", nonce),
	)

	if c.opts.BlockInterval <= 0 {
		c.Mine()
	}
	return hash, nil
}

func txHash(from models.Address, nonce uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", from, nonce, uuid.NewString())))
	return "0x" + hex.EncodeToString(sum[:])
}

// Mine executes every pending transaction into one new block and returns its number. It
// returns the current head when nothing is pending.
func (c *Chain) Mine() int64 {
	c.mu.Lock()
	if len(c.pending) == 0 {
		head := int64(len(c.blocks))
		c.mu.Unlock()
		return head
	}

	block := Block{Number: int64(len(c.blocks)) + 1, Timestamp: time.Now().UTC()}
	mined := make([]*chain.Receipt, 0, len(c.pending))
	for _, p := range c.pending {
		receipt := c.execute(p, block)
		c.receipts[p.hash] = receipt
		block.TxHashes = append(block.TxHashes, p.hash)
		mined = append(mined, receipt)
	}
	c.pending = nil
	c.blocks = append(c.blocks, block)
	c.mu.Unlock()

	c.logger.Debug("block mined", zap.Int64("block", block.Number), zap.Int("txs", len(mined)))

	for _, r := range mined {
		c.broadcast(r)
	}
	return block.Number
}

// execute runs one transaction against the contract. Callers hold c.mu.
func (c *Chain) execute(p pendingTx, block Block) *chain.Receipt {
	tx := p.tx
	from := key(tx.From)
	receipt := &chain.Receipt{
		TxHash:      p.hash,
		From:        tx.From,
		Method:      tx.Call.Method,
		BlockNumber: block.Number,
		Timestamp:   block.Timestamp,
	}

	required, _ := ledger.GasCost(tx.Call.Method)
	if required == 0 {
		required = intrinsicGas
	}

	switch {
	case tx.Gas < required:
		receipt.Status = chain.ReceiptStatusFailed
		receipt.RevertReason = "out of gas"
		receipt.GasUsed = tx.Gas
	default:
		result, err := c.contract.Execute(tx.From, tx.Call, tx.Value)
		receipt.GasUsed = required
		if err != nil {
			receipt.Status = chain.ReceiptStatusFailed
			receipt.RevertReason = err.Error()
			break
		}
		receipt.Status = chain.ReceiptStatusSuccessful
		receipt.ProductID = result.ProductID
		receipt.Logs = result.Logs

		c.balances[from] = c.balances[from].Sub(tx.Value)
		for _, t := range result.Transfers {
			c.balances[key(t.To)] = c.balances[key(t.To)].Add(t.Amount)
		}
	}

	fee := decimal.NewFromInt(int64(receipt.GasUsed)).Mul(tx.GasPrice)
	c.balances[from] = c.balances[from].Sub(fee)
	return receipt
}

func (c *Chain) TransactionReceipt(_ context.Context, hash string) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[hash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return r, nil
}

func (c *Chain) Call(_ context.Context, msg chain.CallMsg) (ledger.ReadResult, error) {
	out, err := c.contract.Read(msg.Call)
	if err != nil {
		return out, &chain.RevertError{Reason: err.Error()}
	}
	return out, nil
}

func (c *Chain) HeadBlock(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.blocks)), nil
}

// SubscribeReceipts streams receipts mined after the call until ctx is done.
func (c *Chain) SubscribeReceipts(ctx context.Context) (<-chan *chain.Receipt, error) {
	ch := make(chan *chain.Receipt, subscriberBuffer)

	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = subscriber{ctx: ctx, ch: ch}
	c.subsMu.Unlock()

	go func() {
		<-ctx.Done()
		c.subsMu.Lock()
		delete(c.subs, id)
		close(ch)
		c.subsMu.Unlock()
	}()

	return ch, nil
}

func (c *Chain) broadcast(r *chain.Receipt) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, sub := range c.subs {
		select {
		case sub.ch <- r:
		case <-sub.ctx.Done():
		}
	}
}

// Run mines a block every BlockInterval until ctx is done. It returns at once when blocks
// are mined on send.
func (c *Chain) Run(ctx context.Context) {
	if c.opts.BlockInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.opts.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Mine()
		}
	}
}
