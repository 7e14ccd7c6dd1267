// Package chain adapts a ledger node and an external signer into typed contract calls.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
)

const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// ErrReceiptNotFound is returned by a Backend while a transaction is still pending.
var ErrReceiptNotFound = errors.New("receipt not found")

// CallMsg describes a call for estimation or a read.
type CallMsg struct {
	From  models.Address
	Call  ledger.Call
	Value decimal.Decimal
}

// Transaction is an unsigned contract transaction.
type Transaction struct {
	From     models.Address  `json:"from"`
	Call     ledger.Call     `json:"call"`
	Value    decimal.Decimal `json:"value"`
	Gas      uint64          `json:"gas"`
	GasPrice decimal.Decimal `json:"gas_price"`
}

type SignedTx struct {
	Transaction
	Signature string `json:"signature"`
}

// Receipt is the terminal outcome of a mined transaction.
type Receipt struct {
	TxHash       string
	From         models.Address
	Method       string
	Status       uint64
	RevertReason string
	GasUsed      uint64
	BlockNumber  int64
	ProductID    int64
	Logs         []ledger.Log
	Timestamp    time.Time
}

func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccessful
}

// RevertError is returned by a Backend when a call or estimation would revert.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return "execution reverted: " + e.Reason
}

// Backend is the ledger node the client talks to.
type Backend interface {
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *SignedTx) (string, error)
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
	Call(ctx context.Context, msg CallMsg) (ledger.ReadResult, error)
	HeadBlock(ctx context.Context) (int64, error)
	// SubscribeReceipts streams every confirmed receipt, including ones nobody waited for.
	// The channel is closed when ctx is done.
	SubscribeReceipts(ctx context.Context) (<-chan *Receipt, error)
}

// Signer holds the keys. It may refuse to sign.
type Signer interface {
	Accounts(ctx context.Context) ([]models.Address, error)
	SignTx(ctx context.Context, tx *Transaction) (*SignedTx, error)
}

// AccountWatcher pushes the newly selected account whenever the host switches accounts.
type AccountWatcher interface {
	SubscribeAccountChanged(fn func(models.Address)) (unsubscribe func())
}
