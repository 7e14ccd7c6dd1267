package devchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/models"
)

var ErrUnknownAccount = errors.New("unknown account")

// DevAccounts derives n deterministic development addresses.
func DevAccounts(n int) []models.Address {
	accounts := make([]models.Address, n)
	for i := range accounts {
		sum := sha256.Sum256([]byte(fmt.Sprintf("agri-supply-tracker/dev-account/%d", i)))
		accounts[i] = models.Address("0x" + hex.EncodeToString(sum[:])[:40])
	}
	return accounts
}

// Sign produces the signature the development chain accepts for tx.
func Sign(tx chain.Transaction) string {
	data, err := json.Marshal(tx)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "0x" + hex.EncodeToString(sum[:])
}

// Wallet is a development signer holding unlocked accounts, one of them selected.
type Wallet struct {
	mu       sync.Mutex
	accounts []models.Address
	current  int
	watchers map[uint64]func(models.Address)
	nextID   uint64
	reject   atomic.Bool
}

func NewWallet(accounts []models.Address) *Wallet {
	return &Wallet{
		accounts: append([]models.Address(nil), accounts...),
		watchers: make(map[uint64]func(models.Address)),
	}
}

// Accounts lists the unlocked accounts, selected account first.
func (w *Wallet) Accounts(context.Context) ([]models.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.accounts) == 0 {
		return nil, nil
	}
	out := make([]models.Address, 0, len(w.accounts))
	out = append(out, w.accounts[w.current:]...)
	out = append(out, w.accounts[:w.current]...)
	return out, nil
}

func (w *Wallet) holds(addr models.Address) (int, bool) {
	for i, a := range w.accounts {
		if a.Equal(addr) {
			return i, true
		}
	}
	return 0, false
}

func (w *Wallet) SignTx(_ context.Context, tx *chain.Transaction) (*chain.SignedTx, error) {
	if w.reject.Load() {
		return nil, chain.ErrUserRejected
	}

	w.mu.Lock()
	_, ok := w.holds(tx.From)
	w.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sign from %s: %w", tx.From.Short(), ErrUnknownAccount)
	}

	return &chain.SignedTx{Transaction: *tx, Signature: Sign(*tx)}, nil
}

// RejectAll makes the wallet decline every signature request while on.
func (w *Wallet) RejectAll(on bool) {
	w.reject.Store(on)
}

// SwitchAccount selects addr and notifies subscribers.
func (w *Wallet) SwitchAccount(addr models.Address) error {
	w.mu.Lock()
	i, ok := w.holds(addr)
	if !ok {
		w.mu.Unlock()
		return ErrUnknownAccount
	}
	w.current = i
	watchers := make([]func(models.Address), 0, len(w.watchers))
	for _, fn := range w.watchers {
		watchers = append(watchers, fn)
	}
	w.mu.Unlock()

	for _, fn := range watchers {
		fn(addr)
	}
	return nil
}

func (w *Wallet) SubscribeAccountChanged(fn func(models.Address)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.watchers[id] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.watchers, id)
			w.mu.Unlock()
		})
	}
}
