package devchain

import (
	"context"
	"testing"
	"time"

	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var gasPrice = decimal.NewFromInt(1_000_000_000)

type fixture struct {
	chain    *Chain
	wallet   *Wallet
	client   *chain.Client
	accounts []models.Address
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	accounts := DevAccounts(3)
	contract := ledger.New(accounts[0])
	c := New(contract, opts, zap.NewNop())
	for _, a := range accounts {
		c.Fund(a, decimal.RequireFromString("100000000000000000000"))
	}
	wallet := NewWallet(accounts)

	clientOpts := chain.DefaultOptions()
	clientOpts.PollInterval = 5 * time.Millisecond
	clientOpts.ReceiptTimeout = 100 * time.Millisecond
	clientOpts.GasPrice = gasPrice

	client, err := chain.NewClient(context.Background(), c, wallet, clientOpts, zap.NewNop())
	require.NoError(t, err)

	return &fixture{chain: c, wallet: wallet, client: client, accounts: accounts}
}

func TestDevAccountsDeterministic(t *testing.T) {
	a := DevAccounts(2)
	b := DevAccounts(2)
	assert.Equal(t, a, b)
	assert.True(t, a[0].Valid())
	assert.NotEqual(t, a[0], a[1])
}

func TestHarvestMinesReceiptWithLogs(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	receipt, err := f.client.Contract().Harvest(ctx, "Tomatoes", "J.Doe", "CA", 1700000000)
	require.NoError(t, err)

	assert.True(t, receipt.Succeeded())
	assert.Equal(t, int64(1), receipt.ProductID)
	assert.Equal(t, int64(1), receipt.BlockNumber)
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, ledger.EventProductHarvested, receipt.Logs[0].EventName())

	head, err := f.chain.HeadBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), head)

	count, err := f.client.ProductCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGasIsCharged(t *testing.T) {
	f := newFixture(t, Options{})
	before := f.chain.BalanceOf(f.accounts[0])

	receipt, err := f.client.Contract().Harvest(context.Background(), "Tomatoes", "J.Doe", "CA", 1)
	require.NoError(t, err)

	want := before.Sub(decimal.NewFromInt(int64(receipt.GasUsed)).Mul(gasPrice))
	assert.True(t, want.Equal(f.chain.BalanceOf(f.accounts[0])))
}

func TestPurchaseForwardsPayment(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	owner, buyer := f.accounts[0], f.accounts[1]
	price := decimal.RequireFromString("50000000000000000")

	_, err := f.client.As(owner).Harvest(ctx, "Lettuce", "A", "AZ", 1)
	require.NoError(t, err)
	_, err = f.client.As(owner).PutForSale(ctx, 1, price)
	require.NoError(t, err)

	sellerBefore := f.chain.BalanceOf(owner)
	buyerBefore := f.chain.BalanceOf(buyer)

	receipt, err := f.client.As(buyer).Purchase(ctx, 1, price)
	require.NoError(t, err)

	fee := decimal.NewFromInt(int64(receipt.GasUsed)).Mul(gasPrice)
	assert.True(t, sellerBefore.Add(price).Equal(f.chain.BalanceOf(owner)))
	assert.True(t, buyerBefore.Sub(price).Sub(fee).Equal(f.chain.BalanceOf(buyer)))

	p, err := f.client.ProductDetails(ctx, 1)
	require.NoError(t, err)
	assert.True(t, p.Owner.Equal(buyer))
	assert.Equal(t, models.StatusSold, p.Status)
}

func TestEstimationRevertsUnauthorizedHarvest(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.client.As(f.accounts[2]).Harvest(context.Background(), "Nope", "X", "Y", 1)
	assert.Equal(t, chain.KindRevertedByContract, chain.KindOf(err))
	assert.ErrorIs(t, err, ledger.ErrNotAuthorized)

	head, _ := f.chain.HeadBlock(context.Background())
	assert.Equal(t, int64(0), head)
}

func TestInsufficientFunds(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	poor := f.accounts[2]

	_, err := f.client.As(f.accounts[0]).Harvest(ctx, "Gold Beans", "A", "B", 1)
	require.NoError(t, err)
	price := decimal.RequireFromString("1000000000000000000000")
	_, err = f.client.As(f.accounts[0]).PutForSale(ctx, 1, price)
	require.NoError(t, err)

	_, err = f.client.As(poor).Purchase(ctx, 1, price)
	assert.Equal(t, chain.KindInsufficientFunds, chain.KindOf(err))
}

func TestOutOfGasReceipt(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	owner := f.accounts[0]

	tx := chain.Transaction{
		From:     owner,
		Call:     ledger.HarvestCall("Tomatoes", "J.Doe", "CA", 1),
		Gas:      30000,
		GasPrice: gasPrice,
	}
	hash, err := f.chain.SendTransaction(ctx, &chain.SignedTx{Transaction: tx, Signature: Sign(tx)})
	require.NoError(t, err)

	receipt, err := f.chain.TransactionReceipt(ctx, hash)
	require.NoError(t, err)
	assert.False(t, receipt.Succeeded())
	assert.Equal(t, "out of gas", receipt.RevertReason)
	assert.Equal(t, int64(0), f.chain.Contract().ProductCount())
}

func TestRejectsBadSignature(t *testing.T) {
	f := newFixture(t, Options{})
	tx := chain.Transaction{From: f.accounts[0], Call: ledger.ProductCountCall(), Gas: 50000, GasPrice: gasPrice}

	_, err := f.chain.SendTransaction(context.Background(), &chain.SignedTx{Transaction: tx, Signature: "0xforged"})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWalletRejection(t *testing.T) {
	f := newFixture(t, Options{})
	f.wallet.RejectAll(true)

	_, err := f.client.Contract().Harvest(context.Background(), "Tomatoes", "J.Doe", "CA", 1)
	assert.Equal(t, chain.KindUserRejected, chain.KindOf(err))
}

func TestLateConfirmationReachesSubscribers(t *testing.T) {
	f := newFixture(t, Options{BlockInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := f.chain.SubscribeReceipts(ctx)
	require.NoError(t, err)

	_, err = f.client.Contract().Harvest(context.Background(), "Tomatoes", "J.Doe", "CA", 1)
	require.Equal(t, chain.KindTimeout, chain.KindOf(err))

	f.chain.Mine()

	select {
	case r := <-stream:
		assert.True(t, r.Succeeded())
		assert.Equal(t, int64(1), r.ProductID)
	case <-time.After(time.Second):
		t.Fatal("late receipt was not streamed")
	}
}

func TestSubscriptionClosesOnCancel(t *testing.T) {
	f := newFixture(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := f.chain.SubscribeReceipts(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}

func TestWalletSwitchNotifies(t *testing.T) {
	f := newFixture(t, Options{})
	stop := f.client.Watch(f.wallet)
	defer stop()

	require.NoError(t, f.wallet.SwitchAccount(f.accounts[1]))
	assert.Equal(t, f.accounts[1], f.client.Account())

	accounts, err := f.wallet.Accounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.accounts[1], accounts[0])

	assert.ErrorIs(t, f.wallet.SwitchAccount("0x0000000000000000000000000000000000000bad"), ErrUnknownAccount)
}
