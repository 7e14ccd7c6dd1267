package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safar/agri-supply-tracker/internal/apperr"
	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/devchain"
	"github.com/safar/agri-supply-tracker/internal/events"
	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/mirror"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/safar/agri-supply-tracker/internal/reconcile"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memWriter is an in-memory mirror store.
type memWriter struct {
	mu       sync.Mutex
	down     bool
	products map[int64]models.MirrorProduct
	history  []models.StatusChangeRecord
	sales    []models.SaleRecord
	events   []models.BlockchainEvent
}

func newMemWriter() *memWriter {
	return &memWriter{products: map[int64]models.MirrorProduct{}}
}

var errRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

func (m *memWriter) setDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

func (m *memWriter) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errRefused
	}
	return nil
}

func (m *memWriter) RecordProduct(_ context.Context, p models.MirrorProduct) (*models.MirrorProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = p.BlockchainProductID
	m.products[p.BlockchainProductID] = p
	return &p, nil
}

func (m *memWriter) UpdateProduct(_ context.Context, id int64, patch models.ProductPatch) (*models.MirrorProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, database.ErrProductNotFound
	}
	if patch.CurrentStatus != nil {
		p.CurrentStatus = *patch.CurrentStatus
	}
	if patch.BlockchainOwnerAddress != nil {
		p.BlockchainOwnerAddress = *patch.BlockchainOwnerAddress
	}
	if patch.PriceWei != nil {
		p.PriceWei = *patch.PriceWei
	}
	if patch.IsForSale != nil {
		p.IsForSale = *patch.IsForSale
	}
	m.products[id] = p
	return &p, nil
}

func (m *memWriter) RecordStatusChange(_ context.Context, rec models.StatusChangeRecord) (*models.StatusChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	return &rec, nil
}

func (m *memWriter) RecordSale(_ context.Context, sale models.SaleRecord) (*models.SaleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales = append(m.sales, sale)
	return &sale, nil
}

func (m *memWriter) CompleteSale(_ context.Context, id int64, buyer, txHash string) (*models.SaleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sales) - 1; i >= 0; i-- {
		if m.sales[i].BlockchainProductID == id && m.sales[i].SaleStatus == models.SaleStatusListed {
			m.sales[i].SaleStatus = models.SaleStatusSold
			m.sales[i].BuyerAddress = &buyer
			m.sales[i].TransactionHash = txHash
			return &m.sales[i], nil
		}
	}
	return nil, database.ErrSaleNotFound
}

func (m *memWriter) RecordEvent(_ context.Context, ev models.BlockchainEvent) (*models.BlockchainEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return &ev, nil
}

func (m *memWriter) ListProducts(context.Context) ([]models.MirrorProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errRefused
	}
	out := make([]models.MirrorProduct, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *memWriter) productCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products)
}

func (m *memWriter) statusHistory() []models.StatusChangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StatusChangeRecord(nil), m.history...)
}

type fixture struct {
	chain      *devchain.Chain
	client     *chain.Client
	writer     *memWriter
	sync       *mirror.Synchronizer
	dispatcher *Dispatcher
	svc        *Service
	accounts   []models.Address
}

func newFixture(t *testing.T, opts devchain.Options) *fixture {
	t.Helper()
	logger := zap.NewNop()

	accounts := devchain.DevAccounts(3)
	dev := devchain.New(ledger.New(accounts[0]), opts, logger)
	for _, a := range accounts {
		dev.Fund(a, decimal.RequireFromString("100000000000000000000"))
	}

	clientOpts := chain.DefaultOptions()
	clientOpts.PollInterval = 5 * time.Millisecond
	clientOpts.ReceiptTimeout = 100 * time.Millisecond
	client, err := chain.NewClient(context.Background(), dev, devchain.NewWallet(accounts), clientOpts, logger)
	require.NoError(t, err)

	writer := newMemWriter()
	bus := events.NewBus(logger)
	synchronizer := mirror.NewSynchronizer(writer, logger)
	t.Cleanup(synchronizer.Attach(bus))

	dispatcher := NewDispatcher(bus, client, logger)
	reader := reconcile.NewReader(client, writer, reconcile.DefaultOptions(), logger)

	return &fixture{
		chain:      dev,
		client:     client,
		writer:     writer,
		sync:       synchronizer,
		dispatcher: dispatcher,
		svc:        NewService(client, dispatcher, reader, synchronizer, logger),
		accounts:   accounts,
	}
}

func (f *fixture) harvest(t *testing.T) *Outcome {
	t.Helper()
	out, err := f.svc.Harvest(context.Background(), "", HarvestInput{
		ProductName:  "Tomatoes",
		FarmerName:   "J.Doe",
		FarmLocation: "CA",
		HarvestDate:  1700000000,
	})
	require.NoError(t, err)
	return out
}

func TestHarvestMirrorsProduct(t *testing.T) {
	f := newFixture(t, devchain.Options{})

	out := f.harvest(t)
	assert.Equal(t, int64(1), out.ProductID)
	assert.NotEmpty(t, out.TxHash)
	assert.Empty(t, out.Warnings)
	require.Len(t, out.Events, 1)

	p := f.writer.products[1]
	assert.Equal(t, "Tomatoes", p.ProductName)
	assert.Equal(t, "CA", p.FarmLocation)
	assert.Equal(t, int64(1700000000), p.HarvestDate)
	assert.Equal(t, models.StatusHarvested, p.CurrentStatus)
}

func TestStatusUpdateMirroredWhenReachable(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	f.harvest(t)

	out, err := f.svc.UpdateStatus(context.Background(), "", 1, int64(models.StatusProcessing))
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)

	history := f.writer.statusHistory()
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusHarvested, history[0].OldStatus)
	assert.Equal(t, models.StatusProcessing, history[0].NewStatus)
	assert.Equal(t, out.TxHash, history[0].TransactionHash)
	assert.Equal(t, models.StatusProcessing, f.writer.products[1].CurrentStatus)
}

func TestStatusUpdateSucceedsWhenMirrorDown(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	f.harvest(t)

	f.writer.setDown(true)
	require.Error(t, f.sync.Probe(context.Background()))

	out, err := f.svc.UpdateStatus(context.Background(), "", 1, int64(models.StatusProcessing))
	require.NoError(t, err)
	assert.Empty(t, f.writer.statusHistory())
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "unreachable")

	p, err := f.client.ProductDetails(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, p.Status)
}

func TestUnauthorizedHarvestCreatesNothing(t *testing.T) {
	f := newFixture(t, devchain.Options{})

	_, err := f.svc.Harvest(context.Background(), string(f.accounts[2]), HarvestInput{
		ProductName:  "Nope",
		FarmerName:   "X",
		FarmLocation: "Y",
	})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	count, err := f.client.ProductCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, 0, f.writer.productCount())
}

func TestAuthorizedUserCanHarvest(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	ctx := context.Background()

	_, err := f.svc.AuthorizeUser(ctx, "", string(f.accounts[1]))
	require.NoError(t, err)

	out, err := f.svc.Harvest(ctx, string(f.accounts[1]), HarvestInput{
		ProductName:  "Corn",
		FarmerName:   "B",
		FarmLocation: "IA",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.ProductID)
	assert.True(t, models.Address(f.writer.products[1].BlockchainOwnerAddress).Equal(f.accounts[1]))
}

func TestSaleFlowMirrorsOwnership(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	ctx := context.Background()
	f.harvest(t)

	price := decimal.RequireFromString("50000000000000000")
	_, err := f.svc.PutForSale(ctx, "", 1, price)
	require.NoError(t, err)
	assert.True(t, f.writer.products[1].IsForSale)

	out, err := f.svc.Purchase(ctx, string(f.accounts[1]), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Warnings)

	p := f.writer.products[1]
	assert.Equal(t, models.StatusSold, p.CurrentStatus)
	assert.False(t, p.IsForSale)
	assert.True(t, models.Address(p.BlockchainOwnerAddress).Equal(f.accounts[1]))
	require.Len(t, f.writer.sales, 1)
	assert.Equal(t, models.SaleStatusSold, f.writer.sales[0].SaleStatus)

	history := f.writer.statusHistory()
	require.Len(t, history, 2)
	assert.Equal(t, models.StatusHarvested, history[0].OldStatus)
	assert.Equal(t, models.StatusForSale, history[0].NewStatus)
	assert.Equal(t, models.StatusForSale, history[1].OldStatus)
	assert.Equal(t, models.StatusSold, history[1].NewStatus)
	assert.True(t, models.Address(history[1].ChangedBy).Equal(f.accounts[1]))
}

func TestWrongPaymentIsTransactionFailure(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	ctx := context.Background()
	f.harvest(t)

	_, err := f.svc.PutForSale(ctx, "", 1, decimal.NewFromInt(1000))
	require.NoError(t, err)

	low := decimal.NewFromInt(999)
	_, err = f.svc.Purchase(ctx, string(f.accounts[1]), 1, &low)
	assert.Equal(t, apperr.KindTransactionFailure, apperr.KindOf(err))
	assert.Equal(t, ledger.ErrWrongPayment.Error(), apperr.Message(err))
}

func TestServiceValidation(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	ctx := context.Background()
	future := time.Now().Add(72 * time.Hour).Unix()

	tests := []struct {
		name string
		call func() error
	}{
		{"blank name", func() error {
			_, err := f.svc.Harvest(ctx, "", HarvestInput{ProductName: "  ", FarmerName: "a", FarmLocation: "b"})
			return err
		}},
		{"missing location", func() error {
			_, err := f.svc.Harvest(ctx, "", HarvestInput{ProductName: "a", FarmerName: "b"})
			return err
		}},
		{"future harvest date", func() error {
			_, err := f.svc.Harvest(ctx, "", HarvestInput{ProductName: "a", FarmerName: "b", FarmLocation: "c", HarvestDate: future})
			return err
		}},
		{"bad caller", func() error {
			_, err := f.svc.Harvest(ctx, "0x123", HarvestInput{ProductName: "a", FarmerName: "b", FarmLocation: "c"})
			return err
		}},
		{"status out of range", func() error {
			_, err := f.svc.UpdateStatus(ctx, "", 1, 5)
			return err
		}},
		{"zero product id", func() error {
			_, err := f.svc.UpdateStatus(ctx, "", 0, 1)
			return err
		}},
		{"zero price", func() error {
			_, err := f.svc.PutForSale(ctx, "", 1, decimal.Zero)
			return err
		}},
		{"fractional price", func() error {
			_, err := f.svc.PutForSale(ctx, "", 1, decimal.RequireFromString("1.5"))
			return err
		}},
		{"bad user address", func() error {
			_, err := f.svc.AuthorizeUser(ctx, "", "farmer")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(tt.call()))
		})
	}

	head, err := f.chain.HeadBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), head)
}

func TestHarvestDateMessages(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	ctx := context.Background()
	in := HarvestInput{ProductName: "a", FarmerName: "b", FarmLocation: "c"}

	in.HarvestDate = -1
	_, err := f.svc.Harvest(ctx, "", in)
	assert.Equal(t, "Harvest date must be a Unix timestamp in seconds", apperr.Message(err))

	in.HarvestDate = time.Now().Add(72 * time.Hour).Unix()
	_, err = f.svc.Harvest(ctx, "", in)
	assert.Equal(t, "Harvest date cannot be in the future", apperr.Message(err))
}

func TestHarvestDefaultsDateToNow(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	now := time.Unix(1750000000, 0)
	f.svc.now = func() time.Time { return now }

	_, err := f.svc.Harvest(context.Background(), "", HarvestInput{ProductName: "a", FarmerName: "b", FarmLocation: "c"})
	require.NoError(t, err)

	p, err := f.client.ProductDetails(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), p.HarvestDate)
}

func TestListProductsMergesSources(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	f.harvest(t)
	_, _ = f.writer.RecordProduct(context.Background(), models.MirrorProduct{BlockchainProductID: 7, ProductName: "Legacy"})

	listing, err := f.svc.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, listing.Products, 2)
	assert.Equal(t, reconcile.SourceLedger, listing.Products[0].Source)
	assert.Equal(t, int64(7), listing.Products[1].ID)
	assert.Equal(t, reconcile.SourceMirror, listing.Products[1].Source)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	f.harvest(t)

	h, err := f.svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), h.HeadBlock)
	assert.True(t, h.MirrorReachable)

	f.writer.setDown(true)
	h, err = f.svc.Health(context.Background())
	require.NoError(t, err)
	assert.False(t, h.MirrorReachable)
	assert.Equal(t, "unreachable", h.MirrorError)
}

func TestDeliverPublishesOnce(t *testing.T) {
	f := newFixture(t, devchain.Options{})
	out := f.harvest(t)

	receipt, err := f.chain.TransactionReceipt(context.Background(), out.TxHash)
	require.NoError(t, err)

	report := f.dispatcher.Deliver(context.Background(), receipt)
	assert.Equal(t, out.TxHash, report.TxHash)
	assert.Len(t, f.writer.events, 1)
}

func TestLateConfirmationIsMirrored(t *testing.T) {
	f := newFixture(t, devchain.Options{BlockInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.dispatcher.Run(ctx, f.chain) }()

	// The receipt wait gives up long before the block is mined.
	_, err := f.svc.Harvest(context.Background(), "", HarvestInput{ProductName: "a", FarmerName: "b", FarmLocation: "c"})
	require.Equal(t, chain.KindTimeout, chain.KindOf(err))
	assert.Equal(t, 0, f.writer.productCount())

	f.chain.Mine()

	require.Eventually(t, func() bool { return f.writer.productCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
