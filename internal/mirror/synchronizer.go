// Package mirror copies confirmed ledger events into the derived relational store.
//
// Writes are best effort: they only happen after the ledger confirmed the operation, they
// are never retried, and a failure never touches the ledger. While the store is unreachable
// writes are skipped, not queued.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/events"
	"github.com/safar/agri-supply-tracker/internal/metrics"
	"github.com/safar/agri-supply-tracker/internal/models"
	"go.uber.org/zap"
)

const (
	probeTimeout = 3 * time.Second
	recheckAfter = 5 * time.Second
)

// Writer is the derived store as seen by the synchronizer.
type Writer interface {
	Ping(ctx context.Context) error
	RecordProduct(ctx context.Context, p models.MirrorProduct) (*models.MirrorProduct, error)
	UpdateProduct(ctx context.Context, ledgerID int64, patch models.ProductPatch) (*models.MirrorProduct, error)
	RecordStatusChange(ctx context.Context, rec models.StatusChangeRecord) (*models.StatusChangeRecord, error)
	RecordSale(ctx context.Context, sale models.SaleRecord) (*models.SaleRecord, error)
	CompleteSale(ctx context.Context, ledgerID int64, buyer, txHash string) (*models.SaleRecord, error)
	RecordEvent(ctx context.Context, ev models.BlockchainEvent) (*models.BlockchainEvent, error)
}

// ErrSkipped marks a write that was not attempted because the store was unreachable.
var ErrSkipped = errors.New("mirror unreachable, write skipped")

// DivergenceError reports a confirmed ledger operation whose mirror write failed.
type DivergenceError struct {
	Event     events.Kind
	ProductID int64
	TxHash    string
	Op        string
	Err       error
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("mirror diverged from ledger: %s product %d tx %s: %s: %v",
		e.Event, e.ProductID, e.TxHash, e.Op, e.Err)
}

func (e *DivergenceError) Unwrap() error {
	return e.Err
}

type Synchronizer struct {
	writer    Writer
	logger    *zap.Logger
	reachable atomic.Bool

	mu        sync.Mutex
	lastProbe time.Time

	setupMu sync.Mutex
	setup   func(ctx context.Context) error
}

func NewSynchronizer(writer Writer, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{writer: writer, logger: logger}
}

// Attach subscribes the synchronizer to every event on bus.
func (s *Synchronizer) Attach(bus *events.Bus) func() {
	return bus.Subscribe("mirror", s.Handle)
}

func (s *Synchronizer) Reachable() bool {
	return s.reachable.Load()
}

// Probe pings the store and records the result.
func (s *Synchronizer) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := s.writer.Ping(ctx)
	if err == nil {
		err = s.prepare(ctx)
	}
	up := err == nil

	s.mu.Lock()
	s.lastProbe = time.Now()
	s.mu.Unlock()

	if was := s.reachable.Swap(up); was != up {
		if up {
			s.logger.Info("mirror reachable")
		} else {
			s.logger.Warn("mirror unreachable", zap.Error(err))
		}
	}
	if up {
		metrics.MirrorReachable.Set(1)
	} else {
		metrics.MirrorReachable.Set(0)
	}
	return err
}

// PrepareWith registers fn to run after the next successful ping, such as applying the schema.
// The store counts as unreachable until fn has succeeded once.
func (s *Synchronizer) PrepareWith(fn func(ctx context.Context) error) {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	s.setup = fn
}

func (s *Synchronizer) prepare(ctx context.Context) error {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	if s.setup == nil {
		return nil
	}
	if err := s.setup(ctx); err != nil {
		return fmt.Errorf("prepare mirror: %w", err)
	}
	s.setup = nil
	s.logger.Info("mirror prepared")
	return nil
}

// RunProbes probes every interval until ctx is done.
func (s *Synchronizer) RunProbes(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Probe(ctx)
		}
	}
}

func (s *Synchronizer) probeIfStale(ctx context.Context) {
	s.mu.Lock()
	stale := time.Since(s.lastProbe) > recheckAfter
	s.mu.Unlock()
	if stale {
		_ = s.Probe(ctx)
	}
}

// Handle writes the rows for one event. It returns an ErrSkipped-wrapping error when the store
// is down and a *DivergenceError when a write failed.
func (s *Synchronizer) Handle(ctx context.Context, ev events.Event) error {
	if !s.Reachable() {
		s.probeIfStale(ctx)
	}
	if !s.Reachable() {
		metrics.MirrorWrites.WithLabelValues(string(ev.Kind()), "skipped").Inc()
		s.logger.Info("mirror write skipped",
			zap.String("event", string(ev.Kind())),
			zap.Int64("product_id", ev.Product()),
			zap.String("tx_hash", ev.Metadata().TxHash),
		)
		return fmt.Errorf("%s product %d: %w", ev.Kind(), ev.Product(), ErrSkipped)
	}

	op, err := s.write(ctx, ev)
	if err != nil {
		metrics.MirrorWrites.WithLabelValues(string(ev.Kind()), "diverged").Inc()
		div := &DivergenceError{
			Event:     ev.Kind(),
			ProductID: ev.Product(),
			TxHash:    ev.Metadata().TxHash,
			Op:        op,
			Err:       err,
		}
		s.logger.Error("mirror write failed after ledger confirmation",
			zap.String("event", string(ev.Kind())),
			zap.Int64("product_id", ev.Product()),
			zap.String("tx_hash", ev.Metadata().TxHash),
			zap.Int64("block_number", ev.Metadata().BlockNumber),
			zap.String("op", op),
			zap.Error(err),
		)
		_ = s.Probe(ctx)
		return div
	}

	metrics.MirrorWrites.WithLabelValues(string(ev.Kind()), "ok").Inc()
	return nil
}

func (s *Synchronizer) write(ctx context.Context, ev events.Event) (string, error) {
	switch e := ev.(type) {
	case events.Harvested:
		return s.writeHarvested(ctx, e)
	case events.StatusUpdated:
		return s.writeStatusUpdated(ctx, e)
	case events.ListedForSale:
		return s.writeListed(ctx, e)
	case events.Purchased:
		return s.writePurchased(ctx, e)
	default:
		return "dispatch", fmt.Errorf("unsupported event %T", ev)
	}
}

func (s *Synchronizer) writeHarvested(ctx context.Context, e events.Harvested) (string, error) {
	_, err := s.writer.RecordProduct(ctx, models.MirrorProduct{
		BlockchainProductID:    e.ProductID,
		ProductName:            e.ProductName,
		FarmerName:             e.FarmerName,
		FarmLocation:           e.FarmLocation,
		HarvestDate:            e.HarvestDate,
		BlockchainOwnerAddress: string(e.Owner),
		CurrentStatus:          models.StatusHarvested,
	})
	if err != nil {
		return "recordProduct", err
	}
	return s.recordEvent(ctx, e, models.EventTypeHarvested)
}

func (s *Synchronizer) recordStatusChange(ctx context.Context, id int64, old, next models.Status, by models.Address, txHash string) error {
	_, err := s.writer.RecordStatusChange(ctx, models.StatusChangeRecord{
		ProductID:           id,
		BlockchainProductID: id,
		OldStatus:           old,
		NewStatus:           next,
		ChangedBy:           string(by),
		TransactionHash:     txHash,
	})
	return err
}

func (s *Synchronizer) writeStatusUpdated(ctx context.Context, e events.StatusUpdated) (string, error) {
	if err := s.recordStatusChange(ctx, e.ProductID, e.OldStatus, e.NewStatus, e.UpdatedBy, e.TxHash); err != nil {
		return "recordStatusChange", err
	}

	status := e.NewStatus
	if _, err := s.writer.UpdateProduct(ctx, e.ProductID, models.ProductPatch{CurrentStatus: &status}); err != nil {
		return "updateProduct", err
	}
	return s.recordEvent(ctx, e, models.EventTypeStatusUpdated)
}

func (s *Synchronizer) writeListed(ctx context.Context, e events.ListedForSale) (string, error) {
	_, err := s.writer.RecordSale(ctx, models.SaleRecord{
		ProductID:           e.ProductID,
		BlockchainProductID: e.ProductID,
		SellerAddress:       string(e.Seller),
		SalePriceWei:        e.Price,
		SaleStatus:          models.SaleStatusListed,
		TransactionHash:     e.TxHash,
	})
	if err != nil {
		return "recordSale", err
	}
	if err := s.recordStatusChange(ctx, e.ProductID, e.OldStatus, models.StatusForSale, e.Seller, e.TxHash); err != nil {
		return "recordStatusChange", err
	}

	status := models.StatusForSale
	forSale := true
	price := e.Price
	_, err = s.writer.UpdateProduct(ctx, e.ProductID, models.ProductPatch{
		CurrentStatus: &status,
		PriceWei:      &price,
		IsForSale:     &forSale,
	})
	if err != nil {
		return "updateProduct", err
	}
	return s.recordEvent(ctx, e, models.EventTypeForSale)
}

func (s *Synchronizer) writePurchased(ctx context.Context, e events.Purchased) (string, error) {
	buyer := string(e.Buyer)

	_, err := s.writer.CompleteSale(ctx, e.ProductID, buyer, e.TxHash)
	if errors.Is(err, database.ErrSaleNotFound) {
		// The listing never reached the mirror; record the sale as already completed.
		_, err = s.writer.RecordSale(ctx, models.SaleRecord{
			ProductID:           e.ProductID,
			BlockchainProductID: e.ProductID,
			SellerAddress:       string(e.Seller),
			BuyerAddress:        &buyer,
			SalePriceWei:        e.Price,
			SaleStatus:          models.SaleStatusSold,
			TransactionHash:     e.TxHash,
		})
	}
	if err != nil {
		return "completeSale", err
	}
	if err := s.recordStatusChange(ctx, e.ProductID, models.StatusForSale, models.StatusSold, e.Buyer, e.TxHash); err != nil {
		return "recordStatusChange", err
	}

	status := models.StatusSold
	forSale := false
	_, err = s.writer.UpdateProduct(ctx, e.ProductID, models.ProductPatch{
		BlockchainOwnerAddress: &buyer,
		CurrentStatus:          &status,
		IsForSale:              &forSale,
	})
	if err != nil {
		return "updateProduct", err
	}
	return s.recordEvent(ctx, e, models.EventTypePurchased)
}

func (s *Synchronizer) recordEvent(ctx context.Context, ev events.Event, eventType string) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "recordEvent", fmt.Errorf("encode event: %w", err)
	}

	meta := ev.Metadata()
	_, err = s.writer.RecordEvent(ctx, models.BlockchainEvent{
		EventType:           eventType,
		ProductID:           ev.Product(),
		BlockchainProductID: ev.Product(),
		EventData:           data,
		TransactionHash:     meta.TxHash,
		BlockNumber:         meta.BlockNumber,
	})
	if err != nil {
		return "recordEvent", err
	}
	return "", nil
}
