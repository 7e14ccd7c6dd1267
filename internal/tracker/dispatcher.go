package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/events"
	"github.com/safar/agri-supply-tracker/internal/models"
	"go.uber.org/zap"
)

const deliveryRetention = 10 * time.Minute

// DetailsReader fills in product fields a harvest log does not carry.
type DetailsReader interface {
	ProductDetails(ctx context.Context, id int64) (models.Product, error)
}

// Report is what publishing one receipt's events produced.
type Report struct {
	TxHash     string
	Events     []events.Event
	Deliveries []events.Delivery
}

// Failures flattens the subscriber failures of every delivery.
func (r Report) Failures() []events.Failure {
	var out []events.Failure
	for _, d := range r.Deliveries {
		out = append(out, d.Failures...)
	}
	return out
}

type delivery struct {
	done     chan struct{}
	report   Report
	finished time.Time
}

// Dispatcher publishes each confirmed receipt to the bus exactly once, whether the submitting
// caller or the receipt stream sees it first.
type Dispatcher struct {
	bus     *events.Bus
	details DetailsReader
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]*delivery
}

func NewDispatcher(bus *events.Bus, details DetailsReader, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		bus:     bus,
		details: details,
		logger:  logger,
		seen:    make(map[string]*delivery),
	}
}

// Deliver publishes r's events unless another goroutine already did, in which case it waits
// for that delivery and returns its report.
func (d *Dispatcher) Deliver(ctx context.Context, r *chain.Receipt) Report {
	if r == nil {
		return Report{}
	}

	d.mu.Lock()
	d.prune(time.Now())
	if existing, ok := d.seen[r.TxHash]; ok {
		d.mu.Unlock()
		select {
		case <-existing.done:
			return existing.report
		case <-ctx.Done():
			return Report{TxHash: r.TxHash}
		}
	}
	entry := &delivery{done: make(chan struct{})}
	d.seen[r.TxHash] = entry
	d.mu.Unlock()

	report := d.publish(ctx, r)

	d.mu.Lock()
	entry.report = report
	entry.finished = time.Now()
	d.mu.Unlock()
	close(entry.done)

	return report
}

func (d *Dispatcher) publish(ctx context.Context, r *chain.Receipt) Report {
	report := Report{TxHash: r.TxHash, Events: events.FromReceipt(r)}

	for i, ev := range report.Events {
		if h, ok := ev.(events.Harvested); ok {
			report.Events[i] = d.enrich(ctx, h)
		}
	}
	for _, ev := range report.Events {
		report.Deliveries = append(report.Deliveries, d.bus.Publish(ctx, ev))
	}

	if len(report.Events) > 0 {
		d.logger.Debug("receipt delivered",
			zap.String("tx_hash", r.TxHash),
			zap.Int64("block_number", r.BlockNumber),
			zap.Int("events", len(report.Events)),
		)
	}
	return report
}

func (d *Dispatcher) enrich(ctx context.Context, h events.Harvested) events.Harvested {
	if d.details == nil {
		return h
	}
	p, err := d.details.ProductDetails(ctx, h.ProductID)
	if err != nil {
		d.logger.Warn("could not read harvested product details",
			zap.Int64("product_id", h.ProductID),
			zap.String("tx_hash", h.TxHash),
			zap.Error(err),
		)
		return h
	}
	h.FarmLocation = p.FarmLocation
	h.HarvestDate = p.HarvestDate
	return h
}

// prune drops finished deliveries older than the retention window. Callers hold d.mu.
func (d *Dispatcher) prune(now time.Time) {
	for hash, entry := range d.seen {
		if !entry.finished.IsZero() && now.Sub(entry.finished) > deliveryRetention {
			delete(d.seen, hash)
		}
	}
}

// Run feeds every receipt the backend streams into Deliver until ctx is done or the stream
// closes. Confirmations that arrive after their caller gave up are published here.
func (d *Dispatcher) Run(ctx context.Context, backend chain.Backend) error {
	stream, err := backend.SubscribeReceipts(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-stream:
			if !ok {
				return nil
			}
			d.Deliver(ctx, r)
		}
	}
}
