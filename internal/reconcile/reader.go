// Package reconcile merges the ledger's products with the mirror's rows into one list.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/safar/agri-supply-tracker/internal/apperr"
	"github.com/safar/agri-supply-tracker/internal/models"
	"go.uber.org/zap"
)

type Source string

const (
	SourceLedger Source = "ledger"
	SourceMirror Source = "mirror"
)

// LedgerSource is the authoritative store. *chain.Client satisfies it.
type LedgerSource interface {
	ProductCount(ctx context.Context) (int64, error)
	ProductDetails(ctx context.Context, id int64) (models.Product, error)
}

// MirrorSource lists mirrored product rows. *store.Mirror and *mirrorclient.Client satisfy it.
type MirrorSource interface {
	ListProducts(ctx context.Context) ([]models.MirrorProduct, error)
}

type Entry struct {
	models.Product
	Source Source `json:"source"`
}

// Listing is a merged product list. A source that failed is reported as unavailable.
type Listing struct {
	Products        []Entry `json:"products"`
	LedgerAvailable bool    `json:"ledger_available"`
	MirrorAvailable bool    `json:"mirror_available"`
}

type Options struct {
	// MissLimit consecutive missing ids end a probe once at least one id was found.
	MissLimit int
	// MaxProbe bounds the ids tried when the ledger cannot report its count.
	MaxProbe int
}

func DefaultOptions() Options {
	return Options{MissLimit: 3, MaxProbe: 20}
}

type Reader struct {
	ledger LedgerSource
	mirror MirrorSource
	opts   Options
	logger *zap.Logger
}

// NewReader accepts a nil mirror for nodes that run without one.
func NewReader(ledger LedgerSource, mirror MirrorSource, opts Options, logger *zap.Logger) *Reader {
	if opts.MissLimit <= 0 {
		opts.MissLimit = DefaultOptions().MissLimit
	}
	if opts.MaxProbe <= 0 {
		opts.MaxProbe = DefaultOptions().MaxProbe
	}
	return &Reader{ledger: ledger, mirror: mirror, opts: opts, logger: logger}
}

var errNoMirror = errors.New("no mirror configured")

// ListProducts returns ledger products in id order followed by mirror-only products in mirror
// order. It fails only when neither source answers.
func (r *Reader) ListProducts(ctx context.Context) (*Listing, error) {
	var (
		wg                   sync.WaitGroup
		fromLedger           []models.Product
		fromMirror           []models.Product
		ledgerErr, mirrorErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		fromLedger, ledgerErr = r.ledgerProducts(ctx)
	}()
	go func() {
		defer wg.Done()
		fromMirror, mirrorErr = r.mirrorProducts(ctx)
	}()
	wg.Wait()

	if ledgerErr != nil && mirrorErr != nil {
		return nil, apperr.Unavailable("Product data is unavailable", errors.Join(ledgerErr, mirrorErr))
	}
	if ledgerErr != nil {
		r.logger.Warn("ledger unavailable, serving mirror products", zap.Error(ledgerErr))
	}
	if mirrorErr != nil && !errors.Is(mirrorErr, errNoMirror) {
		r.logger.Warn("mirror unavailable, serving ledger products", zap.Error(mirrorErr))
	}

	return &Listing{
		Products:        Merge(fromLedger, fromMirror),
		LedgerAvailable: ledgerErr == nil,
		MirrorAvailable: mirrorErr == nil,
	}, nil
}

// Merge puts ledger products first, in id order, then mirror products whose id the ledger did
// not return, in mirror order.
func Merge(ledger, mirror []models.Product) []Entry {
	out := make([]Entry, 0, len(ledger)+len(mirror))
	seen := make(map[int64]bool, len(ledger)+len(mirror))

	sorted := append([]models.Product(nil), ledger...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, p := range sorted {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, Entry{Product: p, Source: SourceLedger})
	}
	for _, p := range mirror {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, Entry{Product: p, Source: SourceMirror})
	}
	return out
}

func (r *Reader) ledgerProducts(ctx context.Context) ([]models.Product, error) {
	count, err := r.ledger.ProductCount(ctx)
	if err != nil {
		r.logger.Warn("product count unavailable, probing ids", zap.Error(err))
		return r.probe(ctx, err)
	}

	products := make([]models.Product, 0, count)
	var lastErr error
	for id := int64(1); id <= count; id++ {
		p, err := r.ledger.ProductDetails(ctx, id)
		if err != nil {
			lastErr = err
			r.logger.Warn("skipping unreadable ledger product", zap.Int64("product_id", id), zap.Error(err))
			continue
		}
		products = append(products, p)
	}
	if count > 0 && len(products) == 0 {
		return nil, lastErr
	}
	return products, nil
}

// probe walks ids from 1 when the count is unknown.
func (r *Reader) probe(ctx context.Context, countErr error) ([]models.Product, error) {
	var products []models.Product
	misses := 0

	for id := int64(1); id <= int64(r.opts.MaxProbe); id++ {
		if ctx.Err() != nil {
			break
		}
		p, err := r.ledger.ProductDetails(ctx, id)
		if err != nil {
			if len(products) > 0 {
				misses++
				if misses >= r.opts.MissLimit {
					break
				}
			}
			continue
		}
		misses = 0
		products = append(products, p)
	}

	if len(products) == 0 {
		return nil, countErr
	}
	return products, nil
}

func (r *Reader) mirrorProducts(ctx context.Context) ([]models.Product, error) {
	if r.mirror == nil {
		return nil, errNoMirror
	}

	rows, err := r.mirror.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	products := make([]models.Product, 0, len(rows))
	for _, row := range rows {
		if row.BlockchainProductID <= 0 {
			continue
		}
		products = append(products, FromMirror(row))
	}
	return products, nil
}

// FromMirror converts a mirror row into the ledger's product shape.
func FromMirror(row models.MirrorProduct) models.Product {
	return models.Product{
		ID:           row.BlockchainProductID,
		ProductName:  row.ProductName,
		FarmerName:   row.FarmerName,
		FarmLocation: row.FarmLocation,
		HarvestDate:  row.HarvestDate,
		Status:       row.CurrentStatus,
		Owner:        models.Address(row.BlockchainOwnerAddress),
		Price:        row.PriceWei,
		IsForSale:    row.IsForSale,
	}
}
