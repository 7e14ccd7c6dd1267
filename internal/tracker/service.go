// Package tracker turns product intents into ledger transactions and reports what happened to
// them, including the best-effort mirror copy.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/safar/agri-supply-tracker/internal/apperr"
	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/events"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/safar/agri-supply-tracker/internal/reconcile"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// harvestDateSlack tolerates clock skew between the caller and this node.
const harvestDateSlack = 24 * time.Hour

// Ledger is the slice of *chain.Client the service drives.
type Ledger interface {
	As(from models.Address) *chain.Contract
	Account() models.Address
	ProductDetails(ctx context.Context, id int64) (models.Product, error)
	HeadBlock(ctx context.Context) (int64, error)
}

// MirrorHealth reports on the derived store. *mirror.Synchronizer satisfies it.
type MirrorHealth interface {
	Probe(ctx context.Context) error
	Reachable() bool
}

type HarvestInput struct {
	ProductName  string `json:"product_name"`
	FarmerName   string `json:"farmer_name"`
	FarmLocation string `json:"farm_location"`
	HarvestDate  int64  `json:"harvest_date"`
}

// Outcome describes a confirmed ledger operation. Warnings list what went wrong after
// confirmation, such as a mirror write that failed or was skipped.
type Outcome struct {
	TxHash      string         `json:"tx_hash"`
	ProductID   int64          `json:"product_id"`
	BlockNumber int64          `json:"block_number"`
	Events      []events.Event `json:"-"`
	Warnings    []string       `json:"-"`
}

type Health struct {
	HeadBlock       int64  `json:"head_block"`
	Account         string `json:"account"`
	MirrorReachable bool   `json:"mirror_reachable"`
	MirrorError     string `json:"mirror_error,omitempty"`
}

type Service struct {
	ledger     Ledger
	dispatcher *Dispatcher
	reader     *reconcile.Reader
	mirror     MirrorHealth
	logger     *zap.Logger
	now        func() time.Time
}

// NewService accepts a nil mirror for nodes running without one.
func NewService(ledger Ledger, dispatcher *Dispatcher, reader *reconcile.Reader, mirror MirrorHealth, logger *zap.Logger) *Service {
	return &Service{
		ledger:     ledger,
		dispatcher: dispatcher,
		reader:     reader,
		mirror:     mirror,
		logger:     logger,
		now:        time.Now,
	}
}

// caller picks the sending account: the requested one when given, else the signer's current one.
func (s *Service) caller(requested string) (models.Address, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return s.ledger.Account(), nil
	}
	addr := models.Address(requested)
	if !addr.Valid() {
		return "", apperr.Validation("Caller account is not a valid address")
	}
	return addr, nil
}

func (s *Service) Harvest(ctx context.Context, account string, in HarvestInput) (*Outcome, error) {
	in.ProductName = strings.TrimSpace(in.ProductName)
	in.FarmerName = strings.TrimSpace(in.FarmerName)
	in.FarmLocation = strings.TrimSpace(in.FarmLocation)

	if in.ProductName == "" || in.FarmerName == "" || in.FarmLocation == "" {
		return nil, apperr.Validation("Product name, farmer name and farm location are required")
	}
	if in.HarvestDate == 0 {
		in.HarvestDate = s.now().Unix()
	}
	if in.HarvestDate < 0 {
		return nil, apperr.Validation("Harvest date must be a Unix timestamp in seconds")
	}
	if in.HarvestDate > s.now().Add(harvestDateSlack).Unix() {
		return nil, apperr.Validation("Harvest date cannot be in the future")
	}

	from, err := s.caller(account)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, "harvestProduct", func(k *chain.Contract) (*chain.Receipt, error) {
		return k.Harvest(ctx, in.ProductName, in.FarmerName, in.FarmLocation, in.HarvestDate)
	}, from)
}

func (s *Service) UpdateStatus(ctx context.Context, account string, id, status int64) (*Outcome, error) {
	if id <= 0 {
		return nil, apperr.Validation("Product id must be a positive integer")
	}
	st, ok := models.ParseStatus(status)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("Status must be between 0 and %d", models.StatusSold))
	}

	from, err := s.caller(account)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, "updateStatus", func(k *chain.Contract) (*chain.Receipt, error) {
		return k.UpdateStatus(ctx, id, st)
	}, from)
}

func (s *Service) PutForSale(ctx context.Context, account string, id int64, price decimal.Decimal) (*Outcome, error) {
	if id <= 0 {
		return nil, apperr.Validation("Product id must be a positive integer")
	}
	if !price.IsPositive() || !price.IsInteger() {
		return nil, apperr.Validation("Price must be a positive whole number of wei")
	}

	from, err := s.caller(account)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, "putProductForSale", func(k *chain.Contract) (*chain.Receipt, error) {
		return k.PutForSale(ctx, id, price)
	}, from)
}

// Purchase pays payment, or the ledger's current price when payment is nil.
func (s *Service) Purchase(ctx context.Context, account string, id int64, payment *decimal.Decimal) (*Outcome, error) {
	if id <= 0 {
		return nil, apperr.Validation("Product id must be a positive integer")
	}
	if payment != nil && (payment.IsNegative() || !payment.IsInteger()) {
		return nil, apperr.Validation("Payment must be a whole number of wei")
	}

	from, err := s.caller(account)
	if err != nil {
		return nil, err
	}

	amount := decimal.Zero
	if payment != nil {
		amount = *payment
	} else {
		p, err := s.ledger.ProductDetails(ctx, id)
		if err != nil {
			return nil, err
		}
		amount = p.Price
	}

	return s.submit(ctx, "purchaseProduct", func(k *chain.Contract) (*chain.Receipt, error) {
		return k.Purchase(ctx, id, amount)
	}, from)
}

func (s *Service) AuthorizeUser(ctx context.Context, account, user string) (*Outcome, error) {
	addr := models.Address(strings.TrimSpace(user))
	if !addr.Valid() {
		return nil, apperr.Validation("User must be a valid address")
	}

	from, err := s.caller(account)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, "authorizeUser", func(k *chain.Contract) (*chain.Receipt, error) {
		return k.AuthorizeUser(ctx, addr)
	}, from)
}

func (s *Service) ListProducts(ctx context.Context) (*reconcile.Listing, error) {
	return s.reader.ListProducts(ctx)
}

func (s *Service) Product(ctx context.Context, id int64) (models.Product, error) {
	if id <= 0 {
		return models.Product{}, apperr.Validation("Product id must be a positive integer")
	}
	return s.ledger.ProductDetails(ctx, id)
}

// Health reads the ledger head and probes the mirror.
func (s *Service) Health(ctx context.Context) (*Health, error) {
	head, err := s.ledger.HeadBlock(ctx)
	if err != nil {
		return nil, apperr.Unavailable("Ledger is unavailable", err)
	}

	h := &Health{HeadBlock: head, Account: string(s.ledger.Account())}
	if s.mirror != nil {
		if err := s.mirror.Probe(ctx); err != nil {
			h.MirrorError = "unreachable"
		}
		h.MirrorReachable = s.mirror.Reachable()
	}
	return h, nil
}

func (s *Service) submit(ctx context.Context, op string, send func(*chain.Contract) (*chain.Receipt, error), from models.Address) (*Outcome, error) {
	receipt, err := send(s.ledger.As(from))
	if err != nil {
		s.logger.Debug("ledger operation failed",
			zap.String("op", op),
			zap.String("from", from.Short()),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	// Mirror writes finish even when the caller goes away; the ledger already confirmed.
	report := s.dispatcher.Deliver(context.WithoutCancel(ctx), receipt)

	out := &Outcome{
		TxHash:      receipt.TxHash,
		ProductID:   receipt.ProductID,
		BlockNumber: receipt.BlockNumber,
		Events:      report.Events,
	}
	for _, f := range report.Failures() {
		out.Warnings = append(out.Warnings, warning(f))
	}
	return out, nil
}

func warning(f events.Failure) string {
	switch apperr.KindOf(f.Err) {
	case apperr.KindSyncDivergence:
		return apperr.Message(f.Err)
	case apperr.KindRemoteUnavailable:
		return "Database is unreachable; the record exists only on the ledger for now"
	default:
		return fmt.Sprintf("%s subscriber failed: %v", f.Subscriber, f.Err)
	}
}
