// Package events carries confirmed ledger events to in-process subscribers.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindHarvested     Kind = "Harvested"
	KindStatusUpdated Kind = "StatusUpdated"
	KindListedForSale Kind = "ListedForSale"
	KindPurchased     Kind = "Purchased"
)

// Meta locates the event in the ledger.
type Meta struct {
	ID          string    `json:"id"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber int64     `json:"block_number"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event is one of Harvested, StatusUpdated, ListedForSale or Purchased.
type Event interface {
	Kind() Kind
	Product() int64
	Metadata() Meta
	sealed()
}

type Harvested struct {
	Meta
	ProductID    int64          `json:"product_id"`
	ProductName  string         `json:"product_name"`
	FarmerName   string         `json:"farmer_name"`
	FarmLocation string         `json:"farm_location"`
	HarvestDate  int64          `json:"harvest_date"`
	Owner        models.Address `json:"owner"`
}

type StatusUpdated struct {
	Meta
	ProductID int64          `json:"product_id"`
	OldStatus models.Status  `json:"old_status"`
	NewStatus models.Status  `json:"new_status"`
	UpdatedBy models.Address `json:"updated_by"`
}

type ListedForSale struct {
	Meta
	ProductID int64           `json:"product_id"`
	Price     decimal.Decimal `json:"price_wei"`
	Seller    models.Address  `json:"seller"`
	OldStatus models.Status   `json:"old_status"`
}

type Purchased struct {
	Meta
	ProductID int64           `json:"product_id"`
	Seller    models.Address  `json:"seller"`
	Buyer     models.Address  `json:"buyer"`
	Price     decimal.Decimal `json:"price_wei"`
}

func (Harvested) Kind() Kind     { return KindHarvested }
func (StatusUpdated) Kind() Kind { return KindStatusUpdated }
func (ListedForSale) Kind() Kind { return KindListedForSale }
func (Purchased) Kind() Kind     { return KindPurchased }

func (e Harvested) Product() int64     { return e.ProductID }
func (e StatusUpdated) Product() int64 { return e.ProductID }
func (e ListedForSale) Product() int64 { return e.ProductID }
func (e Purchased) Product() int64     { return e.ProductID }

func (e Harvested) Metadata() Meta     { return e.Meta }
func (e StatusUpdated) Metadata() Meta { return e.Meta }
func (e ListedForSale) Metadata() Meta { return e.Meta }
func (e Purchased) Metadata() Meta     { return e.Meta }

func (Harvested) sealed()     {}
func (StatusUpdated) sealed() {}
func (ListedForSale) sealed() {}
func (Purchased) sealed()     {}

// FromReceipt converts the logs of a successful receipt into events. Failed receipts and
// logs without a domain meaning yield nothing.
func FromReceipt(r *chain.Receipt) []Event {
	if r == nil || !r.Succeeded() {
		return nil
	}

	out := make([]Event, 0, len(r.Logs))
	for _, log := range r.Logs {
		meta := Meta{
			ID:          uuid.NewString(),
			TxHash:      r.TxHash,
			BlockNumber: r.BlockNumber,
			Timestamp:   r.Timestamp,
		}

		switch l := log.(type) {
		case ledger.ProductHarvested:
			out = append(out, Harvested{
				Meta:        meta,
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				FarmerName:  l.FarmerName,
				Owner:       l.Owner,
			})
		case ledger.StatusUpdated:
			out = append(out, StatusUpdated{
				Meta:      meta,
				ProductID: l.ProductID,
				OldStatus: l.OldStatus,
				NewStatus: l.NewStatus,
				UpdatedBy: l.UpdatedBy,
			})
		case ledger.ProductForSale:
			out = append(out, ListedForSale{
				Meta:      meta,
				ProductID: l.ProductID,
				Price:     l.Price,
				Seller:    l.Seller,
				OldStatus: l.OldStatus,
			})
		case ledger.ProductPurchased:
			out = append(out, Purchased{
				Meta:      meta,
				ProductID: l.ProductID,
				Seller:    l.Seller,
				Buyer:     l.Buyer,
				Price:     l.Price,
			})
		}
	}
	return out
}
