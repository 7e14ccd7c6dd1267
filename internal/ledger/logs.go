package ledger

import (
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
)

// Contract event names as they appear in receipts.
const (
	EventProductHarvested = "ProductHarvested"
	EventStatusUpdated    = "StatusUpdated"
	EventProductForSale   = "ProductForSale"
	EventProductPurchased = "ProductPurchased"
)

// Log is one event emitted by a contract call.
type Log interface {
	EventName() string
	Product() int64
}

type ProductHarvested struct {
	ProductID   int64          `json:"productId"`
	ProductName string         `json:"productName"`
	FarmerName  string         `json:"farmerName"`
	Owner       models.Address `json:"owner"`
}

func (ProductHarvested) EventName() string { return EventProductHarvested }
func (l ProductHarvested) Product() int64  { return l.ProductID }

type StatusUpdated struct {
	ProductID int64          `json:"productId"`
	OldStatus models.Status  `json:"oldStatus"`
	NewStatus models.Status  `json:"newStatus"`
	UpdatedBy models.Address `json:"updatedBy"`
}

func (StatusUpdated) EventName() string { return EventStatusUpdated }
func (l StatusUpdated) Product() int64  { return l.ProductID }

type ProductForSale struct {
	ProductID int64           `json:"productId"`
	Price     decimal.Decimal `json:"price"`
	Seller    models.Address  `json:"seller"`
	OldStatus models.Status   `json:"oldStatus"`
}

func (ProductForSale) EventName() string { return EventProductForSale }
func (l ProductForSale) Product() int64  { return l.ProductID }

type ProductPurchased struct {
	ProductID int64           `json:"productId"`
	Seller    models.Address  `json:"seller"`
	Buyer     models.Address  `json:"buyer"`
	Price     decimal.Decimal `json:"price"`
}

func (ProductPurchased) EventName() string { return EventProductPurchased }
func (l ProductPurchased) Product() int64  { return l.ProductID }
