package models

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status uint8

const (
	StatusHarvested Status = iota
	StatusProcessing
	StatusPackaged
	StatusForSale
	StatusSold
)

var statusNames = [...]string{"Harvested", "Processing", "Packaged", "ForSale", "Sold"}

func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

func (s Status) String() string {
	if !s.Valid() {
		return "Unknown"
	}
	return statusNames[s]
}

// ParseStatus accepts an enum ordinal in the range of defined statuses.
func ParseStatus(v int64) (Status, bool) {
	if v < 0 || v >= int64(len(statusNames)) {
		return 0, false
	}
	return Status(v), true
}

// Address identifies a ledger account (0x-prefixed, 20 bytes hex).
type Address string

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

func (a Address) Valid() bool {
	return addressPattern.MatchString(string(a))
}

// Equal compares addresses case-insensitively.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(string(a), string(b))
}

func (a Address) Short() string {
	s := string(a)
	if len(s) < 42 {
		return s
	}
	return s[:6] + "..." + s[38:]
}

// Product is the authoritative ledger view of a product.
type Product struct {
	ID           int64           `json:"id"`
	ProductName  string          `json:"product_name"`
	FarmerName   string          `json:"farmer_name"`
	FarmLocation string          `json:"farm_location"`
	HarvestDate  int64           `json:"harvest_date"`
	Status       Status          `json:"status"`
	Owner        Address         `json:"owner"`
	Price        decimal.Decimal `json:"price_wei"`
	IsForSale    bool            `json:"is_for_sale"`
}

// MirrorProduct is the derived row kept by the mirror backend.
type MirrorProduct struct {
	ID                     int64           `json:"id"`
	BlockchainProductID    int64           `json:"blockchain_product_id"`
	ProductName            string          `json:"product_name"`
	FarmerName             string          `json:"farmer_name"`
	FarmLocation           string          `json:"farm_location"`
	HarvestDate            int64           `json:"harvest_date"`
	BlockchainOwnerAddress string          `json:"blockchain_owner_address"`
	CurrentStatus          Status          `json:"current_status"`
	PriceWei               decimal.Decimal `json:"price_wei"`
	IsForSale              bool            `json:"is_for_sale"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// ProductPatch carries the mirrored fields a PUT may change; nil fields are left untouched.
type ProductPatch struct {
	ProductName            *string          `json:"product_name,omitempty"`
	FarmerName             *string          `json:"farmer_name,omitempty"`
	FarmLocation           *string          `json:"farm_location,omitempty"`
	HarvestDate            *int64           `json:"harvest_date,omitempty"`
	BlockchainOwnerAddress *string          `json:"blockchain_owner_address,omitempty"`
	CurrentStatus          *Status          `json:"current_status,omitempty"`
	PriceWei               *decimal.Decimal `json:"price_wei,omitempty"`
	IsForSale              *bool            `json:"is_for_sale,omitempty"`
}

func (p ProductPatch) Empty() bool {
	return p.ProductName == nil && p.FarmerName == nil && p.FarmLocation == nil &&
		p.HarvestDate == nil && p.BlockchainOwnerAddress == nil && p.CurrentStatus == nil &&
		p.PriceWei == nil && p.IsForSale == nil
}

type StatusChangeRecord struct {
	ID                  int64     `json:"id"`
	ProductID           int64     `json:"product_id"`
	BlockchainProductID int64     `json:"blockchain_product_id"`
	OldStatus           Status    `json:"old_status"`
	NewStatus           Status    `json:"new_status"`
	ChangedBy           string    `json:"changed_by"`
	TransactionHash     string    `json:"transaction_hash"`
	CreatedAt           time.Time `json:"created_at"`
}

type SaleRecord struct {
	ID                  int64           `json:"id"`
	ProductID           int64           `json:"product_id"`
	BlockchainProductID int64           `json:"blockchain_product_id"`
	SellerAddress       string          `json:"seller_address"`
	BuyerAddress        *string         `json:"buyer_address"`
	SalePriceWei        decimal.Decimal `json:"sale_price_wei"`
	SaleStatus          string          `json:"sale_status"`
	TransactionHash     string          `json:"transaction_hash"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type BlockchainEvent struct {
	ID                  int64           `json:"id"`
	EventType           string          `json:"event_type"`
	ProductID           int64           `json:"product_id"`
	BlockchainProductID int64           `json:"blockchain_product_id"`
	EventData           json.RawMessage `json:"event_data,omitempty"`
	TransactionHash     string          `json:"transaction_hash"`
	BlockNumber         int64           `json:"block_number"`
	CreatedAt           time.Time       `json:"created_at"`
}

const (
	SaleStatusListed = "listed"
	SaleStatusSold   = "sold"
)

const (
	EventTypeHarvested     = "ProductHarvested"
	EventTypeStatusUpdated = "StatusUpdated"
	EventTypeForSale       = "ProductForSale"
	EventTypePurchased     = "ProductPurchased"
)

// Popup is the notification payload every HTTP response carries for the dApp.
type Popup struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

const (
	PopupSuccess = "success"
	PopupError   = "error"
	PopupWarning = "warning"
)
