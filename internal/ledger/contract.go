// Package ledger holds the authoritative product record store: the supply-chain contract.
//
// A Contract is deployed by an owner, who is authorized by default and may authorize other
// accounts. Mutating operations return the logs they emit and any value transfers the host
// chain must settle; read accessors never mutate.
package ledger

import (
	"strings"
	"sync"

	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
)

// Transfer is a payment the contract forwards out of a call's attached value.
type Transfer struct {
	To     models.Address
	Amount decimal.Decimal
}

// Result is what a successful mutating call leaves behind.
type Result struct {
	ProductID int64
	Logs      []Log
	Transfers []Transfer
}

type Contract struct {
	mu         sync.RWMutex
	owner      models.Address
	strict     bool
	authorized map[models.Address]bool
	products   []models.Product
}

type Option func(*Contract)

// WithStrictTransitions makes UpdateStatus forward-only and restricted to the product owner.
func WithStrictTransitions(strict bool) Option {
	return func(c *Contract) {
		c.strict = strict
	}
}

func New(owner models.Address, opts ...Option) *Contract {
	c := &Contract{
		owner:      owner,
		authorized: map[models.Address]bool{normalize(owner): true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalize(a models.Address) models.Address {
	return models.Address(strings.ToLower(string(a)))
}

func (c *Contract) Owner() models.Address {
	return c.owner
}

func (c *Contract) Strict() bool {
	return c.strict
}

func (c *Contract) IsAuthorized(addr models.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorized[normalize(addr)]
}

// AuthorizeUser lets the contract owner grant harvest and status rights to user.
func (c *Contract) AuthorizeUser(caller, user models.Address) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAuthorizeUser(caller, user); err != nil {
		return nil, err
	}
	c.authorized[normalize(user)] = true
	return &Result{}, nil
}

func (c *Contract) Harvest(caller models.Address, name, farmer, location string, harvestDate int64) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkHarvest(caller, name); err != nil {
		return nil, err
	}

	id := int64(len(c.products)) + 1
	c.products = append(c.products, models.Product{
		ID:           id,
		ProductName:  name,
		FarmerName:   farmer,
		FarmLocation: location,
		HarvestDate:  harvestDate,
		Status:       models.StatusHarvested,
		Owner:        caller,
		Price:        decimal.Zero,
	})

	return &Result{
		ProductID: id,
		Logs: []Log{ProductHarvested{
			ProductID:   id,
			ProductName: name,
			FarmerName:  farmer,
			Owner:       caller,
		}},
	}, nil
}

func (c *Contract) UpdateStatus(caller models.Address, id int64, status models.Status) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkUpdateStatus(caller, id, status); err != nil {
		return nil, err
	}

	p := &c.products[id-1]
	old := p.Status
	p.Status = status

	return &Result{
		ProductID: id,
		Logs: []Log{StatusUpdated{
			ProductID: id,
			OldStatus: old,
			NewStatus: status,
			UpdatedBy: caller,
		}},
	}, nil
}

func (c *Contract) PutForSale(caller models.Address, id int64, price decimal.Decimal) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPutForSale(caller, id, price); err != nil {
		return nil, err
	}

	p := &c.products[id-1]
	old := p.Status
	p.Price = price
	p.IsForSale = true
	p.Status = models.StatusForSale

	return &Result{
		ProductID: id,
		Logs: []Log{ProductForSale{
			ProductID: id,
			Price:     price,
			Seller:    p.Owner,
			OldStatus: old,
		}},
	}, nil
}

// Purchase transfers ownership to caller when payment matches the listed price exactly. The
// payment is forwarded to the previous owner.
func (c *Contract) Purchase(caller models.Address, id int64, payment decimal.Decimal) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkPurchase(id, payment); err != nil {
		return nil, err
	}

	p := &c.products[id-1]
	seller := p.Owner
	price := p.Price
	p.Owner = caller
	p.IsForSale = false
	p.Status = models.StatusSold

	return &Result{
		ProductID: id,
		Logs: []Log{ProductPurchased{
			ProductID: id,
			Seller:    seller,
			Buyer:     caller,
			Price:     price,
		}},
		Transfers: []Transfer{{To: seller, Amount: payment}},
	}, nil
}

// Product returns a copy of the product with the given id.
func (c *Contract) Product(id int64) (models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.exists(id) {
		return models.Product{}, ErrNotFound
	}
	return c.products[id-1], nil
}

func (c *Contract) ProductCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.products))
}

func (c *Contract) AllProductIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]int64, len(c.products))
	for i := range c.products {
		ids[i] = int64(i) + 1
	}
	return ids
}

func (c *Contract) exists(id int64) bool {
	return id >= 1 && id <= int64(len(c.products))
}

func (c *Contract) checkAuthorizeUser(caller, user models.Address) error {
	if !caller.Equal(c.owner) {
		return ErrNotOwner
	}
	if !user.Valid() {
		return ErrInvalidAddress
	}
	return nil
}

func (c *Contract) checkHarvest(caller models.Address, name string) error {
	if !c.authorized[normalize(caller)] {
		return ErrNotAuthorized
	}
	if name == "" {
		return ErrEmptyName
	}
	return nil
}

func (c *Contract) checkUpdateStatus(caller models.Address, id int64, status models.Status) error {
	if !c.authorized[normalize(caller)] {
		return ErrNotAuthorized
	}
	if !c.exists(id) {
		return ErrNotFound
	}
	if !status.Valid() {
		return ErrInvalidStatus
	}
	p := c.products[id-1]
	if p.IsForSale {
		return ErrListedForSale
	}
	if c.strict {
		if !caller.Equal(p.Owner) {
			return ErrNotOwner
		}
		if status <= p.Status {
			return ErrStatusRegression
		}
	}
	return nil
}

func (c *Contract) checkPutForSale(caller models.Address, id int64, price decimal.Decimal) error {
	if !price.IsPositive() {
		return ErrInvalidPrice
	}
	if !c.exists(id) {
		return ErrNotFound
	}
	p := c.products[id-1]
	if p.Status == models.StatusSold {
		return ErrAlreadySold
	}
	if !caller.Equal(p.Owner) {
		return ErrNotOwner
	}
	return nil
}

func (c *Contract) checkPurchase(id int64, payment decimal.Decimal) error {
	if !c.exists(id) {
		return ErrNotFound
	}
	p := c.products[id-1]
	if !p.IsForSale {
		return ErrNotForSale
	}
	if !payment.Equal(p.Price) {
		return ErrWrongPayment
	}
	return nil
}
