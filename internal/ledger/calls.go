package ledger

import (
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
)

// Contract method names.
const (
	MethodHarvestProduct    = "harvestProduct"
	MethodUpdateStatus      = "updateStatus"
	MethodPutProductForSale = "putProductForSale"
	MethodPurchaseProduct   = "purchaseProduct"
	MethodAuthorizeUser     = "authorizeUser"

	MethodGetProductCount   = "getProductCount"
	MethodGetProductDetails = "getProductDetails"
	MethodGetAllProductIDs  = "getAllProductIds"
	MethodAuthorizedUsers   = "authorizedUsers"
)

// Call is an encoded contract invocation. Only the fields the method reads are set.
type Call struct {
	Method       string          `json:"method"`
	ProductID    int64           `json:"product_id,omitempty"`
	ProductName  string          `json:"product_name,omitempty"`
	FarmerName   string          `json:"farmer_name,omitempty"`
	FarmLocation string          `json:"farm_location,omitempty"`
	HarvestDate  int64           `json:"harvest_date,omitempty"`
	Status       models.Status   `json:"status,omitempty"`
	Price        decimal.Decimal `json:"price,omitempty"`
	User         models.Address  `json:"user,omitempty"`
}

func HarvestCall(name, farmer, location string, harvestDate int64) Call {
	return Call{
		Method:       MethodHarvestProduct,
		ProductName:  name,
		FarmerName:   farmer,
		FarmLocation: location,
		HarvestDate:  harvestDate,
	}
}

func UpdateStatusCall(id int64, status models.Status) Call {
	return Call{Method: MethodUpdateStatus, ProductID: id, Status: status}
}

func PutForSaleCall(id int64, price decimal.Decimal) Call {
	return Call{Method: MethodPutProductForSale, ProductID: id, Price: price}
}

func PurchaseCall(id int64) Call {
	return Call{Method: MethodPurchaseProduct, ProductID: id}
}

func AuthorizeUserCall(user models.Address) Call {
	return Call{Method: MethodAuthorizeUser, User: user}
}

// gasCost is the gas a successful call consumes on the development chain.
var gasCost = map[string]uint64{
	MethodHarvestProduct:    180000,
	MethodUpdateStatus:      45000,
	MethodPutProductForSale: 70000,
	MethodPurchaseProduct:   90000,
	MethodAuthorizeUser:     46000,
}

// GasCost returns the gas used by a successful call to method.
func GasCost(method string) (uint64, bool) {
	gas, ok := gasCost[method]
	return gas, ok
}

// Execute dispatches call from caller with value attached.
func (c *Contract) Execute(caller models.Address, call Call, value decimal.Decimal) (*Result, error) {
	switch call.Method {
	case MethodHarvestProduct:
		return c.Harvest(caller, call.ProductName, call.FarmerName, call.FarmLocation, call.HarvestDate)
	case MethodUpdateStatus:
		return c.UpdateStatus(caller, call.ProductID, call.Status)
	case MethodPutProductForSale:
		return c.PutForSale(caller, call.ProductID, call.Price)
	case MethodPurchaseProduct:
		return c.Purchase(caller, call.ProductID, value)
	case MethodAuthorizeUser:
		return c.AuthorizeUser(caller, call.User)
	default:
		return nil, ErrUnknownMethod
	}
}

// Check reports the error Execute would return, without changing state.
func (c *Contract) Check(caller models.Address, call Call, value decimal.Decimal) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch call.Method {
	case MethodHarvestProduct:
		return c.checkHarvest(caller, call.ProductName)
	case MethodUpdateStatus:
		return c.checkUpdateStatus(caller, call.ProductID, call.Status)
	case MethodPutProductForSale:
		return c.checkPutForSale(caller, call.ProductID, call.Price)
	case MethodPurchaseProduct:
		return c.checkPurchase(call.ProductID, value)
	case MethodAuthorizeUser:
		return c.checkAuthorizeUser(caller, call.User)
	default:
		return ErrUnknownMethod
	}
}

// ReadResult holds the output of a read-only method; only the field the method fills is set.
type ReadResult struct {
	Count      int64          `json:"count,omitempty"`
	Product    models.Product `json:"product"`
	IDs        []int64        `json:"ids,omitempty"`
	Authorized bool           `json:"authorized,omitempty"`
}

func ProductCountCall() Call {
	return Call{Method: MethodGetProductCount}
}

func ProductDetailsCall(id int64) Call {
	return Call{Method: MethodGetProductDetails, ProductID: id}
}

func AllProductIDsCall() Call {
	return Call{Method: MethodGetAllProductIDs}
}

func AuthorizedCall(user models.Address) Call {
	return Call{Method: MethodAuthorizedUsers, User: user}
}

// Read serves the contract's view methods.
func (c *Contract) Read(call Call) (ReadResult, error) {
	switch call.Method {
	case MethodGetProductCount:
		return ReadResult{Count: c.ProductCount()}, nil
	case MethodGetProductDetails:
		p, err := c.Product(call.ProductID)
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{Product: p}, nil
	case MethodGetAllProductIDs:
		return ReadResult{IDs: c.AllProductIDs()}, nil
	case MethodAuthorizedUsers:
		return ReadResult{Authorized: c.IsAuthorized(call.User)}, nil
	default:
		return ReadResult{}, ErrUnknownMethod
	}
}
