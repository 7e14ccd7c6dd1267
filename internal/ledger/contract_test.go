package ledger

import (
	"testing"

	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner    models.Address = "0x1000000000000000000000000000000000000001"
	farmer   models.Address = "0x2000000000000000000000000000000000000002"
	retailer models.Address = "0x3000000000000000000000000000000000000003"
	stranger models.Address = "0x4000000000000000000000000000000000000004"
)

func deploy(t *testing.T, opts ...Option) *Contract {
	t.Helper()
	c := New(owner, opts...)
	_, err := c.AuthorizeUser(owner, farmer)
	require.NoError(t, err)
	return c
}

func harvest(t *testing.T, c *Contract, name string) int64 {
	t.Helper()
	res, err := c.Harvest(farmer, name, "John Doe", "California, USA", 1700000000)
	require.NoError(t, err)
	return res.ProductID
}

func TestOwnerAuthorizedByDefault(t *testing.T) {
	c := New(owner)
	assert.True(t, c.IsAuthorized(owner))
	assert.True(t, c.IsAuthorized("0x1000000000000000000000000000000000000001"))
	assert.False(t, c.IsAuthorized(farmer))
}

func TestAuthorizeUserOwnerOnly(t *testing.T) {
	c := New(owner)

	_, err := c.AuthorizeUser(farmer, retailer)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.False(t, c.IsAuthorized(retailer))

	_, err = c.AuthorizeUser(owner, "not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = c.AuthorizeUser(owner, retailer)
	require.NoError(t, err)
	assert.True(t, c.IsAuthorized(retailer))
}

func TestHarvestAssignsSequentialIDs(t *testing.T) {
	c := deploy(t)

	for want := int64(1); want <= 5; want++ {
		got := harvest(t, c, "Product")
		assert.Equal(t, want, got)
	}

	assert.Equal(t, int64(5), c.ProductCount())
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, c.AllProductIDs())
}

func TestHarvestEmitsEventAndStoresProduct(t *testing.T) {
	c := deploy(t)

	res, err := c.Harvest(farmer, "Organic Tomatoes", "John Doe", "California, USA", 1700000000)
	require.NoError(t, err)
	require.Len(t, res.Logs, 1)

	log, ok := res.Logs[0].(ProductHarvested)
	require.True(t, ok)
	assert.Equal(t, int64(1), log.ProductID)
	assert.Equal(t, "Organic Tomatoes", log.ProductName)
	assert.Equal(t, "John Doe", log.FarmerName)
	assert.Equal(t, EventProductHarvested, log.EventName())

	p, err := c.Product(1)
	require.NoError(t, err)
	assert.Equal(t, "California, USA", p.FarmLocation)
	assert.Equal(t, int64(1700000000), p.HarvestDate)
	assert.Equal(t, models.StatusHarvested, p.Status)
	assert.Equal(t, farmer, p.Owner)
	assert.False(t, p.IsForSale)
	assert.True(t, p.Price.IsZero())
}

func TestUnauthorizedHarvestCreatesNothing(t *testing.T) {
	c := deploy(t)
	harvest(t, c, "Existing")

	_, err := c.Harvest(stranger, "Unauthorized Product", "Hacker", "Nowhere", 1700000000)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, int64(1), c.ProductCount())
}

func TestUpdateStatusThenRead(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Organic Apples")

	res, err := c.UpdateStatus(farmer, id, models.StatusProcessing)
	require.NoError(t, err)

	log := res.Logs[0].(StatusUpdated)
	assert.Equal(t, models.StatusHarvested, log.OldStatus)
	assert.Equal(t, models.StatusProcessing, log.NewStatus)
	assert.Equal(t, farmer, log.UpdatedBy)

	p, err := c.Product(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, p.Status)
}

func TestUpdateStatusFailures(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Carrots")

	tests := []struct {
		name   string
		caller models.Address
		id     int64
		status models.Status
		want   error
	}{
		{"unauthorized", stranger, id, models.StatusProcessing, ErrNotAuthorized},
		{"unknown product", farmer, 99, models.StatusProcessing, ErrNotFound},
		{"zero id", farmer, 0, models.StatusProcessing, ErrNotFound},
		{"invalid status", farmer, id, models.Status(9), ErrInvalidStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.UpdateStatus(tt.caller, tt.id, tt.status)
			assert.ErrorIs(t, err, tt.want)

			p, err := c.Product(id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusHarvested, p.Status)
		})
	}
}

func TestPermissiveStatusAllowsRegressionAndNonOwner(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Lettuce")

	_, err := c.UpdateStatus(farmer, id, models.StatusPackaged)
	require.NoError(t, err)

	_, err = c.UpdateStatus(owner, id, models.StatusProcessing)
	require.NoError(t, err)

	p, _ := c.Product(id)
	assert.Equal(t, models.StatusProcessing, p.Status)
}

func TestStrictTransitions(t *testing.T) {
	c := deploy(t, WithStrictTransitions(true))
	id := harvest(t, c, "Lettuce")

	_, err := c.UpdateStatus(owner, id, models.StatusProcessing)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = c.UpdateStatus(farmer, id, models.StatusPackaged)
	require.NoError(t, err)

	_, err = c.UpdateStatus(farmer, id, models.StatusProcessing)
	assert.ErrorIs(t, err, ErrStatusRegression)

	_, err = c.UpdateStatus(farmer, id, models.StatusPackaged)
	assert.ErrorIs(t, err, ErrStatusRegression)

	_, err = c.PutForSale(owner, id, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestPutForSale(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Carrots")

	price := decimal.RequireFromString("100000000000000000")
	res, err := c.PutForSale(farmer, id, price)
	require.NoError(t, err)

	log := res.Logs[0].(ProductForSale)
	assert.True(t, log.Price.Equal(price))
	assert.Equal(t, farmer, log.Seller)
	assert.Equal(t, models.StatusHarvested, log.OldStatus)

	p, _ := c.Product(id)
	assert.True(t, p.IsForSale)
	assert.True(t, p.Price.Equal(price))
	assert.Equal(t, models.StatusForSale, p.Status)
}

func TestPutForSaleOwnerOnly(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Carrots")
	before, _ := c.Product(id)

	for _, caller := range []models.Address{stranger, owner} {
		_, err := c.PutForSale(caller, id, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrNotOwner)
	}

	_, err := c.Purchase(stranger, id, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNotForSale)

	after, _ := c.Product(id)
	assert.Equal(t, before, after)
	assert.Equal(t, farmer, after.Owner)
}

func TestPutForSaleZeroPriceLeavesState(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Carrots")
	before, _ := c.Product(id)

	_, err := c.PutForSale(farmer, id, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = c.PutForSale(farmer, id, decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	after, _ := c.Product(id)
	assert.Equal(t, before, after)
}

func TestListedProductStaysForSale(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Carrots")

	_, err := c.PutForSale(farmer, id, decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = c.UpdateStatus(farmer, id, models.StatusPackaged)
	assert.ErrorIs(t, err, ErrListedForSale)

	p, _ := c.Product(id)
	assert.True(t, p.IsForSale)
	assert.Equal(t, models.StatusForSale, p.Status)
}

func TestPurchaseExactPayment(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Lettuce")
	price := decimal.RequireFromString("50000000000000000")

	_, err := c.PutForSale(farmer, id, price)
	require.NoError(t, err)

	res, err := c.Purchase(retailer, id, price)
	require.NoError(t, err)

	log := res.Logs[0].(ProductPurchased)
	assert.Equal(t, farmer, log.Seller)
	assert.Equal(t, retailer, log.Buyer)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, farmer, res.Transfers[0].To)
	assert.True(t, res.Transfers[0].Amount.Equal(price))

	p, _ := c.Product(id)
	assert.Equal(t, retailer, p.Owner)
	assert.False(t, p.IsForSale)
	assert.Equal(t, models.StatusSold, p.Status)

	_, err = c.PutForSale(retailer, id, price)
	assert.ErrorIs(t, err, ErrAlreadySold)
}

func TestPurchaseFailuresLeaveState(t *testing.T) {
	c := deploy(t)
	id := harvest(t, c, "Lettuce")

	_, err := c.Purchase(retailer, id, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrNotForSale)

	_, err = c.PutForSale(farmer, id, decimal.NewFromInt(100))
	require.NoError(t, err)
	before, _ := c.Product(id)

	for _, payment := range []int64{0, 99, 101} {
		_, err = c.Purchase(retailer, id, decimal.NewFromInt(payment))
		assert.ErrorIs(t, err, ErrWrongPayment)
	}

	after, _ := c.Product(id)
	assert.Equal(t, before, after)
}

func TestCheckDoesNotMutate(t *testing.T) {
	c := deploy(t)

	err := c.Check(farmer, HarvestCall("Beans", "F", "L", 1), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.ProductCount())

	err = c.Check(stranger, HarvestCall("Beans", "F", "L", 1), decimal.Zero)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	err = c.Check(farmer, Call{Method: "selfDestruct"}, decimal.Zero)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestExecuteAndRead(t *testing.T) {
	c := deploy(t)

	res, err := c.Execute(farmer, HarvestCall("Beans", "F", "L", 1), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ProductID)

	out, err := c.Read(ProductCountCall())
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Count)

	out, err = c.Read(ProductDetailsCall(1))
	require.NoError(t, err)
	assert.Equal(t, "Beans", out.Product.ProductName)

	_, err = c.Read(ProductDetailsCall(2))
	assert.ErrorIs(t, err, ErrNotFound)

	out, err = c.Read(AuthorizedCall(farmer))
	require.NoError(t, err)
	assert.True(t, out.Authorized)
}

func TestErrorFromReason(t *testing.T) {
	assert.Equal(t, ErrWrongPayment, ErrorFromReason("Incorrect payment amount"))
	assert.Nil(t, ErrorFromReason("out of gas"))
}
