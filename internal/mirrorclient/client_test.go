package mirrorclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorded struct {
	method string
	path   string
	body   map[string]interface{}
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]interface{})) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &body))
		}
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: body})
		handler(w, r, body)
	}))
	t.Cleanup(srv.Close)

	return New(srv.URL, 2*time.Second, zap.NewNop()), &calls
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRecordProductSendsLedgerID(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"productId": body["blockchain_product_id"],
			"data": map[string]interface{}{
				"id":                    10,
				"blockchain_product_id": body["blockchain_product_id"],
				"product_name":          body["product_name"],
				"price_wei":             "0",
			},
		})
	})

	p, err := c.RecordProduct(context.Background(), models.MirrorProduct{
		BlockchainProductID: 4,
		ProductName:         "Tomatoes",
		FarmLocation:        "CA",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.ID)
	assert.Equal(t, int64(4), p.BlockchainProductID)

	require.Len(t, *calls, 1)
	got := (*calls)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/products", got.path)
	assert.Equal(t, float64(4), got.body["blockchain_product_id"])
	assert.Equal(t, "CA", got.body["farm_location"])
}

func TestRecordProductOmitsMissingLedgerID(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]interface{}{"blockchain_product_id": 1}})
	})

	_, err := c.RecordProduct(context.Background(), models.MirrorProduct{ProductName: "Corn"})
	require.NoError(t, err)
	assert.NotContains(t, (*calls)[0].body, "blockchain_product_id")
}

func TestStatusChangeKeepsHarvestedStatus(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": body})
	})

	rec, err := c.RecordStatusChange(context.Background(), models.StatusChangeRecord{
		ProductID:           1,
		BlockchainProductID: 1,
		OldStatus:           models.StatusHarvested,
		NewStatus:           models.StatusProcessing,
		TransactionHash:     "0xabc",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, rec.NewStatus)

	body := (*calls)[0].body
	assert.Equal(t, "/api/status-history", (*calls)[0].path)
	assert.Equal(t, float64(0), body["old_status"])
	assert.Equal(t, float64(1), body["new_status"])
}

func TestCompleteSaleNotFound(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "Failed to complete product sale",
			"error":   "NotFound",
		})
	})

	_, err := c.CompleteSale(context.Background(), 3, "0xbuyer", "0xtx")
	assert.ErrorIs(t, err, database.ErrSaleNotFound)

	got := (*calls)[0]
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "/api/sales/complete", got.path)
	assert.Equal(t, "0xbuyer", got.body["buyer_address"])
}

func TestUpdateProductSendsPatch(t *testing.T) {
	c, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"blockchain_product_id": 2, "current_status": 3, "is_for_sale": true, "price_wei": "500"},
		})
	})

	status := models.StatusForSale
	forSale := true
	price := decimal.NewFromInt(500)
	p, err := c.UpdateProduct(context.Background(), 2, models.ProductPatch{CurrentStatus: &status, IsForSale: &forSale, PriceWei: &price})
	require.NoError(t, err)
	assert.True(t, p.PriceWei.Equal(price))

	body := (*calls)[0].body
	assert.Equal(t, "/api/products/2", (*calls)[0].path)
	assert.Equal(t, float64(3), body["current_status"])
	assert.NotContains(t, body, "product_name")
}

func TestServerErrorIsStatusError(t *testing.T) {
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"message": "Failed to store blockchain event",
			"error":   "Internal",
		})
	})

	_, err := c.RecordEvent(context.Background(), models.BlockchainEvent{EventType: "ProductHarvested", ProductID: 1})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "Failed to store blockchain event", statusErr.Message)
}

func TestPing(t *testing.T) {
	healthy := true
	c, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request, body map[string]interface{}) {
		if healthy {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"status": "ERROR"})
	})

	assert.NoError(t, c.Ping(context.Background()))
	healthy = false
	assert.Error(t, c.Ping(context.Background()))
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, 500*time.Millisecond, zap.NewNop())
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, database.IsUnavailable(err))
}
