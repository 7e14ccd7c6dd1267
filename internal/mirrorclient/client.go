// Package mirrorclient talks to the mirror backend's REST API. It implements mirror.Writer
// for tracker nodes that do not own the database.
package mirrorclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		logger: logger,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("GET /health: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &StatusError{Method: http.MethodGet, Path: "/health", Code: resp.StatusCode(), Message: resp.String()}
	}
	return nil
}

// do sends body and decodes the envelope's data into out. A 404 becomes notFound when given.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, notFound error) error {
	var env envelope
	req := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() {
		if resp.StatusCode() == http.StatusNotFound && notFound != nil {
			return notFound
		}
		msg := env.Message
		if msg == "" {
			msg = resp.String()
		}
		c.logger.Debug("mirror backend rejected request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode()),
			zap.String("error", env.Error),
		)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode(), Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) RecordProduct(ctx context.Context, p models.MirrorProduct) (*models.MirrorProduct, error) {
	body := struct {
		BlockchainProductID    *int64          `json:"blockchain_product_id,omitempty"`
		ProductName            string          `json:"product_name"`
		FarmerName             string          `json:"farmer_name"`
		FarmLocation           string          `json:"farm_location"`
		HarvestDate            int64           `json:"harvest_date"`
		BlockchainOwnerAddress string          `json:"blockchain_owner_address"`
		CurrentStatus          models.Status   `json:"current_status"`
		PriceWei               decimal.Decimal `json:"price_wei"`
		IsForSale              bool            `json:"is_for_sale"`
	}{
		ProductName:            p.ProductName,
		FarmerName:             p.FarmerName,
		FarmLocation:           p.FarmLocation,
		HarvestDate:            p.HarvestDate,
		BlockchainOwnerAddress: p.BlockchainOwnerAddress,
		CurrentStatus:          p.CurrentStatus,
		PriceWei:               p.PriceWei,
		IsForSale:              p.IsForSale,
	}
	if p.BlockchainProductID > 0 {
		id := p.BlockchainProductID
		body.BlockchainProductID = &id
	}

	var out models.MirrorProduct
	if err := c.do(ctx, http.MethodPost, "/api/products", body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProduct(ctx context.Context, ledgerID int64, patch models.ProductPatch) (*models.MirrorProduct, error) {
	var out models.MirrorProduct
	path := "/api/products/" + strconv.FormatInt(ledgerID, 10)
	if err := c.do(ctx, http.MethodPut, path, patch, &out, database.ErrProductNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProduct(ctx context.Context, ledgerID int64) (*models.MirrorProduct, error) {
	var out models.MirrorProduct
	path := "/api/products/" + strconv.FormatInt(ledgerID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out, database.ErrProductNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProducts(ctx context.Context) ([]models.MirrorProduct, error) {
	var out []models.MirrorProduct
	if err := c.do(ctx, http.MethodGet, "/api/products", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RecordStatusChange(ctx context.Context, rec models.StatusChangeRecord) (*models.StatusChangeRecord, error) {
	var out models.StatusChangeRecord
	if err := c.do(ctx, http.MethodPost, "/api/status-history", rec, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecordSale(ctx context.Context, sale models.SaleRecord) (*models.SaleRecord, error) {
	var out models.SaleRecord
	if err := c.do(ctx, http.MethodPost, "/api/sales", sale, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CompleteSale(ctx context.Context, ledgerID int64, buyer, txHash string) (*models.SaleRecord, error) {
	body := map[string]interface{}{
		"product_id":       ledgerID,
		"buyer_address":    buyer,
		"transaction_hash": txHash,
	}

	var out models.SaleRecord
	if err := c.do(ctx, http.MethodPut, "/api/sales/complete", body, &out, database.ErrSaleNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RecordEvent(ctx context.Context, ev models.BlockchainEvent) (*models.BlockchainEvent, error) {
	var out models.BlockchainEvent
	if err := c.do(ctx, http.MethodPost, "/api/events", ev, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}
