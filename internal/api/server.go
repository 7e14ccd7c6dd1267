// Package api serves the mirror backend's JSON REST surface.
package api

import (
	"context"
	"net/http"

	"github.com/safar/agri-supply-tracker/internal/config"
	"github.com/safar/agri-supply-tracker/internal/metrics"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/safar/agri-supply-tracker/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "Agricultural Supply Chain API"

// Store is the persistence the handlers need. *store.Mirror satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	TableStatus(ctx context.Context) map[string]bool
	RecordProduct(ctx context.Context, p models.MirrorProduct) (*models.MirrorProduct, error)
	GetProduct(ctx context.Context, ledgerID int64) (*models.MirrorProduct, error)
	ListProducts(ctx context.Context) ([]models.MirrorProduct, error)
	UpdateProduct(ctx context.Context, ledgerID int64, patch models.ProductPatch) (*models.MirrorProduct, error)
	RecordSale(ctx context.Context, sale models.SaleRecord) (*models.SaleRecord, error)
	CompleteSale(ctx context.Context, ledgerID int64, buyer, txHash string) (*models.SaleRecord, error)
	RecordStatusChange(ctx context.Context, rec models.StatusChangeRecord) (*models.StatusChangeRecord, error)
	ListStatusHistory(ctx context.Context, ledgerID int64, cursor string, limit int) (*store.CursorPage, error)
	RecordEvent(ctx context.Context, ev models.BlockchainEvent) (*models.BlockchainEvent, error)
}

type Server struct {
	store   Store
	logger  *zap.Logger
	limiter *rate.Limiter
	origin  string
}

func NewServer(st Store, cfg config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		store:   st,
		logger:  logger,
		limiter: NewLimiter(cfg.RateLimit, cfg.RateBurst),
		origin:  cfg.AllowedOrigin,
	}
}

// Routes returns the full handler chain: CORS, rate limiting, then the instrumented routes.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /{$}", "root", s.handleRoot())
	s.handle(mux, "GET /health", "health", s.handleHealth())
	s.handle(mux, "GET /api/test-db", "test_db", s.handleTestDB())
	s.handle(mux, "GET /api/schema", "schema", s.handleSchema())

	s.handle(mux, "POST /api/products", "create_product", s.handleCreateProduct())
	s.handle(mux, "GET /api/products", "list_products", s.handleListProducts())
	s.handle(mux, "GET /api/products/{id}", "get_product", s.handleGetProduct())
	s.handle(mux, "PUT /api/products/{id}", "update_product", s.handleUpdateProduct())
	s.handle(mux, "GET /api/products/{id}/history", "product_history", s.handleProductHistory())

	s.handle(mux, "POST /api/sales", "create_sale", s.handleCreateSale())
	s.handle(mux, "PUT /api/sales/complete", "complete_sale", s.handleCompleteSale())
	s.handle(mux, "POST /api/status-history", "create_status_history", s.handleCreateStatusHistory())
	s.handle(mux, "POST /api/events", "create_event", s.handleCreateEvent())

	mux.Handle("GET /metrics", metrics.Handler())

	return CORS(s.origin, RateLimit(s.limiter, mux))
}

func (s *Server) handle(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, metrics.InstrumentHandler(name, h))
}
