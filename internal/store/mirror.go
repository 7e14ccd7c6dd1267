package store

import (
	"context"
	"database/sql"

	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/models"
)

// Mirror binds the mirror table functions to one connection pool.
type Mirror struct {
	db *sql.DB
}

func NewMirror(db *sql.DB) *Mirror {
	return &Mirror{db: db}
}

func (m *Mirror) Ping(ctx context.Context) error {
	return database.Ping(ctx, m.db)
}

func (m *Mirror) TableStatus(ctx context.Context) map[string]bool {
	return database.TableStatus(ctx, m.db)
}

func (m *Mirror) RecordProduct(ctx context.Context, p models.MirrorProduct) (*models.MirrorProduct, error) {
	return CreateProduct(ctx, m.db, p)
}

func (m *Mirror) GetProduct(ctx context.Context, ledgerID int64) (*models.MirrorProduct, error) {
	return GetProduct(ctx, m.db, ledgerID)
}

func (m *Mirror) ListProducts(ctx context.Context) ([]models.MirrorProduct, error) {
	return ListProducts(ctx, m.db)
}

func (m *Mirror) UpdateProduct(ctx context.Context, ledgerID int64, patch models.ProductPatch) (*models.MirrorProduct, error) {
	return UpdateProduct(ctx, m.db, ledgerID, patch)
}

func (m *Mirror) RecordSale(ctx context.Context, sale models.SaleRecord) (*models.SaleRecord, error) {
	return CreateSale(ctx, m.db, sale)
}

func (m *Mirror) CompleteSale(ctx context.Context, ledgerID int64, buyer, txHash string) (*models.SaleRecord, error) {
	return CompleteSale(ctx, m.db, ledgerID, buyer, txHash)
}

func (m *Mirror) RecordStatusChange(ctx context.Context, rec models.StatusChangeRecord) (*models.StatusChangeRecord, error) {
	return CreateStatusChange(ctx, m.db, rec)
}

func (m *Mirror) ListStatusHistory(ctx context.Context, ledgerID int64, cursor string, limit int) (*CursorPage, error) {
	return ListStatusHistory(ctx, m.db, ledgerID, cursor, limit)
}

func (m *Mirror) RecordEvent(ctx context.Context, ev models.BlockchainEvent) (*models.BlockchainEvent, error) {
	return CreateEvent(ctx, m.db, ev)
}
