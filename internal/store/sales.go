package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/models"
)

const saleColumns = `id, product_id, blockchain_product_id, seller_address, buyer_address, sale_price_wei,
	sale_status, transaction_hash, created_at, updated_at`

func scanSale(row rowScanner, sale *models.SaleRecord) error {
	var buyer sql.NullString
	err := row.Scan(
		&sale.ID,
		&sale.ProductID,
		&sale.BlockchainProductID,
		&sale.SellerAddress,
		&buyer,
		&sale.SalePriceWei,
		&sale.SaleStatus,
		&sale.TransactionHash,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if buyer.Valid {
		sale.BuyerAddress = &buyer.String
	}
	return nil
}

func CreateSale(ctx context.Context, db *sql.DB, in models.SaleRecord) (*models.SaleRecord, error) {
	if in.SaleStatus == "" {
		in.SaleStatus = models.SaleStatusListed
	}

	query := `
		INSERT INTO product_sales (product_id, blockchain_product_id, seller_address, buyer_address,
			sale_price_wei, sale_status, transaction_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING ` + saleColumns

	sale := &models.SaleRecord{}
	err := scanSale(db.QueryRowContext(ctx, query,
		in.ProductID,
		in.BlockchainProductID,
		in.SellerAddress,
		in.BuyerAddress,
		in.SalePriceWei,
		in.SaleStatus,
		in.TransactionHash,
	), sale)
	if err != nil {
		return nil, fmt.Errorf("create sale: %w", err)
	}

	return sale, nil
}

// CompleteSale marks the most recent listing of a product as sold to buyer and flips the
// product row to its sold state in the same transaction.
func CompleteSale(ctx context.Context, db *sql.DB, ledgerID int64, buyer, txHash string) (*models.SaleRecord, error) {
	sale := &models.SaleRecord{}

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var saleID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM product_sales
			 WHERE blockchain_product_id = $1 AND sale_status = $2
			 ORDER BY created_at DESC, id DESC
			 LIMIT 1
			 FOR UPDATE`,
			ledgerID, models.SaleStatusListed).Scan(&saleID)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrSaleNotFound
			}
			return fmt.Errorf("lock sale: %w", err)
		}

		err = scanSale(tx.QueryRowContext(ctx,
			`UPDATE product_sales
			 SET buyer_address = $1, sale_status = $2, transaction_hash = $3, updated_at = NOW()
			 WHERE id = $4
			 RETURNING `+saleColumns,
			buyer, models.SaleStatusSold, txHash, saleID), sale)
		if err != nil {
			return fmt.Errorf("complete sale: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE products
			 SET blockchain_owner_address = $1, current_status = $2, is_for_sale = FALSE, updated_at = NOW()
			 WHERE blockchain_product_id = $3`,
			buyer, models.StatusSold, ledgerID)
		if err != nil {
			return fmt.Errorf("update sold product: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return sale, nil
}
