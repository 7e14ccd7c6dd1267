package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/models"
)

const productColumns = `id, blockchain_product_id, product_name, farmer_name, farm_location, harvest_date,
	blockchain_owner_address, current_status, price_wei, is_for_sale, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, product *models.MirrorProduct) error {
	return row.Scan(
		&product.ID,
		&product.BlockchainProductID,
		&product.ProductName,
		&product.FarmerName,
		&product.FarmLocation,
		&product.HarvestDate,
		&product.BlockchainOwnerAddress,
		&product.CurrentStatus,
		&product.PriceWei,
		&product.IsForSale,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
}

// CreateProduct stores a product row keyed by its ledger id. A zero ledger id is replaced by
// the next free one (max + 1); an existing ledger id is overwritten, so a ledger product is
// never mirrored twice.
func CreateProduct(ctx context.Context, db *sql.DB, in models.MirrorProduct) (*models.MirrorProduct, error) {
	product := &models.MirrorProduct{}

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		ledgerID := in.BlockchainProductID
		if ledgerID == 0 {
			next, err := nextLedgerID(ctx, tx)
			if err != nil {
				return err
			}
			ledgerID = next
		}

		query := `
			INSERT INTO products (blockchain_product_id, product_name, farmer_name, farm_location, harvest_date,
				blockchain_owner_address, current_status, price_wei, is_for_sale, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			ON CONFLICT (blockchain_product_id) DO UPDATE SET
				product_name = EXCLUDED.product_name,
				farmer_name = EXCLUDED.farmer_name,
				farm_location = EXCLUDED.farm_location,
				harvest_date = EXCLUDED.harvest_date,
				blockchain_owner_address = EXCLUDED.blockchain_owner_address,
				current_status = EXCLUDED.current_status,
				price_wei = EXCLUDED.price_wei,
				is_for_sale = EXCLUDED.is_for_sale,
				updated_at = NOW()
			RETURNING ` + productColumns

		row := tx.QueryRowContext(ctx, query,
			ledgerID,
			in.ProductName,
			in.FarmerName,
			in.FarmLocation,
			in.HarvestDate,
			in.BlockchainOwnerAddress,
			in.CurrentStatus,
			in.PriceWei,
			in.IsForSale,
		)
		if err := scanProduct(row, product); err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func nextLedgerID(ctx context.Context, tx *sql.Tx) (int64, error) {
	var maxID sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(blockchain_product_id) FROM products`).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("next product id: %w", err)
	}
	if !maxID.Valid {
		return 1, nil
	}
	return maxID.Int64 + 1, nil
}

func GetProduct(ctx context.Context, db *sql.DB, ledgerID int64) (*models.MirrorProduct, error) {
	product := &models.MirrorProduct{}

	query := `SELECT ` + productColumns + ` FROM products WHERE blockchain_product_id = $1`

	err := scanProduct(db.QueryRowContext(ctx, query, ledgerID), product)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

func ListProducts(ctx context.Context, db *sql.DB) ([]models.MirrorProduct, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.MirrorProduct{}
	for rows.Next() {
		var product models.MirrorProduct
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// UpdateProduct applies the non-nil fields of patch to the row for ledgerID.
func UpdateProduct(ctx context.Context, db *sql.DB, ledgerID int64, patch models.ProductPatch) (*models.MirrorProduct, error) {
	if patch.Empty() {
		return GetProduct(ctx, db, ledgerID)
	}

	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.ProductName != nil {
		add("product_name", *patch.ProductName)
	}
	if patch.FarmerName != nil {
		add("farmer_name", *patch.FarmerName)
	}
	if patch.FarmLocation != nil {
		add("farm_location", *patch.FarmLocation)
	}
	if patch.HarvestDate != nil {
		add("harvest_date", *patch.HarvestDate)
	}
	if patch.BlockchainOwnerAddress != nil {
		add("blockchain_owner_address", *patch.BlockchainOwnerAddress)
	}
	if patch.CurrentStatus != nil {
		add("current_status", *patch.CurrentStatus)
	}
	if patch.PriceWei != nil {
		add("price_wei", *patch.PriceWei)
	}
	if patch.IsForSale != nil {
		add("is_for_sale", *patch.IsForSale)
	}

	args = append(args, ledgerID)
	query := fmt.Sprintf(`UPDATE products SET %s, updated_at = NOW() WHERE blockchain_product_id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), productColumns)

	product := &models.MirrorProduct{}
	if err := scanProduct(db.QueryRowContext(ctx, query, args...), product); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}
