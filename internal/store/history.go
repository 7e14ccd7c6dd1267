package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/agri-supply-tracker/internal/models"
)

func CreateStatusChange(ctx context.Context, db *sql.DB, in models.StatusChangeRecord) (*models.StatusChangeRecord, error) {
	record := &models.StatusChangeRecord{}

	query := `
		INSERT INTO product_status_history (product_id, blockchain_product_id, old_status, new_status,
			changed_by, transaction_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, product_id, blockchain_product_id, old_status, new_status, changed_by, transaction_hash, created_at`

	err := db.QueryRowContext(ctx, query,
		in.ProductID,
		in.BlockchainProductID,
		in.OldStatus,
		in.NewStatus,
		in.ChangedBy,
		in.TransactionHash,
	).Scan(
		&record.ID,
		&record.ProductID,
		&record.BlockchainProductID,
		&record.OldStatus,
		&record.NewStatus,
		&record.ChangedBy,
		&record.TransactionHash,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create status change: %w", err)
	}

	return record, nil
}

// ListStatusHistory pages through a product's status changes, newest first.
func ListStatusHistory(ctx context.Context, db *sql.DB, ledgerID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	query := `
		SELECT id, product_id, blockchain_product_id, old_status, new_status, changed_by, transaction_hash, created_at
		FROM product_status_history
		WHERE blockchain_product_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, ledgerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	records := []models.StatusChangeRecord{}
	for rows.Next() {
		var record models.StatusChangeRecord
		err := rows.Scan(
			&record.ID,
			&record.ProductID,
			&record.BlockchainProductID,
			&record.OldStatus,
			&record.NewStatus,
			&record.ChangedBy,
			&record.TransactionHash,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}

	var nextCursor string
	if hasMore && len(records) > 0 {
		last := records[len(records)-1]
		nextCursor = EncodeCursor(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	return &CursorPage{
		Items:      records,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
