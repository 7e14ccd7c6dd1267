package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/agri-supply-tracker/internal/models"
)

func CreateEvent(ctx context.Context, db *sql.DB, in models.BlockchainEvent) (*models.BlockchainEvent, error) {
	event := &models.BlockchainEvent{}

	// lib/pq sends []byte as bytea, so the jsonb payload goes over as text.
	var data any
	if len(in.EventData) > 0 {
		data = string(in.EventData)
	}

	var raw []byte
	err := db.QueryRowContext(ctx,
		`INSERT INTO blockchain_events (event_type, product_id, blockchain_product_id, event_data,
			transaction_hash, block_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING id, event_type, product_id, blockchain_product_id, event_data, transaction_hash, block_number, created_at`,
		in.EventType,
		in.ProductID,
		in.BlockchainProductID,
		data,
		in.TransactionHash,
		in.BlockNumber,
	).Scan(
		&event.ID,
		&event.EventType,
		&event.ProductID,
		&event.BlockchainProductID,
		&raw,
		&event.TransactionHash,
		&event.BlockNumber,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	event.EventData = raw

	return event, nil
}
