package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/agri-supply-tracker/internal/config"
)

const pingTimeout = 5 * time.Second

// MirrorTables lists the tables owned by the mirror, in dependency order.
var MirrorTables = []string{"products", "product_sales", "product_status_history", "blockchain_events"}

// Open configures the pool without connecting, for callers that tolerate a database that is
// down at startup.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func NewConnection(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	if err := Ping(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Ping checks the connection with a bounded timeout.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// TableStatus reports, per mirror table, whether a trivial read against it succeeds.
func TableStatus(ctx context.Context, db *sql.DB) map[string]bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := make(map[string]bool, len(MirrorTables))
	for _, table := range MirrorTables {
		var one int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1").Scan(&one)
		status[table] = err == nil || err == sql.ErrNoRows
	}
	return status
}
