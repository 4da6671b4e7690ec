package authkitpg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS processed_codes (
    code_hash TEXT PRIMARY KEY,
    exchanged_unix BIGINT NOT NULL,
    expires_unix BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_codes_expires ON processed_codes (expires_unix);
`)
	return err
}
