package authkitpg

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/briefing/internal/authkit"
)

var _ authkit.CodeStore = (*PostgresCodeStore)(nil)

// PostgresCodeStore shares exchanged authorization codes through PostgreSQL.
type PostgresCodeStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// OpenPostgresCodeStore builds a pool, ensures the schema, and returns the store.
func OpenPostgresCodeStore(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresCodeStore, error) {
	pool, poolErr := BuildPool(ctx, databaseURL)
	if poolErr != nil {
		return nil, fmt.Errorf("code_store.open.pgx: %w", poolErr)
	}
	if schemaErr := EnsureSchema(ctx, pool); schemaErr != nil {
		pool.Close()
		return nil, fmt.Errorf("code_store.migrate.pgx: %w", schemaErr)
	}
	return NewPostgresCodeStore(pool, ttl), nil
}

// Close releases the underlying pool.
func (store *PostgresCodeStore) Close() {
	store.pool.Close()
}

// NewPostgresCodeStore constructs a Postgres store whose claims live for ttl.
func NewPostgresCodeStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresCodeStore {
	if ttl <= 0 {
		ttl = authkit.DefaultCodeTTL
	}
	return &PostgresCodeStore{
		pool: pool,
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Claim inserts the code hash. An unexpired existing row is left untouched and
// reported as authkit.ErrCodeReplayed.
func (store *PostgresCodeStore) Claim(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code_store.claim.pgx: %w", authkit.ErrCodeEmpty)
	}
	now := store.now()
	tag, err := store.pool.Exec(ctx, `
INSERT INTO processed_codes (code_hash, exchanged_unix, expires_unix)
VALUES ($1, $2, $3)
ON CONFLICT (code_hash) DO UPDATE
SET exchanged_unix = EXCLUDED.exchanged_unix, expires_unix = EXCLUDED.expires_unix
WHERE processed_codes.expires_unix < $2
`, store.hash(code), now.Unix(), now.Add(store.ttl).Unix())
	if err != nil {
		return fmt.Errorf("code_store.claim.pgx: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("code_store.claim.pgx: %w", authkit.ErrCodeReplayed)
	}
	return nil
}

// Release deletes the code hash.
func (store *PostgresCodeStore) Release(ctx context.Context, code string) error {
	_, err := store.pool.Exec(ctx, `DELETE FROM processed_codes WHERE code_hash = $1`, store.hash(code))
	if err != nil {
		return fmt.Errorf("code_store.release.pgx: %w", err)
	}
	return nil
}

// PurgeExpired removes claims whose validity window has passed.
func (store *PostgresCodeStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := store.pool.Exec(ctx, `DELETE FROM processed_codes WHERE expires_unix < $1`, store.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("code_store.purge.pgx: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (store *PostgresCodeStore) hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
