package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("code_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("code_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("code_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("code_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("code_store.unsupported_no_scheme")
)

// DatabaseCodeStore shares exchanged codes between processes using GORM.
type DatabaseCodeStore struct {
	db          *gorm.DB
	driverLabel string
	ttl         time.Duration
}

// Driver exposes the selected database driver label.
func (store *DatabaseCodeStore) Driver() string {
	return store.driverLabel
}

type processedCodeRecord struct {
	CodeHash      string `gorm:"column:code_hash;primaryKey"`
	ExchangedUnix int64  `gorm:"column:exchanged_unix;not null"`
	ExpiresUnix   int64  `gorm:"column:expires_unix;index;not null"`
}

func (processedCodeRecord) TableName() string {
	return "processed_codes"
}

// NewDatabaseCodeStore constructs a GORM-backed store for postgres:// or sqlite:// URLs.
func NewDatabaseCodeStore(ctx context.Context, databaseURL string, ttl time.Duration) (*DatabaseCodeStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("code_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("code_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&processedCodeRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("code_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &DatabaseCodeStore{
		db:          gormDB,
		driverLabel: driverLabel,
		ttl:         ttl,
	}, nil
}

// Claim inserts the code hash; an existing unexpired row means the code is replayed.
// Expired rows are overwritten in the same statement.
func (store *DatabaseCodeStore) Claim(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code_store.claim.%s: %w", store.driverLabel, ErrCodeEmpty)
	}
	now := currentClock().Now().UTC()
	record := processedCodeRecord{
		CodeHash:      hashCode(code),
		ExchangedUnix: now.Unix(),
		ExpiresUnix:   now.Add(store.ttl).Unix(),
	}
	result := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"exchanged_unix", "expires_unix"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "processed_codes.expires_unix < ?", Vars: []interface{}{now.Unix()}},
		}},
	}).Create(&record)
	if result.Error != nil {
		return fmt.Errorf("code_store.claim.%s: %w", store.driverLabel, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("code_store.claim.%s: %w", store.driverLabel, ErrCodeReplayed)
	}
	return nil
}

// Release deletes the code hash so the code may be claimed again.
func (store *DatabaseCodeStore) Release(ctx context.Context, code string) error {
	result := store.db.WithContext(ctx).Where("code_hash = ?", hashCode(code)).Delete(&processedCodeRecord{})
	if result.Error != nil {
		return fmt.Errorf("code_store.release.%s: %w", store.driverLabel, result.Error)
	}
	return nil
}

// PurgeExpired removes rows whose validity window has passed.
func (store *DatabaseCodeStore) PurgeExpired(ctx context.Context) (int64, error) {
	result := store.db.WithContext(ctx).Where("expires_unix < ?", currentClock().Now().UTC().Unix()).Delete(&processedCodeRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("code_store.purge.%s: %w", store.driverLabel, result.Error)
	}
	return result.RowsAffected, nil
}

// Close releases the underlying connection pool.
func (store *DatabaseCodeStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("code_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("code_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("code_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("code_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
