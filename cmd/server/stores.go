package main

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/tyemirov/briefing/internal/authkit"
	"github.com/tyemirov/briefing/internal/authkitpg"
	"go.uber.org/zap"
)

var openPostgresCodeStore = func(ctx context.Context, databaseURL string, ttl time.Duration) (postgresCodeStore, error) {
	return authkitpg.OpenPostgresCodeStore(ctx, databaseURL, ttl)
}

type postgresCodeStore interface {
	authkit.CodeStore
	expiredCodePurger
	Close()
}

type expiredCodePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type codeStoreHandle struct {
	store  authkit.CodeStore
	purger expiredCodePurger
	driver string
	close  func()
}

// openCodeStore selects the processed-code store. auto picks pgx for postgres
// URLs, GORM for other URLs, and memory when no URL is configured.
func openCodeStore(ctx context.Context, serverConfig ServiceConfig) (codeStoreHandle, error) {
	ttl := serverConfig.Auth.FlowTTL
	backend := serverConfig.CodeStore
	if backend == codeStoreAuto {
		backend = resolveAutoCodeStore(serverConfig.DatabaseURL)
	}
	switch backend {
	case codeStorePGX:
		store, openErr := openPostgresCodeStore(ctx, serverConfig.DatabaseURL, ttl)
		if openErr != nil {
			return codeStoreHandle{}, openErr
		}
		return codeStoreHandle{store: store, purger: store, driver: "pgx", close: store.Close}, nil
	case codeStoreGORM:
		store, openErr := authkit.NewDatabaseCodeStore(ctx, serverConfig.DatabaseURL, ttl)
		if openErr != nil {
			return codeStoreHandle{}, openErr
		}
		return codeStoreHandle{
			store:  store,
			purger: store,
			driver: "gorm/" + store.Driver(),
			close:  func() { _ = store.Close() },
		}, nil
	default:
		return codeStoreHandle{store: authkit.NewMemoryCodeStore(ttl), driver: codeStoreMemory, close: func() {}}, nil
	}
}

func resolveAutoCodeStore(databaseURL string) string {
	if databaseURL == "" {
		return codeStoreMemory
	}
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr == nil {
		switch strings.ToLower(parsed.Scheme) {
		case "postgres", "postgresql":
			return codeStorePGX
		}
	}
	return codeStoreGORM
}

func purgeExpiredCodes(ctx context.Context, logger *zap.Logger, purger expiredCodePurger, interval time.Duration) {
	if interval <= 0 {
		interval = authkit.DefaultCodeTTL
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, purgeErr := purger.PurgeExpired(ctx)
			if purgeErr != nil {
				logger.Warn("processed-code purge failed", zap.String("code", "code_store.purge_failed"), zap.Error(purgeErr))
				continue
			}
			if removed > 0 {
				logger.Info("processed codes purged", zap.Int64("removed", removed))
			}
		}
	}
}
