package session

import (
	"context"
	"fmt"

	"areahood/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
)

// Open builds the backend selected by cfg.SessionBackend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.SessionBackend {
	case config.BackendMemory, "":
		return NewMemoryStore(), nil
	case config.BackendRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.SessionKey)
	case config.BackendSQLite:
		return OpenSQL(sqlite.Open(cfg.SessionDSN), config.BackendSQLite, cfg.SessionKey)
	case config.BackendPostgres:
		return OpenSQL(postgres.Open(cfg.SessionDSN), config.BackendPostgres, cfg.SessionKey)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}
}
