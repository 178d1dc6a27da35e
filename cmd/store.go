package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/devcarbon/internal/config"
	"github.com/sells-group/devcarbon/internal/store"
)

// initStore opens the configured store. It returns a nil Store for the
// "none" driver.
func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "devcarbon.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
