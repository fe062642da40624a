package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/extract-cli/internal/schema"
	"github.com/sells-group/extract-cli/internal/store"
)

// initRegistry returns the built-in variants plus any from
// extract.schemas_file (or the override path when non-empty).
func initRegistry(override string) (*schema.Registry, error) {
	reg := schema.DefaultRegistry()
	path := cfg.Extract.SchemasFile
	if override != "" {
		path = override
	}
	if path == "" {
		return reg, nil
	}
	if _, err := reg.LoadFile(path); err != nil {
		return nil, eris.Wrap(err, "load schemas file")
	}
	return reg, nil
}

func initStore(ctx context.Context, reg *schema.Registry) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "extractions.db"
		}
		return store.NewSQLite(dsn, reg)
	case "postgres":
		var poolCfg *store.PoolConfig
		if cfg.Store.MaxConns > 0 {
			poolCfg = &store.PoolConfig{MaxConns: cfg.Store.MaxConns}
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg, reg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store. Callers close it.
func openStore(ctx context.Context, reg *schema.Registry) (store.Store, error) {
	st, err := initStore(ctx, reg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
