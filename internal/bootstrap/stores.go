// Package bootstrap wires configuration into runtime components.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/cronbox/internal/config"
	"github.com/nextlevelbuilder/cronbox/internal/cron"
	"github.com/nextlevelbuilder/cronbox/internal/store/file"
	"github.com/nextlevelbuilder/cronbox/internal/store/memory"
	"github.com/nextlevelbuilder/cronbox/internal/store/sqldb"
)

// OpenStore opens the persistence backend selected by cfg.
// The caller owns the returned store and must Close it.
func OpenStore(cfg *config.Config) (cron.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		slog.Info("using in-memory store")
		return memory.New(), nil

	case config.BackendFile:
		path := config.ExpandHome(cfg.Store.Path)
		slog.Info("using file store", "path", path)
		return file.New(path)

	case config.BackendSQL:
		dsn := cfg.Store.DSN
		if cfg.Store.Driver == sqldb.DriverSQLite {
			dsn = config.ExpandHome(dsn)
		}
		slog.Info("using sql store", "driver", cfg.Store.Driver)
		return sqldb.Open(cfg.Store.Driver, dsn)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
