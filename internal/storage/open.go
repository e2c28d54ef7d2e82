package storage

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"medremind/internal/reminder"
	logx "medremind/pkg/logx"
)

// Store is the reminder store plus lifecycle.
type Store interface {
	reminder.Store
	Close() error
}

// Open initializes the configured store and verifies it is reachable within
// cfg.ConnectTimeout. The returned store is a process-wide pool.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "file":
		return openFile(cfg, log)
	case "mongo", "mongodb":
		return openMongo(ctx, cfg, log)
	case "postgres", "postgresql":
		return openPostgres(ctx, cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.Wrap(ErrUnknownDriver, driver)
	}
}
