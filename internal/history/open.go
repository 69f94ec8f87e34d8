package history

import (
	"context"

	"github.com/rotisserie/eris"
)

// DefaultSQLitePath is used when the sqlite driver has no DSN.
const DefaultSQLitePath = "riskfusion.db"

// Open connects the backend named by driver and migrates its schema.
func Open(ctx context.Context, driver, dsn, workspace string, pool *PoolConfig) (Backend, error) {
	var b Backend
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		l, err := NewSQLite(dsn, workspace)
		if err != nil {
			return nil, err
		}
		b = l
	case "postgres":
		if dsn == "" {
			return nil, eris.New("history: postgres driver requires a database URL")
		}
		l, err := NewPostgres(ctx, dsn, workspace, pool)
		if err != nil {
			return nil, err
		}
		b = l
	default:
		return nil, eris.Errorf("history: unsupported store driver: %s", driver)
	}

	if err := b.Migrate(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}
