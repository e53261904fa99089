package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"gend/internal/config"
)

// Open builds the store selected by the config.
func Open(ctx context.Context, cfg config.Store, log zerolog.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN, log)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
