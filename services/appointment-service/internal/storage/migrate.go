package storage

import (
	"context"
	"embed"

	"github.com/Serryudy/EAD-sub001/libs/db"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to date.
func Migrate(ctx context.Context, pool *db.Pool) error {
	return db.Migrate(ctx, pool, migrationsFS, "migrations")
}
