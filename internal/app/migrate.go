package app

import (
	"context"
	"fmt"
	"os"

	"meterseed/internal/storage"
)

// Migrate applies the schema files under database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	store := storage.NewStore(pool)
	defer store.Close()

	dir := a.Config.Database.MigrationsPath
	ran, err := store.ApplyMigrations(ctx, dir)
	for _, v := range ran {
		fmt.Fprintf(os.Stdout, "applied %s\n", v)
	}
	if err != nil {
		return err
	}
	a.Logger.Info().Str("dir", dir).Int("applied", len(ran)).Msg("schema up to date")
	return nil
}
