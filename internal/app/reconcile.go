package app

import (
	"context"
	"fmt"
	"os"
)

// Reconcile rebuilds the rollup rules of one device without generating points.
func (a *App) Reconcile(ctx context.Context, serial int64) error {
	seeder, cleanup, err := a.newSeeder(ctx, false, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := seeder.Reconcile(ctx, serial)
	if err != nil {
		return err
	}

	for _, name := range res.Dropped {
		fmt.Fprintf(os.Stdout, "dropped   %s\n", name)
	}
	for _, name := range res.Installed {
		fmt.Fprintf(os.Stdout, "installed %s\n", name)
	}
	return nil
}
