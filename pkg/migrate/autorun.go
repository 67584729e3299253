package migrate

import (
	"context"
	"fmt"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

// MaybeRunDev applies the embedded billing schema on startup when running in
// dev with the auto-migrate flag on. Other environments run cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	migrator, err := New(sqlDB)
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	applied, err := migrator.Up(ctx)
	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     a.Version,
			"path":        a.Path,
			"duration_ms": a.Duration.Milliseconds(),
		}), "billing migration applied")
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		logg.Info(ctx, "billing schema up to date")
	}
	return nil
}
