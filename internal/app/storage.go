package app

import (
	"fmt"

	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/storage"
	_ "webhook-relay/internal/storage/memory"
	_ "webhook-relay/internal/storage/sqlstore"
)

func (app *App) initializeStorage() error {
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
	case "memory":
		app.Logger.Warn("Database: in-memory; events and registry are lost on restart")
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	store, err := storage.NewStorage(app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Storage = store
	return nil
}
