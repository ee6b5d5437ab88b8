package bootstrap

import (
	"fmt"
	"os"

	"bastion/config"
	"bastion/storage"

	"go.uber.org/zap"
)

// InitStore opens the SQLite event store at datastore.path
func InitStore(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	dbPath := cfg.Datastore.Path
	sqlite, err := storage.NewSQLite(dbPath, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dbPath)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: Event Store Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}

	sugar.Infow("Event store initialized", "path", dbPath)
	return sqlite, nil
}
