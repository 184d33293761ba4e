package database

import (
	"fmt"

	"github.com/itbees/mdbctl/internal/ledger"
	"github.com/itbees/mdbctl/internal/logger"
	"go.uber.org/zap"
)

// AutoMigrate creates or updates the ledger schema, guarded by a
// driver-appropriate migration lock so that two processes sharing the same
// ledger database don't migrate concurrently.
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	CleanupStaleLocks()

	release, err := acquireMigrationLock()
	if err != nil {
		logger.Error("could not acquire migration lock", zap.Error(err))
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer release()

	if err := ledger.Migrate(DB); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}

	logger.Info("ledger schema migrated")
	return nil
}
