package storage

import (
	"fmt"

	"webhook-relay/internal/common/errors"
	"webhook-relay/internal/config"
)

// NewStorage opens the storage adapter selected by cfg.DatabaseType. The
// adapter package must have been imported so its factory is registered.
func NewStorage(cfg *config.Config) (Storage, error) {
	storageType := cfg.DatabaseType
	if storageType == "postgresql" {
		storageType = "postgres"
	}

	if !DefaultRegistry.IsRegistered(storageType) {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	return DefaultRegistry.Create(storageType, cfg)
}
