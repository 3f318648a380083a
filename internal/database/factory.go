package database

import (
	"fmt"
	"path/filepath"

	"pinnit-go/internal/config"
)

// NewLocalStoreFromConfig creates the on-device store based on the local config type.
func NewLocalStoreFromConfig(cfg config.LocalConfig, deviceID string) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite local store")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, deviceID+".db"))
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown local store type: %s", cfg.Type)
	}
}
