package remote

import (
	"context"
	"fmt"
	"time"

	"pinnit-go/internal/config"
	"pinnit-go/internal/encryption"
	"pinnit-go/internal/pinnit"
)

const defaultHTTPTimeout = 10 * time.Second

// NewRemoteFromConfig creates a RemoteStore based on the remote config type.
// It returns nil for "none": signed-in writes then stay pending.
// sealer is only used by the blob backends (filesystem, s3).
func NewRemoteFromConfig(ctx context.Context, cfg config.RemoteConfig, sealer *encryption.Sealer) (pinnit.RemoteStore, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemoryRemote(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem remote requires fs_root to be set")
		}
		return NewFileSystemRemote(cfg.FSRoot, sealer)
	case "s3":
		return NewS3Remote(ctx, cfg, sealer)
	case "postgres":
		return NewPostgresRemote(ctx, cfg.PostgresDSN)
	case "http":
		if cfg.HTTPURL == "" {
			return nil, fmt.Errorf("http remote requires http_url to be set")
		}
		timeout := defaultHTTPTimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		return NewHTTPRemote(cfg.HTTPURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
	}
}
