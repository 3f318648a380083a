package auth

import (
	"fmt"
	"time"

	"pinnit-go/internal/config"
	"pinnit-go/internal/pinnit"
)

// NewProviderFromConfig creates a Provider based on the auth config type.
func NewProviderFromConfig(cfg config.AuthConfig, clock pinnit.Clock) (Provider, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalProvider(cfg, clock)
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("url required for http auth")
		}
		return NewHTTPProvider(cfg.URL, 10*time.Second), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}
