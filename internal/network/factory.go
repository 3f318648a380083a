package network

import (
	"fmt"
	"strings"
	"time"

	"pinnit-go/internal/config"
	"pinnit-go/internal/pinnit"
)

// NewObserverFromConfig creates an Observer based on the network config type.
// A probe without a probe_url falls back to the remote's /healthz when the
// remote is a pinnit-server.
func NewObserverFromConfig(cfg config.NetworkConfig, remote config.RemoteConfig, logger pinnit.Logger) (Observer, error) {
	switch cfg.Type {
	case "static":
		return NewStatic(cfg.Online), nil
	case "probe", "":
		url := cfg.ProbeURL
		if url == "" && remote.Type == "http" && remote.HTTPURL != "" {
			url = strings.TrimRight(remote.HTTPURL, "/") + "/healthz"
		}
		timeout := 3 * time.Second
		if cfg.ProbeTimeoutSeconds > 0 {
			timeout = time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
		}
		interval := 30 * time.Second
		if cfg.PollIntervalSeconds > 0 {
			interval = time.Duration(cfg.PollIntervalSeconds) * time.Second
		}
		return NewProber(url, timeout, interval, logger), nil
	default:
		return nil, fmt.Errorf("unknown network type: %s", cfg.Type)
	}
}
