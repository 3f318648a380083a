package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pinnit-go/internal/app"
	"pinnit-go/internal/auth"
	"pinnit-go/internal/config"
	"pinnit-go/internal/encryption"
	"pinnit-go/internal/pinnit"
	"pinnit-go/internal/remote"
	"pinnit-go/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file and applies PINNIT_SERVER_* overrides.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	var cfg *config.Config
	if _, statErr := os.Stat(defaults["config_path"]); statErr == nil {
		cfg, err = config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.NewConfig("pinnit-server", defaults["base_dir"])
	}

	if addr := os.Getenv("PINNIT_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dsn := os.Getenv("PINNIT_SERVER_DSN"); dsn != "" {
		cfg.Remote = config.RemoteConfig{Type: "postgres", PostgresDSN: dsn}
	}
	if secret := os.Getenv("PINNIT_SERVER_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults["log_dir"]
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logCloser, err := app.NewLogger(cfg.Log, cfg.LogDir, "server")
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Remote.Type {
	case "none", "", "http":
		return fmt.Errorf("pinnit-server needs a storage backend, got remote type %q", cfg.Remote.Type)
	}

	sealer, err := encryption.NewSealerFromConfig(cfg.Encryption, os.Getenv("PINNIT_PASSPHRASE"))
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	store, err := remote.NewRemoteFromConfig(ctx, cfg.Remote, sealer)
	if err != nil {
		return fmt.Errorf("creating pin store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	accounts, err := auth.NewLocalProvider(cfg.Auth, pinnit.RealClock{})
	if err != nil {
		return fmt.Errorf("creating account provider: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(store, accounts, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pinnit-server listening", "addr", cfg.Server.Addr, "backend", cfg.Remote.Type)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
