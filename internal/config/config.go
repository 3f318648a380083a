package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pinnit.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Local      LocalConfig      `toml:"local"`
	Remote     RemoteConfig     `toml:"remote"`
	Encryption EncryptionConfig `toml:"encryption"`
	Auth       AuthConfig       `toml:"auth"`
	Network    NetworkConfig    `toml:"network"`
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
}

// LocalConfig represents configuration for the on-device pin store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LocalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// RemoteConfig represents configuration for the remote pin store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "none", "memory", "filesystem", "s3", "postgres" or "http"

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// Postgres-specific fields (only used when Type == "postgres")
	PostgresDSN string `toml:"postgres_dsn,omitempty"`

	// HTTP-specific fields (only used when Type == "http")
	HTTPURL        string `toml:"http_url,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to seal remote blobs.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// AuthConfig configures how accounts are verified.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AuthConfig struct {
	Type string `toml:"type"` // "local" or "http"

	// Local-specific fields (only used when Type == "local"); the server
	// always uses these.
	Secret        string       `toml:"secret,omitempty"`
	TokenTTLHours int          `toml:"token_ttl_hours,omitempty"`
	Users         []UserConfig `toml:"users,omitempty"`

	// HTTP-specific fields (only used when Type == "http")
	URL string `toml:"url,omitempty"`
}

// UserConfig is one account known to a local auth provider.
type UserConfig struct {
	ID           string `toml:"id"`
	Username     string `toml:"username"`
	DisplayName  string `toml:"display_name,omitempty"`
	PasswordHash string `toml:"password_hash"` // bcrypt
}

// NetworkConfig configures the connectivity observer.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type NetworkConfig struct {
	Type                string `toml:"type"` // "static" or "probe"
	Online              bool   `toml:"online,omitempty"`                // only used for type=static
	ProbeURL            string `toml:"probe_url,omitempty"`             // only used for type=probe
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds,omitempty"` // only used for type=probe
	PollIntervalSeconds int    `toml:"poll_interval_seconds,omitempty"` // only used for type=probe
}

// LogConfig controls the log file and its rotation.
type LogConfig struct {
	Level      string `toml:"level"` // "debug", "info", "warn" or "error"
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ServerConfig configures pinnit-server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else. The defaults keep pins on the device only.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID: deviceID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Local: LocalConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Remote: RemoteConfig{Type: "none"},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "pinnit.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "pinnit.key"),
		},
		Auth: AuthConfig{
			Type:          "local",
			TokenTTLHours: 24 * 30,
		},
		Network: NetworkConfig{
			Type:                "probe",
			ProbeTimeoutSeconds: 3,
			PollIntervalSeconds: 30,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Config can carry an auth secret and S3 credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
