package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("PINNIT_CONFIG_PATH", "/custom/pinnit.toml")
		t.Setenv("PINNIT_HOME", "/custom/pinnit")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		want := map[string]string{
			"config_path": "/custom/pinnit.toml",
			"base_dir":    "/custom/pinnit",
			"log_dir":     "/custom/pinnit/log",
		}
		for k, v := range want {
			if defaults[k] != v {
				t.Errorf("%s = %q, want %q", k, defaults[k], v)
			}
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("PINNIT_CONFIG_PATH", "")
		t.Setenv("PINNIT_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()
		wantBase := filepath.Join(homeDir, ".local", "share", "pinnit")

		if want := filepath.Join(homeDir, ".config", "pinnit.toml"); defaults["config_path"] != want {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], want)
		}
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
		if want := filepath.Join(wantBase, "log"); defaults["log_dir"] != want {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], want)
		}
	})
}
