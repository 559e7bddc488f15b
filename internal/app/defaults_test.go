package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("SHELF_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("SHELF_HOME", "/custom/shelf")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/shelf" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/shelf")
		}
		if defaults["log_dir"] != "/custom/shelf/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/shelf/log")
		}
		if defaults["cache_path"] != "/custom/shelf/cache/shelf.db" {
			t.Errorf("cache_path = %q, want %q", defaults["cache_path"], "/custom/shelf/cache/shelf.db")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("SHELF_CONFIG_PATH", "")
		t.Setenv("SHELF_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "shelf.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "shelf")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}
