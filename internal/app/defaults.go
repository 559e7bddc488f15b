package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - SHELF_CONFIG_PATH: config file location (default: ~/.config/shelf.toml)
//   - SHELF_HOME: base directory for shelf data (default: ~/.local/share/shelf)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"cache_path":  filepath.Join(baseDir, "cache", "shelf.db"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("SHELF_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "shelf.toml"), nil
}

// getBaseDir falls back to the XDG default ~/.local/share/shelf.
func getBaseDir() (string, error) {
	if path := os.Getenv("SHELF_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "shelf"), nil
}
