package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for shelf.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Storage  StorageConfig  `toml:"storage"`
	Cache    CacheConfig    `toml:"cache"`
	Settings SettingsConfig `toml:"settings"`
}

// StorageConfig selects and configures the storage backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type string `toml:"type"` // "local", "remote" or "memory"

	// Local-specific fields (only used when Type == "local")
	Dir string `toml:"dir,omitempty"` // last granted library directory

	// Remote-specific fields (only used when Type == "remote")
	S3Bucket        string `toml:"s3_bucket,omitempty"`
	S3Region        string `toml:"s3_region,omitempty"`
	S3Endpoint      string `toml:"s3_endpoint,omitempty"`
	S3Prefix        string `toml:"s3_prefix,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`

	// Shared by remote and memory
	Folder         string `toml:"folder,omitempty"`          // reserved library folder, defaults to "shelf"
	RequestTimeout string `toml:"request_timeout,omitempty"` // Go duration, defaults to 30s
	BatchSize      int    `toml:"batch_size,omitempty"`      // concurrent fetches, defaults to 20
	PageSize       int    `toml:"page_size,omitempty"`       // listing page size, defaults to 100
}

// RemoteConfigured reports whether a remote backend can be built.
func (s StorageConfig) RemoteConfigured() bool {
	return s.S3Bucket != ""
}

// Timeout parses RequestTimeout. Empty means the 30s default.
func (s StorageConfig) Timeout() (time.Duration, error) {
	if s.RequestTimeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request_timeout %q: %w", s.RequestTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("request_timeout must be positive, got %s", s.RequestTimeout)
	}
	return d, nil
}

// CacheConfig represents configuration for the remote file cache.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CacheConfig struct {
	Type string `toml:"type"`           // "sqlite" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// SettingsConfig controls how settings.json is written.
type SettingsConfig struct {
	// IdentityPath is an age identity used to seal API keys. Empty stores
	// keys in plain text.
	IdentityPath string `toml:"identity_path,omitempty"`
}

// NewConfig creates a Config rooted at baseDir with local storage and a
// sqlite cache.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Storage: StorageConfig{Type: "local"},
		Cache: CacheConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "cache", "shelf.db"),
		},
		Settings: SettingsConfig{
			IdentityPath: filepath.Join(baseDir, "keys", "settings.key"),
		},
	}
}

// Validate checks the tagged unions are consistent.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "local", "memory":
	case "remote":
		if !c.Storage.RemoteConfigured() {
			return fmt.Errorf("remote storage requires s3_bucket to be set")
		}
	default:
		return fmt.Errorf("unknown storage type: %q", c.Storage.Type)
	}
	if _, err := c.Storage.Timeout(); err != nil {
		return err
	}
	if c.Storage.BatchSize < 0 || c.Storage.PageSize < 0 {
		return fmt.Errorf("batch_size and page_size must not be negative")
	}

	switch c.Cache.Type {
	case "memory":
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("path required for sqlite cache")
		}
	default:
		return fmt.Errorf("unknown cache type: %q", c.Cache.Type)
	}
	return nil
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

// writeToFile writes a Config through a temp file so a crash never leaves
// a truncated config behind.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".shelf-config-*")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		f.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing config file: %w", err)
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

// Save overwrites the config file at path. Used to remember a granted
// library directory between runs.
func Save(path string, cfg *Config) error {
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	return nil
}
