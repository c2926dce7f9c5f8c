// Package config loads ~/.llamapkg/config.yaml and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/frederic-klein/llamapkg/internal/storage"
)

const (
	// Dir is the per-user configuration directory under $HOME.
	Dir = ".llamapkg"

	// FileName is the configuration file inside Dir.
	FileName = "config.yaml"
)

// Backend names.
const (
	IndexFile     = "file"
	IndexBadger   = "badger"
	ArtifactLocal = "local"
	ArtifactS3    = "s3"
)

// Config is the full client and server configuration.
type Config struct {
	RegistryURL      string           `yaml:"registry_url,omitempty"`
	APIToken         string           `yaml:"api_token,omitempty"`
	StorageDir       string           `yaml:"storage_dir"`
	IndexBackend     string           `yaml:"index_backend"`
	ArtifactBackend  string           `yaml:"artifact_backend"`
	S3               storage.S3Config `yaml:"s3,omitempty"`
	InstallDir       string           `yaml:"install_dir"`
	Workers          int              `yaml:"workers"`
	HTTPTimeout      time.Duration    `yaml:"http_timeout"`
	MaxRetries       int              `yaml:"max_retries"`
	CacheTTL         time.Duration    `yaml:"cache_ttl"`
	StrictResolution bool             `yaml:"strict_resolution"`
	JWTSecret        string           `yaml:"jwt_secret,omitempty"`
	UsersFile        string           `yaml:"users_file"`
	ListenAddr       string           `yaml:"listen_addr"`

	path string
}

// DefaultPath returns ~/.llamapkg/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, Dir, FileName), nil
}

// Default returns the configuration used when no file exists. Paths are
// rooted at base, normally ~/.llamapkg.
func Default(base string) *Config {
	return &Config{
		StorageDir:      filepath.Join(base, "storage"),
		IndexBackend:    IndexFile,
		ArtifactBackend: ArtifactLocal,
		InstallDir:      filepath.Join(base, "packages"),
		Workers:         4,
		HTTPTimeout:     30 * time.Second,
		MaxRetries:      3,
		CacheTTL:        24 * time.Hour,
		UsersFile:       filepath.Join(base, "users.yaml"),
		ListenAddr:      "127.0.0.1:8080",
	}
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default(filepath.Dir(path))
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save writes the configuration back to the file it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no path")
	}
	return c.SaveAs(c.path)
}

// SaveAs writes the configuration to path.
func (c *Config) SaveAs(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	c.path = path
	return nil
}

// Validate rejects unknown backends and non-positive limits.
func (c *Config) Validate() error {
	switch c.IndexBackend {
	case IndexFile, IndexBadger:
	default:
		return fmt.Errorf("unknown index_backend %q", c.IndexBackend)
	}
	switch c.ArtifactBackend {
	case ArtifactLocal:
	case ArtifactS3:
		if c.S3.Bucket == "" {
			return errors.New("artifact_backend s3 requires s3.bucket")
		}
	default:
		return fmt.Errorf("unknown artifact_backend %q", c.ArtifactBackend)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// IndexPath is the registry index file (file backend) or database
// directory (badger backend).
func (c *Config) IndexPath() string {
	if c.IndexBackend == IndexBadger {
		return filepath.Join(c.StorageDir, "index.db")
	}
	return filepath.Join(c.StorageDir, "index.json")
}

// ArtifactDir is where the local backend keeps artifacts.
func (c *Config) ArtifactDir() string {
	return filepath.Join(c.StorageDir, "artifacts")
}

// CacheDir holds upstream responses and downloaded artifacts.
func (c *Config) CacheDir() string {
	return filepath.Join(c.StorageDir, "cache")
}

func (c *Config) applyEnv(getenv func(string) string) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"LLAMAPKG_REGISTRY_URL", &c.RegistryURL},
		{"LLAMAPKG_API_TOKEN", &c.APIToken},
		{"LLAMAPKG_STORAGE_DIR", &c.StorageDir},
		{"LLAMAPKG_JWT_SECRET", &c.JWTSecret},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}
