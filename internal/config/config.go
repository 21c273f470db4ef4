// internal/config/config.go
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

type Config struct {
	Environment string `json:"environment"` // development, production
	LogLevel    string `json:"log_level"`   // debug, info, warn, error

	Storage struct {
		Backend   string `json:"backend"`    // file, badger
		CacheSize int    `json:"cache_size"` // blob and delta cache entries
	} `json:"storage"`

	Compression struct {
		Level int `json:"level"` // 1=fastest .. 4=best
	} `json:"compression"`

	// Defaults applies to newly created repositories only.
	Defaults struct {
		Track    bool `json:"track"`
		Picky    bool `json:"picky"`
		Strict   bool `json:"strict"`
		Compress bool `json:"compress"`
	} `json:"defaults"`

	Ignores Ignores `json:"ignores"`

	TextTypes   []string `json:"texttype"`
	BinaryTypes []string `json:"bintype"`
}

type Ignores struct {
	Files          []string `json:"files"`
	FilesWhitelist []string `json:"files_whitelist"`
	Dirs           []string `json:"dirs"`
	DirsWhitelist  []string `json:"dirs_whitelist"`
}

// Overlay keys understood by WithOverlay. The repository descriptor stores its
// local overrides under these names.
const (
	KeyIgnores             = "ignores"
	KeyIgnoresWhitelist    = "ignoresWhitelist"
	KeyIgnoreDirs          = "ignoreDirs"
	KeyIgnoreDirsWhitelist = "ignoreDirsWhitelist"
	KeyTextTypes           = "texttype"
	KeyBinaryTypes         = "bintype"
)

func Default() *Config {
	var c Config
	c.Environment = "production"
	c.LogLevel = "warn"
	c.Storage.Backend = BackendFile
	c.Storage.CacheSize = 256
	c.Compression.Level = 2
	c.Ignores = Ignores{
		Files: []string{"*.bak", "*.py[cdo]", "*.class", "*.sos.zip", ".fslckout", "_FOSSIL_"},
		Dirs:  []string{".*", "__pycache__", ".mypy_cache"},
	}
	return &c
}

// Path returns the user-level config file location. SOS_CONFIG wins over the
// home directory default.
func Path() string {
	if p := os.Getenv("SOS_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sos", "config.json")
}

// Load reads the JSON config at path on top of the defaults. A missing file is
// not an error. Environment overrides are applied last, after loading any
// given .env files that exist.
func Load(path string, envFiles ...string) (*Config, error) {
	config := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case err == nil:
			defer file.Close()
			if err := json.NewDecoder(file).Decode(config); err != nil {
				return nil, fmt.Errorf("decoding config %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("opening config %s: %w", path, err)
		}
	}

	var existing []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("loading env files: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, config.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SOS_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("SOS_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SOS_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("SOS_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing SOS_CACHE_SIZE: %w", err)
		}
		c.Storage.CacheSize = n
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile, BackendBadger:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.Storage.CacheSize)
	}
	if c.Compression.Level < 1 || c.Compression.Level > 4 {
		return fmt.Errorf("compression level must be between 1 and 4, got %d", c.Compression.Level)
	}
	return nil
}

func (c *Config) Development() bool {
	return c.Environment == "development"
}

// WithOverlay returns a copy of c where every non-nil overlay entry replaces
// the corresponding list.
func (c *Config) WithOverlay(overlay map[string][]string) *Config {
	out := *c
	for key, values := range overlay {
		v := append([]string(nil), values...)
		switch key {
		case KeyIgnores:
			out.Ignores.Files = v
		case KeyIgnoresWhitelist:
			out.Ignores.FilesWhitelist = v
		case KeyIgnoreDirs:
			out.Ignores.Dirs = v
		case KeyIgnoreDirsWhitelist:
			out.Ignores.DirsWhitelist = v
		case KeyTextTypes:
			out.TextTypes = v
		case KeyBinaryTypes:
			out.BinaryTypes = v
		}
	}
	return &out
}
