// Package config holds regindex's own tool settings, kept in
// ~/.regindex/regindex.yaml. These are defaults for the CLI, not the index
// configuration stored inside an index (see internal/indexcfg).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted before the settings file.
const (
	EnvHome       = "REGINDEX_HOME"
	EnvIndex      = "REGINDEX_INDEX"
	EnvIndexURL   = "REGINDEX_INDEX_URL"
	EnvLockPolicy = "REGINDEX_LOCK_POLICY"
	EnvLogLevel   = "REGINDEX_LOG_LEVEL"
	EnvLogFormat  = "REGINDEX_LOG_FORMAT"
	EnvUpload     = "REGINDEX_UPLOAD"
)

// Config is the in-memory representation of ~/.regindex/regindex.yaml.
type Config struct {
	Index      string   `yaml:"index,omitempty"`
	IndexURL   string   `yaml:"index_url,omitempty"`
	LockPolicy string   `yaml:"lock_policy,omitempty"`
	Upload     string   `yaml:"upload,omitempty"`
	LogLevel   string   `yaml:"log_level,omitempty"`
	LogFormat  string   `yaml:"log_format,omitempty"`
	Excludes   []string `yaml:"excludes,omitempty"`
}

// HomeDir returns the settings directory: $REGINDEX_HOME, or ~/.regindex/.
func HomeDir() (string, error) {
	if d := os.Getenv(EnvHome); d != "" {
		return ExpandPath(d)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".regindex"), nil
}

// ConfigPath returns the absolute path to regindex.yaml.
func ConfigPath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "regindex.yaml"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// DefaultConfig returns the settings used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		LockPolicy: "wait",
		LogLevel:   "warn",
		LogFormat:  "text",
		Excludes: []string{
			".DS_Store",
			"Thumbs.db",
			"*.tmp",
			"*.bak",
			".git/",
			"target/",
		},
	}
}

// Load reads regindex.yaml. A missing file yields DefaultConfig; keys absent
// from the file keep their defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	for _, p := range []*string{&cfg.Index, &cfg.Upload} {
		if *p, err = ExpandPath(*p); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Save marshals cfg and writes it to regindex.yaml, creating the settings
// directory if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// Resolve returns the effective value of a setting: the environment (or
// .env) value for key when set, otherwise fallback from the yaml file.
func Resolve(key, fallback string) (string, error) {
	v, err := GetConfigValue(key)
	if err != nil {
		return "", err
	}
	if v != "" {
		return v, nil
	}
	return fallback, nil
}

// Effective returns cfg with every environment override applied.
func (c *Config) Effective() (*Config, error) {
	out := *c
	for _, f := range []struct {
		key string
		dst *string
	}{
		{EnvIndex, &out.Index},
		{EnvIndexURL, &out.IndexURL},
		{EnvLockPolicy, &out.LockPolicy},
		{EnvLogLevel, &out.LogLevel},
		{EnvLogFormat, &out.LogFormat},
		{EnvUpload, &out.Upload},
	} {
		v, err := Resolve(f.key, *f.dst)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	var err error
	if out.Index, err = ExpandPath(out.Index); err != nil {
		return nil, err
	}
	return &out, nil
}
