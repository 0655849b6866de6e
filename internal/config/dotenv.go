package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DotEnvPath returns the absolute path to the settings dotenv file.
func DotEnvPath() (string, error) {
	dir, err := HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".env"), nil
}

// LoadDotEnv reads the dotenv file and returns key/value pairs. A missing
// file yields an empty map. See parseDotEnv for the accepted syntax.
func LoadDotEnv() (map[string]string, error) {
	p, err := DotEnvPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read dotenv file %s: %w", p, err)
	}
	return parseDotEnv(data), nil
}

// parseDotEnv accepts KEY=VALUE lines with an optional "export " prefix.
// Blank lines, '#' comments and lines without '=' or a key are dropped. A
// value wrapped in matching single or double quotes is unquoted; any other
// value is kept verbatim after trimming surrounding blanks. Later keys win.
func parseDotEnv(data []byte) map[string]string {
	out := make(map[string]string)
	for _, raw := range strings.Split(string(data), "\n") {
		entry := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if entry == "" || entry[0] == '#' {
			continue
		}
		entry = strings.TrimPrefix(entry, "export ")
		eq := strings.IndexByte(entry, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(entry[:eq])
		if key == "" {
			continue
		}
		out[key] = unquote(strings.TrimSpace(entry[eq+1:]))
	}
	return out
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// GetConfigValue returns the effective value for key, using process
// environment variables first and falling back to the dotenv file.
func GetConfigValue(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	dotenv, err := LoadDotEnv()
	if err != nil {
		return "", err
	}
	return dotenv[key], nil
}

// EnsureDotEnvTemplate creates the dotenv file if it does not already exist.
// The template lists the recognized keys with empty values.
func EnsureDotEnvTemplate() error {
	p, err := DotEnvPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("cannot stat dotenv file %s: %w", p, err)
	}

	var body strings.Builder
	for _, k := range []string{EnvIndex, EnvIndexURL, EnvLockPolicy, EnvLogLevel} {
		body.WriteString(k + "=\n")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(body.String()), 0o600); err != nil {
		return fmt.Errorf("cannot write dotenv template %s: %w", p, err)
	}
	return nil
}
