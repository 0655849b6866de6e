// Package indexcfg loads and saves the index's config.json.
package indexcfg

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/layout"
	"github.com/kamusis/regindex/internal/store"
)

// Download URL template markers.
const (
	TokenCrate       = "{crate}"
	TokenVersion     = "{version}"
	TokenPrefix      = "{prefix}"
	TokenLowerPrefix = "{lowerprefix}"
	TokenChecksum    = "{sha256-checksum}"
)

var tokens = []string{TokenCrate, TokenVersion, TokenPrefix, TokenLowerPrefix, TokenChecksum}

var tokenRe = regexp.MustCompile(`\{[^{}]*\}`)

// Config is the registry configuration stored at the index root. Field
// order is the on-disk key order.
type Config struct {
	DL                string   `json:"dl"`
	API               string   `json:"api,omitempty"`
	AuthRequired      bool     `json:"auth-required,omitempty"`
	AllowedRegistries []string `json:"allowed-registries,omitempty"`
}

// Problem is one defect found by Check.
type Problem struct {
	Kind string
	Msg  string
}

const (
	ProblemDLTemplate = "bad-dl-template"
	ProblemAPIURL     = "bad-api-url"
)

// Load reads config.json from fs.
func Load(fs billy.Filesystem) (*Config, error) {
	data, err := util.ReadFile(fs, store.ConfigFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, indexerr.New(indexerr.MissingConfig, "index has no %s; run `regindex init` first", store.ConfigFile).WithPath(store.ConfigFile, 0)
		}
		return nil, indexerr.Wrap(indexerr.IoFailure, err, "cannot read %s", store.ConfigFile)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, indexerr.Wrap(indexerr.MissingConfig, err, "cannot parse %s", store.ConfigFile).WithPath(store.ConfigFile, 0)
	}
	if cfg.DL == "" {
		return nil, indexerr.New(indexerr.MissingConfig, "%s has no dl template", store.ConfigFile).WithPath(store.ConfigFile, 0).WithField("dl")
	}
	return &cfg, nil
}

// Encode returns the canonical config bytes: one JSON line and a newline.
func (c *Config) Encode() ([]byte, error) {
	out := *c
	out.API = strings.TrimRight(out.API, "/")
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("cannot encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes cfg to fs, replacing any existing config.
func Save(fs billy.Filesystem, cfg *Config) error {
	data, err := cfg.Encode()
	if err != nil {
		return err
	}
	return store.WriteAtomic(fs, store.ConfigFile, data)
}

// Check reports template and URL defects. An empty result means the
// config is usable.
func (c *Config) Check() []Problem {
	var out []Problem
	if c.DL == "" {
		out = append(out, Problem{ProblemDLTemplate, "dl template is empty"})
	} else {
		if strings.Count(c.DL, "{") != strings.Count(c.DL, "}") {
			out = append(out, Problem{ProblemDLTemplate, fmt.Sprintf("unbalanced braces in dl template %q", c.DL)})
		}
		for _, m := range tokenRe.FindAllString(c.DL, -1) {
			if !isToken(m) {
				out = append(out, Problem{ProblemDLTemplate, fmt.Sprintf("unknown marker %s in dl template", m)})
			}
		}
		if err := checkURL(c.DownloadURL("crate", "0.0.0", strings.Repeat("0", 64))); err != nil {
			out = append(out, Problem{ProblemDLTemplate, fmt.Sprintf("dl template does not expand to a URL: %v", err)})
		}
	}
	if c.API != "" {
		u, err := url.Parse(c.API)
		switch {
		case err != nil:
			out = append(out, Problem{ProblemAPIURL, fmt.Sprintf("invalid api URL: %v", err)})
		case u.Scheme != "http" && u.Scheme != "https":
			out = append(out, Problem{ProblemAPIURL, fmt.Sprintf("api URL %q must be http or https", c.API)})
		case u.Host == "":
			out = append(out, Problem{ProblemAPIURL, fmt.Sprintf("api URL %q has no host", c.API)})
		}
	}
	for _, r := range c.AllowedRegistries {
		if err := checkURL(r); err != nil {
			out = append(out, Problem{ProblemAPIURL, fmt.Sprintf("allowed registry %q: %v", r, err)})
		}
	}
	return out
}

func checkURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" {
		return fmt.Errorf("%q has no scheme", s)
	}
	return nil
}

func isToken(s string) bool {
	for _, t := range tokens {
		if s == t {
			return true
		}
	}
	return false
}

// HasMarkers reports whether the dl template contains any known marker.
func (c *Config) HasMarkers() bool {
	for _, t := range tokens {
		if strings.Contains(c.DL, t) {
			return true
		}
	}
	return false
}

// DownloadURL expands the dl template for one package version. A template
// without markers gets "/{crate}/{version}/download" appended.
func (c *Config) DownloadURL(name, vers, cksum string) string {
	tmpl := c.DL
	if !c.HasMarkers() {
		tmpl = strings.TrimRight(tmpl, "/") + "/" + TokenCrate + "/" + TokenVersion + "/download"
	}
	return strings.NewReplacer(
		TokenCrate, name,
		TokenVersion, vers,
		TokenPrefix, layout.Prefix(name),
		TokenLowerPrefix, layout.LowerPrefix(name),
		TokenChecksum, cksum,
	).Replace(tmpl)
}

// AllowsRegistry reports whether a dependency may come from registry. An
// empty registry means the index itself and is always allowed, as is
// anything when no allow-list is configured.
func (c *Config) AllowsRegistry(registry string) bool {
	if registry == "" || len(c.AllowedRegistries) == 0 {
		return true
	}
	want := strings.TrimRight(registry, "/")
	for _, r := range c.AllowedRegistries {
		if strings.TrimRight(r, "/") == want {
			return true
		}
	}
	return false
}
