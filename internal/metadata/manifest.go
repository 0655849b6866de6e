package metadata

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Manifest is the subset of Cargo.toml the index cares about.
type Manifest struct {
	Package PackageSection `toml:"package"`

	Dependencies         map[string]DepSpec `toml:"dependencies"`
	DevDependencies      map[string]DepSpec `toml:"dev-dependencies"`
	DevDependenciesAlt   map[string]DepSpec `toml:"dev_dependencies"`
	BuildDependencies    map[string]DepSpec `toml:"build-dependencies"`
	BuildDependenciesAlt map[string]DepSpec `toml:"build_dependencies"`

	Target   map[string]TargetSection `toml:"target"`
	Features map[string][]string      `toml:"features"`
}

// PackageSection is [package].
type PackageSection struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Links   string `toml:"links"`
	Edition string `toml:"edition"`
}

// TargetSection is [target.<cfg>].
type TargetSection struct {
	Dependencies         map[string]DepSpec `toml:"dependencies"`
	DevDependencies      map[string]DepSpec `toml:"dev-dependencies"`
	DevDependenciesAlt   map[string]DepSpec `toml:"dev_dependencies"`
	BuildDependencies    map[string]DepSpec `toml:"build-dependencies"`
	BuildDependenciesAlt map[string]DepSpec `toml:"build_dependencies"`
}

// DepSpec is one dependency entry: either a bare requirement string or a
// table.
type DepSpec struct {
	Version         string
	Features        []string
	Optional        bool
	DefaultFeatures *bool
	Package         string
	// RegistryIndex is the index URL of the registry the dependency comes
	// from. Packaged manifests carry it instead of a registry name.
	RegistryIndex string
	Registry      string
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *DepSpec) UnmarshalTOML(v any) error {
	switch t := v.(type) {
	case string:
		d.Version = t
		return nil
	case map[string]any:
		for k, val := range t {
			var err error
			switch k {
			case "version":
				d.Version, err = asString(k, val)
			case "package":
				d.Package, err = asString(k, val)
			case "registry-index":
				d.RegistryIndex, err = asString(k, val)
			case "registry":
				d.Registry, err = asString(k, val)
			case "optional":
				d.Optional, err = asBool(k, val)
			case "default-features", "default_features":
				var b bool
				b, err = asBool(k, val)
				d.DefaultFeatures = &b
			case "features":
				d.Features, err = asStrings(k, val)
			}
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("dependency must be a string or a table, got %T", v)
	}
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("`%s` must be a string, got %T", key, v)
	}
	return s, nil
}

func asBool(key string, v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("`%s` must be a boolean, got %T", key, v)
	}
	return b, nil
}

func asStrings(key string, v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("`%s` must be an array, got %T", key, v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("`%s` entries must be strings, got %T", key, item)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseManifest decodes Cargo.toml.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("cannot parse Cargo.toml: %w", err)
	}
	return &m, nil
}
