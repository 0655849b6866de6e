// Package record defines the index entry for one package version and its
// exact one-line JSON form.
package record

// Schema is the record format version stored in the `v` key.
type Schema int

const (
	SchemaV1 Schema = 1
	// SchemaV2 records may carry features2 (namespaced and weak features).
	SchemaV2 Schema = 2
)

// DepKind is the dependency kind.
type DepKind string

const (
	KindNormal DepKind = "normal"
	KindDev    DepKind = "dev"
	KindBuild  DepKind = "build"
)

// Valid reports whether k is one of the three known kinds.
func (k DepKind) Valid() bool {
	switch k {
	case KindNormal, KindDev, KindBuild:
		return true
	}
	return false
}

// CratesIOIndex is the registry a dependency comes from when its manifest
// entry names no registry.
const CratesIOIndex = "https://github.com/rust-lang/crates.io-index"

// Dependency is one entry of a record's deps list.
type Dependency struct {
	// Name is the name the dependent package uses; when renamed, the real
	// package name is in Package.
	Name            string
	Req             string
	Features        []string
	Optional        bool
	DefaultFeatures bool
	// Target is a platform triple or cfg() expression, empty for all.
	Target string
	Kind   DepKind
	// Registry is the index URL of another registry; empty means the
	// same registry as the dependent package.
	Registry string
	Package  string
}

// PackageName returns the name the dependency is published under.
func (d Dependency) PackageName() string {
	if d.Package != "" {
		return d.Package
	}
	return d.Name
}

// Record is the metadata of one published package version.
type Record struct {
	Name      string
	Vers      string
	Deps      []Dependency
	Cksum     string
	Features  map[string][]string
	Yanked    bool
	Links     string
	V         Schema
	Features2 map[string][]string
}

// Schema returns the effective schema version; a zero V means v1.
func (r Record) Schema() Schema {
	if r.V == 0 {
		return SchemaV1
	}
	return r.V
}

// ID returns "name:vers", the form used in messages.
func (r Record) ID() string {
	return r.Name + ":" + r.Vers
}
