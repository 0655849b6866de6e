// Package metadata turns a packaged crate into its index record.
package metadata

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/record"
)

var editions = map[string]bool{"": true, "2015": true, "2018": true, "2021": true, "2024": true}

// FromArchive reads the manifest out of a .crate archive and builds the
// record. indexURL is the public URL of the index the record is for.
func FromArchive(archive []byte, indexURL string) (record.Record, error) {
	a, err := ReadArchive(archive)
	if err != nil {
		return record.Record{}, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid package archive")
	}
	m, err := ParseManifest(a.Manifest)
	if err != nil {
		return record.Record{}, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid manifest")
	}
	rec, err := Build(m, archive, indexURL)
	if err != nil {
		return record.Record{}, err
	}
	if want := rec.Name + "-" + rec.Vers; a.Root != want {
		return record.Record{}, invalid(rec.Name, rec.Vers, "", "archive root directory is `%s`, expected `%s`", a.Root, want)
	}
	return rec, nil
}

func invalid(name, vers, field, format string, args ...any) error {
	return indexerr.New(indexerr.InvalidManifest, format, args...).WithPackage(name, vers).WithField(field)
}

// Build produces the record for m. archive is hashed for the checksum and
// otherwise not inspected.
func Build(m *Manifest, archive []byte, indexURL string) (record.Record, error) {
	p := m.Package
	if err := record.ValidateName(p.Name); err != nil {
		return record.Record{}, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid package name").WithPackage(p.Name, p.Version).WithField("package.name")
	}
	if _, err := record.ParseVersion(p.Version); err != nil {
		return record.Record{}, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid package version").WithPackage(p.Name, p.Version).WithField("package.version")
	}
	if !editions[p.Edition] {
		return record.Record{}, invalid(p.Name, p.Version, "package.edition", "unsupported edition `%s`", p.Edition)
	}

	deps, err := buildDeps(m, indexURL)
	if err != nil {
		return record.Record{}, err
	}
	features, features2, err := splitFeatures(m.Features, deps)
	if err != nil {
		var e *indexerr.Error
		if errors.As(err, &e) {
			e.WithPackage(p.Name, p.Version)
		}
		return record.Record{}, err
	}

	rec := record.Record{
		Name:     p.Name,
		Vers:     p.Version,
		Deps:     deps,
		Cksum:    record.Checksum(archive),
		Features: features,
		Yanked:   false,
		Links:    p.Links,
		V:        record.SchemaV1,
	}
	if len(features2) > 0 {
		rec.V = record.SchemaV2
		rec.Features2 = features2
	}
	return rec, nil
}

type depTable struct {
	kind   record.DepKind
	target string
	field  string
	specs  map[string]DepSpec
}

func depTables(m *Manifest) []depTable {
	tables := []depTable{
		{record.KindNormal, "", "dependencies", m.Dependencies},
		{record.KindDev, "", "dev-dependencies", m.DevDependencies},
		{record.KindDev, "", "dev_dependencies", m.DevDependenciesAlt},
		{record.KindBuild, "", "build-dependencies", m.BuildDependencies},
		{record.KindBuild, "", "build_dependencies", m.BuildDependenciesAlt},
	}
	targets := make([]string, 0, len(m.Target))
	for t := range m.Target {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, t := range targets {
		ts := m.Target[t]
		prefix := "target." + t + "."
		tables = append(tables,
			depTable{record.KindNormal, t, prefix + "dependencies", ts.Dependencies},
			depTable{record.KindDev, t, prefix + "dev-dependencies", ts.DevDependencies},
			depTable{record.KindDev, t, prefix + "dev_dependencies", ts.DevDependenciesAlt},
			depTable{record.KindBuild, t, prefix + "build-dependencies", ts.BuildDependencies},
			depTable{record.KindBuild, t, prefix + "build_dependencies", ts.BuildDependenciesAlt},
		)
	}
	return tables
}

var kindRank = map[record.DepKind]int{record.KindNormal: 0, record.KindBuild: 1, record.KindDev: 2}

func buildDeps(m *Manifest, indexURL string) ([]record.Dependency, error) {
	name, vers := m.Package.Name, m.Package.Version
	deps := []record.Dependency{}
	for _, tbl := range depTables(m) {
		for dn, spec := range tbl.specs {
			field := tbl.field + "." + dn
			if err := record.ValidateName(dn); err != nil {
				return nil, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid dependency name").WithPackage(name, vers).WithField(field)
			}
			if spec.Package != "" {
				if err := record.ValidateName(spec.Package); err != nil {
					return nil, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid dependency package").WithPackage(name, vers).WithField(field + ".package")
				}
			}
			if spec.Version == "" {
				if tbl.kind == record.KindDev {
					continue
				}
				return nil, invalid(name, vers, field, "dependency `%s` has no version requirement", dn)
			}
			req, err := record.NormalizeReq(spec.Version)
			if err != nil {
				return nil, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid version requirement").WithPackage(name, vers).WithField(field + ".version")
			}
			registry, err := resolveRegistry(spec, indexURL)
			if err != nil {
				return nil, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid dependency registry").WithPackage(name, vers).WithField(field)
			}
			defaultFeatures := true
			if spec.DefaultFeatures != nil {
				defaultFeatures = *spec.DefaultFeatures
			}
			features := spec.Features
			if features == nil {
				features = []string{}
			}
			deps = append(deps, record.Dependency{
				Name:            dn,
				Req:             req,
				Features:        features,
				Optional:        spec.Optional,
				DefaultFeatures: defaultFeatures,
				Target:          tbl.target,
				Kind:            tbl.kind,
				Registry:        registry,
				Package:         spec.Package,
			})
		}
	}
	sort.SliceStable(deps, func(i, j int) bool {
		a, b := deps[i], deps[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if kindRank[a.Kind] != kindRank[b.Kind] {
			return kindRank[a.Kind] < kindRank[b.Kind]
		}
		return a.Target < b.Target
	})
	return deps, nil
}

// resolveRegistry returns the dependency's registry index URL, or "" when
// it is the index being published to.
func resolveRegistry(spec DepSpec, indexURL string) (string, error) {
	r := spec.RegistryIndex
	if r == "" {
		if spec.Registry != "" {
			return "", fmt.Errorf("registry `%s` has no registry-index", spec.Registry)
		}
		r = record.CratesIOIndex
	}
	if strings.TrimRight(r, "/") == strings.TrimRight(indexURL, "/") {
		return "", nil
	}
	return r, nil
}

// splitFeatures validates the feature table and splits it: features using
// `dep:` or `?/` syntax go to features2.
func splitFeatures(table map[string][]string, deps []record.Dependency) (map[string][]string, map[string][]string, error) {
	isDep := map[string]bool{}
	isOptional := map[string]bool{}
	for _, d := range deps {
		isDep[d.Name] = true
		if d.Optional {
			isOptional[d.Name] = true
		}
	}
	namespaced := map[string]bool{}
	for _, values := range table {
		for _, v := range values {
			if dn, ok := strings.CutPrefix(v, "dep:"); ok {
				namespaced[dn] = true
			}
		}
	}

	names := make([]string, 0, len(table))
	for f := range table {
		names = append(names, f)
	}
	sort.Strings(names)

	features := map[string][]string{}
	var features2 map[string][]string
	for _, f := range names {
		field := "features." + f
		if err := record.ValidateFeatureName(f); err != nil {
			return nil, nil, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid feature name").WithField(field)
		}
		if isDep[f] && !isOptional[f] {
			return nil, nil, indexerr.New(indexerr.InvalidManifest, "feature `%s` collides with a non-optional dependency of the same name", f).WithField(field)
		}
		if isOptional[f] && !namespaced[f] {
			return nil, nil, indexerr.New(indexerr.InvalidManifest, "feature `%s` has the same name as an optional dependency; enable it with `dep:%s`", f, f).WithField(field)
		}
		v2 := false
		for _, v := range table[f] {
			uses, err := checkFeatureValue(v, table, isDep, isOptional, namespaced)
			if err != nil {
				return nil, nil, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid feature value").WithField(field)
			}
			v2 = v2 || uses
		}
		values := table[f]
		if values == nil {
			values = []string{}
		}
		if v2 {
			if features2 == nil {
				features2 = map[string][]string{}
			}
			features2[f] = values
		} else {
			features[f] = values
		}
	}
	return features, features2, nil
}

// checkFeatureValue validates one enabled-feature expression and reports
// whether it needs schema v2.
func checkFeatureValue(v string, table map[string][]string, isDep, isOptional, namespaced map[string]bool) (bool, error) {
	if dn, ok := strings.CutPrefix(v, "dep:"); ok {
		if !isOptional[dn] {
			return false, fmt.Errorf("`%s` refers to `%s`, which is not an optional dependency", v, dn)
		}
		return true, nil
	}
	if dn, f, ok := strings.Cut(v, "/"); ok {
		weak := strings.HasSuffix(dn, "?")
		dn = strings.TrimSuffix(dn, "?")
		if !isDep[dn] {
			return false, fmt.Errorf("`%s` refers to `%s`, which is not a dependency", v, dn)
		}
		if err := record.ValidateFeatureName(f); err != nil {
			return false, err
		}
		return weak, nil
	}
	if _, ok := table[v]; ok {
		return false, nil
	}
	if isOptional[v] && !namespaced[v] {
		return false, nil
	}
	return false, fmt.Errorf("`%s` is neither a feature nor an optional dependency", v)
}
