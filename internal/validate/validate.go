// Package validate checks a whole index tree and reports every rule it
// breaks. It never modifies the index.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sync/errgroup"

	"github.com/kamusis/regindex/internal/ctxlog"
	"github.com/kamusis/regindex/internal/indexcfg"
	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/layout"
	"github.com/kamusis/regindex/internal/record"
	"github.com/kamusis/regindex/internal/store"
)

// Kind names a class of violation.
type Kind string

const (
	MissingConfig      Kind = "missing-config"
	BadDLTemplate      Kind = "bad-dl-template"
	BadAPIURL          Kind = "bad-api-url"
	BadLocation        Kind = "bad-location"
	DuplicateName      Kind = "duplicate-name"
	BlankLine          Kind = "blank-line"
	MissingNewline     Kind = "missing-newline"
	MalformedRecord    Kind = "malformed-record"
	BadName            Kind = "bad-name"
	NameMismatch       Kind = "name-mismatch"
	BadVersion         Kind = "bad-version"
	DuplicateVersion   Kind = "duplicate-version"
	BadChecksum        Kind = "bad-checksum"
	BadRequirement     Kind = "bad-requirement"
	BadDependency      Kind = "bad-dependency"
	BadFeature         Kind = "bad-feature"
	RegistryNotAllowed Kind = "registry-not-allowed"
	MissingArchive     Kind = "missing-archive"
	ChecksumMismatch   Kind = "checksum-mismatch"
)

// Violation is one broken rule. Line is 1-based; zero means the whole file.
type Violation struct {
	Kind    Kind
	Path    string
	Line    int
	Field   string
	Package string
	Version string
	Message string
}

func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(v.Path)
	if v.Line > 0 {
		fmt.Fprintf(&b, ":%d", v.Line)
	}
	fmt.Fprintf(&b, ": %s", v.Kind)
	if v.Package != "" {
		if v.Version != "" {
			fmt.Fprintf(&b, ": `%s:%s`", v.Package, v.Version)
		} else {
			fmt.Fprintf(&b, ": `%s`", v.Package)
		}
	}
	if v.Field != "" {
		fmt.Fprintf(&b, ": field `%s`", v.Field)
	}
	if v.Message != "" {
		b.WriteString(": ")
		b.WriteString(v.Message)
	}
	return b.String()
}

// Options configure Run.
type Options struct {
	// CratesDir, when set, is where archives live. It may contain the
	// {crate} and {version} markers; the archive file is
	// "<crate>-<version>.crate" inside the expanded directory.
	CratesDir string
	// CratesFS resolves CratesDir; nil means the OS filesystem.
	CratesFS billy.Basic
	// Concurrency bounds the files checked at once; zero means GOMAXPROCS.
	Concurrency int
}

// Run validates the index on fs and returns all violations sorted by path,
// line and kind. The error is reserved for failures to walk the tree.
func Run(ctx context.Context, fs billy.Filesystem, opts Options) ([]Violation, error) {
	log := ctxlog.FromContext(ctx)
	if opts.CratesDir != "" && opts.CratesFS == nil {
		opts.CratesFS = osfs.Default
	}

	var out []Violation
	cfg, err := indexcfg.Load(fs)
	if err != nil {
		if !indexerr.Is(err, indexerr.MissingConfig) {
			return nil, err
		}
		out = append(out, Violation{Kind: MissingConfig, Path: store.ConfigFile, Message: err.Error()})
	} else {
		for _, p := range cfg.Check() {
			out = append(out, Violation{Kind: Kind(p.Kind), Path: store.ConfigFile, Message: p.Msg})
		}
	}

	var paths []string
	if err := store.New(fs, nil).Walk(func(rel string) error {
		paths = append(paths, rel)
		return nil
	}); err != nil {
		return nil, err
	}
	out = append(out, duplicateNames(paths)...)

	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	results := make([][]Violation, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := util.ReadFile(fs, rel)
			if err != nil {
				return fmt.Errorf("cannot read %s: %w", rel, err)
			}
			c := &checker{cfg: cfg, opts: opts, path: rel}
			c.file(data)
			results[i] = c.out
			log.Debug("validated record file", "path", rel, "violations", len(c.out))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, r := range results {
		out = append(out, r...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Kind < b.Kind
	})
	log.Info("validated index", "files", len(paths), "violations", len(out))
	return out, nil
}

func duplicateNames(paths []string) []Violation {
	first := map[string]string{}
	var out []Violation
	for _, rel := range paths {
		key := record.Fold(path.Base(rel))
		if prev, ok := first[key]; ok {
			out = append(out, Violation{
				Kind:    DuplicateName,
				Path:    rel,
				Package: path.Base(rel),
				Message: fmt.Sprintf("same package as %s", prev),
			})
			continue
		}
		first[key] = rel
	}
	return out
}

type checker struct {
	cfg  *indexcfg.Config
	opts Options
	path string
	out  []Violation
}

func (c *checker) add(v Violation) {
	v.Path = c.path
	c.out = append(c.out, v)
}

func (c *checker) file(data []byte) {
	name, ok := layout.NameFromPath(c.path)
	if err := record.ValidateName(name); err != nil {
		c.add(Violation{Kind: BadName, Package: name, Message: err.Error()})
	} else if !ok {
		c.add(Violation{Kind: BadLocation, Package: name, Message: fmt.Sprintf("expected at %s", layout.PathFor(name))})
	}

	if len(data) == 0 {
		c.add(Violation{Kind: BlankLine, Line: 1, Message: "file is empty"})
		return
	}
	lines := bytes.Split(data, []byte("\n"))
	if data[len(data)-1] == '\n' {
		lines = lines[:len(lines)-1]
	} else {
		c.add(Violation{Kind: MissingNewline, Line: len(lines), Message: "last line is not newline-terminated"})
	}

	type seenVersion struct {
		vers string
		line int
	}
	var seen []seenVersion
	for i, raw := range lines {
		n := i + 1
		if len(bytes.TrimSpace(raw)) == 0 {
			c.add(Violation{Kind: BlankLine, Line: n})
			continue
		}
		rec, err := record.DecodeStrict(raw)
		if err != nil {
			var se *record.SchemaError
			v := Violation{Kind: MalformedRecord, Line: n, Message: err.Error()}
			if errors.As(err, &se) {
				v.Field, v.Message = se.Field, se.Msg
			}
			c.add(v)
			continue
		}
		c.record(n, name, rec)

		if _, err := record.ParseVersion(rec.Vers); err == nil {
			for _, s := range seen {
				if record.SameVersion(s.vers, rec.Vers) {
					c.add(Violation{Kind: DuplicateVersion, Line: n, Package: rec.Name, Version: rec.Vers,
						Message: fmt.Sprintf("version already published on line %d", s.line)})
					break
				}
			}
			seen = append(seen, seenVersion{rec.Vers, n})
		}
	}
}

func (c *checker) record(n int, fileName string, rec record.Record) {
	at := func(kind Kind, field, format string, args ...any) {
		c.add(Violation{Kind: kind, Line: n, Field: field, Package: rec.Name, Version: rec.Vers, Message: fmt.Sprintf(format, args...)})
	}
	if err := record.ValidateName(rec.Name); err != nil {
		at(BadName, "name", "%v", err)
	} else if rec.Name != fileName {
		at(NameMismatch, "name", "record name `%s` does not match file name `%s`", rec.Name, fileName)
	}
	if _, err := record.ParseVersion(rec.Vers); err != nil {
		at(BadVersion, "vers", "%v", err)
	}
	if !record.ValidChecksum(rec.Cksum) {
		at(BadChecksum, "cksum", "checksum must be 64 lowercase hex characters, got %d characters", len(rec.Cksum))
	}
	for i, d := range rec.Deps {
		field := fmt.Sprintf("deps[%d]", i)
		if err := record.ValidateName(d.Name); err != nil {
			at(BadDependency, field+".name", "%v", err)
		}
		if d.Package != "" {
			if err := record.ValidateName(d.Package); err != nil {
				at(BadDependency, field+".package", "%v", err)
			}
		}
		if !d.Kind.Valid() {
			at(BadDependency, field+".kind", "unknown dependency kind `%s`", d.Kind)
		}
		if _, err := record.ParseReq(d.Req); err != nil {
			at(BadRequirement, field+".req", "%v", err)
		}
		if c.cfg != nil && !c.cfg.AllowsRegistry(d.Registry) {
			at(RegistryNotAllowed, field+".registry", "registry %s is not in allowed-registries", d.Registry)
		}
	}
	c.features(rec, at)
	if c.opts.CratesDir != "" && record.ValidChecksum(rec.Cksum) {
		c.archive(n, rec)
	}
}

// features checks feature names, and that v1 records do not use the
// `dep:` or `?/` value syntax.
func (c *checker) features(rec record.Record, at func(Kind, string, string, ...any)) {
	v1 := rec.Schema() == record.SchemaV1
	for _, table := range []struct {
		field string
		m     map[string][]string
	}{{"features", rec.Features}, {"features2", rec.Features2}} {
		names := make([]string, 0, len(table.m))
		for f := range table.m {
			names = append(names, f)
		}
		sort.Strings(names)
		for _, f := range names {
			field := table.field + "." + f
			if err := record.ValidateFeatureName(f); err != nil {
				at(BadFeature, field, "%v", err)
			}
			if !v1 {
				continue
			}
			for _, v := range table.m[f] {
				if strings.HasPrefix(v, "dep:") || strings.Contains(v, "?/") {
					at(MalformedRecord, field, "feature value %q requires schema v2", v)
				}
			}
		}
	}
}

// ArchivePath expands a crates directory template for one version.
func ArchivePath(dirTemplate, name, vers string) string {
	dir := strings.NewReplacer(indexcfg.TokenCrate, name, indexcfg.TokenVersion, vers).Replace(dirTemplate)
	return path.Join(dir, name+"-"+vers+".crate")
}

func (c *checker) archive(n int, rec record.Record) {
	p := ArchivePath(c.opts.CratesDir, rec.Name, rec.Vers)
	data, err := util.ReadFile(c.opts.CratesFS, p)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, os.ErrNotExist) {
			msg = fmt.Sprintf("no archive at %s", p)
		}
		c.add(Violation{Kind: MissingArchive, Line: n, Package: rec.Name, Version: rec.Vers, Message: msg})
		return
	}
	if got := record.Checksum(data); got != rec.Cksum {
		c.add(Violation{Kind: ChecksumMismatch, Line: n, Field: "cksum", Package: rec.Name, Version: rec.Vers,
			Message: fmt.Sprintf("%s has checksum %s", p, got)})
	}
}
