// Package store reads and mutates record files.
//
// Every mutation runs under the package's exclusive lock and replaces the
// file by writing a temporary sibling and renaming it over the original, so
// readers see either the old or the new file, never a torn one.
package store

import (
	"bytes"
	"errors"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/layout"
	"github.com/kamusis/regindex/internal/lock"
	"github.com/kamusis/regindex/internal/record"
)

// ConfigFile is the index configuration file at the root; it is not a
// record file.
const ConfigFile = "config.json"

// Store is a record store over a filesystem rooted at the index root.
type Store struct {
	fs     billy.Filesystem
	locker lock.Locker
}

// New returns a Store. locker guards writers of the same package.
func New(fs billy.Filesystem, locker lock.Locker) *Store {
	return &Store{fs: fs, locker: locker}
}

// FS returns the underlying filesystem.
func (s *Store) FS() billy.Filesystem { return s.fs }

// Line is one record line of a file.
type Line struct {
	// Number is 1-based.
	Number int
	Raw    []byte
	Record record.Record

	start, end int
}

// File is a parsed record file.
type File struct {
	Path  string
	Lines []Line

	data []byte
}

// Name returns the package name the file is stored under.
func (f *File) Name() string { return path.Base(f.Path) }

// Records returns the decoded records in publication order.
func (f *File) Records() []record.Record {
	out := make([]record.Record, 0, len(f.Lines))
	for _, l := range f.Lines {
		out = append(out, l.Record)
	}
	return out
}

// find returns the indexes of lines whose version equals vers.
func (f *File) find(vers string) []int {
	var idx []int
	for i, l := range f.Lines {
		if record.SameVersion(l.Record.Vers, vers) {
			idx = append(idx, i)
		}
	}
	return idx
}

// IsSkipped reports whether a directory entry is not part of the record
// tree: dot-entries (locks, temp files, VCS metadata) and the config file.
func IsSkipped(name string) bool {
	return strings.HasPrefix(name, ".") || name == ConfigFile
}

func parseFile(rel string, data []byte) (*File, error) {
	f := &File{Path: rel, data: data}
	pos, n := 0, 0
	for pos < len(data) {
		n++
		end := bytes.IndexByte(data[pos:], '\n')
		if end < 0 {
			end = len(data)
		} else {
			end += pos
		}
		raw := data[pos:end]
		start := pos
		pos = end + 1
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		rec, err := record.Decode(raw)
		if err != nil {
			return nil, indexerr.Wrap(indexerr.MalformedRecord, err, "cannot decode record").WithPath(rel, n)
		}
		f.Lines = append(f.Lines, Line{Number: n, Raw: raw, Record: rec, start: start, end: end})
	}
	return f, nil
}

// locate finds the record file for name. The bucket directory is derived
// from the lowercased name, so any case variant of an existing file lives
// in the same directory.
func (s *Store) locate(name string) (rel string, found bool, err error) {
	dir := layout.Dir(name)
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return layout.PathFor(name), false, nil
		}
		return "", false, indexerr.Wrap(indexerr.IoFailure, err, "cannot read %s", dir)
	}
	for _, e := range entries {
		if e.IsDir() || IsSkipped(e.Name()) {
			continue
		}
		if record.SameName(e.Name(), name) {
			return path.Join(dir, e.Name()), true, nil
		}
	}
	return layout.PathFor(name), false, nil
}

// PathOf returns the path of name's record file, or where it would be
// created.
func (s *Store) PathOf(name string) string {
	rel, _, err := s.locate(name)
	if err != nil {
		return layout.PathFor(name)
	}
	return rel
}

func checkName(name string) error {
	if err := record.ValidateName(name); err != nil {
		return indexerr.Wrap(indexerr.InvalidManifest, err, "invalid package name").WithPackage(name, "")
	}
	return nil
}

// ReadPath reads and parses the record file at rel.
func (s *Store) ReadPath(rel string) (*File, error) {
	data, err := util.ReadFile(s.fs, rel)
	if err != nil {
		return nil, indexerr.Wrap(indexerr.IoFailure, err, "cannot read %s", rel)
	}
	return parseFile(rel, data)
}

// ReadFile returns the record file holding name, matched
// case-insensitively. It returns (nil, nil) when the package is absent.
func (s *Store) ReadFile(name string) (*File, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	rel, found, err := s.locate(name)
	if err != nil || !found {
		return nil, err
	}
	return s.ReadPath(rel)
}

// Read returns all records of name in publication order; an absent package
// yields an empty slice.
func (s *Store) Read(name string) ([]record.Record, error) {
	f, err := s.ReadFile(name)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return []record.Record{}, nil
	}
	return f.Records(), nil
}

func (s *Store) withLock(name string, fn func() error) error {
	release, err := s.locker.Acquire(record.Fold(name))
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// load locates and parses name's file under the caller's lock. A missing
// file yields an empty File at the canonical path.
func (s *Store) load(name string) (*File, bool, error) {
	rel, found, err := s.locate(name)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return &File{Path: rel}, false, nil
	}
	f, err := s.ReadPath(rel)
	return f, true, err
}

func duplicate(rec record.Record) error {
	return indexerr.New(indexerr.DuplicateVersion,
		"Package `%s` version `%s` is already in the index.", rec.Name, rec.Vers).WithPackage(rec.Name, rec.Vers)
}

func caseConflict(existing string, rec record.Record) error {
	return indexerr.New(indexerr.InvalidManifest,
		"package `%s` differs only in case from existing package `%s`", rec.Name, existing).
		WithPackage(rec.Name, rec.Vers).WithField("name")
}

func appendLine(data, line []byte) []byte {
	out := make([]byte, 0, len(data)+len(line)+1)
	out = append(out, data...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return append(out, line...)
}

// Append adds rec as the last line of name's file, creating the file if
// needed. Prior bytes are left untouched.
func (s *Store) Append(name string, rec record.Record) error {
	return s.AppendWith(name, rec, nil)
}

// AppendWith is Append with a prepare step. prepare runs under the
// package's lock after the duplicate and case checks pass and before the
// file is written; an error from it leaves the file untouched.
func (s *Store) AppendWith(name string, rec record.Record, prepare func() error) error {
	if err := checkName(name); err != nil {
		return err
	}
	line, err := record.EncodeLine(rec)
	if err != nil {
		return indexerr.Wrap(indexerr.InvalidManifest, err, "cannot encode record").WithPackage(rec.Name, rec.Vers)
	}
	return s.withLock(name, func() error {
		f, found, err := s.load(name)
		if err != nil {
			return err
		}
		if len(f.find(rec.Vers)) > 0 {
			return duplicate(rec)
		}
		if found && f.Name() != name {
			return caseConflict(f.Name(), rec)
		}
		if err := run(prepare); err != nil {
			return err
		}
		return s.writeAtomic(f.Path, appendLine(f.data, line))
	})
}

// Replace overwrites the line holding rec's version, or appends rec when
// the version is new. It does not write when the line is already
// byte-identical.
func (s *Store) Replace(name string, rec record.Record) error {
	return s.ReplaceWith(name, rec, nil)
}

// ReplaceWith is Replace with a prepare step, run under the package's lock
// once the target line is known and before anything is written. prepare
// still runs when the line is unchanged.
func (s *Store) ReplaceWith(name string, rec record.Record, prepare func() error) error {
	if err := checkName(name); err != nil {
		return err
	}
	line, err := record.Encode(rec)
	if err != nil {
		return indexerr.Wrap(indexerr.InvalidManifest, err, "cannot encode record").WithPackage(rec.Name, rec.Vers)
	}
	return s.withLock(name, func() error {
		f, found, err := s.load(name)
		if err != nil {
			return err
		}
		if found && f.Name() != name {
			return caseConflict(f.Name(), rec)
		}
		idx := f.find(rec.Vers)
		if len(idx) > 1 {
			return indexerr.New(indexerr.MalformedRecord, "version `%s` appears %d times", rec.Vers, len(idx)).
				WithPackage(rec.Name, rec.Vers).WithPath(f.Path, f.Lines[idx[1]].Number)
		}
		if err := run(prepare); err != nil {
			return err
		}
		if len(idx) == 0 {
			return s.writeAtomic(f.Path, appendLine(f.data, append(line, '\n')))
		}
		l := f.Lines[idx[0]]
		if bytes.Equal(l.Raw, line) {
			return nil
		}
		return s.writeAtomic(f.Path, splice(f.data, l, line))
	})
}

func run(prepare func() error) error {
	if prepare == nil {
		return nil
	}
	return prepare()
}

func splice(data []byte, l Line, line []byte) []byte {
	out := make([]byte, 0, len(data)-len(l.Raw)+len(line))
	out = append(out, data[:l.start]...)
	out = append(out, line...)
	return append(out, data[l.end:]...)
}

// SetYank sets the yanked flag of one version. changed is false when the
// record was already in the requested state; nothing is written then.
func (s *Store) SetYank(name, vers string, yanked bool) (changed bool, err error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	err = s.withLock(name, func() error {
		f, found, err := s.load(name)
		if err != nil {
			return err
		}
		if !found {
			return indexerr.New(indexerr.VersionNotFound, "Package `%s` is not in the index.", name).WithPackage(name, "")
		}
		idx := f.find(vers)
		switch len(idx) {
		case 0:
			return indexerr.New(indexerr.VersionNotFound, "Version `%s` for package `%s` not found.", vers, name).WithPackage(name, vers)
		case 1:
		default:
			return indexerr.New(indexerr.MalformedRecord, "version `%s` appears %d times", vers, len(idx)).
				WithPackage(name, vers).WithPath(f.Path, f.Lines[idx[1]].Number)
		}
		l := f.Lines[idx[0]]
		if l.Record.Yanked == yanked {
			return nil
		}
		rec := l.Record
		rec.Yanked = yanked
		line, err := record.Encode(rec)
		if err != nil {
			return indexerr.Wrap(indexerr.MalformedRecord, err, "cannot encode record").WithPackage(name, vers)
		}
		if err := s.writeAtomic(f.Path, splice(f.data, l, line)); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// Walk calls fn with the relative path of every record file, in lexical
// order.
func (s *Store) Walk(fn func(rel string) error) error {
	return s.walk("", fn)
}

func (s *Store) walk(dir string, fn func(rel string) error) error {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		if dir == "" && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return indexerr.Wrap(indexerr.IoFailure, err, "cannot read %s", displayDir(dir))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if IsSkipped(e.Name()) {
			continue
		}
		rel := path.Join(dir, e.Name())
		if e.IsDir() {
			if err := s.walk(rel, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(rel); err != nil {
			return err
		}
	}
	return nil
}

func displayDir(dir string) string {
	if dir == "" {
		return "index root"
	}
	return dir
}
