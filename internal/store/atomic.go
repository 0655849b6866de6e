package store

import (
	"path"

	"github.com/go-git/go-billy/v5"

	"github.com/kamusis/regindex/internal/indexerr"
)

// WriteAtomic replaces rel on fs with data via a temporary sibling and a
// rename. The temporary file is removed if anything fails.
func WriteAtomic(fs billy.Filesystem, rel string, data []byte) error {
	dir := path.Dir(rel)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return indexerr.Wrap(indexerr.IoFailure, err, "cannot create %s", dir).WithPath(rel, 0)
	}
	tmp, err := fs.TempFile(dir, ".tmp-"+path.Base(rel)+"-")
	if err != nil {
		return indexerr.Wrap(indexerr.IoFailure, err, "cannot create temp file").WithPath(rel, 0)
	}
	tmpName := tmp.Name()
	fail := func(err error, what string) error {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
		return indexerr.Wrap(indexerr.IoFailure, err, "cannot %s", what).WithPath(rel, 0)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err, "write temp file")
	}
	// Best effort: memfs files have no Sync.
	if s, ok := tmp.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmpName)
		return indexerr.Wrap(indexerr.IoFailure, err, "cannot close temp file").WithPath(rel, 0)
	}
	if ch, ok := fs.(billy.Change); ok {
		_ = ch.Chmod(tmpName, 0o644)
	}
	if err := fs.Rename(tmpName, rel); err != nil {
		_ = fs.Remove(tmpName)
		return indexerr.Wrap(indexerr.IoFailure, err, "cannot rename temp file").WithPath(rel, 0)
	}
	return nil
}

func (s *Store) writeAtomic(rel string, data []byte) error {
	return WriteAtomic(s.fs, rel, data)
}
