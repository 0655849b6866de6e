// Package index implements the index operations: init, add, list,
// metadata, yank, unyank and validate. Every operation takes an explicit
// *Root; there is no package-level state.
package index

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/kamusis/regindex/internal/ctxlog"
	"github.com/kamusis/regindex/internal/indexcfg"
	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/lock"
	"github.com/kamusis/regindex/internal/store"
)

// Options configure how a Root coordinates writers.
type Options struct {
	LockPolicy  lock.Policy
	LockTimeout time.Duration
}

func (o Options) lockOptions() lock.Options {
	return lock.Options{Policy: o.LockPolicy, Timeout: o.LockTimeout}
}

// Root is an open index.
type Root struct {
	path  string
	fs    billy.Filesystem
	store *store.Store
}

// Open opens the index directory at path. The config is read per
// operation, so Open succeeds on an index whose config is missing.
func Open(path string, opts Options) (*Root, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, indexerr.New(indexerr.MissingConfig, "index directory %s does not exist", path).WithPath(path, 0)
		}
		return nil, indexerr.Wrap(indexerr.IoFailure, err, "cannot open index").WithPath(path, 0)
	}
	if !fi.IsDir() {
		return nil, indexerr.New(indexerr.IoFailure, "%s is not a directory", path).WithPath(path, 0)
	}
	fs := osfs.New(path)
	return &Root{path: path, fs: fs, store: store.New(fs, lock.NewFileLocker(path, opts.lockOptions()))}, nil
}

// OpenFS opens an index held on fs, serializing writers in-process.
func OpenFS(fs billy.Filesystem, opts Options) *Root {
	return &Root{fs: fs, store: store.New(fs, lock.NewMemLocker(opts.lockOptions()))}
}

// Path returns the directory the index was opened from; empty for OpenFS.
func (r *Root) Path() string { return r.path }

// FS returns the index filesystem.
func (r *Root) FS() billy.Filesystem { return r.fs }

// Store returns the record store.
func (r *Root) Store() *store.Store { return r.store }

// Config loads the index configuration.
func (r *Root) Config() (*indexcfg.Config, error) {
	return indexcfg.Load(r.fs)
}

// InitOptions are the values written to config.json.
type InitOptions struct {
	DL                string
	API               string
	AuthRequired      bool
	AllowedRegistries []string

	Options
}

func (o InitOptions) config() (*indexcfg.Config, error) {
	cfg := &indexcfg.Config{
		DL:                o.DL,
		API:               strings.TrimRight(o.API, "/"),
		AuthRequired:      o.AuthRequired,
		AllowedRegistries: o.AllowedRegistries,
	}
	problems := cfg.Check()
	if len(problems) == 0 {
		return cfg, nil
	}
	msgs := make([]string, 0, len(problems))
	for _, p := range problems {
		msgs = append(msgs, p.Msg)
	}
	field := "dl"
	if problems[0].Kind == indexcfg.ProblemAPIURL {
		field = "api"
	}
	return nil, indexerr.New(indexerr.MissingConfig, "invalid config: %s", strings.Join(msgs, "; ")).WithField(field)
}

// Init creates an index at path, creating the directory if needed. An
// existing valid index that holds no packages is re-initialized; any other
// non-empty directory is AlreadyExists. Dot-entries are ignored.
func Init(ctx context.Context, path string, opts InitOptions) (*Root, error) {
	if _, err := opts.config(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, indexerr.Wrap(indexerr.IoFailure, err, "cannot create index directory").WithPath(path, 0)
	}
	r, err := Open(path, opts.Options)
	if err != nil {
		return nil, err
	}
	if err := initRoot(ctx, r, opts); err != nil {
		return nil, err
	}
	return r, nil
}

// InitFS is Init for an index held on fs.
func InitFS(ctx context.Context, fs billy.Filesystem, opts InitOptions) (*Root, error) {
	r := OpenFS(fs, opts.Options)
	if err := initRoot(ctx, r, opts); err != nil {
		return nil, err
	}
	return r, nil
}

func initRoot(ctx context.Context, r *Root, opts InitOptions) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	empty, err := r.isEmpty()
	if err != nil {
		return err
	}
	if !empty {
		return indexerr.New(indexerr.AlreadyExists, "index directory is not empty").WithPath(r.displayPath(), 0)
	}
	if err := indexcfg.Save(r.fs, cfg); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("initialized index", "path", r.displayPath(), "dl", cfg.DL)
	return nil
}

// isEmpty reports whether the root has no visible entries, or holds only a
// loadable config and no record files.
func (r *Root) isEmpty() (bool, error) {
	entries, err := r.fs.ReadDir("")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, indexerr.Wrap(indexerr.IoFailure, err, "cannot read index directory")
	}
	visible := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			visible++
		}
	}
	if visible == 0 {
		return true, nil
	}
	if _, err := r.Config(); err != nil {
		return false, nil
	}
	files := 0
	if err := r.store.Walk(func(string) error {
		files++
		return nil
	}); err != nil {
		return false, err
	}
	return files == 0, nil
}

func (r *Root) displayPath() string {
	if r.path == "" {
		return "."
	}
	return r.path
}
