package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/kamusis/regindex/internal/ctxlog"
	"github.com/kamusis/regindex/internal/indexcfg"
	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/metadata"
	"github.com/kamusis/regindex/internal/record"
	"github.com/kamusis/regindex/internal/store"
	"github.com/kamusis/regindex/internal/validate"
)

// AddOptions tune Add.
type AddOptions struct {
	// Force replaces an existing record for the same version.
	Force bool
	// Upload, when set, is a directory template ({crate}, {version}) the
	// archive is copied into as "<name>-<version>.crate" once the index
	// has accepted the record and before its file is rewritten.
	Upload string
	// UploadFS resolves Upload; nil means the OS filesystem.
	UploadFS billy.Filesystem
	// ExpectedChecksum, when set, must equal the archive's SHA-256.
	ExpectedChecksum string
}

// MetadataOptions tune Metadata.
type MetadataOptions struct {
	ExpectedChecksum string
	// Config, when set, restricts dependency registries to its allow-list.
	Config *indexcfg.Config
}

// Metadata builds the record for archive without touching any index.
func Metadata(ctx context.Context, archive []byte, indexURL string, opts MetadataOptions) (record.Record, error) {
	rec, err := metadata.FromArchive(archive, indexURL)
	if err != nil {
		return record.Record{}, err
	}
	if opts.ExpectedChecksum != "" && opts.ExpectedChecksum != rec.Cksum {
		return record.Record{}, indexerr.New(indexerr.ChecksumMismatch,
			"archive checksum %s does not match expected %s", rec.Cksum, opts.ExpectedChecksum).
			WithPackage(rec.Name, rec.Vers).WithField("cksum")
	}
	if opts.Config != nil {
		for i, d := range rec.Deps {
			if !opts.Config.AllowsRegistry(d.Registry) {
				return record.Record{}, indexerr.New(indexerr.InvalidManifest,
					"dependency `%s` comes from registry %s, which is not in allowed-registries", d.Name, d.Registry).
					WithPackage(rec.Name, rec.Vers).WithField(fmt.Sprintf("deps[%d].registry", i))
			}
		}
	}
	ctxlog.FromContext(ctx).Debug("built metadata", "package", rec.Name, "version", rec.Vers, "deps", len(rec.Deps), "schema", int(rec.V))
	return rec, nil
}

// Add publishes archive to the index at root and returns the new record.
func Add(ctx context.Context, root *Root, archive []byte, indexURL string, opts AddOptions) (record.Record, error) {
	log := ctxlog.FromContext(ctx)
	cfg, err := root.Config()
	if err != nil {
		return record.Record{}, err
	}
	rec, err := Metadata(ctx, archive, indexURL, MetadataOptions{ExpectedChecksum: opts.ExpectedChecksum, Config: cfg})
	if err != nil {
		return record.Record{}, err
	}

	// The archive is written only once the index accepts the record, so a
	// rejected add never replaces a published archive.
	var prepare func() error
	if opts.Upload != "" {
		prepare = func() error {
			dest, err := upload(opts, rec, archive)
			if err != nil {
				return err
			}
			log.Info("uploaded archive", "package", rec.Name, "version", rec.Vers, "path", dest)
			return nil
		}
	}

	if opts.Force {
		err = root.store.ReplaceWith(rec.Name, rec, prepare)
	} else {
		err = root.store.AppendWith(rec.Name, rec, prepare)
	}
	if err != nil {
		return record.Record{}, err
	}
	log.Info("added package", "package", rec.Name, "version", rec.Vers, "path", root.Store().PathOf(rec.Name))
	return rec, nil
}

func upload(opts AddOptions, rec record.Record, archive []byte) (string, error) {
	dest := validate.ArchivePath(opts.Upload, rec.Name, rec.Vers)
	fs := opts.UploadFS
	rel := dest
	if fs == nil {
		abs, err := filepath.Abs(filepath.FromSlash(dest))
		if err != nil {
			return "", fmt.Errorf("cannot resolve upload path %s: %w", dest, err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", indexerr.Wrap(indexerr.IoFailure, err, "cannot create upload directory").WithPath(dest, 0)
		}
		fs = osfs.New(filepath.Dir(abs))
		rel = filepath.Base(abs)
	}
	if err := store.WriteAtomic(fs, rel, archive); err != nil {
		return "", err
	}
	return dest, nil
}

// AddFile is Add for an archive on disk.
func AddFile(ctx context.Context, root *Root, path, indexURL string, opts AddOptions) (record.Record, error) {
	archive, err := os.ReadFile(path)
	if err != nil {
		return record.Record{}, indexerr.Wrap(indexerr.IoFailure, err, "cannot read archive").WithPath(path, 0)
	}
	return Add(ctx, root, archive, indexURL, opts)
}
