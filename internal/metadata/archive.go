package metadata

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ManifestFile is the manifest's name inside the package root.
const ManifestFile = "Cargo.toml"

const maxManifestSize = 10 << 20

// Archive is what FromArchive needs from a .crate file.
type Archive struct {
	// Root is the single top-level directory, "<name>-<version>".
	Root     string
	Manifest []byte
	Files    []string
}

// ReadArchive decompresses and scans a .crate archive. Every entry must
// live under one root directory and no entry may escape it.
func ReadArchive(data []byte) (*Archive, error) {
	gzr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot open archive: %w", err)
	}
	defer gzr.Close()

	a := &Archive{}
	tr := tar.NewReader(gzr)
	for {
		h, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("cannot read archive: %w", err)
		}
		name := sanitizeArchivePath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("archive entry %q has an unsafe path", h.Name)
		}
		root, rest, _ := strings.Cut(name, "/")
		if a.Root == "" {
			a.Root = root
		} else if root != a.Root {
			return nil, fmt.Errorf("archive entry %q is outside root directory %q", h.Name, a.Root)
		}
		if h.Typeflag == tar.TypeDir || rest == "" {
			continue
		}
		a.Files = append(a.Files, name)
		if rest == ManifestFile {
			a.Manifest, err = io.ReadAll(io.LimitReader(tr, maxManifestSize+1))
			if err != nil {
				return nil, fmt.Errorf("cannot read %s: %w", name, err)
			}
			if len(a.Manifest) > maxManifestSize {
				return nil, fmt.Errorf("%s is larger than %d bytes", name, maxManifestSize)
			}
		}
	}
	if a.Root == "" {
		return nil, fmt.Errorf("archive is empty")
	}
	if a.Manifest == nil {
		return nil, fmt.Errorf("archive has no %s/%s", a.Root, ManifestFile)
	}
	return a, nil
}

// sanitizeArchivePath returns a cleaned slash path, or "" for absolute
// paths and paths containing "..".
func sanitizeArchivePath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	if name == "" || strings.HasPrefix(name, "/") {
		return ""
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return ""
		}
	}
	clean := path.Clean(name)
	if clean == "." {
		return ""
	}
	return clean
}
