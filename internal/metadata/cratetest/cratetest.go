// Package cratetest builds .crate archives in memory for tests.
package cratetest

import (
	"archive/tar"
	"bytes"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// Pack returns a gzip tar with files placed under root. Keys are paths
// relative to root; a key starting with "!" is written verbatim, without
// the root prefix.
func Pack(t testing.TB, root string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		body := files[n]
		name := root + "/" + n
		if raw, ok := strings.CutPrefix(n, "!"); ok {
			name = raw
		}
		h := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(h); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// Manifest renders a minimal Cargo.toml followed by extra TOML.
func Manifest(name, version, extra string) string {
	return fmt.Sprintf("[package]\nname = %q\nversion = %q\nedition = \"2021\"\n\n%s", name, version, extra)
}

// Crate packs a crate whose root is "<name>-<version>" holding Cargo.toml
// and src/lib.rs.
func Crate(t testing.TB, name, version, extra string) []byte {
	t.Helper()
	return Pack(t, name+"-"+version, map[string]string{
		"Cargo.toml": Manifest(name, version, extra),
		"src/lib.rs": "pub fn it_works() {}\n",
	})
}
