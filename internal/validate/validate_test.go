package validate

import (
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/regindex/internal/indexcfg"
	"github.com/kamusis/regindex/internal/record"
)

func newIndex(t *testing.T, cfg *indexcfg.Config) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	if cfg == nil {
		cfg = &indexcfg.Config{DL: "https://crates.example.com/{crate}/{version}/download"}
	}
	require.NoError(t, indexcfg.Save(fs, cfg))
	return fs
}

func mkrec(name, vers string) record.Record {
	return record.Record{
		Name:     name,
		Vers:     vers,
		Deps:     []record.Dependency{{Name: "bar", Req: "^1.0", DefaultFeatures: true, Kind: record.KindNormal}},
		Cksum:    record.Checksum([]byte(name + vers)),
		Features: map[string][]string{},
	}
}

func line(t *testing.T, r record.Record) string {
	t.Helper()
	b, err := record.EncodeLine(r)
	require.NoError(t, err)
	return string(b)
}

func write(t *testing.T, fs billy.Filesystem, rel, body string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, rel, []byte(body), 0o644))
}

func kinds(vs []Violation) []Kind {
	out := []Kind{}
	for _, v := range vs {
		out = append(out, v.Kind)
	}
	return out
}

func TestRun_Clean(t *testing.T) {
	fs := newIndex(t, nil)
	write(t, fs, "3/f/foo", line(t, mkrec("foo", "0.1.0"))+line(t, mkrec("foo", "0.2.0")))
	write(t, fs, "1/a", line(t, mkrec("a", "1.0.0")))
	write(t, fs, "ab/cd/abcd", line(t, mkrec("abcd", "1.0.0-beta.1")))
	write(t, fs, ".index-lock/foo.lock", "")

	got, err := Run(context.Background(), fs, Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRun_CorruptedFile(t *testing.T) {
	fs := newIndex(t, nil)
	good := line(t, mkrec("foo", "0.1.0"))
	truncated := good[:len(good)/2] + "\n"
	dup := line(t, mkrec("foo", "0.1.0"))
	short := mkrec("foo", "0.2.0")
	short.Cksum = strings.Repeat("a", 63)
	write(t, fs, "3/f/foo", good+truncated+dup+line(t, short))

	got, err := Run(context.Background(), fs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Kind{MalformedRecord, DuplicateVersion, BadChecksum}, kinds(got))
	assert.Equal(t, []int{2, 3, 4}, []int{got[0].Line, got[1].Line, got[2].Line})
	for _, v := range got {
		assert.Equal(t, "3/f/foo", v.Path)
	}
}

func TestRun_MissingConfig(t *testing.T) {
	fs := memfs.New()
	write(t, fs, "1/a", line(t, mkrec("a", "1.0.0")))

	got, err := Run(context.Background(), fs, Options{})
	require.NoError(t, err)
	assert.Equal(t, []Kind{MissingConfig}, kinds(got))
}

func TestRun_BadConfig(t *testing.T) {
	fs := newIndex(t, &indexcfg.Config{DL: "https://x.io/{name}", API: "ftp://x.io"})
	got, err := Run(context.Background(), fs, Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []Kind{BadDLTemplate, BadAPIURL}, kinds(got))
}

func TestRun_TreeRules(t *testing.T) {
	fs := newIndex(t, &indexcfg.Config{
		DL:                "https://x.io/{crate}",
		AllowedRegistries: []string{record.CratesIOIndex},
	})

	write(t, fs, "3/x/dog", line(t, mkrec("dog", "1.0.0")))
	write(t, fs, "3/c/Cat", line(t, mkrec("Cat", "1.0.0")))
	write(t, fs, "3/c/cat", line(t, mkrec("cat", "1.0.0")))
	write(t, fs, "3/e/eel", line(t, mkrec("Eel", "1.0.0")))
	write(t, fs, "3/f/fox", line(t, mkrec("fox", "1.0.0"))+"\n"+line(t, mkrec("fox", "1.1.0")))
	write(t, fs, "3/g/gnu", strings.TrimSuffix(line(t, mkrec("gnu", "1.0.0")), "\n"))

	bad := mkrec("hen", "1.0")
	bad.Deps = []record.Dependency{
		{Name: "ok", Req: "one", Kind: record.KindNormal},
		{Name: "bad name", Req: "^1", Kind: record.KindNormal},
		{Name: "ok2", Req: "^1", Kind: "peer"},
		{Name: "ok3", Req: "^1", Kind: record.KindNormal, Registry: "https://evil.example.com/index"},
		{Name: "ok4", Req: "^1", Kind: record.KindNormal, Registry: record.CratesIOIndex},
	}
	write(t, fs, "3/h/hen", line(t, bad))
	write(t, fs, "3/i/in.x", line(t, mkrec("in.x", "1.0.0")))

	jay := mkrec("jay", "1.0.0")
	jay.Features = map[string][]string{"bad feature!": {}, "x": {"dep:zzz"}, "y": {"bar?/std"}, "ok": {"x"}}
	write(t, fs, "3/j/jay", line(t, jay))
	kea := mkrec("kea", "1.0.0")
	kea.V = record.SchemaV2
	kea.Features2 = map[string][]string{"serde": {"dep:serde", "bar?/serde"}, "+plus": {}}
	write(t, fs, "3/k/kea", line(t, kea))

	got, err := Run(context.Background(), fs, Options{})
	require.NoError(t, err)

	byPath := map[string][]Kind{}
	for _, v := range got {
		byPath[v.Path] = append(byPath[v.Path], v.Kind)
	}
	assert.Equal(t, map[string][]Kind{
		"3/x/dog":  {BadLocation},
		"3/c/cat":  {DuplicateName},
		"3/e/eel":  {NameMismatch},
		"3/f/fox":  {BlankLine},
		"3/g/gnu":  {MissingNewline},
		"3/h/hen":  {BadDependency, BadDependency, BadRequirement, BadVersion, RegistryNotAllowed},
		"3/i/in.x": {BadName, BadName},
		"3/j/jay":  {BadFeature, MalformedRecord, MalformedRecord},
		"3/k/kea":  {BadFeature},
	}, byPath)
}

func TestRun_CratesDir(t *testing.T) {
	fs := newIndex(t, nil)
	crates := memfs.New()

	present := []byte("present archive")
	r1 := mkrec("foo", "0.1.0")
	r1.Cksum = record.Checksum(present)
	r2 := mkrec("foo", "0.2.0")
	r2.Cksum = record.Checksum([]byte("expected"))
	r3 := mkrec("foo", "0.3.0")
	write(t, fs, "3/f/foo", line(t, r1)+line(t, r2)+line(t, r3))

	write(t, crates, "store/foo/0.1.0/foo-0.1.0.crate", string(present))
	write(t, crates, "store/foo/0.2.0/foo-0.2.0.crate", "tampered")

	got, err := Run(context.Background(), fs, Options{CratesDir: "store/{crate}/{version}", CratesFS: crates})
	require.NoError(t, err)
	assert.Equal(t, []Kind{ChecksumMismatch, MissingArchive}, kinds(got))
	assert.Equal(t, "0.2.0", got[0].Version)
	assert.Equal(t, "0.3.0", got[1].Version)
}

func TestArchivePath(t *testing.T) {
	assert.Equal(t, "dl/foo/0.1.0/foo-0.1.0.crate", ArchivePath("dl/{crate}/{version}", "foo", "0.1.0"))
	assert.Equal(t, "dl/foo-0.1.0.crate", ArchivePath("dl", "foo", "0.1.0"))
}

func TestViolationString(t *testing.T) {
	v := Violation{Kind: BadChecksum, Path: "3/f/foo", Line: 4, Field: "cksum", Package: "foo", Version: "0.2.0", Message: "too short"}
	assert.Equal(t, "3/f/foo:4: bad-checksum: `foo:0.2.0`: field `cksum`: too short", v.String())
}
