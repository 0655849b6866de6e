package metadata

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/metadata/cratetest"
	"github.com/kamusis/regindex/internal/record"
)

const indexURL = "https://example.com/my-index"

func TestFromArchive_Basic(t *testing.T) {
	archive := cratetest.Crate(t, "foo", "0.1.0", "[dependencies]\nbar = \"1.0\"\n")

	got, err := FromArchive(archive, indexURL)
	require.NoError(t, err)

	want := record.Record{
		Name: "foo",
		Vers: "0.1.0",
		Deps: []record.Dependency{{
			Name:            "bar",
			Req:             "^1.0",
			Features:        []string{},
			DefaultFeatures: true,
			Kind:            record.KindNormal,
			Registry:        record.CratesIOIndex,
		}},
		Cksum:    record.Checksum(archive),
		Features: map[string][]string{},
		V:        record.SchemaV1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestFromArchive_DependencyForms(t *testing.T) {
	extra := `
[dependencies]
serde = { version = "1", features = ["derive"], default-features = false }
log = { version = ">= 0.4, < 0.5", optional = true }
local = { version = "0.2", registry-index = "https://example.com/my-index" }
other = { version = "3", registry-index = "https://other.example.com/index", package = "other-real" }

[dev-dependencies]
quickcheck = "1"
pathonly = { path = "../pathonly" }

[build-dependencies]
cc = "<2"

[target.'cfg(unix)'.dependencies]
libc = "0.2"
`
	archive := cratetest.Crate(t, "multi", "1.2.3", extra)
	got, err := FromArchive(archive, indexURL)
	require.NoError(t, err)

	type brief struct {
		Name, Req, Target, Registry, Package string
		Kind                                 record.DepKind
		Optional, DefaultFeatures            bool
	}
	var deps []brief
	for _, d := range got.Deps {
		deps = append(deps, brief{d.Name, d.Req, d.Target, d.Registry, d.Package, d.Kind, d.Optional, d.DefaultFeatures})
	}
	want := []brief{
		{"cc", "<2", "", record.CratesIOIndex, "", record.KindBuild, false, true},
		{"libc", "^0.2", "cfg(unix)", record.CratesIOIndex, "", record.KindNormal, false, true},
		{"local", "^0.2", "", "", "", record.KindNormal, false, true},
		{"log", ">=0.4, <0.5", "", record.CratesIOIndex, "", record.KindNormal, true, true},
		{"other", "^3", "", "https://other.example.com/index", "other-real", record.KindNormal, false, true},
		{"quickcheck", "^1", "", record.CratesIOIndex, "", record.KindDev, false, true},
		{"serde", "^1", "", record.CratesIOIndex, "", record.KindNormal, false, false},
	}
	if diff := cmp.Diff(want, deps); diff != "" {
		t.Fatalf("deps mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"derive"}, got.Deps[6].Features)
}

func TestFromArchive_FeaturesV2(t *testing.T) {
	extra := `
[dependencies]
serde = { version = "1", optional = true }
rand = { version = "0.8", optional = true }

[features]
default = ["std"]
std = []
serde = ["dep:serde", "rand?/std"]
`
	got, err := FromArchive(cratetest.Crate(t, "feat", "0.1.0", extra), indexURL)
	require.NoError(t, err)
	assert.Equal(t, record.SchemaV2, got.V)
	assert.Equal(t, map[string][]string{"default": {"std"}, "std": {}}, got.Features)
	assert.Equal(t, map[string][]string{"serde": {"dep:serde", "rand?/std"}}, got.Features2)
}

func TestFromArchive_ImplicitFeature(t *testing.T) {
	extra := `
[dependencies]
serde = { version = "1", optional = true }

[features]
full = ["serde", "serde/derive"]
`
	got, err := FromArchive(cratetest.Crate(t, "imp", "0.1.0", extra), indexURL)
	require.NoError(t, err)
	assert.Equal(t, record.SchemaV1, got.V)
	assert.Nil(t, got.Features2)
}

func TestFromArchive_Invalid(t *testing.T) {
	cases := []struct {
		name  string
		crate func(t *testing.T) []byte
		field string
	}{
		{"bad version", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0", "")
		}, "package.version"},
		{"trailing dot version", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0.", "")
		}, "package.version"},
		{"bad requirement", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[dependencies]\nbar = \"one\"\n")
		}, "dependencies.bar.version"},
		{"missing version", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[dependencies]\nbar = { path = \"../bar\" }\n")
		}, "dependencies.bar"},
		{"build dep missing version", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[build-dependencies]\ncc = { git = \"https://x\" }\n")
		}, "build-dependencies.cc"},
		{"edition", func(t *testing.T) []byte {
			return cratetest.Pack(t, "foo-1.0.0", map[string]string{
				"Cargo.toml": "[package]\nname = \"foo\"\nversion = \"1.0.0\"\nedition = \"2019\"\n",
			})
		}, "package.edition"},
		{"feature collides with dependency", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[dependencies]\nbar = \"1\"\n[features]\nbar = []\n")
		}, "features.bar"},
		{"feature shadows optional dependency", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[dependencies]\nbar = { version = \"1\", optional = true }\n[features]\nbar = []\n")
		}, "features.bar"},
		{"dep: on non-optional", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[dependencies]\nbar = \"1\"\n[features]\nx = [\"dep:bar\"]\n")
		}, "features.x"},
		{"slash on unknown dep", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[features]\nx = [\"nope/std\"]\n")
		}, "features.x"},
		{"unknown feature", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[features]\nx = [\"y\"]\n")
		}, "features.x"},
		{"invalid feature name", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[features]\n\"-x\" = []\n")
		}, "features.-x"},
		{"named registry", func(t *testing.T) []byte {
			return cratetest.Crate(t, "foo", "1.0.0", "[dependencies]\nbar = { version = \"1\", registry = \"corp\" }\n")
		}, "dependencies.bar"},
		{"root mismatch", func(t *testing.T) []byte {
			return cratetest.Pack(t, "foo-9.9.9", map[string]string{"Cargo.toml": cratetest.Manifest("foo", "1.0.0", "")})
		}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := FromArchive(c.crate(t), indexURL)
			require.Error(t, err)
			var ie *indexerr.Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, indexerr.InvalidManifest, ie.Kind, "err: %v", err)
			assert.Equal(t, c.field, ie.Field, "err: %v", err)
			assert.Equal(t, "foo", ie.Package, "err: %v", err)
		})
	}
}

func TestReadArchive_Rejects(t *testing.T) {
	cases := map[string][]byte{
		"escape":      cratetest.Pack(t, "foo-1.0.0", map[string]string{"Cargo.toml": "", "!foo-1.0.0/../evil": "x"}),
		"absolute":    cratetest.Pack(t, "foo-1.0.0", map[string]string{"Cargo.toml": "", "!/etc/passwd": "x"}),
		"two roots":   cratetest.Pack(t, "foo-1.0.0", map[string]string{"Cargo.toml": "", "!bar-1.0.0/x": "x"}),
		"no manifest": cratetest.Pack(t, "foo-1.0.0", map[string]string{"src/lib.rs": ""}),
		"not gzip":    []byte("plain text"),
	}
	for name, data := range cases {
		if _, err := ReadArchive(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSanitizeArchivePath(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"foo-1.0.0/Cargo.toml", "foo-1.0.0/Cargo.toml"},
		{"./foo-1.0.0/src/lib.rs", "foo-1.0.0/src/lib.rs"},
		{"foo-1.0.0\\src\\lib.rs", "foo-1.0.0/src/lib.rs"},
		{"/etc/passwd", ""},
		{"foo/../../x", ""},
		{".", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := sanitizeArchivePath(c.in); got != c.want {
			t.Fatalf("sanitizeArchivePath(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestBuild_BadName(t *testing.T) {
	m := &Manifest{Package: PackageSection{Name: "foo.bar", Version: "1.0.0"}}
	_, err := Build(m, nil, indexURL)
	var ie *indexerr.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, indexerr.InvalidManifest, ie.Kind)
	assert.Equal(t, "package.name", ie.Field)
}
