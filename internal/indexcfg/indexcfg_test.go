package indexcfg

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamusis/regindex/internal/indexerr"
)

func TestSaveLoad(t *testing.T) {
	fs := memfs.New()
	cfg := &Config{
		DL:                "https://dl.example.com/{crate}/{version}.crate?sum={sha256-checksum}&p={prefix}",
		API:               "https://api.example.com/",
		AuthRequired:      true,
		AllowedRegistries: []string{"https://github.com/rust-lang/crates.io-index"},
	}
	require.NoError(t, Save(fs, cfg))

	raw, err := util.ReadFile(fs, "config.json")
	require.NoError(t, err)
	assert.Equal(t,
		`{"dl":"https://dl.example.com/{crate}/{version}.crate?sum={sha256-checksum}&p={prefix}","api":"https://api.example.com","auth-required":true,"allowed-registries":["https://github.com/rust-lang/crates.io-index"]}`+"\n",
		string(raw))

	got, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", got.API)
	assert.True(t, got.AuthRequired)
	assert.Empty(t, got.Check())
}

func TestSaveMinimal(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, Save(fs, &Config{DL: "https://example.com/api/v1/crates"}))
	raw, err := util.ReadFile(fs, "config.json")
	require.NoError(t, err)
	assert.Equal(t, `{"dl":"https://example.com/api/v1/crates"}`+"\n", string(raw))
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(memfs.New())
	assert.True(t, indexerr.Is(err, indexerr.MissingConfig), "got %v", err)

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "config.json", []byte("{not json"), 0o644))
	_, err = Load(fs)
	assert.True(t, indexerr.Is(err, indexerr.MissingConfig), "got %v", err)

	require.NoError(t, util.WriteFile(fs, "config.json", []byte(`{"api":"https://x"}`), 0o644))
	_, err = Load(fs)
	assert.True(t, indexerr.Is(err, indexerr.MissingConfig), "got %v", err)
}

func TestDownloadURL(t *testing.T) {
	cases := []struct {
		dl   string
		name string
		want string
	}{
		{"https://x.io/api/v1/crates", "foo", "https://x.io/api/v1/crates/foo/0.1.0/download"},
		{"https://x.io/api/v1/crates/", "foo", "https://x.io/api/v1/crates/foo/0.1.0/download"},
		{"https://x.io/{crate}-{version}.crate", "foo", "https://x.io/foo-0.1.0.crate"},
		{"https://x.io/{prefix}/{lowerprefix}/{crate}", "FooBar", "https://x.io/Fo/oB/fo/ob/FooBar"},
		{"https://x.io/{prefix}/{crate}", "ab", "https://x.io/2/ab"},
		{"https://x.io/{sha256-checksum}", "a", "https://x.io/abc"},
	}
	for _, c := range cases {
		cfg := &Config{DL: c.dl}
		if got := cfg.DownloadURL(c.name, "0.1.0", "abc"); got != c.want {
			t.Fatalf("DownloadURL(%q)=%q want %q", c.dl, got, c.want)
		}
	}
}

func TestCheck(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"ok", Config{DL: "https://x.io/{crate}"}, nil},
		{"unknown marker", Config{DL: "https://x.io/{name}"}, []string{ProblemDLTemplate}},
		{"unbalanced", Config{DL: "https://x.io/{crate"}, []string{ProblemDLTemplate}},
		{"no scheme", Config{DL: "x.io/{crate}"}, []string{ProblemDLTemplate}},
		{"empty dl", Config{}, []string{ProblemDLTemplate}},
		{"bad api", Config{DL: "https://x.io", API: "ftp://x.io"}, []string{ProblemAPIURL}},
		{"api no host", Config{DL: "https://x.io", API: "https://"}, []string{ProblemAPIURL}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got []string
			for _, p := range c.cfg.Check() {
				got = append(got, p.Kind)
			}
			assert.Equal(t, c.want, got)
		})
	}
}

func TestAllowsRegistry(t *testing.T) {
	open := &Config{}
	assert.True(t, open.AllowsRegistry("https://anything"))

	cfg := &Config{AllowedRegistries: []string{"https://github.com/rust-lang/crates.io-index"}}
	assert.True(t, cfg.AllowsRegistry(""))
	assert.True(t, cfg.AllowsRegistry("https://github.com/rust-lang/crates.io-index/"))
	assert.False(t, cfg.AllowsRegistry("https://evil.example.com/index"))
}
