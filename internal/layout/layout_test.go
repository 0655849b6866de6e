package layout

import (
	"path"
	"strings"
	"testing"
)

func TestPathFor(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"a", "1/a"},
		{"ab", "2/ab"},
		{"foo", "3/f/foo"},
		{"abcd", "ab/cd/abcd"},
		{"serde_json", "se/rd/serde_json"},
		{"Foo", "3/f/Foo"},
		{"FooBar", "fo/ob/FooBar"},
		{"A", "1/A"},
		{"ñandú", "ña/nd/ñandú"},
	}
	for _, c := range cases {
		if got := PathFor(c.in); got != c.want {
			t.Fatalf("PathFor(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestPathFor_AllLengths(t *testing.T) {
	const alphabet = "AbCdEfGhIjKlMnOpQrStUvWxYz0123456789-_"
	for n := 1; n <= 63; n++ {
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteByte(alphabet[i%len(alphabet)])
		}
		name := b.String()
		got := PathFor(name)

		if path.Base(got) != name {
			t.Fatalf("len %d: final segment %q want %q", n, path.Base(got), name)
		}
		dir := path.Dir(got)
		if dir != strings.ToLower(dir) {
			t.Fatalf("len %d: directory %q is not lowercase", n, dir)
		}
		lower := strings.ToLower(name)
		var want string
		switch n {
		case 1:
			want = "1"
		case 2:
			want = "2"
		case 3:
			want = "3/" + lower[:1]
		default:
			want = lower[0:2] + "/" + lower[2:4]
		}
		if dir != want {
			t.Fatalf("len %d: dir %q want %q", n, dir, want)
		}
	}
}

func TestPrefixTokens(t *testing.T) {
	if got := Prefix("FooBar"); got != "Fo/oB" {
		t.Fatalf("Prefix=%q", got)
	}
	if got := LowerPrefix("FooBar"); got != "fo/ob" {
		t.Fatalf("LowerPrefix=%q", got)
	}
	if got := Prefix("Abc"); got != "3/A" {
		t.Fatalf("Prefix=%q", got)
	}
}

func TestNameFromPath(t *testing.T) {
	cases := []struct {
		in     string
		name   string
		wantOK bool
	}{
		{"1/a", "a", true},
		{"2/ab", "ab", true},
		{"3/f/foo", "foo", true},
		{"ab/cd/abcd", "abcd", true},
		{"fo/o/foo", "foo", false},
		{"2/abc", "abc", false},
		{"AB/CD/abcd", "abcd", false},
		{"ab/cd/ABCD", "ABCD", true},
	}
	for _, c := range cases {
		name, ok := NameFromPath(c.in)
		if name != c.name || ok != c.wantOK {
			t.Fatalf("NameFromPath(%q)=(%q,%v) want (%q,%v)", c.in, name, ok, c.name, c.wantOK)
		}
	}
}

func TestDirSharedAcrossSpellings(t *testing.T) {
	groups := [][]string{
		{"Straße", "STRASSE", "strasse"},
		{"ΣΟΦΙΑ", "σοφια", "Σοφια"},
		{"FooBar", "foobar", "FOOBAR"},
	}
	for _, g := range groups {
		want := Dir(g[0])
		for _, name := range g[1:] {
			if got := Dir(name); got != want {
				t.Fatalf("Dir(%q)=%q, Dir(%q)=%q", name, got, g[0], want)
			}
		}
	}
	if got := PathFor("Straße"); got != "st/ra/Straße" {
		t.Fatalf("PathFor=%q", got)
	}
	if _, ok := NameFromPath("st/ra/Straße"); !ok {
		t.Fatal("folded location rejected")
	}
}
