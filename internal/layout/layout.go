// Package layout maps package names to their location in the index tree.
//
// Names are bucketed by length so no directory grows unbounded:
//
//	a      -> 1/a
//	ab     -> 2/ab
//	abc    -> 3/a/abc
//	abcd   -> ab/cd/abcd
//
// Directory components come from the case-folded name (record.Fold), so
// every spelling of one package shares a directory; the final segment keeps
// the name's original case. Lengths are counted in runes of the folded name.
package layout

import (
	"path"
	"strings"

	"github.com/kamusis/regindex/internal/record"
)

// PathFor returns the slash-separated, index-relative path of name's
// record file.
func PathFor(name string) string {
	return path.Join(Dir(name), name)
}

// Dir returns the directory portion of PathFor(name).
func Dir(name string) string {
	return bucket([]rune(record.Fold(name)))
}

// Prefix returns the value of the {prefix} download-URL token for name.
func Prefix(name string) string {
	return bucket([]rune(name))
}

// LowerPrefix returns the value of the {lowerprefix} download-URL token.
func LowerPrefix(name string) string {
	return Dir(name)
}

func bucket(r []rune) string {
	switch len(r) {
	case 0:
		return ""
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3/" + string(r[:1])
	default:
		return string(r[0:2]) + "/" + string(r[2:4])
	}
}

// NameFromPath returns the package name a record file at rel would hold,
// and whether rel is the correct location for that name. rel uses forward
// slashes and is relative to the index root.
func NameFromPath(rel string) (string, bool) {
	rel = strings.TrimPrefix(path.Clean(rel), "/")
	name := path.Base(rel)
	if name == "." || name == "" {
		return "", false
	}
	return name, PathFor(name) == rel
}
