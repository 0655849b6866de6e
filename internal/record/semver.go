package record

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseVersion parses a strict SemVer 2.0 version (three numeric
// components, optional pre-release and build metadata).
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version `%s`: %w", s, err)
	}
	return v, nil
}

// SameVersion reports whether a and b denote the same published version.
// Build metadata is part of the identity. Unparsable versions compare by
// text.
func SameVersion(a, b string) bool {
	va, errA := semver.StrictNewVersion(a)
	vb, errB := semver.StrictNewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb) && va.Metadata() == vb.Metadata()
}

// Req is a parsed version requirement.
type Req struct {
	text string
	c    *semver.Constraints
}

// String returns the normalized requirement text.
func (r *Req) String() string { return r.text }

// Matches reports whether version satisfies r. Unparsable versions never
// match.
func (r *Req) Matches(version string) bool {
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return false
	}
	return r.c.Check(v)
}

var reqOps = []string{">=", "<=", "^", "~", ">", "<", "="}

// ParseReq parses a comma-separated list of comparators and normalizes it
// to display form: a comparator without an operator gets '^', operators
// are attached to their version, and comparators are joined with ", ".
func ParseReq(s string) (*Req, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("empty version requirement")
	}
	if strings.Contains(raw, "||") {
		return nil, fmt.Errorf("invalid version requirement `%s`: `||` is not supported", s)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("invalid version requirement `%s`: empty comparator", s)
		}
		if p == "*" {
			out = append(out, p)
			continue
		}
		op := ""
		for _, o := range reqOps {
			if strings.HasPrefix(p, o) {
				op = o
				break
			}
		}
		ver := strings.TrimSpace(p[len(op):])
		if ver == "" || strings.ContainsAny(ver, " \t") {
			return nil, fmt.Errorf("invalid version requirement `%s`: bad comparator `%s`", s, p)
		}
		if c := ver[0]; (c < '0' || c > '9') && c != '*' {
			return nil, fmt.Errorf("invalid version requirement `%s`: bad comparator `%s`", s, p)
		}
		if op == "" && !isWildcard(ver) {
			op = "^"
		}
		out = append(out, op+ver)
	}
	text := strings.Join(out, ", ")
	c, err := semver.NewConstraint(text)
	if err != nil {
		return nil, fmt.Errorf("invalid version requirement `%s`: %w", s, err)
	}
	return &Req{text: text, c: c}, nil
}

// NormalizeReq returns the display form of s.
func NormalizeReq(s string) (string, error) {
	r, err := ParseReq(s)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

// isWildcard reports whether ver has a '*', 'x' or 'X' component, as in
// "1.*" or "1.2.x".
func isWildcard(ver string) bool {
	for _, c := range strings.Split(ver, ".") {
		if c == "*" || c == "x" || c == "X" {
			return true
		}
	}
	return false
}
