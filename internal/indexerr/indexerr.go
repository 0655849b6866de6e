// Package indexerr defines the error taxonomy shared by every index
// operation. Each failure carries a Kind so callers (the CLI in particular)
// can map it to a distinct exit code without parsing messages.
package indexerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an index failure.
type Kind int

const (
	KindUnknown Kind = iota
	InvalidManifest
	DuplicateVersion
	VersionNotFound
	MalformedRecord
	MissingConfig
	AlreadyExists
	Locked
	IoFailure
	ChecksumMismatch
	AlreadyYanked
	NotYanked
)

var kindNames = map[Kind]string{
	KindUnknown:      "error",
	InvalidManifest:  "invalid manifest",
	DuplicateVersion: "duplicate version",
	VersionNotFound:  "version not found",
	MalformedRecord:  "malformed record",
	MissingConfig:    "missing config",
	AlreadyExists:    "already exists",
	Locked:           "locked",
	IoFailure:        "i/o failure",
	ChecksumMismatch: "checksum mismatch",
	AlreadyYanked:    "already yanked",
	NotYanked:        "not yanked",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels, one per kind, for use with errors.Is.
var (
	ErrInvalidManifest  = errors.New("invalid manifest")
	ErrDuplicateVersion = errors.New("duplicate version")
	ErrVersionNotFound  = errors.New("version not found")
	ErrMalformedRecord  = errors.New("malformed record")
	ErrMissingConfig    = errors.New("missing config")
	ErrAlreadyExists    = errors.New("already exists")
	ErrLocked           = errors.New("locked")
	ErrIoFailure        = errors.New("i/o failure")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrAlreadyYanked    = errors.New("already yanked")
	ErrNotYanked        = errors.New("not yanked")
)

var sentinels = map[Kind]error{
	InvalidManifest:  ErrInvalidManifest,
	DuplicateVersion: ErrDuplicateVersion,
	VersionNotFound:  ErrVersionNotFound,
	MalformedRecord:  ErrMalformedRecord,
	MissingConfig:    ErrMissingConfig,
	AlreadyExists:    ErrAlreadyExists,
	Locked:           ErrLocked,
	IoFailure:        ErrIoFailure,
	ChecksumMismatch: ErrChecksumMismatch,
	AlreadyYanked:    ErrAlreadyYanked,
	NotYanked:        ErrNotYanked,
}

// Error is a classified index failure. Package, Version, Field, Path and
// Line are optional context; Msg is the human-readable rule that failed.
type Error struct {
	Kind    Kind
	Package string
	Version string
	Field   string
	Path    string
	Line    int
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	switch {
	case e.Package != "" && e.Version != "":
		fmt.Fprintf(&b, "`%s:%s`: ", e.Package, e.Version)
	case e.Package != "":
		fmt.Fprintf(&b, "`%s`: ", e.Package)
	}
	if e.Path != "" {
		if e.Line > 0 {
			fmt.Fprintf(&b, "%s:%d: ", e.Path, e.Line)
		} else {
			fmt.Fprintf(&b, "%s: ", e.Path)
		}
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "field `%s`: ", e.Field)
	}
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	b.WriteString(msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	var out []error
	if s, ok := sentinels[e.Kind]; ok {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New builds an Error of kind k with a formatted message.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of kind k around err.
func Wrap(k Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithPackage sets the package and version context and returns e.
func (e *Error) WithPackage(name, version string) *Error {
	e.Package = name
	e.Version = version
	return e
}

// WithField sets the offending field and returns e.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithPath sets the file location and returns e.
func (e *Error) WithPath(path string, line int) *Error {
	e.Path = path
	e.Line = line
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
