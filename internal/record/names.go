package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode"

	"golang.org/x/text/cases"
)

// ValidateName checks that name is a non-empty run of letters, digits,
// '-' and '_'.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in name `%s`", r, name)
	}
	return nil
}

// ValidateFeatureName checks a feature name: letters, digits, '_', '-',
// '+' and '.', not starting with '-', '+' or '.'.
func ValidateFeatureName(name string) error {
	if name == "" {
		return fmt.Errorf("feature name is empty")
	}
	for i, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
		case r == '-' || r == '+' || r == '.':
			if i == 0 {
				return fmt.Errorf("feature name `%s` cannot start with %q", name, r)
			}
		default:
			return fmt.Errorf("invalid character %q in feature name `%s`", r, name)
		}
	}
	return nil
}

// Fold returns the case-folded identity of a package name. Two names that
// fold to the same string are the same package.
func Fold(name string) string {
	// Casers keep state; one per call.
	return cases.Fold().String(name)
}

// SameName reports whether a and b name the same package.
func SameName(a, b string) bool {
	return Fold(a) == Fold(b)
}

// Checksum returns the lowercase hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidChecksum reports whether s is exactly 64 lowercase hex characters.
func ValidChecksum(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
