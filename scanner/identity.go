package scanner

import (
	"fmt"
	"strings"
)

// IdentityKey is the canonical identity of a (package name, version)
// pair. Package names compare case-insensitively; version strings are
// preserved verbatim because the external source expects exact version
// matching.
type IdentityKey string

// InvalidIdentityError signals a dependency declaration that cannot be
// turned into a stable identity
type InvalidIdentityError struct {
	Name    string
	Version string
}

func (e *InvalidIdentityError) Error() string {
	return fmt.Sprintf("invalid dependency identity: name=%q version=%q", e.Name, e.Version)
}

// Normalize canonicalizes a (package name, version string) pair into an
// IdentityKey. Two declarations differing only in name casing or
// surrounding whitespace map to the same key; two different version
// strings are always two different identities.
func Normalize(name, version string) (IdentityKey, error) {
	n := strings.TrimSpace(name)
	v := strings.TrimSpace(version)

	if n == "" || v == "" {
		return "", &InvalidIdentityError{Name: name, Version: version}
	}

	return IdentityKey(strings.ToLower(n) + "@" + v), nil
}

// Name returns the normalized package name component of the key
func (k IdentityKey) Name() string {
	if idx := strings.LastIndex(string(k), "@"); idx >= 0 {
		return string(k)[:idx]
	}
	return string(k)
}

// Version returns the version component of the key
func (k IdentityKey) Version() string {
	if idx := strings.LastIndex(string(k), "@"); idx >= 0 {
		return string(k)[idx+1:]
	}
	return ""
}
