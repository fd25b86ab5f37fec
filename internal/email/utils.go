// Package email provides utilities for member address handling
package email

import (
	"fmt"
	"regexp"
	"strings"
)

// maxLength is the RFC 5321 upper bound for an address
const maxLength = 320

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9._-]+\.[a-zA-Z]{2,}$`)

// IsValidEmail performs basic email validation. Surrounding whitespace makes an
// address invalid; use Normalize first when reading user input.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}

	if strings.TrimSpace(email) != email {
		return false
	}

	if len(email) > maxLength {
		return false
	}

	return emailRegex.MatchString(email)
}

// Normalize trims and lowercases an address so lookups are case-insensitive
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// maxFolderLength is the per-component name limit of common filesystems
const maxFolderLength = 255

// FolderName returns the directory name used for a member's recordings: the
// address as the provider returned it, trimmed, with its casing kept. Only
// names that cannot be a single path component are rejected.
func FolderName(email string) (string, error) {
	name := strings.TrimSpace(email)
	switch {
	case name == "":
		return "", fmt.Errorf("member email cannot be empty")
	case name == "." || name == "..":
		return "", fmt.Errorf("invalid member folder name: %q", email)
	case strings.ContainsAny(name, "/\\\x00"):
		return "", fmt.Errorf("member address %q contains a path separator or NUL", email)
	case len(name) > maxFolderLength:
		return "", fmt.Errorf("member address is %d bytes, longer than %d", len(name), maxFolderLength)
	}
	return name, nil
}
