// Package pathutil provides normalization and safety validation for
// change paths submitted by agents.
package pathutil

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/safeguard-project/safeguard/pkg/errclass"
)

// NormalizeChangePath canonicalizes a repository-relative change path:
// NFC unicode normalization, backslashes to forward slashes, redundant
// separators and "." segments collapsed.
func NormalizeChangePath(p string) string {
	p = norm.NFC.String(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return p
}

// ValidateChangePath checks that a change path is usable as a
// repository-relative path. The path must be non-empty, relative, free
// of traversal segments and free of control characters.
func ValidateChangePath(p string) error {
	if p == "" {
		return errclass.ErrInvalidInput.WithMessage("change path must not be empty")
	}

	normalized := NormalizeChangePath(p)

	if normalized == "." || normalized == "" {
		return errclass.ErrInvalidInput.WithMessagef("change path resolves to nothing: %s", p)
	}

	if strings.HasPrefix(normalized, "/") {
		return errclass.ErrInvalidInput.WithMessagef("change path must be relative: %s", p)
	}

	if normalized == ".." || strings.HasPrefix(normalized, "../") {
		return errclass.ErrInvalidInput.WithMessagef("change path must not escape the repository: %s", p)
	}

	for _, r := range normalized {
		if unicode.IsControl(r) {
			return errclass.ErrInvalidInput.WithMessagef("change path must not contain control characters: %q", p)
		}
	}

	return nil
}

// TopLevelDir returns the first path segment of a normalized change
// path, or the path itself when it has no separator.
func TopLevelDir(p string) string {
	normalized := NormalizeChangePath(p)
	if i := strings.IndexByte(normalized, '/'); i >= 0 {
		return normalized[:i]
	}
	return normalized
}
