// Package compression wraps audit export streams in gzip. Buckets and the
// index stay uncompressed on disk; only compliance exports are compressed,
// and only when the destination path asks for it.
package compression

import (
	"compress/gzip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Level selects the gzip compression level. The named levels map onto
// gzip levels 0, 1, 6 and 9.
type Level int

const (
	LevelNone    Level = 0
	LevelFast    Level = 1
	LevelDefault Level = 6
	LevelMax     Level = 9
)

// ParseLevel maps a user-supplied level name onto a Level.
// Valid values: "none", "fast", "default", "max".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "", "default", "6":
		return LevelDefault, nil
	case "none", "0":
		return LevelNone, nil
	case "fast", "1":
		return LevelFast, nil
	case "max", "9":
		return LevelMax, nil
	default:
		return 0, fmt.Errorf("invalid compression level: %s (must be none, fast, default, or max)", s)
	}
}

// String returns the level name ParseLevel accepts.
func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelFast:
		return "fast"
	case LevelDefault:
		return "default"
	case LevelMax:
		return "max"
	default:
		return fmt.Sprintf("level-%d", int(l))
	}
}

// IsCompressedPath reports whether the path names a gzip destination.
func IsCompressedPath(path string) bool {
	return filepath.Ext(path) == ".gz"
}

// WriterFor wraps w in a gzip writer when the destination path ends in
// .gz and the level allows it; otherwise it returns w unchanged. The
// returned close flushes the gzip frame and must run before the
// underlying file is closed. It is a no-op for the passthrough case.
func WriterFor(w io.Writer, path string, level Level) (io.Writer, func() error, error) {
	if level == LevelNone || !IsCompressedPath(path) {
		return w, func() error { return nil }, nil
	}
	gz, err := gzip.NewWriterLevel(w, int(level))
	if err != nil {
		return nil, nil, fmt.Errorf("create gzip writer: %w", err)
	}
	return gz, gz.Close, nil
}

// NewReader transparently decompresses a stream produced through
// WriterFor. Callers pass the destination path so plain exports read
// straight through.
func NewReader(r io.Reader, path string) (io.ReadCloser, error) {
	if !IsCompressedPath(path) {
		return io.NopCloser(r), nil
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	return gz, nil
}
