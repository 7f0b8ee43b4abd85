//go:build windows

package audit

import "os"

// lockFile is a no-op on Windows; the in-process mutex serializes appends
// within a single process, and multi-process trails are not supported there.
func lockFile(_ *os.File) error   { return nil }
func unlockFile(_ *os.File) error { return nil }
