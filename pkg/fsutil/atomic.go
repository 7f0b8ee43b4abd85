// Package fsutil provides crash-safe file replacement. The audit index
// and policy files are rewritten through AtomicWrite so a crash
// mid-write never leaves a half-written file visible.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWrite replaces the file at path with data. The bytes land in a
// hidden temp file in the same directory, reach disk through fsync and
// take the target name by rename, so a reader observes either the old
// content or the new, never a prefix.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".safeguard-tmp-*")
	if err != nil {
		return fmt.Errorf("atomic write: temp file: %w", err)
	}

	if err := fillTemp(tmp, data, perm); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("atomic write: rename into place: %w", err)
	}
	return FsyncDir(dir)
}

// fillTemp writes, syncs and closes the temp file. The file is closed
// on every path so the caller can always remove it.
func fillTemp(f *os.File, data []byte, perm os.FileMode) error {
	_, err := f.Write(data)
	if err == nil {
		err = f.Chmod(perm)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// FsyncDir fsyncs a directory so a completed rename survives power loss.
func FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("fsync %s: %w", dir, err)
	}
	defer d.Close()
	return d.Sync()
}
