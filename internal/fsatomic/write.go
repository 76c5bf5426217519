// Package fsatomic provides the single atomic-write primitive every
// component that projects config into on-disk artifacts builds on: the
// Config Store's document saves, and every Synchronizer's projected
// files (virtual_mailboxes, htdigest files, DNS zone files). A single
// temp-file-then-rename helper instead of each writer re-implementing its
// own.
package fsatomic

import (
	"os"
	"path/filepath"
)

// Write writes data to path via a temp file created in the same
// directory, fsync, chmod to mode, then rename, so a concurrent reader
// never observes a partially-written file.
func Write(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
