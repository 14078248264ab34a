//go:build linux || darwin || freebsd

package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
)

// FilesystemStats reports capacity of the filesystem holding the database.
type FilesystemStats struct {
	Available uint64
	Capacity  uint64
}

// Filesystem returns the available and total bytes of the filesystem
// containing the database file.
func (d *Database) Filesystem() (FilesystemStats, error) {
	location := d.Location()
	if location == "" {
		return FilesystemStats{}, errors.New("store: in-memory database has no filesystem")
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(filepath.Dir(location), &stat); err != nil {
		return FilesystemStats{}, fmt.Errorf("statfs %s: %w", location, err)
	}
	return FilesystemStats{
		Available: uint64(stat.Bavail) * uint64(stat.Bsize),
		Capacity:  uint64(stat.Blocks) * uint64(stat.Bsize),
	}, nil
}
