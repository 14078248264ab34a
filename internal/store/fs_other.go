//go:build !(linux || darwin || freebsd)

package store

import "errors"

// FilesystemStats reports capacity of the filesystem holding the database.
type FilesystemStats struct {
	Available uint64
	Capacity  uint64
}

// Filesystem is not supported on this platform.
func (d *Database) Filesystem() (FilesystemStats, error) {
	return FilesystemStats{}, errors.New("store: filesystem statistics unsupported")
}
