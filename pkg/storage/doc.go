// Package storage keeps derived artifacts on the local file system.
//
// Manager implements cache.Store. Each entry is an <fingerprint>.artifact
// file with a <fingerprint>.meta.json sidecar, placed in a sub-directory named
// after the first two characters of the fingerprint. Writes are atomic
// (temporary file plus rename) and an in-memory index built at startup
// answers Exists without touching the disk.
package storage
