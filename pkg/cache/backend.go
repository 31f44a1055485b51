// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"context"
	"time"
)

// WriteOptions configures a single WriteBuffer call (spec §4.2).
type WriteOptions struct {
	// Overwrite, when false, makes WriteBuffer fail with ErrAlreadyExist
	// if an entry is already present for the key.
	Overwrite bool
	// TTLSeconds is the entry's time-to-live; 0 means no expiry.
	TTLSeconds uint64
}

// Backend is the polymorphic storage interface capability set every cache
// engine implements (spec §4.2, §9 "Polymorphic backend"): MemoryOnlyBackend
// and HybridBackend. keyFP is always a facade-composed Fingerprint; backends
// treat it as an opaque byte string and never recompute or inspect it.
type Backend interface {
	// WriteBuffer stores buf under keyFP. Errors: ErrAlreadyExist if
	// !opts.Overwrite and an entry is already present; ErrResourceExhausted
	// if admission into the backend is refused; ErrInternal for I/O
	// failures.
	WriteBuffer(keyFP []byte, buf IOBuffer, opts WriteOptions) error

	// ReadBuffer returns the payload stored under keyFP. size is the
	// length the caller expects; a stored payload of a different length is
	// returned as stored, neither truncated nor padded, and no error is
	// reported for the difference. offset is the block-aligned offset the
	// fingerprint was composed from, carried through for logging/metrics
	// context. Errors: ErrNotFound, ErrCorruption (checksum mismatch),
	// ErrInternal.
	ReadBuffer(keyFP []byte, offset uint64, size uint64) (IOBuffer, error)

	// Remove deletes the entry at keyFP, if any. Absence is not an error.
	Remove(keyFP []byte) error

	// UpdateMemQuota changes the memory tier's capacity, in bytes.
	// Returns ErrNotSupported if the backend has no memory tier to resize.
	UpdateMemQuota(bytes uint64) error

	// UpdateDiskSpaces replaces the backend's configured disk regions.
	// Returns ErrNotSupported for backends with no disk tier.
	UpdateDiskSpaces(spaces []DiskSpace) error

	// CacheMetrics returns a point-in-time metrics snapshot. Never fails.
	CacheMetrics(detail MetricsDetail) DataCacheMetrics

	// RecordReadRemote records that size bytes were read from the
	// remote/cold source in latency time, for metrics purposes only.
	RecordReadRemote(size int, latency time.Duration)

	// RecordReadCache records that size bytes were read from the cache
	// (either tier) in latency time, for metrics purposes only.
	RecordReadCache(size int, latency time.Duration)

	// Shutdown drains in-flight work and persists statistics. Safe to
	// call more than once; only the first call performs I/O.
	Shutdown(ctx context.Context) error
}
