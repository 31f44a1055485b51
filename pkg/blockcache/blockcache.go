// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/StarRocks/starrocks/blob/main/be/src/block_cache/block_cache.h
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: StarRocks Project Authors.

// Package blockcache is the facade in front of the two cache engines
// (spec §4.1, §9 "Polymorphic backend"). It lives above pkg/cache,
// pkg/cache/memtier and pkg/cache/hybrid rather than inside pkg/cache
// itself, because constructing either engine from here would otherwise
// require pkg/cache to import its own sub-packages, which already import
// it for the shared IOBuffer/Backend/Recorder/Fingerprint types.
package blockcache

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	cache "github.com/grafana/mimir-datacache/pkg/cache"
	"github.com/grafana/mimir-datacache/pkg/cache/hybrid"
	"github.com/grafana/mimir-datacache/pkg/cache/memtier"
)

// BlockCache dispatches WriteCache/ReadCache/RemoveCache to a configured
// engine, after validating block-size alignment and composing the
// (key, offset) fingerprint the backend stores under (spec §4.1).
type BlockCache struct {
	mu          sync.RWMutex
	opts        cache.CacheOptions
	backend     cache.Backend
	blockSize   uint64
	initialized atomic.Bool
}

var (
	singletonOnce sync.Once
	singleton     *BlockCache
)

// Instance returns the process-wide BlockCache. It is not initialized
// until Init is called on it.
func Instance() *BlockCache {
	singletonOnce.Do(func() {
		singleton = &BlockCache{}
	})
	return singleton
}

// NewForTest builds a standalone BlockCache bypassing the process-wide
// singleton, so parallel test cases don't contend over global state
// (spec §9, "test mode" requirement).
func NewForTest(opts cache.CacheOptions, reg prometheus.Registerer, logger log.Logger) (*BlockCache, error) {
	b := &BlockCache{}
	if err := b.initLocked(opts, reg, logger); err != nil {
		return nil, err
	}
	return b, nil
}

// Init validates opts, constructs the configured engine, and makes the
// cache ready to serve WriteCache/ReadCache/RemoveCache. Init may be
// called at most once per BlockCache.
func (b *BlockCache) Init(opts cache.CacheOptions, reg prometheus.Registerer, logger log.Logger) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initLocked(opts, reg, logger)
}

func (b *BlockCache) initLocked(opts cache.CacheOptions, reg prometheus.Registerer, logger log.Logger) error {
	if b.initialized.Load() {
		return cache.ErrAlreadyExist("blockcache: already initialized")
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	var backend cache.Backend
	switch opts.Engine {
	case cache.EngineMemoryOnly:
		backend = memtier.New(opts.MemSpaceSize, runtime.NumCPU(), opts.MetaPath, reg, logger)
	case cache.EngineHybrid:
		hb, err := hybrid.New(opts, reg, logger)
		if err != nil {
			return err
		}
		backend = hb
	default:
		return cache.ErrInvalidArgument("blockcache: unknown engine %v", opts.Engine)
	}

	b.opts = opts
	b.backend = backend
	b.blockSize = opts.BlockSize
	b.initialized.Store(true)
	return nil
}

// IsInitialized reports whether Init has completed successfully.
func (b *BlockCache) IsInitialized() bool {
	return b.initialized.Load()
}

// BlockSize returns the block size this cache was initialized with.
func (b *BlockCache) BlockSize() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blockSize
}

func (b *BlockCache) backendOrErr() (cache.Backend, uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.initialized.Load() {
		return nil, 0, cache.ErrInvalidArgument("blockcache: not initialized")
	}
	return b.backend, b.blockSize, nil
}

// WriteCache writes buf (whole blocks, or a single short final block) at
// (key, offset) (spec §4.1 "write_cache"). A buffer larger than one block
// must be an exact multiple of block_size; it is split into independent,
// independently fingerprinted per-block writes.
func (b *BlockCache) WriteCache(key []byte, offset uint64, buf cache.IOBuffer, opts cache.WriteOptions) error {
	backend, blockSize, err := b.backendOrErr()
	if err != nil {
		return err
	}

	size := uint64(buf.Size())
	if size == 0 {
		return cache.ErrInvalidArgument("blockcache: write size must be > 0")
	}
	if offset%blockSize != 0 {
		return cache.ErrInvalidArgument("blockcache: offset must be block_size-aligned")
	}

	if size <= blockSize {
		fp := cache.Fingerprint(key, offset)
		return backend.WriteBuffer(fp, buf, opts)
	}
	if size%blockSize != 0 {
		return cache.ErrInvalidArgument("blockcache: multi-block write size must be a multiple of block_size")
	}

	data := buf.Bytes()
	for i := uint64(0); i < size; i += blockSize {
		fp := cache.Fingerprint(key, offset+i)
		chunk := cache.NewIOBufferFromBytes(data[i : i+blockSize])
		if err := backend.WriteBuffer(fp, chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

// WriteCacheBytes is a convenience wrapper for callers holding a plain
// []byte rather than an already-built IOBuffer.
func (b *BlockCache) WriteCacheBytes(key []byte, offset uint64, p []byte, opts cache.WriteOptions) error {
	return b.WriteCache(key, offset, cache.NewIOBufferFromBytes(p), opts)
}

// ReadCache reads size bytes starting at (key, offset) (spec §4.1
// "read_cache"). size is either at most one block (a single, possibly short
// final block) or an exact multiple of block_size; a multi-block read is
// served as independent per-block backend reads concatenated in order. Each
// block comes back as the backend stored it: a stored block whose length
// differs from the length asked for is returned as stored.
func (b *BlockCache) ReadCache(key []byte, offset, size uint64) (cache.IOBuffer, error) {
	backend, blockSize, err := b.backendOrErr()
	if err != nil {
		return cache.IOBuffer{}, err
	}

	if size == 0 {
		return cache.IOBuffer{}, cache.ErrInvalidArgument("blockcache: read size must be > 0")
	}
	if offset%blockSize != 0 {
		return cache.IOBuffer{}, cache.ErrInvalidArgument("blockcache: offset must be block_size-aligned")
	}

	if size <= blockSize {
		fp := cache.Fingerprint(key, offset)
		return backend.ReadBuffer(fp, offset, size)
	}
	if size%blockSize != 0 {
		return cache.IOBuffer{}, cache.ErrInvalidArgument("blockcache: multi-block read size must be a multiple of block_size")
	}

	out := cache.NewIOBuffer()
	for i := uint64(0); i < size; i += blockSize {
		fp := cache.Fingerprint(key, offset+i)
		buf, err := backend.ReadBuffer(fp, offset+i, blockSize)
		if err != nil {
			out.Release()
			return cache.IOBuffer{}, err
		}
		out.Append(buf.Bytes())
		buf.Release()
	}
	return out, nil
}

// ReadCacheInto reads the len(dst)-byte range at (key, offset) into dst,
// returning the number of bytes copied, which is the length of what the
// backend returned for that range.
func (b *BlockCache) ReadCacheInto(key []byte, offset uint64, dst []byte) (int, error) {
	buf, err := b.ReadCache(key, offset, uint64(len(dst)))
	if err != nil {
		return 0, err
	}
	defer buf.Release()
	return buf.CopyTo(dst)
}

// RemoveCache deletes the entry at (key, offset), if any (spec §4.1
// "remove_cache"). Absence is not an error.
func (b *BlockCache) RemoveCache(key []byte, offset uint64) error {
	backend, blockSize, err := b.backendOrErr()
	if err != nil {
		return err
	}
	if offset%blockSize != 0 {
		return cache.ErrInvalidArgument("blockcache: offset must be block_size-aligned")
	}
	return backend.Remove(cache.Fingerprint(key, offset))
}

// CacheMetrics returns a point-in-time metrics snapshot (spec §4.1
// "cache_metrics").
func (b *BlockCache) CacheMetrics(detail cache.MetricsDetail) (cache.DataCacheMetrics, error) {
	backend, _, err := b.backendOrErr()
	if err != nil {
		return cache.DataCacheMetrics{}, err
	}
	return backend.CacheMetrics(detail), nil
}

// RecordReadRemote forwards a remote-read observation to the active
// backend's metrics, for callers that fetch from a remote/cold source on
// a cache miss and want it reflected in CacheMetrics.
func (b *BlockCache) RecordReadRemote(size int, latency time.Duration) {
	backend, _, err := b.backendOrErr()
	if err != nil {
		return
	}
	backend.RecordReadRemote(size, latency)
}

// RecordReadCache forwards a cache-tier read observation to the active
// backend's metrics.
func (b *BlockCache) RecordReadCache(size int, latency time.Duration) {
	backend, _, err := b.backendOrErr()
	if err != nil {
		return
	}
	backend.RecordReadCache(size, latency)
}

// Resize updates the memory tier's capacity in place (SPEC_FULL.md §C.4,
// grounded on the original's update_mem_quota).
func (b *BlockCache) Resize(memBytes uint64) error {
	backend, _, err := b.backendOrErr()
	if err != nil {
		return err
	}
	return backend.UpdateMemQuota(memBytes)
}

// Reconfigure replaces the disk tier's configured spaces (SPEC_FULL.md
// §C.4, grounded on the original's update_disk_spaces).
func (b *BlockCache) Reconfigure(disks []cache.DiskSpace) error {
	backend, _, err := b.backendOrErr()
	if err != nil {
		return err
	}
	return backend.UpdateDiskSpaces(disks)
}

// Shutdown releases the active backend's resources. Safe to call more
// than once.
func (b *BlockCache) Shutdown(ctx context.Context) error {
	b.mu.RLock()
	backend := b.backend
	b.mu.RUnlock()
	if backend == nil {
		return nil
	}
	return backend.Shutdown(ctx)
}
