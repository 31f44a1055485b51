// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/IvanBrykalov/shardcache/blob/main/cache/cache.go
// Provenance-includes-license: MIT

package memtier

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	blockcache "github.com/grafana/mimir-datacache/pkg/cache"
)

// shardCountFor returns the smallest power of two that is >= n, with a
// floor of 1. Mirrors the shard-count derivation used by sharded in-process
// caches across the pack (e.g. IvanBrykalov/shardcache sizes its shard
// slice off runtime.NumCPU the same way).
func shardCountFor(n int) int {
	if n <= 1 {
		return 1
	}
	c := 1
	for c < n {
		c <<= 1
	}
	return c
}

// MemoryOnlyBackend is a sharded in-memory LRU-with-insertion-point cache
// (spec §4.3): no disk tier, TTL checked on read, eviction is shard-local.
type MemoryOnlyBackend struct {
	shards    []*shard
	shardMask uint64

	quota     uint64
	usedBytes int64 // atomic

	rec    *blockcache.Recorder
	logger log.Logger

	shutdownOnce int32 // atomic
	metaPath     string
}

// New constructs a MemoryOnlyBackend sized to memSpaceSize bytes, split
// evenly across a power-of-two shard count derived from the number of
// CPUs available, per spec §4.3 ("shard count = power of two >= CPU
// count").
func New(memSpaceSize uint64, shardHint int, metaPath string, reg prometheus.Registerer, logger log.Logger) *MemoryOnlyBackend {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	n := shardCountFor(shardHint)
	b := &MemoryOnlyBackend{
		shards:    make([]*shard, n),
		shardMask: uint64(n - 1),
		quota:     memSpaceSize,
		rec:       blockcache.NewRecorder(reg, "memory"),
		logger:    logger,
		metaPath:  metaPath,
	}
	perShard := int(memSpaceSize) / n
	for i := range b.shards {
		b.shards[i] = newShard(perShard, b.reportSizeDelta)
	}
	b.rec.SetMemQuota(memSpaceSize)
	return b
}

func (b *MemoryOnlyBackend) reportSizeDelta(delta int) {
	n := atomic.AddInt64(&b.usedBytes, int64(delta))
	if n < 0 {
		n = 0
	}
	b.rec.SetMemBytesUsed(uint64(n))
}

func (b *MemoryOnlyBackend) shardFor(keyFP []byte) *shard {
	h := blockcache.ShardHash(keyFP)
	return b.shards[h&b.shardMask]
}

// WriteBuffer implements blockcache.Backend.
func (b *MemoryOnlyBackend) WriteBuffer(keyFP []byte, buf blockcache.IOBuffer, opts blockcache.WriteOptions) error {
	k := string(keyFP)
	sh := b.shardFor(keyFP)

	payload := buf.Bytes()
	owned := make([]byte, len(payload))
	copy(owned, payload)

	if !opts.Overwrite {
		if !sh.putIfAbsent(k, owned, opts.TTLSeconds) {
			return blockcache.ErrAlreadyExist("memtier: entry already exists for key")
		}
		return nil
	}

	sh.put(k, owned, opts.TTLSeconds)
	return nil
}

// ReadBuffer implements blockcache.Backend.
func (b *MemoryOnlyBackend) ReadBuffer(keyFP []byte, _ uint64, size uint64) (blockcache.IOBuffer, error) {
	k := string(keyFP)
	sh := b.shardFor(keyFP)

	payload, ok := sh.get(k)
	if !ok {
		b.rec.RecordMiss()
		return blockcache.IOBuffer{}, blockcache.ErrNotFound("memtier: no entry for key")
	}
	b.rec.RecordHit()

	if uint64(len(payload)) != size {
		level.Warn(b.logger).Log("msg", "memtier: stored entry size does not match requested read size", "stored", len(payload), "requested", size)
	}
	return blockcache.NewIOBufferFromBytes(payload), nil
}

// Remove implements blockcache.Backend.
func (b *MemoryOnlyBackend) Remove(keyFP []byte) error {
	b.shardFor(keyFP).remove(string(keyFP))
	return nil
}

// UpdateMemQuota implements blockcache.Backend.
func (b *MemoryOnlyBackend) UpdateMemQuota(bytes uint64) error {
	b.quota = bytes
	perShard := int(bytes) / len(b.shards)
	for _, sh := range b.shards {
		sh.setCapacity(perShard)
	}
	b.rec.SetMemQuota(bytes)
	return nil
}

// UpdateDiskSpaces implements blockcache.Backend: memory-only has no disk
// tier to reconfigure.
func (b *MemoryOnlyBackend) UpdateDiskSpaces([]blockcache.DiskSpace) error {
	return blockcache.ErrNotSupported("memtier: backend has no disk tier")
}

// CacheMetrics implements blockcache.Backend.
func (b *MemoryOnlyBackend) CacheMetrics(detail blockcache.MetricsDetail) blockcache.DataCacheMetrics {
	snap := b.rec.Snapshot()
	if detail == blockcache.MetricsDetailFull {
		snap.Extra = make(map[string]string, len(b.shards)*2)
		for i, sh := range b.shards {
			snap.Extra[fmt.Sprintf("shard_%d_entries", i)] = fmt.Sprintf("%d", sh.count())
			snap.Extra[fmt.Sprintf("shard_%d_bytes", i)] = fmt.Sprintf("%d", sh.bytes())
		}
	}
	return snap
}

// RecordReadRemote implements blockcache.Backend.
func (b *MemoryOnlyBackend) RecordReadRemote(size int, latency time.Duration) {
	b.rec.RecordReadRemote(size, latency)
}

// RecordReadCache implements blockcache.Backend.
func (b *MemoryOnlyBackend) RecordReadCache(size int, latency time.Duration) {
	b.rec.RecordReadCache(size, latency)
}

// Shutdown implements blockcache.Backend: persists the metrics snapshot to
// metaPath/stats.txt. Safe to call more than once; only the first call
// performs I/O.
func (b *MemoryOnlyBackend) Shutdown(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.shutdownOnce, 0, 1) {
		return nil
	}
	level.Info(b.logger).Log("msg", "memtier: shutting down, persisting statistics", "meta_path", b.metaPath)
	return blockcache.WriteStatsFile(b.metaPath, blockcache.MetricsToStatsFields(b.CacheMetrics(blockcache.MetricsDetailSummary)))
}
