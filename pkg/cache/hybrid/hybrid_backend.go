// SPDX-License-Identifier: AGPL-3.0-only

package hybrid

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	blockcache "github.com/grafana/mimir-datacache/pkg/cache"
	"github.com/grafana/mimir-datacache/pkg/cache/memtier"
)

// diskDataFileName is the single data file each configured disk space is
// partitioned into regions within (spec §4.4, glossary "Disk space").
const diskDataFileName = "cache.data"

// HybridBackend fronts a log-structured, region-based disk tier with a
// sharded memory tier (spec §4.4). Writes land in the memory tier and are
// then admitted onto a bounded writer-pool queue for disk persistence;
// WriteBuffer waits for that disk write to finish before returning. Reads
// check memory first and promote a disk hit back into memory.
type HybridBackend struct {
	mem    *memtier.MemoryOnlyBackend
	spaces []*regionTable
	index  *diskIndex
	pool   *writerPool

	diskQuota uint64

	rec    *blockcache.Recorder
	logger log.Logger

	enableChecksum bool
	metaPath       string

	// priorStats holds the statistics snapshot found in metaPath at
	// startup, if any, loaded for reporting only (spec §4.4 "Startup":
	// never used to recover cached data).
	priorStats map[string]float64

	shutdownOnce int32 // atomic
}

// New builds a HybridBackend from opts, truncating and partitioning every
// configured disk space into fixed-size regions (spec §4.4 "Startup").
func New(opts blockcache.CacheOptions, reg prometheus.Registerer, logger log.Logger) (*HybridBackend, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	shardHint := runtime.NumCPU()

	// The memory tier's own Prometheus registrations are internal
	// bookkeeping only; the backend's externally visible metrics are
	// served by its own Recorder below, combining both tiers.
	mem := memtier.New(opts.MemSpaceSize, shardHint, opts.MetaPath, prometheus.NewRegistry(), logger)

	idx := newDiskIndex(shardHint)

	spaces := make([]*regionTable, 0, len(opts.DiskSpaces))
	var diskQuota uint64
	for i, ds := range opts.DiskSpaces {
		spaceIndex := i
		dataPath := filepath.Join(ds.Path, diskDataFileName)
		rt, err := openRegionTable(spaceIndex, dataPath, ds.Size, opts.RegionSize, opts.EnableChecksum, func(regionID uint32) {
			idx.evictRegion(spaceIndex, regionID)
		})
		if err != nil {
			for _, s := range spaces {
				_ = s.close()
			}
			return nil, err
		}
		spaces = append(spaces, rt)
		diskQuota += ds.Size
	}

	rec := blockcache.NewRecorder(reg, "hybrid")
	rec.SetMemQuota(opts.MemSpaceSize)
	rec.SetDiskQuota(diskQuota)

	// A prior statistics file is reporting-only: disk and memory state are
	// always rebuilt empty above, regardless of what it says (spec §4.4
	// "Startup").
	priorStats, err := blockcache.ReadStatsFile(opts.MetaPath)
	if err != nil {
		level.Warn(logger).Log("msg", "hybrid: failed to read prior statistics file", "meta_path", opts.MetaPath, "err", err)
		priorStats = nil
	} else if len(priorStats) > 0 {
		level.Info(logger).Log("msg", "hybrid: loaded prior statistics for reporting", "meta_path", opts.MetaPath,
			"prior_hit_count", priorStats["hit_count"], "prior_miss_count", priorStats["miss_count"])
	}

	b := &HybridBackend{
		mem:            mem,
		spaces:         spaces,
		index:          idx,
		diskQuota:      diskQuota,
		rec:            rec,
		logger:         logger,
		enableChecksum: opts.EnableChecksum,
		metaPath:       opts.MetaPath,
		priorStats:     priorStats,
	}

	workers := int(opts.MaxConcurrentInserts)
	queueDepth := workers * 4
	if queueDepth < 16 {
		queueDepth = 16
	}
	b.pool = newWriterPool(opts.EffectiveMaxFlyingBytes(), workers, queueDepth, opts.NonBlockingAdmission, b.processWrite)

	return b, nil
}

func (b *HybridBackend) pickSpace(keyFP []byte) *regionTable {
	h := blockcache.ShardHash(keyFP)
	return b.spaces[h%uint64(len(b.spaces))]
}

// processWrite runs on a writer-pool worker goroutine: it appends the
// payload to a disk region and records its location in the index.
func (b *HybridBackend) processWrite(job *writeJob) error {
	if len(b.spaces) == 0 {
		return blockcache.ErrNotSupported("hybrid: no disk spaces configured")
	}

	rt := b.pickSpace(job.keyFP)
	res, err := rt.append(job.keyFP, job.payload)
	if err != nil {
		return err
	}

	var ttl time.Time
	if job.ttl > 0 {
		ttl = time.Now().Add(time.Duration(job.ttl) * time.Second)
	}
	b.index.put(job.keyFP, indexEntry{
		spaceIndex: rt.spaceIndex,
		regionID:   res.regionID,
		offset:     res.payloadOffset,
		length:     res.payloadLen,
		checksum:   res.checksum,
		ttl:        ttl,
	})
	b.rec.SetDiskBytesUsed(b.diskBytesUsed())
	return nil
}

func (b *HybridBackend) diskBytesUsed() uint64 {
	var used uint64
	for _, rt := range b.spaces {
		used += rt.bytesUsed()
	}
	return used
}

// WriteBuffer implements blockcache.Backend.
func (b *HybridBackend) WriteBuffer(keyFP []byte, buf blockcache.IOBuffer, opts blockcache.WriteOptions) error {
	payload := buf.Bytes()

	if !opts.Overwrite && b.index.has(keyFP) {
		return blockcache.ErrAlreadyExist("hybrid: entry already exists for key")
	}

	if err := b.mem.WriteBuffer(keyFP, blockcache.NewIOBufferFromBytes(payload), opts); err != nil {
		return err
	}

	if len(b.spaces) == 0 {
		return nil
	}

	owned := make([]byte, len(payload))
	copy(owned, payload)
	job := &writeJob{
		keyFP:   append([]byte(nil), keyFP...),
		payload: owned,
		ttl:     opts.TTLSeconds,
		done:    make(chan error, 1),
	}

	// WriteBuffer waits for the disk-tier job to finish: the memory
	// entry written above is kept regardless (spec §7, "I/O failures
	// during writes cause the in-memory entry to remain"), but the call
	// itself reports the disk outcome, matching write_buffer's
	// ResourceExhausted/Internal error cases in spec §4.2.
	if err := b.pool.submit(context.Background(), job); err != nil {
		level.Warn(b.logger).Log("msg", "hybrid: disk admission failed, entry remains memory-only", "err", err)
		return err
	}
	if err := <-job.done; err != nil {
		level.Warn(b.logger).Log("msg", "hybrid: disk write failed, entry remains memory-only", "err", err)
		return err
	}
	return nil
}

// ReadBuffer implements blockcache.Backend.
func (b *HybridBackend) ReadBuffer(keyFP []byte, offset uint64, size uint64) (blockcache.IOBuffer, error) {
	if buf, err := b.mem.ReadBuffer(keyFP, offset, size); err == nil {
		b.rec.RecordHit()
		return buf, nil
	} else if !blockcache.IsNotFound(err) {
		return blockcache.IOBuffer{}, err
	}

	entry, ok := b.index.get(keyFP)
	if !ok {
		b.rec.RecordMiss()
		return blockcache.IOBuffer{}, blockcache.ErrNotFound("hybrid: no entry for key")
	}

	rt := b.spaces[entry.spaceIndex]
	payload, err := rt.read(entry.offset, entry.length, b.enableChecksum, entry.checksum)
	if err != nil {
		if blockcache.IsCorruption(err) {
			// Checksum failures additionally remove the offending index
			// entry (spec §7): the stale location is unusable, and leaving
			// it indexed would make every future read re-discover the same
			// corruption instead of reporting NotFound.
			b.index.remove(keyFP)
		}
		return blockcache.IOBuffer{}, err
	}
	b.rec.RecordHit()

	// Promote the disk hit back into the memory tier so a repeated read
	// of the same key doesn't keep paying disk I/O.
	_ = b.mem.WriteBuffer(keyFP, blockcache.NewIOBufferFromBytes(payload), blockcache.WriteOptions{Overwrite: true})

	if uint64(len(payload)) != size {
		level.Warn(b.logger).Log("msg", "hybrid: stored entry size does not match requested read size", "stored", len(payload), "requested", size)
	}
	return blockcache.NewIOBufferFromBytes(payload), nil
}

// Remove implements blockcache.Backend. The disk tier is log-structured:
// removing an entry drops it from the index immediately, but the bytes it
// occupied on disk are only reclaimed when their region is next recycled
// by the region table's FIFO.
func (b *HybridBackend) Remove(keyFP []byte) error {
	_ = b.mem.Remove(keyFP)
	b.index.remove(keyFP)
	return nil
}

// UpdateMemQuota implements blockcache.Backend.
func (b *HybridBackend) UpdateMemQuota(bytes uint64) error {
	if err := b.mem.UpdateMemQuota(bytes); err != nil {
		return err
	}
	b.rec.SetMemQuota(bytes)
	return nil
}

// UpdateDiskSpaces implements blockcache.Backend. Disk spaces are
// partitioned into a fixed region table at construction time; resizing or
// replacing them in place would require migrating or discarding every
// region's entries, so reconfiguration requires a restart.
func (b *HybridBackend) UpdateDiskSpaces([]blockcache.DiskSpace) error {
	return blockcache.ErrNotSupported("hybrid: disk space reconfiguration requires a restart")
}

// CacheMetrics implements blockcache.Backend.
func (b *HybridBackend) CacheMetrics(detail blockcache.MetricsDetail) blockcache.DataCacheMetrics {
	b.rec.SetMemBytesUsed(b.mem.CacheMetrics(blockcache.MetricsDetailSummary).MemBytesUsed)
	b.rec.SetDiskBytesUsed(b.diskBytesUsed())
	snap := b.rec.Snapshot()
	if detail == blockcache.MetricsDetailFull {
		snap.Extra = make(map[string]string, len(b.spaces)*2+1+len(b.priorStats))
		for i, rt := range b.spaces {
			snap.Extra[fmt.Sprintf("disk_space_%d_free_regions", i)] = fmt.Sprintf("%d", rt.freeCount())
			snap.Extra[fmt.Sprintf("disk_space_%d_total_regions", i)] = fmt.Sprintf("%d", rt.regionCountTotal())
		}
		snap.Extra["disk_index_entries"] = fmt.Sprintf("%d", b.index.count())
		for k, v := range b.priorStats {
			snap.Extra["prior_"+k] = fmt.Sprintf("%v", v)
		}
	}
	return snap
}

// RecordReadRemote implements blockcache.Backend.
func (b *HybridBackend) RecordReadRemote(size int, latency time.Duration) {
	b.rec.RecordReadRemote(size, latency)
}

// RecordReadCache implements blockcache.Backend.
func (b *HybridBackend) RecordReadCache(size int, latency time.Duration) {
	b.rec.RecordReadCache(size, latency)
}

// Shutdown implements blockcache.Backend: drains the writer pool, closes
// every disk space, and persists a final statistics snapshot. Safe to call
// more than once; only the first call performs I/O.
func (b *HybridBackend) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&b.shutdownOnce, 0, 1) {
		return nil
	}
	level.Info(b.logger).Log("msg", "hybrid: shutting down, draining writer pool", "meta_path", b.metaPath)
	b.pool.shutdown()

	for i, rt := range b.spaces {
		if err := rt.close(); err != nil {
			level.Warn(b.logger).Log("msg", "hybrid: error closing disk space", "space", i, "err", err)
		}
	}

	_ = b.mem.Shutdown(ctx)
	return blockcache.WriteStatsFile(b.metaPath, blockcache.MetricsToStatsFields(b.CacheMetrics(blockcache.MetricsDetailSummary)))
}
