// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/storegateway/indexcache/remote.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

// MetricsDetail controls how much backend-specific detail CacheMetrics
// walks (spec §9 / SPEC_FULL.md §C.3: the original's cache_metrics(level)).
type MetricsDetail int

const (
	// MetricsDetailSummary returns only the aggregate counters named in
	// spec §4.6.
	MetricsDetailSummary MetricsDetail = iota
	// MetricsDetailFull additionally walks per-shard / per-region state
	// and populates DataCacheMetrics.Extra.
	MetricsDetailFull
)

// DataCacheMetrics is an immutable, point-in-time snapshot (spec §4.6).
// Callers must not assume fields are mutually consistent with each other or
// with a previous snapshot.
type DataCacheMetrics struct {
	MemBytesUsed           uint64
	DiskBytesUsed          uint64
	MemQuota               uint64
	DiskQuota              uint64
	HitCount               uint64
	MissCount              uint64
	RemoteReadBytes        uint64
	RemoteReadLatencyUsSum uint64
	CacheReadBytes         uint64
	CacheReadLatencyUsSum  uint64

	// Extra carries backend-specific key/value pairs, populated only at
	// MetricsDetailFull.
	Extra map[string]string
}

// Recorder is the shared metrics surface both backends embed: Prometheus
// counters/gauges for scraping (promauto-registered exactly as
// indexcache/remote.go registers its CounterVecs) plus cheap atomic mirrors
// so CacheMetrics() can build a DataCacheMetrics snapshot without walking
// the Prometheus registry.
type Recorder struct {
	hits   prometheus.Counter
	misses prometheus.Counter

	memBytes  prometheus.Gauge
	diskBytes prometheus.Gauge
	memQuota  prometheus.Gauge
	diskQuota prometheus.Gauge

	remoteReadBytes     prometheus.Counter
	remoteReadLatencyUs prometheus.Counter
	cacheReadBytes      prometheus.Counter
	cacheReadLatencyUs  prometheus.Counter

	hitCount               atomic.Uint64
	missCount              atomic.Uint64
	remoteReadBytesCount   atomic.Uint64
	remoteReadLatencyUsSum atomic.Uint64
	cacheReadBytesCount    atomic.Uint64
	cacheReadLatencyUsSum  atomic.Uint64
	memBytesUsed           atomic.Uint64
	diskBytesUsed          atomic.Uint64
	memQuotaValue          atomic.Uint64
	diskQuotaValue         atomic.Uint64
}

// NewRecorder builds a Recorder and registers its Prometheus collectors
// under subsystem, using promauto.With(reg) the way
// NewRemoteIndexCache registers "thanos_store_index_cache_*" series. reg
// may be nil, in which case metrics are tracked but not exported.
func NewRecorder(reg prometheus.Registerer, subsystem string) *Recorder {
	r := &Recorder{}
	f := promauto.With(reg)

	r.hits = f.NewCounter(prometheus.CounterOpts{
		Name: "block_cache_" + subsystem + "_hits_total",
		Help: "Total number of cache read requests that were a hit.",
	})
	r.misses = f.NewCounter(prometheus.CounterOpts{
		Name: "block_cache_" + subsystem + "_misses_total",
		Help: "Total number of cache read requests that were a miss.",
	})
	r.memBytes = f.NewGauge(prometheus.GaugeOpts{
		Name: "block_cache_" + subsystem + "_mem_bytes_used",
		Help: "Current number of bytes used by the in-memory cache tier.",
	})
	r.diskBytes = f.NewGauge(prometheus.GaugeOpts{
		Name: "block_cache_" + subsystem + "_disk_bytes_used",
		Help: "Current number of bytes used by the on-disk cache tier.",
	})
	r.memQuota = f.NewGauge(prometheus.GaugeOpts{
		Name: "block_cache_" + subsystem + "_mem_quota_bytes",
		Help: "Configured capacity of the in-memory cache tier.",
	})
	r.diskQuota = f.NewGauge(prometheus.GaugeOpts{
		Name: "block_cache_" + subsystem + "_disk_quota_bytes",
		Help: "Configured capacity of the on-disk cache tier.",
	})
	r.remoteReadBytes = f.NewCounter(prometheus.CounterOpts{
		Name: "block_cache_" + subsystem + "_remote_read_bytes_total",
		Help: "Total bytes read from the remote/cold source on cache misses.",
	})
	r.remoteReadLatencyUs = f.NewCounter(prometheus.CounterOpts{
		Name: "block_cache_" + subsystem + "_remote_read_latency_microseconds_total",
		Help: "Total microseconds spent reading from the remote/cold source.",
	})
	r.cacheReadBytes = f.NewCounter(prometheus.CounterOpts{
		Name: "block_cache_" + subsystem + "_cache_read_bytes_total",
		Help: "Total bytes read from the cache (either tier).",
	})
	r.cacheReadLatencyUs = f.NewCounter(prometheus.CounterOpts{
		Name: "block_cache_" + subsystem + "_cache_read_latency_microseconds_total",
		Help: "Total microseconds spent reading from the cache (either tier).",
	})

	return r
}

// RecordHit records a cache hit.
func (r *Recorder) RecordHit() {
	r.hits.Inc()
	r.hitCount.Inc()
}

// RecordMiss records a cache miss.
func (r *Recorder) RecordMiss() {
	r.misses.Inc()
	r.missCount.Inc()
}

// RecordReadRemote records a read satisfied by the remote/cold source.
func (r *Recorder) RecordReadRemote(size int, latency time.Duration) {
	us := uint64(latency.Microseconds())
	r.remoteReadBytes.Add(float64(size))
	r.remoteReadLatencyUs.Add(float64(us))
	r.remoteReadBytesCount.Add(uint64(size))
	r.remoteReadLatencyUsSum.Add(us)
}

// RecordReadCache records a read satisfied by the cache (either tier).
func (r *Recorder) RecordReadCache(size int, latency time.Duration) {
	us := uint64(latency.Microseconds())
	r.cacheReadBytes.Add(float64(size))
	r.cacheReadLatencyUs.Add(float64(us))
	r.cacheReadBytesCount.Add(uint64(size))
	r.cacheReadLatencyUsSum.Add(us)
}

// SetMemBytesUsed publishes the in-memory tier's current usage.
func (r *Recorder) SetMemBytesUsed(n uint64) {
	r.memBytes.Set(float64(n))
	r.memBytesUsed.Store(n)
}

// SetDiskBytesUsed publishes the disk tier's current usage.
func (r *Recorder) SetDiskBytesUsed(n uint64) {
	r.diskBytes.Set(float64(n))
	r.diskBytesUsed.Store(n)
}

// SetMemQuota publishes the in-memory tier's configured capacity.
func (r *Recorder) SetMemQuota(n uint64) {
	r.memQuota.Set(float64(n))
	r.memQuotaValue.Store(n)
}

// SetDiskQuota publishes the disk tier's configured capacity.
func (r *Recorder) SetDiskQuota(n uint64) {
	r.diskQuota.Set(float64(n))
	r.diskQuotaValue.Store(n)
}

// Snapshot builds the spec §4.6 immutable view from the atomic mirrors.
func (r *Recorder) Snapshot() DataCacheMetrics {
	return DataCacheMetrics{
		MemBytesUsed:           r.memBytesUsed.Load(),
		DiskBytesUsed:          r.diskBytesUsed.Load(),
		MemQuota:               r.memQuotaValue.Load(),
		DiskQuota:              r.diskQuotaValue.Load(),
		HitCount:               r.hitCount.Load(),
		MissCount:              r.missCount.Load(),
		RemoteReadBytes:        r.remoteReadBytesCount.Load(),
		RemoteReadLatencyUsSum: r.remoteReadLatencyUsSum.Load(),
		CacheReadBytes:         r.cacheReadBytesCount.Load(),
		CacheReadLatencyUsSum:  r.cacheReadLatencyUsSum.Load(),
	}
}
