// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/rishabhverma17/HyperCache/blob/main/internal/persistence/hybrid_engine.go
// Provenance-includes-license: MIT

package hybrid

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	blockcache "github.com/grafana/mimir-datacache/pkg/cache"
)

// writeJob is one admitted disk write awaiting a worker (spec §4.4 "Write
// path": memory tier write is synchronous; disk tier write is admitted onto
// a bounded queue and applied asynchronously by a fixed-size worker pool).
type writeJob struct {
	keyFP   []byte
	payload []byte
	ttl     uint64 // seconds, 0 = no expiry
	done    chan error
}

// writerPool bounds two independent things from spec §4.4 and §6:
//   - max_flying_memory_mb: total bytes admitted but not yet durably written,
//     enforced with a byte-weighted semaphore so a handful of large writes
//     can't starve many small ones worse than their actual footprint.
//   - max_concurrent_inserts: how many disk-write goroutines may run at
//     once, enforced simply by sizing the worker pool.
type writerPool struct {
	flyingSem   *semaphore.Weighted // nil when unbounded
	nonBlocking bool

	// closeMu is held for read by every in-flight submit and for write by
	// shutdown, so shutdown can be sure no goroutine is about to send on
	// jobs once it closes the channel.
	closeMu sync.RWMutex
	closed  bool

	jobs chan *writeJob
	once sync.Once
	wg   sync.WaitGroup

	process func(job *writeJob) error
}

func newWriterPool(maxFlyingBytes uint64, workers int, queueDepth int, nonBlocking bool, process func(*writeJob) error) *writerPool {
	p := &writerPool{
		nonBlocking: nonBlocking,
		jobs:        make(chan *writeJob, queueDepth),
		process:     process,
	}
	if maxFlyingBytes > 0 {
		p.flyingSem = semaphore.NewWeighted(int64(maxFlyingBytes))
	}
	if workers < 1 {
		workers = 1
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker()
	}
	return p
}

func (p *writerPool) runWorker() {
	defer p.wg.Done()
	for job := range p.jobs {
		err := p.process(job)
		if p.flyingSem != nil {
			p.flyingSem.Release(int64(len(job.payload)))
		}
		job.done <- err
	}
}

// submit admits job onto the queue, first reserving its weight against the
// in-flight memory budget. With nonBlocking set (spec's
// non_blocking_admission option) a budget miss fails immediately with
// ErrResourceExhausted instead of blocking the caller.
func (p *writerPool) submit(ctx context.Context, job *writeJob) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		return blockcache.ErrInternal(nil, "hybrid: writer pool is shut down")
	}

	sz := int64(len(job.payload))
	if p.flyingSem != nil {
		if p.nonBlocking {
			if !p.flyingSem.TryAcquire(sz) {
				return blockcache.ErrResourceExhausted("hybrid: max_flying_memory_mb budget exhausted")
			}
		} else if err := p.flyingSem.Acquire(ctx, sz); err != nil {
			return blockcache.ErrInternal(err, "hybrid: waiting for in-flight memory budget")
		}
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		if p.flyingSem != nil {
			p.flyingSem.Release(sz)
		}
		return blockcache.ErrInternal(ctx.Err(), "hybrid: write admission cancelled")
	}
}

// shutdown stops accepting new jobs, lets queued jobs drain, and waits for
// every worker to exit.
func (p *writerPool) shutdown() {
	p.once.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.jobs)
		p.closeMu.Unlock()
	})
	p.wg.Wait()
}
