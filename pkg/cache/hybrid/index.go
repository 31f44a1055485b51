// SPDX-License-Identifier: AGPL-3.0-only

package hybrid

import (
	"sync"
	"time"

	blockcache "github.com/grafana/mimir-datacache/pkg/cache"
)

// indexEntry locates one cached payload on disk: spec §4.4's "in-memory
// (non-persisted) index mapping key_fp -> {region_id, offset, length,
// ttl_deadline}".
type indexEntry struct {
	spaceIndex int
	regionID   uint32
	offset     int64
	length     uint32
	checksum   uint32
	ttl        time.Time // zero value means no expiry
}

func (e indexEntry) expired(now time.Time) bool {
	return !e.ttl.IsZero() && now.After(e.ttl)
}

// shardCountFor returns the smallest power of two that is >= n, floored at
// 1 (same derivation memtier.shardCountFor uses for the memory tier).
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

type indexShard struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

// diskIndex is the sharded, in-memory index fronting every disk space. It is
// never persisted; spec §4.4 "Startup" rebuilds it empty, since every disk
// file is truncated on init.
type diskIndex struct {
	shards    []*indexShard
	shardMask uint64

	// membership tracks which keys live in each region, per disk space, so
	// that reclaiming a region can evict exactly the keys it held without
	// scanning every shard (spec: "Entries evicted from a region are
	// removed from the index").
	memberMu   sync.Mutex
	membership map[int]map[uint32]map[string]struct{} // spaceIndex -> regionID -> keys
}

func newDiskIndex(shardCount int) *diskIndex {
	n := shardCountFor(shardCount)
	shards := make([]*indexShard, n)
	for i := range shards {
		shards[i] = &indexShard{entries: make(map[string]indexEntry)}
	}
	return &diskIndex{
		shards:     shards,
		shardMask:  uint64(n - 1),
		membership: make(map[int]map[uint32]map[string]struct{}),
	}
}

func (d *diskIndex) shardFor(keyFP []byte) *indexShard {
	h := blockcache.ShardHash(keyFP)
	return d.shards[h&d.shardMask]
}

func (d *diskIndex) put(keyFP []byte, e indexEntry) {
	k := string(keyFP)
	sh := d.shardFor(keyFP)
	sh.mu.Lock()
	old, hadOld := sh.entries[k]
	sh.entries[k] = e
	sh.mu.Unlock()

	d.memberMu.Lock()
	if hadOld {
		d.dropMembershipLocked(old.spaceIndex, old.regionID, k)
	}
	bySpace, ok := d.membership[e.spaceIndex]
	if !ok {
		bySpace = make(map[uint32]map[string]struct{})
		d.membership[e.spaceIndex] = bySpace
	}
	keys, ok := bySpace[e.regionID]
	if !ok {
		keys = make(map[string]struct{})
		bySpace[e.regionID] = keys
	}
	keys[k] = struct{}{}
	d.memberMu.Unlock()
}

// dropMembershipLocked removes k from (spaceIndex, regionID)'s membership
// set. Callers must hold memberMu.
func (d *diskIndex) dropMembershipLocked(spaceIndex int, regionID uint32, k string) {
	bySpace, ok := d.membership[spaceIndex]
	if !ok {
		return
	}
	keys, ok := bySpace[regionID]
	if !ok {
		return
	}
	delete(keys, k)
	if len(keys) == 0 {
		delete(bySpace, regionID)
	}
}

func (d *diskIndex) get(keyFP []byte) (indexEntry, bool) {
	sh := d.shardFor(keyFP)
	sh.mu.RLock()
	e, ok := sh.entries[string(keyFP)]
	sh.mu.RUnlock()
	if !ok {
		return indexEntry{}, false
	}
	if e.expired(time.Now()) {
		d.remove(keyFP)
		return indexEntry{}, false
	}
	return e, true
}

func (d *diskIndex) has(keyFP []byte) bool {
	_, ok := d.get(keyFP)
	return ok
}

func (d *diskIndex) remove(keyFP []byte) {
	k := string(keyFP)
	sh := d.shardFor(keyFP)
	sh.mu.Lock()
	e, ok := sh.entries[k]
	delete(sh.entries, k)
	sh.mu.Unlock()

	if ok {
		d.memberMu.Lock()
		d.dropMembershipLocked(e.spaceIndex, e.regionID, k)
		d.memberMu.Unlock()
	}
}

// evictRegion drops every index entry that was last written into
// (spaceIndex, regionID), called when that region is reclaimed by its
// regionTable's FIFO.
func (d *diskIndex) evictRegion(spaceIndex int, regionID uint32) {
	d.memberMu.Lock()
	keys := d.membership[spaceIndex][regionID]
	delete(d.membership[spaceIndex], regionID)
	d.memberMu.Unlock()

	for k := range keys {
		sh := d.shardFor([]byte(k))
		sh.mu.Lock()
		delete(sh.entries, k)
		sh.mu.Unlock()
	}
}

// count returns the total number of live index entries, for MetricsDetailFull.
func (d *diskIndex) count() int {
	n := 0
	for _, sh := range d.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
