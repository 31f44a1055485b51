// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/buchgr/bazel-remote/blob/master/cache/disk/lru.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Bazel Remote Authors.

// Package memtier implements the sharded, LRU-with-insertion-point memory
// tier used both standalone (MemoryOnlyBackend) and as the front tier of
// HybridBackend.
package memtier

import (
	"container/list"
	"sync"
	"time"
)

// entry is one cached block held by a shard.
type entry struct {
	keyFP         string
	payload       []byte
	insertionTime time.Time
	ttlSeconds    uint64
}

func (e *entry) expired(now time.Time) bool {
	if e.ttlSeconds == 0 {
		return false
	}
	return now.After(e.insertionTime.Add(time.Duration(e.ttlSeconds) * time.Second))
}

// shard is one stripe of the sharded memory tier. Its list is split by
// insertionPoint into two segments: "young" (front of list up to and
// including insertionPoint's predecessor), containing entries that have
// been read at least once since insertion, and "old" (insertionPoint to the
// back), containing entries that have not. New entries are inserted at the
// head of "old", immediately after insertionPoint, rather than at the true
// MRU front -- this is the "insertion point" policy from spec §4.3: a
// newcomer must be read again before it can compete with long-lived hot
// entries for survival. A hit promotes the entry to the true front.
// Eviction takes from the back: the coldest "old" entry, or the coldest
// "young" entry once "old" is empty.
type shard struct {
	mu             sync.Mutex
	ll             *list.List
	items          map[string]*list.Element
	insertionPoint *list.Element
	size           int
	capacity       int

	// onSizeDelta reports a net change in bytes held by this shard, used
	// by the owning backend to maintain an aggregate byte counter without
	// re-summing every shard on each metrics call.
	onSizeDelta func(delta int)
}

func newShard(capacity int, onSizeDelta func(int)) *shard {
	s := &shard{
		ll:          list.New(),
		items:       make(map[string]*list.Element),
		capacity:    capacity,
		onSizeDelta: onSizeDelta,
	}
	s.insertionPoint = s.ll.PushBack(nil) // sentinel, carries no entry
	return s
}

// put inserts or replaces the entry for keyFP. overwrite must already have
// been checked by the caller when an existing entry must be preserved;
// put() always (re)writes.
func (s *shard) put(keyFP string, payload []byte, ttlSeconds uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(keyFP, payload, ttlSeconds)
}

func (s *shard) putLocked(keyFP string, payload []byte, ttlSeconds uint64) {
	if el, ok := s.items[keyFP]; ok {
		old := el.Value.(*entry)
		s.size -= len(old.payload)
		s.ll.Remove(el)
		delete(s.items, keyFP)
	}

	e := &entry{keyFP: keyFP, payload: payload, insertionTime: time.Now(), ttlSeconds: ttlSeconds}
	el := s.ll.InsertAfter(e, s.insertionPoint)
	s.items[keyFP] = el
	s.size += len(payload)
	s.onSizeDelta(len(payload))

	s.evictLocked()
}

// putIfAbsent inserts the entry for keyFP only if no live entry is already
// present, atomically under the shard's lock. Returns false (the payload
// is not stored) if a live entry already occupied keyFP. This is the single
// critical section WriteBuffer's overwrite=false path relies on: checking
// has() and then calling put() separately would let two concurrent writers
// both observe an empty slot and both insert (spec §5's concurrent-callers
// model; invariant 3).
func (s *shard) putIfAbsent(keyFP string, payload []byte, ttlSeconds uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[keyFP]; ok {
		if !el.Value.(*entry).expired(time.Now()) {
			return false
		}
	}
	s.putLocked(keyFP, payload, ttlSeconds)
	return true
}

// has reports whether keyFP currently has a live (non-expired) entry,
// without promoting it.
func (s *shard) has(keyFP string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[keyFP]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	if e.expired(now) {
		return false
	}
	return true
}

// get returns a copy of the payload for keyFP, promoting the entry to the
// front of the list on a live hit. The second return reports whether the
// entry was present and not expired; an expired entry is evicted as a side
// effect (spec §4.3, "a read of an expired entry ... asynchronously removes
// it" -- here it's synchronous, under the shard's own short critical
// section, which is cheap enough not to need a separate goroutine).
func (s *shard) get(keyFP string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[keyFP]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if e.expired(time.Now()) {
		s.removeElementLocked(el)
		return nil, false
	}

	s.ll.MoveToFront(el)
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true
}

// remove deletes the entry for keyFP, if present. Absence is not an error.
func (s *shard) remove(keyFP string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[keyFP]; ok {
		s.removeElementLocked(el)
	}
}

func (s *shard) removeElementLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(s.items, e.keyFP)
	s.ll.Remove(el)
	s.size -= len(e.payload)
	s.onSizeDelta(-len(e.payload))
}

// evictLocked drops entries from the back of the list until the shard is
// within capacity. The sentinel is never evicted: once the "old" segment is
// empty, the entry just ahead of the sentinel (the coldest "young" entry)
// goes next.
func (s *shard) evictLocked() {
	for s.size > s.capacity {
		victim := s.ll.Back()
		if victim == s.insertionPoint {
			victim = victim.Prev()
		}
		if victim == nil {
			return
		}
		s.removeElementLocked(victim)
	}
}

// setCapacity resizes the shard's budget and evicts immediately if the new
// capacity is now exceeded (spec invariant 5: "Memory tier usage never
// exceeds mem_space_size (post-eviction)").
func (s *shard) setCapacity(capacity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	s.evictLocked()
}

// count returns the number of live entries (including expired-but-not-yet-
// reaped ones) currently held by the shard, for MetricsDetailFull reporting.
func (s *shard) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *shard) bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
