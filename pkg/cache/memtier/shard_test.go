// SPDX-License-Identifier: AGPL-3.0-only

package memtier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShard_PutGetRoundTrip(t *testing.T) {
	s := newShard(1<<20, func(int) {})
	s.put("k", []byte("v1"), 0)

	got, ok := s.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
}

func TestShard_GetMissingReturnsFalse(t *testing.T) {
	s := newShard(1<<20, func(int) {})
	_, ok := s.get("nope")
	assert.False(t, ok)
}

func TestShard_PutOverwritesAndAdjustsSize(t *testing.T) {
	var delta int
	s := newShard(1<<20, func(d int) { delta += d })

	s.put("k", []byte("aaaa"), 0)
	s.put("k", []byte("bb"), 0)

	got, ok := s.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("bb"), got)
	assert.Equal(t, 2, s.bytes())
	assert.Equal(t, 1, s.count())
}

func TestShard_EvictsFromBackWhenOverCapacity(t *testing.T) {
	s := newShard(10, func(int) {})
	s.put("a", []byte("0123456789"), 0) // fills capacity exactly
	s.put("b", []byte("01234"), 0)      // forces eviction of "a"

	_, ok := s.get("a")
	assert.False(t, ok)
	got, ok := s.get("b")
	require.True(t, ok)
	assert.Equal(t, []byte("01234"), got)
}

func TestShard_HitPromotesAwayFromEviction(t *testing.T) {
	s := newShard(8, func(int) {})
	s.put("a", []byte("0123"), 0)
	s.put("b", []byte("4567"), 0)

	// Promote "a" to the front by reading it.
	_, ok := s.get("a")
	require.True(t, ok)

	// Adding "c" must evict from the back ("b", the coldest), not "a".
	s.put("c", []byte("89ab"), 0)

	_, aOK := s.get("a")
	_, bOK := s.get("b")
	_, cOK := s.get("c")
	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestShard_ExpiredEntryIsNotFoundAndRemoved(t *testing.T) {
	s := newShard(1<<20, func(int) {})
	s.put("k", []byte("v"), 1) // 1 second TTL

	e := s.items["k"].Value.(*entry)
	e.insertionTime = e.insertionTime.Add(-2 * time.Second)

	_, ok := s.get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, s.count())
}

func TestShard_HasDoesNotPromote(t *testing.T) {
	s := newShard(1<<20, func(int) {})
	s.put("k", []byte("v"), 0)
	assert.True(t, s.has("k", time.Now()))
	assert.False(t, s.has("missing", time.Now()))
}

func TestShard_PutIfAbsentRejectsExistingLiveEntry(t *testing.T) {
	s := newShard(1<<20, func(int) {})
	require.True(t, s.putIfAbsent("k", []byte("v1"), 0))
	assert.False(t, s.putIfAbsent("k", []byte("v2"), 0))

	got, ok := s.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)
}

func TestShard_PutIfAbsentAcceptsExpiredEntry(t *testing.T) {
	s := newShard(1<<20, func(int) {})
	require.True(t, s.putIfAbsent("k", []byte("v1"), 1))

	e := s.items["k"].Value.(*entry)
	e.insertionTime = e.insertionTime.Add(-2 * time.Second)

	assert.True(t, s.putIfAbsent("k", []byte("v2"), 0))
	got, ok := s.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
}

func TestShard_SetCapacityEvictsImmediately(t *testing.T) {
	s := newShard(20, func(int) {})
	s.put("a", []byte("0123456789"), 0)
	s.put("b", []byte("0123456789"), 0)
	require.Equal(t, 2, s.count())

	s.setCapacity(10)
	assert.LessOrEqual(t, s.bytes(), 10)
}
