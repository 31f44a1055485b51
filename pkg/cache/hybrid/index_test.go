// SPDX-License-Identifier: AGPL-3.0-only

package hybrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskIndex_PutGetRoundTrip(t *testing.T) {
	idx := newDiskIndex(4)
	fp := []byte("k")
	idx.put(fp, indexEntry{spaceIndex: 0, regionID: 1, offset: 100, length: 10})

	got, ok := idx.get(fp)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.regionID)
	assert.Equal(t, int64(100), got.offset)
}

func TestDiskIndex_ExpiredEntryIsRemovedOnGet(t *testing.T) {
	idx := newDiskIndex(4)
	fp := []byte("k")
	idx.put(fp, indexEntry{ttl: time.Now().Add(-time.Second)})

	_, ok := idx.get(fp)
	assert.False(t, ok)
	assert.False(t, idx.has(fp))
}

func TestDiskIndex_EvictRegionDropsOnlyThatRegionsKeys(t *testing.T) {
	idx := newDiskIndex(4)
	idx.put([]byte("a"), indexEntry{spaceIndex: 0, regionID: 1})
	idx.put([]byte("b"), indexEntry{spaceIndex: 0, regionID: 2})

	idx.evictRegion(0, 1)

	_, aOK := idx.get([]byte("a"))
	_, bOK := idx.get([]byte("b"))
	assert.False(t, aOK)
	assert.True(t, bOK)
}

func TestDiskIndex_RemoveIsIdempotent(t *testing.T) {
	idx := newDiskIndex(4)
	fp := []byte("k")
	idx.put(fp, indexEntry{regionID: 1})

	idx.remove(fp)
	idx.remove(fp) // second call: no-op, no panic

	assert.False(t, idx.has(fp))
}

func TestDiskIndex_CountReflectsLiveEntries(t *testing.T) {
	idx := newDiskIndex(4)
	idx.put([]byte("a"), indexEntry{})
	idx.put([]byte("b"), indexEntry{})
	assert.Equal(t, 2, idx.count())
}
