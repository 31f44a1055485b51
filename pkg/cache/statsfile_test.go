// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	fields := map[string]float64{
		"hit_count":       100,
		"miss_count":      3,
		"mem_bytes_used":  65536,
		"disk_bytes_used": 0,
	}

	require.NoError(t, WriteStatsFile(dir, fields))

	got, err := ReadStatsFile(dir)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestStatsFile_MissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadStatsFile(dir)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMetricsToStatsFields_CoversEveryField(t *testing.T) {
	m := DataCacheMetrics{
		MemBytesUsed:           1,
		DiskBytesUsed:          2,
		MemQuota:                3,
		DiskQuota:              4,
		HitCount:               5,
		MissCount:              6,
		RemoteReadBytes:        7,
		RemoteReadLatencyUsSum: 8,
		CacheReadBytes:         9,
		CacheReadLatencyUsSum:  10,
	}
	fields := MetricsToStatsFields(m)
	assert.Len(t, fields, 10)
	assert.Equal(t, float64(5), fields["hit_count"])
	assert.Equal(t, float64(6), fields["miss_count"])
}
