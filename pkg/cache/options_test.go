// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOptions() CacheOptions {
	return CacheOptions{
		MemSpaceSize: 4 << 20,
		BlockSize:    4096,
		MetaPath:     "/tmp/does-not-need-to-exist",
		Engine:       EngineMemoryOnly,
	}
}

func TestCacheOptions_ValidateAcceptsDefaults(t *testing.T) {
	o := validOptions()
	require.NoError(t, o.Validate())
}

func TestCacheOptions_ValidateRejectsZeroBlockSize(t *testing.T) {
	o := validOptions()
	o.BlockSize = 0
	assert.ErrorIs(t, o.Validate(), errZeroBlockSize)
}

func TestCacheOptions_ValidateRejectsBlockSizeAboveMax(t *testing.T) {
	o := validOptions()
	o.BlockSize = MaxBlockSize * 2
	assert.ErrorIs(t, o.Validate(), errBlockSizeTooLarge)
}

func TestCacheOptions_ValidateRejectsNonPowerOfTwoBlockSize(t *testing.T) {
	o := validOptions()
	o.BlockSize = 4097
	assert.ErrorIs(t, o.Validate(), errBlockSizeNotPow2)
}

func TestCacheOptions_ValidateRejectsEmptyMetaPath(t *testing.T) {
	o := validOptions()
	o.MetaPath = ""
	assert.ErrorIs(t, o.Validate(), errEmptyMetaPath)
}

func TestCacheOptions_ValidateRejectsInvalidDiskSpace(t *testing.T) {
	o := validOptions()
	o.DiskSpaces = []DiskSpace{{Path: "", Size: 0}}
	assert.ErrorIs(t, o.Validate(), errInvalidDiskSpace)
}

func TestCacheOptions_ValidateRequiresMaxConcurrentInsertsForHybridWithDisks(t *testing.T) {
	o := validOptions()
	o.Engine = EngineHybrid
	o.DiskSpaces = []DiskSpace{{Path: "/tmp/space0", Size: 1 << 20}}
	o.MaxConcurrentInserts = 0
	assert.ErrorIs(t, o.Validate(), errZeroMaxConcurrent)
}

func TestCacheOptions_ValidateDefaultsRegionSize(t *testing.T) {
	o := validOptions()
	o.RegionSize = 0
	require.NoError(t, o.Validate())
	assert.Equal(t, uint64(DefaultRegionSize), o.RegionSize)
}

func TestEngine_SetAndString(t *testing.T) {
	var e Engine
	require.NoError(t, e.Set("hybrid"))
	assert.Equal(t, EngineHybrid, e)
	assert.Equal(t, "hybrid", e.String())

	require.NoError(t, e.Set("memory_only"))
	assert.Equal(t, EngineMemoryOnly, e)

	assert.Error(t, e.Set("bogus"))
}
