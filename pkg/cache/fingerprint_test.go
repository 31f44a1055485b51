// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_DistinctOffsetsAreDistinct(t *testing.T) {
	key := []byte("file-A")
	fp1 := Fingerprint(key, 0)
	fp2 := Fingerprint(key, 4096)

	assert.False(t, bytes.Equal(fp1, fp2))
	assert.True(t, bytes.Equal(fp1, Fingerprint(key, 0)), "fingerprint must be deterministic")
}

func TestFingerprint_DistinctKeysAreDistinct(t *testing.T) {
	fp1 := Fingerprint([]byte("file-A"), 0)
	fp2 := Fingerprint([]byte("file-B"), 0)
	assert.False(t, bytes.Equal(fp1, fp2))
}

func TestFingerprint_LongKeyIsHashedNotInlined(t *testing.T) {
	shortKey := []byte("short")
	longKey := []byte(strings.Repeat("x", maxInlineKeyLen+1))

	shortFP := Fingerprint(shortKey, 0)
	longFP := Fingerprint(longKey, 0)

	// Short keys are carried verbatim (plus the 8-byte offset suffix);
	// long keys are hashed down to a fixed 32-byte digest regardless of
	// input length.
	assert.Equal(t, len(shortKey)+8, len(shortFP))
	assert.Equal(t, 32+8, len(longFP))
}

func TestShardHash_IsDeterministic(t *testing.T) {
	fp := Fingerprint([]byte("k"), 4096)
	assert.Equal(t, ShardHash(fp), ShardHash(fp))
}
