// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/storegateway/indexcache/remote.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package cache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// maxInlineKeyLen bounds how large a caller-supplied CacheKey can be before
// Fingerprint hashes it down instead of copying it verbatim, the same
// tradeoff postingsCacheKeyLabelID makes for label name/value pairs (hash
// once the plain encoding would make the key inconveniently long).
const maxInlineKeyLen = 200

// Fingerprint composes the backend-level lookup key from a logical
// CacheKey and a block-aligned offset: encode(key) || u64_be(offset)
// (spec §4.5, "Key composition"). Entries at different offsets of the same
// logical key are always distinct fingerprints.
func Fingerprint(key []byte, offset uint64) []byte {
	encoded := encodeKey(key)
	fp := make([]byte, len(encoded)+8)
	n := copy(fp, encoded)
	binary.BigEndian.PutUint64(fp[n:], offset)
	return fp
}

// encodeKey returns key verbatim when short, otherwise its blake2b-256
// digest, bounding key_fp length regardless of the caller's logical key
// size.
func encodeKey(key []byte) []byte {
	if len(key) <= maxInlineKeyLen {
		return key
	}
	sum := blake2b.Sum256(key)
	return sum[:]
}

// ShardHash returns a fast, non-cryptographic hash of a fingerprint, used
// to route it to a shard in both the memory tier's sharded map and the
// hybrid backend's index.
func ShardHash(fp []byte) uint64 {
	return xxhash.Sum64(fp)
}
