// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/buildbarn/bb-storage/blob/master/pkg/blobstore/local/partitioning_block_allocator.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Buildbarn Authors.

// Package hybrid implements the disk-backed tier of the hybrid cache engine:
// fixed-size, append-only, checksummed regions on one or more disk files,
// reclaimed FIFO, fronted by an in-memory index (spec §4.4).
package hybrid

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"sync"

	blockcache "github.com/grafana/mimir-datacache/pkg/cache"
)

const (
	regionMagic      uint32 = 0x5343424B // "SCBK"
	regionVersion    uint16 = 1
	regionHeaderSize        = 32
)

// region is one fixed-size, append-only extent of a disk file: the smallest
// unit of reclamation (spec §4.4, glossary "Region").
type region struct {
	id           uint32
	fileOffset   int64 // absolute offset of this region's header in its file
	capacity     uint64
	used         uint64
	entryCount   uint32
	sealed       bool
}

// header encodes the fixed region header written at fileOffset when the
// region is allocated, and again (as a trailer) at fileOffset+regionSize-
// regionHeaderSize when the region is sealed, for crash detection
// (spec §4.4 "On-disk layout per region"). This implementation never reads
// the header back (§4.4 "Startup" truncates every disk file on init), so
// the header/trailer exist for on-disk format fidelity and external
// tooling, not for this process's own recovery path.
func (r *region) header() [regionHeaderSize]byte {
	var buf [regionHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], regionMagic)
	binary.BigEndian.PutUint16(buf[4:6], regionVersion)
	binary.BigEndian.PutUint32(buf[6:10], r.id)
	binary.BigEndian.PutUint64(buf[10:18], r.used)
	binary.BigEndian.PutUint32(buf[18:22], r.entryCount)
	return buf
}

// regionTable owns one disk file, partitioned into regionCount fixed-size
// regions, a free list of region IDs available for allocation, and a FIFO
// of sealed regions awaiting reclamation (spec §4.4, "Region table"; free-
// list shape grounded on buildbarn's partitioningBlockAllocator).
type regionTable struct {
	mu sync.Mutex

	file        *os.File
	spaceIndex  int
	regionSize  uint64
	regionCount uint32

	free       []uint32 // region IDs never used or already reclaimed
	sealedFIFO []uint32 // sealed, not-yet-reclaimed region IDs, oldest first

	current *region

	enableChecksum bool

	// onReclaim is invoked with the region ID being zeroed and returned
	// to the free list, so the owning index can drop every entry that
	// pointed into it (spec: "Entries evicted from a region are removed
	// from the index").
	onReclaim func(regionID uint32)
}

func entryCapacity(regionSize uint64) uint64 {
	if regionSize <= 2*regionHeaderSize {
		return 0
	}
	return regionSize - 2*regionHeaderSize
}

// openRegionTable truncates path to size bytes (spec §4.4 "Startup": "Each
// disk file is truncated to zero length. Region table is rebuilt empty.")
// and partitions it into fixed-size regions.
func openRegionTable(spaceIndex int, path string, size, regionSize uint64, enableChecksum bool, onReclaim func(uint32)) (*regionTable, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, blockcache.ErrInternal(err, "open disk space file")
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, blockcache.ErrInternal(err, "truncate disk space file")
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, blockcache.ErrInternal(err, "grow disk space file")
	}

	regionCount := uint32(size / regionSize)
	free := make([]uint32, regionCount)
	for i := range free {
		free[i] = uint32(i)
	}

	return &regionTable{
		file:           f,
		spaceIndex:     spaceIndex,
		regionSize:     regionSize,
		regionCount:    regionCount,
		free:           free,
		enableChecksum: enableChecksum,
		onReclaim:      onReclaim,
	}, nil
}

func (t *regionTable) close() error {
	return t.file.Close()
}

// allocateLocked pops a region ID off the free list, reclaiming the oldest sealed
// region first if the free list is empty, and returns a fresh region ready
// to accept appends.
func (t *regionTable) allocateLocked() (*region, error) {
	if len(t.free) == 0 {
		if len(t.sealedFIFO) == 0 {
			return nil, blockcache.ErrResourceExhausted("hybrid: no free disk regions available")
		}
		oldest := t.sealedFIFO[0]
		t.sealedFIFO = t.sealedFIFO[1:]
		if err := t.zeroRegion(oldest); err != nil {
			return nil, err
		}
		if t.onReclaim != nil {
			t.onReclaim(oldest)
		}
		t.free = append(t.free, oldest)
	}

	id := t.free[0]
	t.free = t.free[1:]

	r := &region{
		id:         id,
		fileOffset: int64(id) * int64(t.regionSize),
		capacity:   entryCapacity(t.regionSize),
	}
	hdr := r.header()
	if _, err := t.file.WriteAt(hdr[:], r.fileOffset); err != nil {
		return nil, blockcache.ErrInternal(err, "write region header")
	}
	return r, nil
}

func (t *regionTable) zeroRegion(id uint32) error {
	offset := int64(id) * int64(t.regionSize)
	zero := make([]byte, regionHeaderSize)
	if _, err := t.file.WriteAt(zero, offset); err != nil {
		return blockcache.ErrInternal(err, "zero reclaimed region header")
	}
	if _, err := t.file.WriteAt(zero, offset+int64(t.regionSize)-regionHeaderSize); err != nil {
		return blockcache.ErrInternal(err, "zero reclaimed region trailer")
	}
	return nil
}

// sealLocked writes r's header (as a trailer, for crash-detection symmetry)
// at the end of its extent and appends it to the sealed FIFO.
func (t *regionTable) sealLocked(r *region) error {
	r.sealed = true
	hdr := r.header()
	trailerOffset := r.fileOffset + int64(t.regionSize) - regionHeaderSize
	if _, err := t.file.WriteAt(hdr[:], trailerOffset); err != nil {
		return blockcache.ErrInternal(err, "write region trailer")
	}
	t.sealedFIFO = append(t.sealedFIFO, r.id)
	return nil
}

// appendResult describes where an appended entry's payload landed.
type appendResult struct {
	regionID     uint32
	payloadOffset int64
	payloadLen   uint32
	checksum     uint32
}

// append writes one packed entry { key_fp_len, key_fp, payload_len,
// payload, checksum? } into the currently open region, sealing it and
// opening (or reclaiming) a new one first if it doesn't fit (spec §4.4
// "Write path"). Returns the absolute file offset and length of the
// payload alone, which is all the index needs to satisfy a later read.
func (t *regionTable) append(keyFP, payload []byte) (appendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entryLen := uint64(2) + uint64(len(keyFP)) + uint64(4) + uint64(len(payload)) + uint64(4)

	if t.current != nil && t.current.capacity < entryLen {
		if err := t.sealLocked(t.current); err != nil {
			return appendResult{}, err
		}
		t.current = nil
	}

	if t.current == nil {
		r, err := t.allocateLocked()
		if err != nil {
			return appendResult{}, err
		}
		if r.capacity < entryLen {
			return appendResult{}, blockcache.ErrResourceExhausted("hybrid: entry larger than region capacity")
		}
		t.current = r
	}

	r := t.current
	writeOffset := r.fileOffset + regionHeaderSize + int64(r.used)

	var checksum uint32
	if t.enableChecksum {
		checksum = crc32.ChecksumIEEE(payload)
	}

	buf := make([]byte, entryLen)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(keyFP)))
	copy(buf[2:2+len(keyFP)], keyFP)
	off := 2 + len(keyFP)
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(payload)))
	off += 4
	payloadOffsetInBuf := off
	copy(buf[off:off+len(payload)], payload)
	off += len(payload)
	binary.BigEndian.PutUint32(buf[off:off+4], checksum)

	if _, err := t.file.WriteAt(buf, writeOffset); err != nil {
		return appendResult{}, blockcache.ErrInternal(err, "append cache entry to region")
	}

	r.used += entryLen
	r.capacity -= entryLen
	r.entryCount++

	return appendResult{
		regionID:      r.id,
		payloadOffset: writeOffset + int64(payloadOffsetInBuf),
		payloadLen:    uint32(len(payload)),
		checksum:      checksum,
	}, nil
}

// read fetches length bytes at fileOffset and, when enableChecksum is set,
// validates it against wantChecksum.
func (t *regionTable) read(fileOffset int64, length uint32, enableChecksum bool, wantChecksum uint32) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := t.file.ReadAt(buf, fileOffset); err != nil {
		return nil, blockcache.ErrInternal(err, "read cache entry from region")
	}
	if enableChecksum {
		if crc32.ChecksumIEEE(buf) != wantChecksum {
			return nil, blockcache.ErrCorruption("hybrid: checksum mismatch at offset %d", fileOffset)
		}
	}
	return buf, nil
}

// bytesUsed returns the total bytes currently occupied across every
// allocated (non-free) region, for DataCacheMetrics.DiskBytesUsed.
func (t *regionTable) bytesUsed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Sealed regions' exact used-byte counts aren't retained once sealed
	// (only their IDs, in sealedFIFO), so they're treated as full; the
	// open region's actual used bytes are added on top. Close enough for
	// a metrics gauge, and exact once every region the process has
	// touched is full.
	used := uint64(len(t.sealedFIFO)) * (t.regionSize - 2*regionHeaderSize)
	if t.current != nil {
		used += t.current.used
	}
	return used
}

func (t *regionTable) regionCountTotal() uint32 { return t.regionCount }
func (t *regionTable) freeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.free)
}
