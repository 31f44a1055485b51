// SPDX-License-Identifier: AGPL-3.0-only

package cache

// segment is one span making up an IOBuffer. data is always a read-only view
// as far as IOBuffer's own API is concerned; deleter, when set, is invoked
// exactly once when the segment is released and is how a caller that handed
// us a pooled or otherwise non-GC-managed slice gets it back.
type segment struct {
	data    []byte
	deleter func()
}

// IOBuffer is a zero-copy aggregate of byte spans: a sequence of borrowed
// views or user-owned buffers with a total length and a copy-out primitive.
// It is the value type every public read/write path accepts and returns
// (spec §4.1). The zero value is a valid, empty IOBuffer.
//
// IOBuffer is movable (ordinary Go assignment) but not implicitly
// cloneable: copying the struct shares the underlying segment slices, so
// two IOBuffer values can alias the same bytes. Clone performs a deep copy
// when that is actually required.
type IOBuffer struct {
	segments []segment
	size     int
}

// NewIOBuffer returns an empty IOBuffer.
func NewIOBuffer() IOBuffer {
	return IOBuffer{}
}

// NewIOBufferFromBytes wraps a single borrowed slice in an IOBuffer. The
// caller retains ownership of p; IOBuffer never mutates or retains it past
// the lifetime the caller gives it.
func NewIOBufferFromBytes(p []byte) IOBuffer {
	var b IOBuffer
	b.Append(p)
	return b
}

// Size returns the total number of bytes across all segments.
func (b *IOBuffer) Size() int {
	return b.size
}

// Append adds a borrowed, read-only view to the buffer. The caller must keep
// p alive and unmodified for as long as the IOBuffer (or any struct copy of
// it sharing this segment) is in use.
func (b *IOBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.segments = append(b.segments, segment{data: p})
	b.size += len(p)
}

// AppendUserData adds a segment owned by the caller, to be released via
// deleter exactly once. deleter may be nil for data with no special
// lifetime (equivalent to Append).
func (b *IOBuffer) AppendUserData(p []byte, deleter func()) {
	if len(p) == 0 {
		if deleter != nil {
			deleter()
		}
		return
	}
	b.segments = append(b.segments, segment{data: p, deleter: deleter})
	b.size += len(p)
}

// CopyTo copies every segment's bytes into dst in order and returns the
// number of bytes written. dst must be at least Size() bytes long.
func (b *IOBuffer) CopyTo(dst []byte) (int, error) {
	if len(dst) < b.size {
		return 0, ErrInvalidArgument("iobuffer: destination has %d bytes, need at least %d", len(dst), b.size)
	}
	n := 0
	for _, seg := range b.segments {
		n += copy(dst[n:], seg.data)
	}
	return n, nil
}

// Bytes returns the buffer's contents as a single contiguous slice. If the
// buffer already holds exactly one segment it is returned as-is (no copy);
// otherwise the segments are concatenated into a freshly allocated slice.
func (b *IOBuffer) Bytes() []byte {
	if len(b.segments) == 1 {
		return b.segments[0].data
	}
	out := make([]byte, b.size)
	_, _ = b.CopyTo(out)
	return out
}

// Clone performs a deep copy: the returned IOBuffer owns freshly allocated
// backing arrays and shares nothing with b.
func (b *IOBuffer) Clone() IOBuffer {
	out := IOBuffer{segments: make([]segment, 0, len(b.segments)), size: b.size}
	for _, seg := range b.segments {
		cp := make([]byte, len(seg.data))
		copy(cp, seg.data)
		out.segments = append(out.segments, segment{data: cp})
	}
	return out
}

// Release runs every segment's deleter, if any, exactly once. After Release
// the buffer is empty. Borrowed segments with no deleter are simply dropped.
func (b *IOBuffer) Release() {
	for _, seg := range b.segments {
		if seg.deleter != nil {
			seg.deleter()
		}
	}
	b.segments = nil
	b.size = 0
}
