// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOBuffer_SingleSegmentBytesIsZeroCopy(t *testing.T) {
	p := []byte("abcdef")
	b := NewIOBufferFromBytes(p)

	assert.Equal(t, 6, b.Size())
	got := b.Bytes()
	require.Len(t, got, 6)
	// Single-segment Bytes() returns the original slice, not a copy.
	p[0] = 'z'
	assert.Equal(t, byte('z'), got[0])
}

func TestIOBuffer_MultiSegmentBytesConcatenates(t *testing.T) {
	var b IOBuffer
	b.Append([]byte("foo"))
	b.Append([]byte("bar"))

	assert.Equal(t, 6, b.Size())
	assert.Equal(t, []byte("foobar"), b.Bytes())
}

func TestIOBuffer_CopyToRequiresCapacity(t *testing.T) {
	b := NewIOBufferFromBytes([]byte("hello"))

	dst := make([]byte, 5)
	n, err := b.CopyTo(dst)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), dst)

	_, err = b.CopyTo(make([]byte, 4))
	assert.True(t, IsInvalidArgument(err))
}

func TestIOBuffer_CloneIsIndependent(t *testing.T) {
	original := []byte("abc")
	b := NewIOBufferFromBytes(original)
	clone := b.Clone()

	original[0] = 'Z'
	assert.Equal(t, []byte("abc"), clone.Bytes())
}

func TestIOBuffer_AppendUserDataRunsDeleterOnRelease(t *testing.T) {
	var released bool
	var b IOBuffer
	b.AppendUserData([]byte("owned"), func() { released = true })

	assert.Equal(t, 5, b.Size())
	b.Release()
	assert.True(t, released)
	assert.Equal(t, 0, b.Size())
}

func TestIOBuffer_AppendUserDataEmptyStillRunsDeleter(t *testing.T) {
	var released bool
	var b IOBuffer
	b.AppendUserData(nil, func() { released = true })

	assert.True(t, released)
	assert.Equal(t, 0, b.Size())
}

func TestIOBuffer_ZeroValueIsValidAndEmpty(t *testing.T) {
	var b IOBuffer
	assert.Equal(t, 0, b.Size())
	assert.Empty(t, b.Bytes())
}
