// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is the result taxonomy every cache operation returns (spec §7). It is
// backed by grpc's status codes rather than a bespoke enum: the mapping is
// close enough (NotFound, AlreadyExists, ResourceExhausted, Internal,
// Unimplemented, Canceled all exist already) and callers embedding this
// library next to an RPC surface get a code they can forward without a
// second translation layer.
type Code = codes.Code

const (
	CodeOK                = codes.OK
	CodeInvalidArgument   = codes.InvalidArgument
	CodeNotFound          = codes.NotFound
	CodeAlreadyExist      = codes.AlreadyExists
	CodeResourceExhausted = codes.ResourceExhausted
	// CodeCorruption reuses DataLoss: a checksum mismatch is data loss from
	// the cache's point of view, even though the authoritative copy is safe
	// in remote storage.
	CodeCorruption   = codes.DataLoss
	CodeNotSupported = codes.Unimplemented
	CodeInternal     = codes.Internal
	CodeCancelled    = codes.Canceled
)

// ErrInvalidArgument builds a status error for bad alignment, bad options or
// operating on an uninitialized cache.
func ErrInvalidArgument(format string, args ...any) error {
	return status.Errorf(CodeInvalidArgument, format, args...)
}

// ErrNotFound builds a status error for a missing or expired entry.
func ErrNotFound(format string, args ...any) error {
	return status.Errorf(CodeNotFound, format, args...)
}

// ErrAlreadyExist builds a status error for a non-overwrite write that
// collides with a live entry.
func ErrAlreadyExist(format string, args ...any) error {
	return status.Errorf(CodeAlreadyExist, format, args...)
}

// ErrResourceExhausted builds a status error for refused admission (quota,
// in-flight memory, concurrent insert slots).
func ErrResourceExhausted(format string, args ...any) error {
	return status.Errorf(CodeResourceExhausted, format, args...)
}

// ErrCorruption builds a status error for a checksum mismatch.
func ErrCorruption(format string, args ...any) error {
	return status.Errorf(CodeCorruption, format, args...)
}

// ErrNotSupported builds a status error for a capability a backend lacks.
func ErrNotSupported(format string, args ...any) error {
	return status.Errorf(CodeNotSupported, format, args...)
}

// ErrInternal wraps a lower-level error (I/O, unexpected state) with msg and
// tags it CodeInternal. err may be nil, in which case msg alone is used.
func ErrInternal(err error, msg string) error {
	if err == nil {
		return status.Error(CodeInternal, msg)
	}
	return status.Error(CodeInternal, errors.Wrap(err, msg).Error())
}

// StatusCode extracts the Code carried by err. A nil error maps to CodeOK;
// any error not produced by this package's constructors maps to
// CodeInternal, since an unrecognized failure from a collaborator is, from
// the cache's perspective, an internal error rather than a defined outcome.
func StatusCode(err error) Code {
	if err == nil {
		return CodeOK
	}
	s, ok := status.FromError(err)
	if !ok {
		return CodeInternal
	}
	return s.Code()
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return StatusCode(err) == CodeNotFound }

// IsAlreadyExist reports whether err carries CodeAlreadyExist.
func IsAlreadyExist(err error) bool { return StatusCode(err) == CodeAlreadyExist }

// IsCorruption reports whether err carries CodeCorruption.
func IsCorruption(err error) bool { return StatusCode(err) == CodeCorruption }

// IsResourceExhausted reports whether err carries CodeResourceExhausted.
func IsResourceExhausted(err error) bool { return StatusCode(err) == CodeResourceExhausted }

// IsInvalidArgument reports whether err carries CodeInvalidArgument.
func IsInvalidArgument(err error) bool { return StatusCode(err) == CodeInvalidArgument }
