// SPDX-License-Identifier: AGPL-3.0-only
// Provenance-includes-location: https://github.com/grafana/mimir/blob/main/pkg/storage/tsdb/config.go
// Provenance-includes-license: Apache-2.0
// Provenance-includes-copyright: The Mimir Authors.

package cache

import (
	"flag"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
)

// MaxBlockSize is the compile-time upper bound on CacheOptions.BlockSize
// (spec §6). block_size must be a power of two no larger than this.
const MaxBlockSize = 1 * 1024 * 1024 // 1 MiB

// DefaultRegionSize is the size of a disk-tier region when CacheOptions does
// not override it (spec §6).
const DefaultRegionSize = 16 * 1024 * 1024 // 16 MiB

// DefaultDiskBlockAlignment is the default disk block alignment (spec §6).
// The disk tier does not pad to it: region entries are appended back to
// back.
const DefaultDiskBlockAlignment = 4 * 1024 // 4 KiB

// Engine selects which Backend implementation BlockCache.Init constructs.
type Engine int

const (
	// EngineMemoryOnly selects MemoryOnlyBackend: no disk tier.
	EngineMemoryOnly Engine = iota
	// EngineHybrid selects HybridBackend: memory tier in front of one or
	// more disk regions.
	EngineHybrid
)

// String implements the flag.Value / fmt.Stringer contract used when
// registering Engine on a flag.FlagSet.
func (e Engine) String() string {
	switch e {
	case EngineMemoryOnly:
		return "memory_only"
	case EngineHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Set implements flag.Value.
func (e *Engine) Set(s string) error {
	switch s {
	case "memory_only":
		*e = EngineMemoryOnly
	case "hybrid":
		*e = EngineHybrid
	default:
		return errors.Errorf("invalid engine %q, must be one of: memory_only, hybrid", s)
	}
	return nil
}

// DiskSpace is one configured disk region (spec §3).
type DiskSpace struct {
	Path string `yaml:"path"`
	Size uint64 `yaml:"size_bytes"`
}

// CacheOptions is the immutable, construction-time configuration for a
// BlockCache instance (spec §3). Field shape and flag-registration style
// mirror BlocksStorageConfig/TSDBConfig in the teacher's
// pkg/storage/tsdb/config.go: grouped yaml-tagged fields, "advanced"/
// "experimental" doc categories on operational knobs, and a RegisterFlags/
// Validate pair rather than a constructor that panics on bad input.
type CacheOptions struct {
	MemSpaceSize         uint64      `yaml:"mem_space_size_bytes"`
	DiskSpaces           []DiskSpace `yaml:"disk_spaces"`
	BlockSize            uint64      `yaml:"block_size_bytes"`
	MetaPath             string      `yaml:"meta_path"`
	EnableChecksum       bool        `yaml:"enable_checksum" category:"advanced"`
	MaxFlyingMemoryMB    uint64      `yaml:"max_flying_memory_mb" category:"advanced"`
	MaxConcurrentInserts uint32      `yaml:"max_concurrent_inserts" category:"advanced"`
	Engine               Engine      `yaml:"engine"`

	// RegionSize overrides DefaultRegionSize for the hybrid engine's disk
	// tier. Zero means DefaultRegionSize. category:"experimental" since
	// most deployments should never need to touch it.
	RegionSize uint64 `yaml:"region_size_bytes" category:"experimental"`

	// NonBlockingAdmission, when true, makes HybridBackend.WriteBuffer
	// return ResourceExhausted immediately instead of blocking the
	// caller's goroutine when max_flying_memory_mb is saturated
	// (spec §5, "a configurable non-blocking admission mode").
	NonBlockingAdmission bool `yaml:"non_blocking_admission" category:"advanced"`
}

// Validation errors, following the sentinel-var style of
// pkg/storage/tsdb/config.go's errInvalid... variables.
var (
	errZeroBlockSize       = errors.New("block_size must be greater than zero")
	errBlockSizeTooLarge   = errors.New("block_size exceeds MaxBlockSize")
	errBlockSizeNotPow2    = errors.New("block_size must be a power of two")
	errEmptyMetaPath       = errors.New("meta_path must be set")
	errInvalidDiskSpace    = errors.New("disk_spaces entries must have a non-empty path and non-zero size")
	errZeroMaxConcurrent   = errors.New("max_concurrent_inserts must be greater than zero when the hybrid engine is selected")
)

// RegisterFlags registers CacheOptions' flags on f with the given prefix,
// matching the teacher's *Config.RegisterFlags(f *flag.FlagSet) convention.
// Process-wide flag *parsing* (binding f to os.Args, env layering, etc.) is
// out of scope here -- spec.md's non-goals exclude "process-wide
// configuration loading".
func (o *CacheOptions) RegisterFlags(prefix string, f *flag.FlagSet) {
	f.Uint64Var(&o.MemSpaceSize, prefix+"mem-space-size-bytes", uint64(256*units.Mebibyte), "Size of the in-memory cache tier, in bytes.")
	f.Uint64Var(&o.BlockSize, prefix+"block-size-bytes", 1024*1024, "Alignment unit for cache addresses. Must be a power of two no greater than the compiled-in maximum.")
	f.StringVar(&o.MetaPath, prefix+"meta-path", "./data-cache-meta", "Directory where shutdown statistics are persisted.")
	f.BoolVar(&o.EnableChecksum, prefix+"enable-checksum", true, "Enable per-entry checksums in the disk tier.")
	f.Uint64Var(&o.MaxFlyingMemoryMB, prefix+"max-flying-memory-mb", 0, "Cap, in MiB, on bytes accepted for disk write but not yet persisted. 0 means unbounded.")
	f.Uint32Var(&o.MaxConcurrentInserts, prefix+"max-concurrent-inserts", 32, "Maximum number of disk-tier insertions in flight at once.")
	f.Var(&o.Engine, prefix+"engine", "Cache engine: memory_only or hybrid.")
	f.Uint64Var(&o.RegionSize, prefix+"region-size-bytes", uint64(DefaultRegionSize), "Disk-tier region size, in bytes.")
	f.BoolVar(&o.NonBlockingAdmission, prefix+"non-blocking-admission", false, "Return ResourceExhausted instead of blocking the caller when in-flight memory is saturated.")
}

// Validate checks the invariants spec.md §3/§4.5 place on CacheOptions.
func (o *CacheOptions) Validate() error {
	if o.BlockSize == 0 {
		return errZeroBlockSize
	}
	if o.BlockSize > MaxBlockSize {
		return errBlockSizeTooLarge
	}
	if o.BlockSize&(o.BlockSize-1) != 0 {
		return errBlockSizeNotPow2
	}
	if o.MetaPath == "" {
		return errEmptyMetaPath
	}
	for _, d := range o.DiskSpaces {
		if d.Path == "" || d.Size == 0 {
			return errInvalidDiskSpace
		}
	}
	if o.Engine == EngineHybrid && len(o.DiskSpaces) > 0 && o.MaxConcurrentInserts == 0 {
		return errZeroMaxConcurrent
	}
	if o.RegionSize == 0 {
		o.RegionSize = DefaultRegionSize
	}
	return nil
}

// EffectiveMaxFlyingBytes returns the in-flight memory cap in bytes, 0
// meaning unbounded, for the hybrid engine's writer pool to size its
// admission semaphore against.
func (o CacheOptions) EffectiveMaxFlyingBytes() uint64 {
	return o.MaxFlyingMemoryMB * uint64(units.Mebibyte)
}
