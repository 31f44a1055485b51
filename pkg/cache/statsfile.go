// SPDX-License-Identifier: AGPL-3.0-only

package cache

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// StatsFileName is the file written under CacheOptions.MetaPath on shutdown
// (spec §6, "<meta_path>/stats.txt").
const StatsFileName = "stats.txt"

// WriteStatsFile persists fields as stable, line-oriented "name : value"
// pairs under dir/stats.txt (spec §4.4 "Shutdown", §6 "Persistent state on
// disk"). Values are written as decimal floating point so a reader that
// only knows a subset of names can still parse every line uniformly.
func WriteStatsFile(dir string, fields map[string]float64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ErrInternal(err, "create meta_path directory")
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	path := filepath.Join(dir, StatsFileName)
	f, err := os.Create(path)
	if err != nil {
		return ErrInternal(err, "create stats file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "%s : %s\n", name, strconv.FormatFloat(fields[name], 'f', -1, 64)); err != nil {
			return ErrInternal(err, "write stats file")
		}
	}
	if err := w.Flush(); err != nil {
		return ErrInternal(err, "flush stats file")
	}
	return nil
}

// ReadStatsFile loads a previously written stats.txt for reporting only; it
// is never used to recover cached data (spec §4.4 "Startup").
func ReadStatsFile(dir string) (map[string]float64, error) {
	path := filepath.Join(dir, StatsFileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ErrInternal(err, "open stats file")
	}
	defer f.Close()

	out := make(map[string]float64)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			continue
		}
		out[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, ErrInternal(err, "read stats file")
	}
	return out, nil
}

// MetricsToStatsFields flattens a DataCacheMetrics snapshot into the
// name/value pairs WriteStatsFile expects.
func MetricsToStatsFields(m DataCacheMetrics) map[string]float64 {
	return map[string]float64{
		"mem_bytes_used":             float64(m.MemBytesUsed),
		"disk_bytes_used":            float64(m.DiskBytesUsed),
		"mem_quota":                  float64(m.MemQuota),
		"disk_quota":                 float64(m.DiskQuota),
		"hit_count":                  float64(m.HitCount),
		"miss_count":                 float64(m.MissCount),
		"remote_read_bytes":          float64(m.RemoteReadBytes),
		"remote_read_latency_us_sum": float64(m.RemoteReadLatencyUsSum),
		"cache_read_bytes":           float64(m.CacheReadBytes),
		"cache_read_latency_us_sum":  float64(m.CacheReadLatencyUsSum),
	}
}
