package cog

import (
	"fmt"
	"runtime"
)

// DefaultCacheMemoryFraction is the share of physical RAM the block cache
// may claim when no explicit size is configured.
const DefaultCacheMemoryFraction = 0.25

const (
	minCacheBlocks = 64
	maxCacheBlocks = 1 << 16
)

// CacheBlocksForMemory returns how many decoded blocks of blockBytes each
// fit into fraction of total system RAM, after reserving the current Go
// runtime footprint. The result is clamped to a sane range.
func CacheBlocksForMemory(fraction float64, blockBytes int) (int, error) {
	if fraction <= 0 || fraction > 1 {
		return 0, fmt.Errorf("invalid memory fraction %g", fraction)
	}
	if blockBytes <= 0 {
		return 0, fmt.Errorf("invalid block size %d", blockBytes)
	}
	total, err := totalSystemRAM()
	if err != nil {
		return 0, fmt.Errorf("detecting system RAM: %w", err)
	}
	return cacheBlocks(total, fraction, blockBytes), nil
}

func cacheBlocks(totalRAM uint64, fraction float64, blockBytes int) int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	budget := int64(float64(totalRAM)*fraction) - int64(m.Sys)
	n := budget / int64(blockBytes)
	switch {
	case n < minCacheBlocks:
		return minCacheBlocks
	case n > maxCacheBlocks:
		return maxCacheBlocks
	}
	return int(n)
}
