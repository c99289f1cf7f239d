package pmtiles

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

const (
	// maxRootEntries is the largest directory kept in the root before
	// splitting into leaves.
	maxRootEntries = 16384
	leafSize       = 4096
)

// buildDirectory takes tile entries and produces the gzip-compressed root
// directory and, for large archives, the concatenated leaf directories.
func buildDirectory(entries []pmtiles.EntryV3) (rootDir []byte, leafDirs []byte) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TileID < entries[j].TileID
	})

	optimized := optimizeRunLengths(entries)

	if len(optimized) <= maxRootEntries {
		return pmtiles.SerializeEntries(optimized, pmtiles.Gzip), nil
	}

	var leafBuf bytes.Buffer
	rootEntries := make([]pmtiles.EntryV3, 0, (len(optimized)+leafSize-1)/leafSize)

	for i := 0; i < len(optimized); i += leafSize {
		end := i + leafSize
		if end > len(optimized) {
			end = len(optimized)
		}
		chunk := optimized[i:end]
		leafData := pmtiles.SerializeEntries(chunk, pmtiles.Gzip)

		// RunLength 0 marks a leaf pointer; offsets are relative to the
		// leaf directory section.
		rootEntries = append(rootEntries, pmtiles.EntryV3{
			TileID:    chunk[0].TileID,
			Offset:    uint64(leafBuf.Len()),
			Length:    uint32(len(leafData)),
			RunLength: 0,
		})
		leafBuf.Write(leafData)
	}

	return pmtiles.SerializeEntries(rootEntries, pmtiles.Gzip), leafBuf.Bytes()
}

// optimizeRunLengths merges consecutive entries whose tile IDs are adjacent
// and which point at the same bytes (deduplicated runs of identical tiles).
func optimizeRunLengths(entries []pmtiles.EntryV3) []pmtiles.EntryV3 {
	if len(entries) == 0 {
		return entries
	}

	result := make([]pmtiles.EntryV3, 0, len(entries))
	current := entries[0]
	current.RunLength = 1

	for _, e := range entries[1:] {
		if e.TileID == current.TileID+uint64(current.RunLength) &&
			e.Offset == current.Offset &&
			e.Length == current.Length {
			current.RunLength++
			continue
		}
		result = append(result, current)
		current = e
		current.RunLength = 1
	}
	return append(result, current)
}

// DeserializeDirectory decompresses and parses a gzip-compressed PMTiles v3
// directory. Malformed input is reported as an error.
func DeserializeDirectory(data []byte) ([]pmtiles.EntryV3, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompressing directory: %w", err)
	}
	r := bytes.NewReader(raw)

	numEntries, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("reading entry count: %w", err)
	}
	if numEntries > uint64(len(raw)) {
		return nil, fmt.Errorf("entry count %d exceeds directory size", numEntries)
	}

	entries := make([]pmtiles.EntryV3, numEntries)

	var lastID uint64
	for i := range entries {
		delta, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading tile ID delta %d: %w", i, err)
		}
		lastID += delta
		entries[i].TileID = lastID
	}

	for i := range entries {
		rl, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading run length %d: %w", i, err)
		}
		entries[i].RunLength = uint32(rl)
	}

	for i := range entries {
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading length %d: %w", i, err)
		}
		entries[i].Length = uint32(length)
	}

	// An offset of 0 means "directly after the previous entry".
	for i := range entries {
		val, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("reading offset %d: %w", i, err)
		}
		if val == 0 && i > 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = val - 1
		}
	}

	return entries, nil
}
