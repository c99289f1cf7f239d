package pmtiles

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

// ErrDuplicateTile is returned by Put when a tile key was already written.
var ErrDuplicateTile = errors.New("duplicate tile")

// WriterOptions holds configuration for the PMTiles writer.
type WriterOptions struct {
	// TempDir holds the tile spill file. Defaults to the output directory.
	TempDir string
	// TileType is recorded in the header.
	TileType pmtiles.TileType
}

// dedupEntry records the location of a previously written tile in the temp file.
type dedupEntry struct {
	offset uint64
	length uint32
}

// Writer writes tiles to a PMTiles v3 archive using a two-pass approach.
// Pass 1: tiles are appended to a temporary file, entries are collected in memory.
// Pass 2: directories are built and the final PMTiles file is assembled.
//
// Identical tile data is deduplicated: when multiple tiles produce the same
// encoded bytes (e.g. flat sea-level tiles), the data is written once and all
// entries share the same offset.
type Writer struct {
	outputPath string
	opts       WriterOptions

	tmpFile   *os.File
	tmpDir    string
	tmpOffset uint64
	entries   []pmtiles.EntryV3
	seen      map[uint64]struct{}   // tile IDs already written
	dedup     map[uint64]dedupEntry // xxhash → first occurrence
	mu        sync.Mutex
	finalized bool

	dedupHits int64
}

// NewWriter creates a new PMTiles writer.
func NewWriter(outputPath string, opts WriterOptions) (*Writer, error) {
	tmpDir := opts.TempDir
	if tmpDir == "" {
		tmpDir = filepath.Dir(outputPath)
	}
	if opts.TileType == pmtiles.UnknownTileType {
		opts.TileType = pmtiles.Webp
	}

	tmpFile, err := os.CreateTemp(tmpDir, "pmtiles-tiles-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}

	return &Writer{
		outputPath: outputPath,
		opts:       opts,
		tmpFile:    tmpFile,
		tmpDir:     tmpDir,
		entries:    make([]pmtiles.EntryV3, 0, 65536),
		seen:       make(map[uint64]struct{}),
		dedup:      make(map[uint64]dedupEntry),
	}, nil
}

// Put writes a single tile. Safe for concurrent use. Writing the same z/x/y
// twice returns ErrDuplicateTile.
func (w *Writer) Put(z, x, y int, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("tile %d/%d/%d: empty tile data", z, x, y)
	}
	if z < 0 || z > 31 || x < 0 || y < 0 || x >= 1<<z || y >= 1<<z {
		return fmt.Errorf("tile %d/%d/%d: coordinate out of range", z, x, y)
	}

	tileID := pmtiles.ZxyToID(uint8(z), uint32(x), uint32(y))
	hash := xxhash.Sum64(data)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return fmt.Errorf("tile %d/%d/%d: archive already finalized", z, x, y)
	}
	if _, ok := w.seen[tileID]; ok {
		return fmt.Errorf("tile %d/%d/%d: %w", z, x, y, ErrDuplicateTile)
	}
	w.seen[tileID] = struct{}{}

	if de, ok := w.dedup[hash]; ok && de.length == uint32(len(data)) {
		w.entries = append(w.entries, pmtiles.EntryV3{
			TileID:    tileID,
			Offset:    de.offset,
			Length:    de.length,
			RunLength: 1,
		})
		w.dedupHits++
		return nil
	}

	offset := w.tmpOffset
	n, err := w.tmpFile.Write(data)
	if err != nil {
		return fmt.Errorf("writing tile data: %w", err)
	}
	w.tmpOffset += uint64(n)

	w.dedup[hash] = dedupEntry{offset: offset, length: uint32(n)}
	w.entries = append(w.entries, pmtiles.EntryV3{
		TileID:    tileID,
		Offset:    offset,
		Length:    uint32(n),
		RunLength: 1,
	})
	return nil
}

// Count returns the number of tiles written so far.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// DedupHits returns how many tiles reused previously written bytes.
func (w *Writer) DedupHits() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dedupHits
}

// Finalize builds the directory, metadata, and writes the final PMTiles file.
func (w *Writer) Finalize(meta Metadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return fmt.Errorf("already finalized")
	}
	w.finalized = true

	sort.Slice(w.entries, func(i, j int) bool {
		return w.entries[i].TileID < w.entries[j].TileID
	})

	// Rewrite tile data in tile-ID order so the archive is clustered.
	if err := w.clusterTileData(); err != nil {
		return fmt.Errorf("clustering tile data: %w", err)
	}

	rootDir, leafDirs := buildDirectory(w.entries)

	if meta.TileType == pmtiles.UnknownTileType {
		meta.TileType = w.opts.TileType
	}
	metadataBytes, err := pmtiles.SerializeMetadata(meta.toMap(), pmtiles.Gzip)
	if err != nil {
		return fmt.Errorf("serializing metadata: %w", err)
	}

	// Layout: [Header (127)] [Root Dir] [Metadata] [Leaf Dirs] [Tile Data]
	header := newHeader(meta)
	header.RootOffset = pmtiles.HeaderV3LenBytes
	header.RootLength = uint64(len(rootDir))
	header.MetadataOffset = header.RootOffset + header.RootLength
	header.MetadataLength = uint64(len(metadataBytes))
	header.LeafDirectoryOffset = header.MetadataOffset + header.MetadataLength
	header.LeafDirectoryLength = uint64(len(leafDirs))
	header.TileDataOffset = header.LeafDirectoryOffset + header.LeafDirectoryLength
	header.TileDataLength = w.tmpOffset
	header.AddressedTilesCount = uint64(len(w.entries))
	header.TileEntriesCount = uint64(len(optimizeRunLengths(w.entries)))
	header.TileContentsCount = uint64(len(w.entries) - int(w.dedupHits))

	outFile, err := os.Create(w.outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	for _, part := range []struct {
		name string
		data []byte
	}{
		{"header", pmtiles.SerializeHeader(header)},
		{"root directory", rootDir},
		{"metadata", metadataBytes},
		{"leaf directories", leafDirs},
	} {
		if len(part.data) == 0 {
			continue
		}
		if _, err := outFile.Write(part.data); err != nil {
			return fmt.Errorf("writing %s: %w", part.name, err)
		}
	}

	if _, err := w.tmpFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking temp file: %w", err)
	}
	if _, err := io.Copy(outFile, w.tmpFile); err != nil {
		return fmt.Errorf("copying tile data: %w", err)
	}

	w.removeTemp()
	return outFile.Close()
}

// clusterTileData rewrites the temp file so tile data is in the same order
// as the sorted entries (Hilbert tile-ID order). Deduplicated tiles are
// written once and every entry sharing them is remapped.
func (w *Writer) clusterTileData() error {
	newTmp, err := os.CreateTemp(w.tmpDir, "pmtiles-clustered-*.tmp")
	if err != nil {
		return fmt.Errorf("creating clustered temp file: %w", err)
	}

	buf := make([]byte, 256*1024)
	var newOffset uint64
	moved := make(map[uint64]uint64) // old offset → new offset

	for i := range w.entries {
		e := &w.entries[i]
		if off, ok := moved[e.Offset]; ok {
			e.Offset = off
			continue
		}

		n := int(e.Length)
		if n > len(buf) {
			buf = make([]byte, n)
		}
		if _, err := w.tmpFile.ReadAt(buf[:n], int64(e.Offset)); err != nil {
			newTmp.Close()
			os.Remove(newTmp.Name())
			return fmt.Errorf("reading tile at offset %d: %w", e.Offset, err)
		}
		if _, err := newTmp.Write(buf[:n]); err != nil {
			newTmp.Close()
			os.Remove(newTmp.Name())
			return fmt.Errorf("writing tile at new offset %d: %w", newOffset, err)
		}

		moved[e.Offset] = newOffset
		e.Offset = newOffset
		newOffset += uint64(n)
	}

	w.removeTemp()
	w.tmpFile = newTmp
	w.tmpOffset = newOffset
	return nil
}

// Abort cleans up resources without writing the output file.
func (w *Writer) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	w.removeTemp()
}

func (w *Writer) removeTemp() {
	if w.tmpFile == nil {
		return
	}
	name := w.tmpFile.Name()
	w.tmpFile.Close()
	os.Remove(name)
	w.tmpFile = nil
}
