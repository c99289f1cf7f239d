package pmtiles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/paulmach/orb/maptile"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

// Reader provides read access to an existing PMTiles v3 archive.
type Reader struct {
	file    *os.File
	header  pmtiles.HeaderV3
	ids     []uint64           // sorted tile IDs (runs expanded)
	tileIdx map[uint64]tileRef // tileID -> location in file
}

// tileRef records the absolute file offset and length of a tile's data.
type tileRef struct {
	offset uint64
	length uint32
}

// OpenReader opens a PMTiles v3 archive for reading.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	r, err := newReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File) (*Reader, error) {
	headerBuf := make([]byte, pmtiles.HeaderV3LenBytes)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header, err := pmtiles.DeserializeHeader(headerBuf)
	if err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	rootData := make([]byte, header.RootLength)
	if _, err := f.ReadAt(rootData, int64(header.RootOffset)); err != nil {
		return nil, fmt.Errorf("reading root directory: %w", err)
	}
	rootEntries, err := DeserializeDirectory(rootData)
	if err != nil {
		return nil, fmt.Errorf("parsing root directory: %w", err)
	}

	var all []pmtiles.EntryV3
	for _, e := range rootEntries {
		if e.RunLength > 0 {
			all = append(all, e)
			continue
		}
		leafData := make([]byte, e.Length)
		abs := int64(header.LeafDirectoryOffset + e.Offset)
		if _, err := f.ReadAt(leafData, abs); err != nil {
			return nil, fmt.Errorf("reading leaf directory at offset %d: %w", abs, err)
		}
		leafEntries, err := DeserializeDirectory(leafData)
		if err != nil {
			return nil, fmt.Errorf("parsing leaf directory: %w", err)
		}
		all = append(all, leafEntries...)
	}

	// Every tile of a run shares the same bytes.
	tileIdx := make(map[uint64]tileRef, len(all))
	ids := make([]uint64, 0, len(all))
	for _, e := range all {
		ref := tileRef{offset: header.TileDataOffset + e.Offset, length: e.Length}
		for i := uint32(0); i < e.RunLength; i++ {
			tileIdx[e.TileID+uint64(i)] = ref
			ids = append(ids, e.TileID+uint64(i))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return &Reader{file: f, header: header, ids: ids, tileIdx: tileIdx}, nil
}

// Header returns the parsed PMTiles header.
func (r *Reader) Header() pmtiles.HeaderV3 {
	return r.header
}

// ReadTile returns the raw encoded bytes for a tile at z/x/y.
// Returns nil, nil if the tile does not exist.
func (r *Reader) ReadTile(z, x, y int) ([]byte, error) {
	ref, ok := r.tileIdx[pmtiles.ZxyToID(uint8(z), uint32(x), uint32(y))]
	if !ok {
		return nil, nil
	}
	data := make([]byte, ref.length)
	if _, err := r.file.ReadAt(data, int64(ref.offset)); err != nil {
		return nil, fmt.Errorf("reading tile %d/%d/%d: %w", z, x, y, err)
	}
	return data, nil
}

// TilesAtZoom returns the tiles present at zoom z in tile-ID order.
func (r *Reader) TilesAtZoom(z int) []maptile.Tile {
	minID := pmtiles.ZxyToID(uint8(z), 0, 0)
	start := sort.Search(len(r.ids), func(i int) bool { return r.ids[i] >= minID })

	var tiles []maptile.Tile
	for _, id := range r.ids[start:] {
		tz, x, y := pmtiles.IDToZxy(id)
		if int(tz) != z {
			break
		}
		tiles = append(tiles, maptile.New(x, y, maptile.Zoom(tz)))
	}
	return tiles
}

// NumTiles returns the total number of addressed tiles in the archive.
func (r *Reader) NumTiles() int {
	return len(r.ids)
}

// ReadMetadata reads and decompresses the JSON metadata from the archive.
// Returns nil if the archive has no metadata.
func (r *Reader) ReadMetadata() (map[string]interface{}, error) {
	if r.header.MetadataLength == 0 {
		return nil, nil
	}

	raw := make([]byte, r.header.MetadataLength)
	if _, err := r.file.ReadAt(raw, int64(r.header.MetadataOffset)); err != nil {
		return nil, fmt.Errorf("reading metadata: %w", err)
	}

	var jsonData []byte
	switch r.header.InternalCompression {
	case pmtiles.Gzip:
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decompressing metadata: %w", err)
		}
		defer gz.Close()
		if jsonData, err = io.ReadAll(gz); err != nil {
			return nil, fmt.Errorf("reading decompressed metadata: %w", err)
		}
	case pmtiles.NoCompression:
		jsonData = raw
	default:
		return nil, fmt.Errorf("unsupported metadata compression %d", r.header.InternalCompression)
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(jsonData, &meta); err != nil {
		return nil, fmt.Errorf("parsing metadata JSON: %w", err)
	}
	return meta, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
