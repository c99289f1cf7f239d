// Package cog reads elevation values from GeoTIFF and Cloud Optimized
// GeoTIFF files: tiled or stripped, uncompressed, LZW or deflate, with
// overview levels.
package cog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"math"
	"os"
)

// Reader provides block-level access to a GeoTIFF file.
// The file is memory-mapped for lock-free concurrent access.
type Reader struct {
	data  []byte // memory-mapped file contents
	bo    binary.ByteOrder
	ifds  []IFD // full resolution first, then overviews by decreasing size
	geo   GeoInfo
	path  string
	cache *BlockCache
}

// Open opens a GeoTIFF by memory-mapping it and parsing its structure.
// Decoded blocks are kept in cache, which may be shared between readers.
// A nil cache gets a private one.
func Open(path string, cache *BlockCache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	// The fd can be closed after mapping.
	data, err := mmapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	r, err := newReader(path, data)
	if err != nil {
		munmapFile(data)
		return nil, err
	}

	if cache == nil {
		if cache, err = NewBlockCache(0); err != nil {
			munmapFile(data)
			return nil, err
		}
	}
	r.cache = cache
	return r, nil
}

func newReader(path string, data []byte) (*Reader, error) {
	all, bo, err := parseTIFF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%s: no IFDs found", path)
	}

	first := all[0]
	if err := first.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Overviews are the reduced-resolution, non-mask IFDs that follow.
	ifds := []IFD{first}
	for _, ifd := range all[1:] {
		prev := ifds[len(ifds)-1]
		if ifd.IsMask() || ifd.Width >= prev.Width || ifd.validate() != nil {
			continue
		}
		ifds = append(ifds, ifd)
	}

	geo := parseGeoInfo(&ifds[0])
	if !geo.Georeferenced() {
		tfwPath := findTFW(path)
		if tfwPath == "" {
			return nil, fmt.Errorf("%s: no georeferencing (GeoTIFF tags or world file)", path)
		}
		tfw, err := parseTFW(tfwPath)
		if err != nil {
			return nil, err
		}
		tfw.apply(&geo)
		if geo.EPSG == 0 {
			geo.EPSG = inferEPSG(geo, first.Width, first.Height)
		}
	}

	return &Reader{data: data, bo: bo, ifds: ifds, geo: geo, path: path}, nil
}

// Close unmaps the file and drops its cached blocks.
func (r *Reader) Close() error {
	if r.data == nil {
		return nil
	}
	err := munmapFile(r.data)
	r.data = nil
	r.cache.purge(r.path)
	return err
}

// Path returns the file path.
func (r *Reader) Path() string {
	return r.path
}

// GeoInfo returns the parsed geographic metadata.
func (r *Reader) GeoInfo() GeoInfo {
	return r.geo
}

// Width returns the full-resolution image width.
func (r *Reader) Width() int {
	return int(r.ifds[0].Width)
}

// Height returns the full-resolution image height.
func (r *Reader) Height() int {
	return int(r.ifds[0].Height)
}

// EPSG returns the detected EPSG code.
func (r *Reader) EPSG() int {
	return r.geo.EPSG
}

// NumOverviews returns the number of overview levels.
func (r *Reader) NumOverviews() int {
	return len(r.ifds) - 1
}

// BoundsInCRS returns the bounding box in the source CRS.
func (r *Reader) BoundsInCRS() (minX, minY, maxX, maxY float64) {
	ifd := &r.ifds[0]
	minX = r.geo.OriginX
	maxY = r.geo.OriginY
	maxX = minX + float64(ifd.Width)*r.geo.PixelSizeX
	minY = maxY - float64(ifd.Height)*r.geo.PixelSizeY
	return
}

// LevelSize returns the pixel dimensions of an IFD level.
func (r *Reader) LevelSize(level int) (width, height int) {
	return int(r.ifds[level].Width), int(r.ifds[level].Height)
}

// LevelPixelSize returns the pixel size of a level in CRS units.
func (r *Reader) LevelPixelSize(level int) float64 {
	return r.geo.PixelSizeX * float64(r.ifds[0].Width) / float64(r.ifds[level].Width)
}

// ReadBlock returns the decoded block at (col, row) of a level. Safe for
// concurrent use.
func (r *Reader) ReadBlock(level, col, row int) (*Block, error) {
	if level < 0 || level >= len(r.ifds) {
		return nil, fmt.Errorf("invalid IFD level %d (have %d)", level, len(r.ifds))
	}
	ifd := &r.ifds[level]
	if col < 0 || col >= ifd.BlocksAcross() || row < 0 || row >= ifd.BlocksDown() {
		return nil, fmt.Errorf("block (%d,%d) out of range (%dx%d)", col, row, ifd.BlocksAcross(), ifd.BlocksDown())
	}

	key := blockKey{path: r.path, level: level, col: col, row: row}
	return r.cache.get(key, func() (*Block, error) {
		return r.decodeBlockAt(ifd, col, row)
	})
}

func (r *Reader) decodeBlockAt(ifd *IFD, col, row int) (*Block, error) {
	if r.data == nil {
		return nil, fmt.Errorf("%s: reader closed", r.path)
	}

	w := int(ifd.BlockWidth)
	rows := int(ifd.BlockHeight)
	if ifd.Stripped {
		if rem := int(ifd.Height) - row*rows; rem < rows {
			rows = rem
		}
	}

	idx := row*ifd.BlocksAcross() + col
	offset, size := ifd.BlockOffsets[idx], ifd.BlockByteCounts[idx]

	if size == 0 {
		// Sparse block: no data was ever written.
		data := make([]float32, w*rows)
		for i := range data {
			data[i] = float32(math.NaN())
		}
		return &Block{Data: data, Width: w, Height: rows}, nil
	}

	end := offset + size
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("block data [%d:%d] exceeds file size %d", offset, end, len(r.data))
	}
	src := r.data[offset:end]

	spp := int(ifd.SamplesPerPixel)
	if ifd.PlanarConfig == 2 {
		spp = 1
	}
	want := w * rows * spp * ifd.bytesPerSample()

	raw, err := decompress(ifd.Compression, src, want)
	if err != nil {
		return nil, fmt.Errorf("block (%d,%d): %w", col, row, err)
	}
	if ifd.Compression == compressionNone && ifd.Predictor != predictorNone {
		// Predictors are undone in place; never write into the mapping.
		raw = append([]byte(nil), raw...)
	}

	data, err := decodeBlock(ifd, r.bo, raw, rows)
	if err != nil {
		return nil, fmt.Errorf("block (%d,%d): %w", col, row, err)
	}
	return &Block{Data: data, Width: w, Height: rows}, nil
}

// ReadRegion reads a rectangle of a level (pixel coordinates of that level)
// into a row-major slice. The rectangle must lie inside the level.
func (r *Reader) ReadRegion(level int, rect image.Rectangle) ([]float32, error) {
	if level < 0 || level >= len(r.ifds) {
		return nil, fmt.Errorf("invalid level %d", level)
	}
	ifd := &r.ifds[level]
	full := image.Rect(0, 0, int(ifd.Width), int(ifd.Height))
	if rect.Empty() || !rect.In(full) {
		return nil, fmt.Errorf("region %v outside level %d bounds %v", rect, level, full)
	}

	bw, bh := int(ifd.BlockWidth), int(ifd.BlockHeight)
	width := rect.Dx()
	dst := make([]float32, width*rect.Dy())

	for row := rect.Min.Y / bh; row <= (rect.Max.Y-1)/bh; row++ {
		for col := rect.Min.X / bw; col <= (rect.Max.X-1)/bw; col++ {
			blk, err := r.ReadBlock(level, col, row)
			if err != nil {
				return nil, err
			}

			blockRect := image.Rect(col*bw, row*bh, col*bw+blk.Width, row*bh+blk.Height)
			overlap := rect.Intersect(blockRect)
			for y := overlap.Min.Y; y < overlap.Max.Y; y++ {
				srcOff := (y-blockRect.Min.Y)*blk.Width + (overlap.Min.X - blockRect.Min.X)
				dstOff := (y-rect.Min.Y)*width + (overlap.Min.X - rect.Min.X)
				copy(dst[dstOff:dstOff+overlap.Dx()], blk.Data[srcOff:srcOff+overlap.Dx()])
			}
		}
	}
	return dst, nil
}
