// Package cogtest writes small float32 GeoTIFFs for tests.
package cogtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/klauspost/compress/zlib"
)

// Compression schemes understood by Encode.
const (
	None    = 1
	Deflate = 8
)

// Raster is a single-band float32 grid, row-major.
type Raster struct {
	Width  int
	Height int
	Data   []float32
}

// Options controls the file layout and georeferencing.
type Options struct {
	// BlockWidth and BlockHeight set the tile size. A zero BlockWidth
	// writes strips of BlockHeight rows (all rows when zero).
	BlockWidth  int
	BlockHeight int

	Compression    uint16
	FloatPredictor bool

	// Upper-left corner and square pixel size of the full-resolution level.
	OriginX   float64
	OriginY   float64
	PixelSize float64
	EPSG      int
	NoData    string
	// SkipGeoTags leaves out the GeoTIFF tags, as for world-file rasters.
	SkipGeoTags bool

	// Overviews are written as additional reduced-resolution IFDs.
	Overviews []Raster
}

// Write encodes r and writes it to path.
func Write(path string, r Raster, opts Options) error {
	data, err := Encode(r, opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

var le = binary.LittleEndian

func shorts(vs ...uint16) entry {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		le.PutUint16(b[i*2:], v)
	}
	return entry{typ: 3, count: uint32(len(vs)), data: b}
}

func longs(vs ...uint32) entry {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		le.PutUint32(b[i*4:], v)
	}
	return entry{typ: 4, count: uint32(len(vs)), data: b}
}

func doubles(vs ...float64) entry {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		le.PutUint64(b[i*8:], math.Float64bits(v))
	}
	return entry{typ: 12, count: uint32(len(vs)), data: b}
}

func ascii(s string) entry {
	b := append([]byte(s), 0)
	return entry{typ: 2, count: uint32(len(b)), data: b}
}

func tagged(tag uint16, e entry) entry {
	e.tag = tag
	return e
}

// Encode builds a little-endian classic TIFF.
func Encode(r Raster, opts Options) ([]byte, error) {
	if r.Width*r.Height != len(r.Data) {
		return nil, fmt.Errorf("raster has %d values, want %dx%d", len(r.Data), r.Width, r.Height)
	}
	if opts.Compression == 0 {
		opts.Compression = None
	}
	if opts.PixelSize == 0 {
		opts.PixelSize = 1
	}

	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
	prevNext := 4

	levels := append([]Raster{r}, opts.Overviews...)
	for i, lvl := range levels {
		offsets, counts, err := writeBlocks(&buf, lvl, opts)
		if err != nil {
			return nil, err
		}

		entries := levelEntries(lvl, opts, offsets, counts, i > 0)
		if i == 0 && !opts.SkipGeoTags {
			entries = append(entries, geoEntries(opts)...)
		}

		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
		ifdStart := buf.Len()
		patch := buf.Bytes()
		le.PutUint32(patch[prevNext:], uint32(ifdStart))
		prevNext = writeIFD(&buf, entries)
	}
	return buf.Bytes(), nil
}

func levelEntries(lvl Raster, opts Options, offsets, counts []uint32, overview bool) []entry {
	predictor := uint16(1)
	if opts.FloatPredictor {
		predictor = 3
	}
	subfile := uint32(0)
	if overview {
		subfile = 1
	}
	es := []entry{
		tagged(254, longs(subfile)),
		tagged(256, longs(uint32(lvl.Width))),
		tagged(257, longs(uint32(lvl.Height))),
		tagged(258, shorts(32)),
		tagged(259, shorts(opts.Compression)),
		tagged(262, shorts(1)),
		tagged(277, shorts(1)),
		tagged(284, shorts(1)),
		tagged(317, shorts(predictor)),
		tagged(339, shorts(3)),
	}
	if opts.BlockWidth > 0 {
		es = append(es,
			tagged(322, longs(uint32(opts.BlockWidth))),
			tagged(323, longs(uint32(opts.BlockHeight))),
			tagged(324, longs(offsets...)),
			tagged(325, longs(counts...)),
		)
	} else {
		es = append(es,
			tagged(273, longs(offsets...)),
			tagged(278, longs(uint32(stripRows(lvl, opts)))),
			tagged(279, longs(counts...)),
		)
	}
	return es
}

func geoEntries(opts Options) []entry {
	es := []entry{
		tagged(33550, doubles(opts.PixelSize, opts.PixelSize, 0)),
		tagged(33922, doubles(0, 0, 0, opts.OriginX, opts.OriginY, 0)),
	}
	if opts.EPSG != 0 {
		modelType, key := uint16(1), uint16(3072)
		if opts.EPSG == 4326 {
			modelType, key = 2, 2048
		}
		es = append(es, tagged(34735, shorts(
			1, 1, 0, 3,
			1024, 0, 1, modelType,
			1025, 0, 1, 1,
			key, 0, 1, uint16(opts.EPSG),
		)))
	}
	if opts.NoData != "" {
		es = append(es, tagged(42113, ascii(opts.NoData)))
	}
	return es
}

func stripRows(lvl Raster, opts Options) int {
	if opts.BlockHeight <= 0 || opts.BlockHeight > lvl.Height {
		return lvl.Height
	}
	return opts.BlockHeight
}

// writeIFD appends an IFD and its out-of-line values, returning the
// position of its next-IFD pointer.
func writeIFD(buf *bytes.Buffer, entries []entry) int {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	start := buf.Len()
	extOff := start + 2 + 12*len(entries) + 4
	var ext bytes.Buffer

	var b [12]byte
	le.PutUint16(b[:2], uint16(len(entries)))
	buf.Write(b[:2])
	for _, e := range entries {
		le.PutUint16(b[0:], e.tag)
		le.PutUint16(b[2:], e.typ)
		le.PutUint32(b[4:], e.count)
		for i := 8; i < 12; i++ {
			b[i] = 0
		}
		if len(e.data) <= 4 {
			copy(b[8:], e.data)
		} else {
			le.PutUint32(b[8:], uint32(extOff+ext.Len()))
			ext.Write(e.data)
			if ext.Len()%2 == 1 {
				ext.WriteByte(0)
			}
		}
		buf.Write(b[:])
	}
	next := buf.Len()
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(ext.Bytes())
	return next
}

func writeBlocks(buf *bytes.Buffer, lvl Raster, opts Options) (offsets, counts []uint32, err error) {
	bw, bh := opts.BlockWidth, opts.BlockHeight
	tiled := bw > 0
	if !tiled {
		bw, bh = lvl.Width, stripRows(lvl, opts)
	}
	across := (lvl.Width + bw - 1) / bw
	down := (lvl.Height + bh - 1) / bh

	for row := 0; row < down; row++ {
		for col := 0; col < across; col++ {
			rows := bh
			if !tiled && (row+1)*bh > lvl.Height {
				rows = lvl.Height - row*bh
			}
			vals := make([]float32, bw*rows)
			for y := 0; y < rows; y++ {
				for x := 0; x < bw; x++ {
					sx, sy := col*bw+x, row*bh+y
					if sx < lvl.Width && sy < lvl.Height {
						vals[y*bw+x] = lvl.Data[sy*lvl.Width+sx]
					}
				}
			}

			raw := encodeValues(vals, bw, rows, opts.FloatPredictor)
			if opts.Compression == Deflate {
				var z bytes.Buffer
				zw := zlib.NewWriter(&z)
				if _, err := zw.Write(raw); err != nil {
					return nil, nil, err
				}
				if err := zw.Close(); err != nil {
					return nil, nil, err
				}
				raw = z.Bytes()
			}

			offsets = append(offsets, uint32(buf.Len()))
			counts = append(counts, uint32(len(raw)))
			buf.Write(raw)
		}
	}
	return offsets, counts, nil
}

func encodeValues(vals []float32, width, rows int, floatPredictor bool) []byte {
	out := make([]byte, 4*len(vals))
	if !floatPredictor {
		for i, v := range vals {
			le.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out
	}

	rowBytes := 4 * width
	for r := 0; r < rows; r++ {
		row := out[r*rowBytes : (r+1)*rowBytes]
		for s := 0; s < width; s++ {
			bits := math.Float32bits(vals[r*width+s])
			for b := 0; b < 4; b++ {
				row[b*width+s] = byte(bits >> (24 - 8*b))
			}
		}
		for i := len(row) - 1; i > 0; i-- {
			row[i] -= row[i-1]
		}
	}
	return out
}
