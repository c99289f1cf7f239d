package cog

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// TIFF tag IDs.
const (
	tagNewSubfileType     = 254
	tagImageWidth         = 256
	tagImageLength        = 257
	tagBitsPerSample      = 258
	tagCompression        = 259
	tagPhotometric        = 262
	tagStripOffsets       = 273
	tagSamplesPerPixel    = 277
	tagRowsPerStrip       = 278
	tagStripByteCounts    = 279
	tagPlanarConfig       = 284
	tagPredictor          = 317
	tagTileWidth          = 322
	tagTileLength         = 323
	tagTileOffsets        = 324
	tagTileByteCounts     = 325
	tagSampleFormat       = 339
	tagModelPixelScaleTag = 33550
	tagModelTiepointTag   = 33922
	tagGeoKeyDirectoryTag = 34735
	tagGeoDoubleParamsTag = 34736
	tagGeoAsciiParamsTag  = 34737
	tagGDALNoData         = 42113
)

// TIFF data types.
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndef     = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
	dtLong8     = 16
	dtSLong8    = 17
	dtIFD8      = 18
)

// Sample formats.
const (
	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// IFD represents a parsed TIFF Image File Directory. Stripped images are
// normalised to full-width blocks so the rest of the reader only deals
// with tiles.
type IFD struct {
	Width           uint32
	Height          uint32
	BlockWidth      uint32
	BlockHeight     uint32
	BitsPerSample   uint16
	SamplesPerPixel uint16
	SampleFormat    uint16
	Compression     uint16
	Predictor       uint16
	PlanarConfig    uint16
	BlockOffsets    []uint64
	BlockByteCounts []uint64
	Stripped        bool
	SubfileType     uint32

	ModelTiepoint   []float64
	ModelPixelScale []float64
	GeoKeys         []uint16
	GeoDoubleParams []float64
	GeoAsciiParams  string
	NoData          string
}

// BlocksAcross returns the number of blocks in the horizontal direction.
func (ifd *IFD) BlocksAcross() int {
	return int((ifd.Width + ifd.BlockWidth - 1) / ifd.BlockWidth)
}

// BlocksDown returns the number of blocks in the vertical direction.
func (ifd *IFD) BlocksDown() int {
	return int((ifd.Height + ifd.BlockHeight - 1) / ifd.BlockHeight)
}

// IsMask reports whether the IFD holds a transparency mask rather than data.
func (ifd *IFD) IsMask() bool {
	return ifd.SubfileType&4 != 0
}

// bytesPerSample returns the size of one sample.
func (ifd *IFD) bytesPerSample() int {
	return int(ifd.BitsPerSample+7) / 8
}

// validate rejects layouts the float reader cannot decode.
func (ifd *IFD) validate() error {
	if ifd.Width == 0 || ifd.Height == 0 {
		return fmt.Errorf("empty image %dx%d", ifd.Width, ifd.Height)
	}
	if ifd.BlockWidth == 0 || ifd.BlockHeight == 0 {
		return fmt.Errorf("no tile or strip layout")
	}
	want := ifd.BlocksAcross() * ifd.BlocksDown()
	if ifd.PlanarConfig == 2 {
		want *= int(ifd.SamplesPerPixel)
	}
	if len(ifd.BlockOffsets) < want || len(ifd.BlockByteCounts) < want {
		return fmt.Errorf("have %d block offsets and %d byte counts, want %d", len(ifd.BlockOffsets), len(ifd.BlockByteCounts), want)
	}
	switch {
	case ifd.SampleFormat == sampleFloat && (ifd.BitsPerSample == 32 || ifd.BitsPerSample == 64):
	case ifd.SampleFormat == sampleInt && (ifd.BitsPerSample == 8 || ifd.BitsPerSample == 16 || ifd.BitsPerSample == 32):
	case ifd.SampleFormat == sampleUint && (ifd.BitsPerSample == 8 || ifd.BitsPerSample == 16 || ifd.BitsPerSample == 32):
	default:
		return fmt.Errorf("unsupported sample type: format %d, %d bits", ifd.SampleFormat, ifd.BitsPerSample)
	}
	return nil
}

// tiffEntry is a raw TIFF directory entry.
type tiffEntry struct {
	Tag      uint16
	DataType uint16
	Count    uint64
	Value    []byte // raw value bytes or inline value
}

// parseTIFF reads all IFDs from a TIFF file.
func parseTIFF(r io.ReadSeeker) ([]IFD, binary.ByteOrder, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, nil, fmt.Errorf("reading TIFF header: %w", err)
	}

	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("invalid TIFF byte order: %x", header[0:2])
	}

	magic := bo.Uint16(header[2:4])
	isBigTIFF := magic == 43
	if magic != 42 && magic != 43 {
		return nil, nil, fmt.Errorf("invalid TIFF magic: %d", magic)
	}

	var offset uint64
	if isBigTIFF {
		// BigTIFF: bytes 4-5 = offset size (8), bytes 6-7 = 0, bytes 8-15 = first IFD offset.
		var bigHeader [8]byte
		if _, err := io.ReadFull(r, bigHeader[:]); err != nil {
			return nil, nil, fmt.Errorf("reading BigTIFF header: %w", err)
		}
		offset = bo.Uint64(bigHeader[:])
	} else {
		offset = uint64(bo.Uint32(header[4:8]))
	}

	var ifds []IFD
	seen := make(map[uint64]bool)
	for offset != 0 {
		if seen[offset] {
			return nil, nil, fmt.Errorf("IFD loop at offset %d", offset)
		}
		seen[offset] = true

		ifd, next, err := parseOneIFD(r, bo, offset, isBigTIFF)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing IFD at offset %d: %w", offset, err)
		}
		ifds = append(ifds, ifd)
		offset = next
	}

	return ifds, bo, nil
}

func parseOneIFD(r io.ReadSeeker, bo binary.ByteOrder, offset uint64, bigTIFF bool) (IFD, uint64, error) {
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return IFD{}, 0, err
	}

	countSize, entrySize, nextSize := 2, 12, 4
	if bigTIFF {
		countSize, entrySize, nextSize = 8, 20, 8
	}

	buf := make([]byte, countSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return IFD{}, 0, err
	}
	numEntries := uint64(0)
	if bigTIFF {
		numEntries = bo.Uint64(buf)
	} else {
		numEntries = uint64(bo.Uint16(buf))
	}
	if numEntries > 4096 {
		return IFD{}, 0, fmt.Errorf("implausible entry count %d", numEntries)
	}

	raw := make([]byte, int(numEntries)*entrySize+nextSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return IFD{}, 0, err
	}

	entries := make([]tiffEntry, numEntries)
	for i := range entries {
		entries[i] = parseTiffEntry(raw[i*entrySize:(i+1)*entrySize], bo, bigTIFF)
	}

	tail := raw[int(numEntries)*entrySize:]
	var next uint64
	if bigTIFF {
		next = bo.Uint64(tail)
	} else {
		next = uint64(bo.Uint32(tail))
	}

	for i := range entries {
		if err := resolveEntry(r, bo, &entries[i], bigTIFF); err != nil {
			return IFD{}, 0, fmt.Errorf("resolving entry tag %d: %w", entries[i].Tag, err)
		}
	}

	return buildIFD(entries, bo), next, nil
}

func parseTiffEntry(buf []byte, bo binary.ByteOrder, bigTIFF bool) tiffEntry {
	e := tiffEntry{
		Tag:      bo.Uint16(buf[0:2]),
		DataType: bo.Uint16(buf[2:4]),
	}
	if bigTIFF {
		e.Count = bo.Uint64(buf[4:12])
		e.Value = append([]byte(nil), buf[12:20]...)
	} else {
		e.Count = uint64(bo.Uint32(buf[4:8]))
		e.Value = append([]byte(nil), buf[8:12]...)
	}
	return e
}

func dataTypeSize(dt uint16) int {
	switch dt {
	case dtByte, dtASCII, dtSByte, dtUndef:
		return 1
	case dtShort, dtSShort:
		return 2
	case dtLong, dtSLong, dtFloat:
		return 4
	case dtRational, dtSRational, dtDouble, dtLong8, dtSLong8, dtIFD8:
		return 8
	default:
		return 1
	}
}

// resolveEntry reads the actual data for an entry if it doesn't fit inline.
func resolveEntry(r io.ReadSeeker, bo binary.ByteOrder, e *tiffEntry, bigTIFF bool) error {
	totalSize := e.Count * uint64(dataTypeSize(e.DataType))

	inlineSize := uint64(4)
	if bigTIFF {
		inlineSize = 8
	}
	if totalSize <= inlineSize {
		return nil
	}
	if totalSize > 1<<30 {
		return fmt.Errorf("tag %d too large: %d bytes", e.Tag, totalSize)
	}

	var dataOffset uint64
	if bigTIFF {
		dataOffset = bo.Uint64(e.Value)
	} else {
		dataOffset = uint64(bo.Uint32(e.Value))
	}

	if _, err := r.Seek(int64(dataOffset), io.SeekStart); err != nil {
		return err
	}
	data := make([]byte, totalSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	e.Value = data
	return nil
}

func buildIFD(entries []tiffEntry, bo binary.ByteOrder) IFD {
	ifd := IFD{
		SamplesPerPixel: 1,
		PlanarConfig:    1,
		Compression:     1,
		Predictor:       1,
		SampleFormat:    sampleUint,
		BitsPerSample:   1,
	}
	var rowsPerStrip uint32
	var stripOffsets, stripCounts []uint64

	for _, e := range entries {
		switch e.Tag {
		case tagNewSubfileType:
			ifd.SubfileType = getUint32(e, bo)
		case tagImageWidth:
			ifd.Width = getUint32(e, bo)
		case tagImageLength:
			ifd.Height = getUint32(e, bo)
		case tagTileWidth:
			ifd.BlockWidth = getUint32(e, bo)
		case tagTileLength:
			ifd.BlockHeight = getUint32(e, bo)
		case tagBitsPerSample:
			// All bands share one sample type in the files we read.
			ifd.BitsPerSample = getUint16Val(e, bo)
		case tagSamplesPerPixel:
			ifd.SamplesPerPixel = getUint16Val(e, bo)
		case tagSampleFormat:
			ifd.SampleFormat = getUint16Val(e, bo)
		case tagCompression:
			ifd.Compression = getUint16Val(e, bo)
		case tagPredictor:
			ifd.Predictor = getUint16Val(e, bo)
		case tagPlanarConfig:
			ifd.PlanarConfig = getUint16Val(e, bo)
		case tagTileOffsets:
			ifd.BlockOffsets = getUint64Slice(e, bo)
		case tagTileByteCounts:
			ifd.BlockByteCounts = getUint64Slice(e, bo)
		case tagRowsPerStrip:
			rowsPerStrip = getUint32(e, bo)
		case tagStripOffsets:
			stripOffsets = getUint64Slice(e, bo)
		case tagStripByteCounts:
			stripCounts = getUint64Slice(e, bo)
		case tagModelTiepointTag:
			ifd.ModelTiepoint = getFloat64Slice(e, bo)
		case tagModelPixelScaleTag:
			ifd.ModelPixelScale = getFloat64Slice(e, bo)
		case tagGeoKeyDirectoryTag:
			ifd.GeoKeys = getUint16Slice(e, bo)
		case tagGeoDoubleParamsTag:
			ifd.GeoDoubleParams = getFloat64Slice(e, bo)
		case tagGeoAsciiParamsTag:
			ifd.GeoAsciiParams = asciiValue(e)
		case tagGDALNoData:
			ifd.NoData = asciiValue(e)
		}
	}

	if ifd.BlockWidth == 0 && len(stripOffsets) > 0 {
		ifd.Stripped = true
		ifd.BlockWidth = ifd.Width
		ifd.BlockHeight = rowsPerStrip
		if rowsPerStrip == 0 || rowsPerStrip > ifd.Height {
			ifd.BlockHeight = ifd.Height
		}
		ifd.BlockOffsets = stripOffsets
		ifd.BlockByteCounts = stripCounts
	}

	return ifd
}

func asciiValue(e tiffEntry) string {
	n := int(e.Count)
	if n > len(e.Value) {
		n = len(e.Value)
	}
	return strings.TrimRight(string(e.Value[:n]), "\x00 ")
}

// parseNoData interprets GDAL's textual nodata tag.
func parseNoData(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func getUint16Val(e tiffEntry, bo binary.ByteOrder) uint16 {
	switch e.DataType {
	case dtShort:
		return bo.Uint16(e.Value)
	case dtLong:
		return uint16(bo.Uint32(e.Value))
	default:
		return uint16(e.Value[0])
	}
}

func getUint32(e tiffEntry, bo binary.ByteOrder) uint32 {
	switch e.DataType {
	case dtShort:
		return uint32(bo.Uint16(e.Value))
	case dtLong:
		return bo.Uint32(e.Value)
	case dtLong8:
		return uint32(bo.Uint64(e.Value))
	default:
		return uint32(e.Value[0])
	}
}

func getUint16Slice(e tiffEntry, bo binary.ByteOrder) []uint16 {
	n := int(e.Count)
	if n*2 > len(e.Value) {
		n = len(e.Value) / 2
	}
	result := make([]uint16, n)
	for i := range result {
		result[i] = bo.Uint16(e.Value[i*2:])
	}
	return result
}

func getUint64Slice(e tiffEntry, bo binary.ByteOrder) []uint64 {
	size := dataTypeSize(e.DataType)
	n := int(e.Count)
	if n*size > len(e.Value) {
		n = len(e.Value) / size
	}
	result := make([]uint64, n)
	for i := range result {
		switch e.DataType {
		case dtShort:
			result[i] = uint64(bo.Uint16(e.Value[i*2:]))
		case dtLong:
			result[i] = uint64(bo.Uint32(e.Value[i*4:]))
		case dtLong8, dtIFD8:
			result[i] = bo.Uint64(e.Value[i*8:])
		}
	}
	return result
}

func getFloat64Slice(e tiffEntry, bo binary.ByteOrder) []float64 {
	size := dataTypeSize(e.DataType)
	n := int(e.Count)
	if n*size > len(e.Value) {
		n = len(e.Value) / size
	}
	result := make([]float64, n)
	for i := range result {
		switch e.DataType {
		case dtDouble:
			result[i] = math.Float64frombits(bo.Uint64(e.Value[i*8:]))
		case dtFloat:
			result[i] = float64(math.Float32frombits(bo.Uint32(e.Value[i*4:])))
		}
	}
	return result
}
