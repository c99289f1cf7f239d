package cog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

// TIFF compression schemes.
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// decompress inflates one block's bytes.
func decompress(compression uint16, data []byte, sizeHint int) ([]byte, error) {
	switch compression {
	case compressionNone:
		return data, nil
	case compressionLZW:
		return decompressTIFFLZW(data, sizeHint)
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		out := bytes.NewBuffer(make([]byte, 0, sizeHint))
		if _, err := io.Copy(out, zr); err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return out.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", compression)
	}
}

// decodeBlock turns a decompressed block into the first band's values as
// float32, row-major with width ifd.BlockWidth and the given row count.
func decodeBlock(ifd *IFD, bo binary.ByteOrder, raw []byte, rows int) ([]float32, error) {
	w := int(ifd.BlockWidth)
	spp := int(ifd.SamplesPerPixel)
	if ifd.PlanarConfig == 2 {
		spp = 1
	}
	bps := ifd.bytesPerSample()
	rowBytes := w * spp * bps

	if len(raw) < rowBytes*rows {
		return nil, fmt.Errorf("block has %d bytes, want %d", len(raw), rowBytes*rows)
	}
	raw = raw[:rowBytes*rows]

	switch ifd.Predictor {
	case predictorNone:
	case predictorHorizontal:
		undoHorizontal(raw, bo, rows, w, spp, bps)
	case predictorFloatingPoint:
		if ifd.SampleFormat != sampleFloat {
			return nil, fmt.Errorf("floating point predictor on non-float samples")
		}
		raw = undoFloatingPoint(raw, rows, w*spp, bps)
		// Reassembled samples are big-endian regardless of file order.
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("unsupported predictor: %d", ifd.Predictor)
	}

	out := make([]float32, w*rows)
	stride := spp * bps
	for i := range out {
		out[i] = sampleAt(raw[i*stride:], bo, ifd.SampleFormat, bps)
	}
	return out, nil
}

func sampleAt(b []byte, bo binary.ByteOrder, format uint16, bps int) float32 {
	switch format {
	case sampleFloat:
		if bps == 8 {
			return float32(math.Float64frombits(bo.Uint64(b)))
		}
		return math.Float32frombits(bo.Uint32(b))
	case sampleInt:
		switch bps {
		case 1:
			return float32(int8(b[0]))
		case 2:
			return float32(int16(bo.Uint16(b)))
		default:
			return float32(int32(bo.Uint32(b)))
		}
	default:
		switch bps {
		case 1:
			return float32(b[0])
		case 2:
			return float32(bo.Uint16(b))
		default:
			return float32(bo.Uint32(b))
		}
	}
}

// undoHorizontal reverses integer horizontal differencing in place.
func undoHorizontal(raw []byte, bo binary.ByteOrder, rows, width, spp, bps int) {
	rowBytes := width * spp * bps
	for r := 0; r < rows; r++ {
		row := raw[r*rowBytes : (r+1)*rowBytes]
		for i := spp; i < width*spp; i++ {
			cur, prev := row[i*bps:], row[(i-spp)*bps:]
			switch bps {
			case 1:
				cur[0] += prev[0]
			case 2:
				bo.PutUint16(cur, bo.Uint16(cur)+bo.Uint16(prev))
			case 4:
				bo.PutUint32(cur, bo.Uint32(cur)+bo.Uint32(prev))
			case 8:
				bo.PutUint64(cur, bo.Uint64(cur)+bo.Uint64(prev))
			}
		}
	}
}

// undoFloatingPoint reverses the floating point predictor: bytes are
// differenced across the row, then stored as byte planes with the most
// significant plane first.
func undoFloatingPoint(raw []byte, rows, samples, bps int) []byte {
	rowBytes := samples * bps
	out := make([]byte, len(raw))
	for r := 0; r < rows; r++ {
		row := raw[r*rowBytes : (r+1)*rowBytes]
		for i := 1; i < len(row); i++ {
			row[i] += row[i-1]
		}
		dst := out[r*rowBytes : (r+1)*rowBytes]
		for s := 0; s < samples; s++ {
			for b := 0; b < bps; b++ {
				dst[s*bps+b] = row[b*samples+s]
			}
		}
	}
	return out
}
