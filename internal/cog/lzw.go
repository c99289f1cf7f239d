package cog

// TIFF-flavoured LZW decoder.
//
// TIFF widens the code size one code earlier than GIF ("early change"), so
// Go's compress/lzw rejects TIFF streams once the table passes 511 entries.

import (
	"errors"
)

const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwTableSize = 1 << lzwMaxWidth
)

var errLZWInvalidCode = errors.New("lzw: invalid code")

// lzwBits reads MSB-first variable-width codes.
type lzwBits struct {
	src  []byte
	pos  int
	acc  uint32
	nacc uint
}

// next returns the next code, or ok=false at end of input.
func (b *lzwBits) next(width uint) (code int, ok bool) {
	for b.nacc < width {
		if b.pos >= len(b.src) {
			return 0, false
		}
		b.acc = b.acc<<8 | uint32(b.src[b.pos])
		b.pos++
		b.nacc += 8
	}
	b.nacc -= width
	code = int(b.acc>>b.nacc) & (1<<width - 1)
	return code, true
}

// decompressTIFFLZW decompresses TIFF LZW data. sizeHint preallocates the
// output when the decoded block size is known.
func decompressTIFFLZW(src []byte, sizeHint int) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}

	var (
		prefix [lzwTableSize]uint16
		suffix [lzwTableSize]byte
		length [lzwTableSize]uint16
	)
	for i := 0; i < 256; i++ {
		suffix[i] = byte(i)
		length[i] = 1
	}

	out := make([]byte, 0, sizeHint)
	bits := &lzwBits{src: src}
	width := uint(9)
	next := lzwFirstCode
	prev := -1

	// emit appends the string for code and returns its first byte.
	emit := func(code int) byte {
		n := int(length[code])
		start := len(out)
		for i := 0; i < n; i++ {
			out = append(out, 0)
		}
		for i := start + n - 1; i >= start; i-- {
			out[i] = suffix[code]
			code = int(prefix[code])
		}
		return out[start]
	}

	for {
		code, ok := bits.next(width)
		if !ok || code == lzwEOICode {
			// Truncated streams are common in the wild; keep what decoded.
			return out, nil
		}

		if code == lzwClearCode {
			width = 9
			next = lzwFirstCode
			prev = -1
			continue
		}

		if prev < 0 {
			if code > 255 {
				return nil, errLZWInvalidCode
			}
			out = append(out, byte(code))
			prev = code
			continue
		}

		var first byte
		switch {
		case code < next:
			first = emit(code)
		case code == next:
			// KwKwK: the code being defined by this very step.
			first = emit(prev)
			out = append(out, first)
		default:
			return nil, errLZWInvalidCode
		}

		if next < lzwTableSize {
			prefix[next] = uint16(prev)
			suffix[next] = first
			length[next] = length[prev] + 1
			next++
		}
		if next+1 >= 1<<width && width < lzwMaxWidth {
			width++
		}
		prev = code
	}
}
