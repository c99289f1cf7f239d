package encode

import (
	"bytes"
	"image"

	"github.com/gen2brain/webp"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

// WebPEncoder encodes tiles as lossless WebP using a pure-Go (WASM-based)
// encoder. A system libwebp is picked up via purego when available.
type WebPEncoder struct {
	// Effort trades encode time for size in lossless mode (0-100, default 75).
	Effort int
}

func (e *WebPEncoder) Encode(img image.Image) ([]byte, error) {
	effort := e.Effort
	if effort <= 0 {
		effort = 75
	}
	var buf bytes.Buffer
	opts := webp.Options{
		Lossless: true,
		Quality:  effort,
	}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *WebPEncoder) Format() string               { return "webp" }
func (e *WebPEncoder) PMTileType() pmtiles.TileType { return pmtiles.Webp }
func (e *WebPEncoder) FileExtension() string        { return ".webp" }
