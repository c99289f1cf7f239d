package encode

import (
	"fmt"
	"image"

	"github.com/protomaps/go-pmtiles/pmtiles"
)

// Encoder encodes a Terrarium RGB(A) image into tile bytes. Only lossless
// containers are offered: any change to a channel value changes the decoded
// elevation.
type Encoder interface {
	// Encode encodes an image to bytes in the tile format.
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name ("webp" or "png").
	Format() string

	// PMTileType returns the PMTiles tile type for the archive header.
	PMTileType() pmtiles.TileType

	// FileExtension returns the appropriate file extension.
	FileExtension() string
}

// NewEncoder creates an encoder for the given container format.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "webp", "":
		return &WebPEncoder{}, nil
	case "png":
		return &PNGEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported tile format: %q (supported: webp, png)", format)
	}
}
