package pmtiles

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/protomaps/go-pmtiles/pmtiles"
)

// Metadata describes the archive contents. It is stored both as header
// fields and as the archive's JSON metadata.
type Metadata struct {
	Name        string
	Description string
	Attribution string
	License     string
	Version     string

	// Encoding names the pixel encoding of the raster tiles.
	Encoding string
	TileType pmtiles.TileType
	TileSize int

	MinZoom int
	MaxZoom int
	// Bounds is the lon/lat extent of the emitted tiles. An empty bound
	// yields whole-world bounds.
	Bounds orb.Bound
}

// Center returns the bounds' midpoint and a zoom halfway between min and max.
func (m Metadata) Center() (orb.Point, int) {
	return m.bounds().Center(), (m.MinZoom + m.MaxZoom) / 2
}

func (m Metadata) bounds() orb.Bound {
	if m.Bounds == (orb.Bound{}) {
		return orb.Bound{Min: orb.Point{-180, -85.0511287798066}, Max: orb.Point{180, 85.0511287798066}}
	}
	return m.Bounds
}

func (m Metadata) toMap() map[string]interface{} {
	name := m.Name
	if name == "" {
		name = "terrarium2pmtiles"
	}
	description := m.Description
	if description == "" {
		description = "Terrarium-encoded elevation tiles"
	}
	encoding := m.Encoding
	if encoding == "" {
		encoding = "terrarium"
	}

	b := m.bounds()
	center, centerZoom := m.Center()

	meta := map[string]interface{}{
		"name":        name,
		"description": description,
		"type":        "baselayer",
		"format":      encoding,
		"encoding":    encoding,
		"tile_format": tileTypeName(m.TileType),
		"minzoom":     fmt.Sprintf("%d", m.MinZoom),
		"maxzoom":     fmt.Sprintf("%d", m.MaxZoom),
		"bounds":      fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()),
		"center":      fmt.Sprintf("%.6f,%.6f,%d", center.Lon(), center.Lat(), centerZoom),
	}
	if m.TileSize > 0 {
		meta["tileSize"] = m.TileSize
	}
	if m.Attribution != "" {
		meta["attribution"] = m.Attribution
	}
	if m.License != "" {
		meta["license"] = m.License
	}
	if m.Version != "" {
		meta["version"] = m.Version
	}
	return meta
}

func tileTypeName(t pmtiles.TileType) string {
	switch t {
	case pmtiles.Png:
		return "png"
	case pmtiles.Webp:
		return "webp"
	case pmtiles.Jpeg:
		return "jpeg"
	case pmtiles.Avif:
		return "avif"
	default:
		return "unknown"
	}
}

// newHeader fills the descriptive header fields. Offsets and counts are set
// by the writer.
func newHeader(meta Metadata) pmtiles.HeaderV3 {
	b := meta.bounds()
	center, centerZoom := meta.Center()
	return pmtiles.HeaderV3{
		SpecVersion:         3,
		Clustered:           true,
		InternalCompression: pmtiles.Gzip,
		TileCompression:     pmtiles.NoCompression, // WebP/PNG are already compressed
		TileType:            meta.TileType,
		MinZoom:             uint8(meta.MinZoom),
		MaxZoom:             uint8(meta.MaxZoom),
		MinLonE7:            toE7(b.Min.Lon()),
		MinLatE7:            toE7(b.Min.Lat()),
		MaxLonE7:            toE7(b.Max.Lon()),
		MaxLatE7:            toE7(b.Max.Lat()),
		CenterZoom:          uint8(centerZoom),
		CenterLonE7:         toE7(center.Lon()),
		CenterLatE7:         toE7(center.Lat()),
	}
}

func toE7(v float64) int32 {
	return int32(math.Round(v * 1e7))
}
