package raster

import (
	"context"
	"image"

	"github.com/pspoerri/terrarium2pmtiles/internal/cog"
)

// geoTIFF adapts a cog.Reader to Source.
type geoTIFF struct {
	r    *cog.Reader
	info Info
}

// OpenGeoTIFF opens a GeoTIFF or COG. Decoded blocks go to cache, which
// may be nil.
func OpenGeoTIFF(path string, cache *cog.BlockCache) (Source, error) {
	r, err := cog.Open(path, cache)
	if err != nil {
		return nil, err
	}

	geo := r.GeoInfo()
	info := Info{
		Width:     r.Width(),
		Height:    r.Height(),
		Transform: NewGeoTransform(geo.OriginX, geo.OriginY, geo.PixelSizeX, geo.PixelSizeY),
		NoData:    geo.NoData,
		HasNoData: geo.HasNoData,
		EPSG:      geo.EPSG,
	}
	if err := info.Transform.Validate(); err != nil {
		r.Close()
		return nil, err
	}
	for level := 1; level <= r.NumOverviews(); level++ {
		w, h := r.LevelSize(level)
		info.Levels = append(info.Levels, Level{
			Width:  w,
			Height: h,
			Transform: info.Transform.Scaled(
				float64(info.Width)/float64(w),
				float64(info.Height)/float64(h),
			),
		})
	}
	return &geoTIFF{r: r, info: info}, nil
}

func (g *geoTIFF) Info() Info { return g.info }

func (g *geoTIFF) ReadWindow(ctx context.Context, level int, r image.Rectangle) (*Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkWindow(g.info, level, r); err != nil {
		return nil, err
	}
	values, err := g.r.ReadRegion(level, r)
	if err != nil {
		return nil, err
	}
	return &Window{Rect: r, Values: values}, nil
}

func (g *geoTIFF) Close() error { return g.r.Close() }
