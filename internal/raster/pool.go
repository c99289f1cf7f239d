package raster

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pspoerri/terrarium2pmtiles/internal/cog"
)

// FileOpener opens catalog entries from a directory, picking the reader by
// file extension.
type FileOpener struct {
	Dir string
	// Cache holds decoded GeoTIFF blocks. Nil gives each file its own.
	Cache *cog.BlockCache
	// GridEPSG is the CRS assumed for formats that carry none (ASCII grids).
	GridEPSG int
}

func (o *FileOpener) Open(ctx context.Context, name string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(o.Dir, name)
	}

	var (
		src Source
		err error
	)
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		src, err = OpenGeoTIFF(path, o.Cache)
	case strings.HasSuffix(lower, ".asc"):
		src, err = OpenASCIIGrid(path, o.GridEPSG)
	case strings.HasSuffix(lower, ".hgt"), strings.HasSuffix(lower, ".hgt.zip"):
		src, err = OpenHGT(path)
	default:
		err = fmt.Errorf("unsupported raster format %q", filepath.Ext(name))
	}
	if err != nil {
		return nil, unreadable(name, err)
	}
	return src, nil
}

// Supported reports whether FileOpener can read name.
func Supported(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tif", ".tiff", ".asc", ".hgt", ".hgt.zip"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Pool shares one open handle per source across all workers of a run.
// Concurrent opens of the same name wait for a single open; a failed open
// is remembered so a broken file is not retried for every tile.
type Pool struct {
	opener Opener
	log    zerolog.Logger

	mu      sync.Mutex
	sources map[string]Source
	failed  map[string]error
	closed  bool
	group   singleflight.Group
}

// NewPool wraps opener.
func NewPool(opener Opener, log zerolog.Logger) *Pool {
	return &Pool{
		opener:  opener,
		log:     log,
		sources: make(map[string]Source),
		failed:  make(map[string]error),
	}
}

// Open returns the shared handle for name. Closing it is a no-op; the pool
// owns it until Close.
func (p *Pool) Open(ctx context.Context, name string) (Source, error) {
	if src, ok, err := p.lookup(name); ok {
		return src, err
	}

	v, err, _ := p.group.Do(name, func() (interface{}, error) {
		if src, ok, err := p.lookup(name); ok {
			return src, err
		}
		src, err := p.opener.Open(ctx, name)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			if src != nil {
				src.Close()
			}
			return nil, errors.New("raster pool closed")
		}
		if err != nil {
			// Cancellation says nothing about the file.
			if ctx.Err() == nil {
				p.failed[name] = err
			}
			return nil, err
		}
		p.log.Debug().Str("source", name).Msg("source opened")
		shared := sharedSource{src}
		p.sources[name] = shared
		return shared, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Source), nil
}

func (p *Pool) lookup(name string) (Source, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if src, ok := p.sources[name]; ok {
		return src, true, nil
	}
	if err, ok := p.failed[name]; ok {
		return nil, true, err
	}
	return nil, false, nil
}

// Len returns the number of open sources.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

// Close closes every open source.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	var errs []error
	for name, src := range p.sources {
		if err := src.(sharedSource).Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	p.sources = map[string]Source{}
	return errors.Join(errs...)
}

// sharedSource hides Close from pool users.
type sharedSource struct {
	Source
}

func (sharedSource) Close() error { return nil }
