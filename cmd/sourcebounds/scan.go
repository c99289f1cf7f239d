package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
)

// listSources returns the supported raster files in dir, sorted by name.
func listSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && raster.Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// scanResult holds the catalog rows of a scan and the files left out.
type scanResult struct {
	Records []catalog.Record
	Skipped []string
}

// scanSources opens every name through opener and builds its catalog row.
// A file that cannot be read or yields an invalid row is logged and
// skipped; only cancellation stops the scan. Records keep the order of
// names.
func scanSources(ctx context.Context, opener raster.Opener, names []string, concurrency int, log zerolog.Logger) (scanResult, error) {
	records := make([]catalog.Record, len(names))
	ok := make([]bool, len(names))

	var mu sync.Mutex
	var skipped []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, name := range names {
		g.Go(func() error {
			rec, err := recordFor(gctx, opener, name)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn().Str("file", name).Err(err).Msg("skipping file")
				mu.Lock()
				skipped = append(skipped, name)
				mu.Unlock()
				return nil
			}
			records[i], ok[i] = rec, true
			log.Debug().
				Str("file", name).
				Int("width", rec.Width).
				Int("height", rec.Height).
				Float64("resolution", rec.Resolution()).
				Msg("bounds")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return scanResult{}, err
	}

	var res scanResult
	for i, rec := range records {
		if ok[i] {
			res.Records = append(res.Records, rec)
		}
	}
	sort.Strings(skipped)
	res.Skipped = skipped
	return res, nil
}

func recordFor(ctx context.Context, opener raster.Opener, name string) (catalog.Record, error) {
	src, err := opener.Open(ctx, name)
	if err != nil {
		return catalog.Record{}, err
	}
	defer src.Close()
	rec, err := raster.RecordFor(name, src)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidRecord) {
			return catalog.Record{}, err
		}
		return catalog.Record{}, fmt.Errorf("%w: %w", catalog.ErrInvalidRecord, err)
	}
	return rec, nil
}
