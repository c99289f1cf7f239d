package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/config"
	"github.com/pspoerri/terrarium2pmtiles/internal/logger"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
	"github.com/pspoerri/terrarium2pmtiles/internal/tile"
)

func main() {
	cfg := config.FromEnv()
	flag.StringVar(&cfg.SourceStore, "source-store", cfg.SourceStore, "Directory holding the source directories")
	flag.IntVar(&cfg.GridEPSG, "grid-epsg", cfg.GridEPSG, "EPSG code assumed for ASCII grids (0 = Web Mercator)")
	flag.IntVar(&cfg.Concurrency, "concurrency", runtime.NumCPU(), "Files read in parallel")
	flag.IntVar(&cfg.TileSize, "tile-size", cfg.TileSize, "Tile size used for the suggested zoom range")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.LogConsole, "log-console", cfg.LogConsole, "Human-readable logs instead of JSON")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sourcebounds [flags] <source>\n\n")
		fmt.Fprintf(os.Stderr, "Scan a source directory and write its %s catalog.\n\n", catalog.FileName)
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}
	cfg.Source = flag.Arg(0)

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "sourcebounds",
	}, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("scan failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	dir := cfg.SourceDir()
	names, err := listSources(dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%s: %w", dir, tile.ErrNoSourceData)
	}
	log.Info().Str("dir", dir).Int("files", len(names)).Msg("scanning")

	opener := &raster.FileOpener{Dir: dir, GridEPSG: cfg.GridEPSG}
	res, err := scanSources(ctx, opener, names, cfg.Concurrency, log)
	if err != nil {
		return err
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("%s: all %d files skipped: %w", dir, len(names), tile.ErrNoSourceData)
	}
	records := res.Records

	path := cfg.CatalogPath()
	if err := catalog.WriteFile(path, records); err != nil {
		return err
	}
	minZoom, maxZoom := tile.SuggestZoomRange(records, cfg.TileSize)
	union := catalog.Union(records)
	log.Info().
		Str("catalog", path).
		Int("records", len(records)).
		Int("skipped", len(res.Skipped)).
		Floats64("bounds", []float64{union.Min[0], union.Min[1], union.Max[0], union.Max[1]}).
		Int("suggested_min_zoom", minZoom).
		Int("suggested_max_zoom", maxZoom).
		Msg("catalog written")
	return nil
}
