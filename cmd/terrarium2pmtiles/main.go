package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/cog"
	"github.com/pspoerri/terrarium2pmtiles/internal/config"
	"github.com/pspoerri/terrarium2pmtiles/internal/encode"
	"github.com/pspoerri/terrarium2pmtiles/internal/logger"
	"github.com/pspoerri/terrarium2pmtiles/internal/metrics"
	"github.com/pspoerri/terrarium2pmtiles/internal/pmtiles"
	"github.com/pspoerri/terrarium2pmtiles/internal/raster"
	"github.com/pspoerri/terrarium2pmtiles/internal/tile"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// typicalBlockBytes is a 512x512 float32 block, used to size the cache.
const typicalBlockBytes = 512 * 512 * 4

func main() {
	cfg := config.FromEnv()
	var showVersion bool

	flag.StringVar(&cfg.Source, "source", cfg.Source, "Source name (directory under the source store)")
	flag.StringVar(&cfg.SourceStore, "source-store", cfg.SourceStore, "Directory holding the source directories")
	flag.StringVar(&cfg.Output, "output", cfg.Output, "Output archive (default: <source>.pmtiles)")
	flag.StringVar(&cfg.TempDir, "temp-dir", cfg.TempDir, "Directory for the tile spill file (default: output directory)")
	flag.IntVar(&cfg.MinZoom, "min-zoom", cfg.MinZoom, "Minimum zoom level")
	flag.IntVar(&cfg.MaxZoom, "max-zoom", cfg.MaxZoom, "Maximum zoom level")
	flag.IntVar(&cfg.TileSize, "tile-size", cfg.TileSize, "Output tile size in pixels")
	flag.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Number of parallel workers")
	flag.StringVar(&cfg.Format, "format", cfg.Format, "Tile container: webp, png")
	flag.IntVar(&cfg.WebPEffort, "webp-effort", cfg.WebPEffort, "Lossless WebP effort 0-100")
	flag.StringVar(&cfg.Priority, "priority", cfg.Priority, "Source priority: resolution, index")
	flag.IntVar(&cfg.CacheBlocks, "cache-blocks", cfg.CacheBlocks, "Decoded GeoTIFF blocks kept in memory (0 = auto from RAM)")
	flag.IntVar(&cfg.GridEPSG, "grid-epsg", cfg.GridEPSG, "EPSG code assumed for ASCII grids (0 = Web Mercator)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.LogConsole, "log-console", cfg.LogConsole, "Human-readable logs instead of JSON")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /metrics and /healthz on this address")
	flag.BoolVar(&cfg.Progress, "progress", cfg.Progress, "Show per-zoom progress bars")
	flag.StringVar(&cfg.Name, "name", cfg.Name, "Archive name (default: source name)")
	flag.StringVar(&cfg.Description, "description", cfg.Description, "Archive description")
	flag.StringVar(&cfg.Attribution, "attribution", cfg.Attribution, "Archive attribution")
	flag.StringVar(&cfg.License, "license", cfg.License, "Archive license")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: terrarium2pmtiles [flags] [source]\n\n")
		fmt.Fprintf(os.Stderr, "Render a bounds catalog of elevation rasters into a Terrarium PMTiles archive.\n")
		fmt.Fprintf(os.Stderr, "Flags default to TERRARIUM_* environment variables.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("terrarium2pmtiles %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(1)
	}
	if flag.NArg() == 1 {
		cfg.Source = flag.Arg(0)
	}

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "terrarium2pmtiles",
	}, os.Stderr)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("interrupted")
		} else {
			log.Error().Err(err).Msg("run failed")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	provider := metrics.Init(metrics.BuildInfo{Version: version, Revision: commit})
	m := metrics.New(provider.Registerer())
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, provider, log); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	records, err := loadCatalog(cfg.CatalogPath())
	if err != nil {
		return err
	}
	suggestMin, suggestMax := tile.SuggestZoomRange(records, cfg.TileSize)
	log.Info().
		Str("catalog", cfg.CatalogPath()).
		Int("sources", len(records)).
		Int("suggested_min_zoom", suggestMin).
		Int("suggested_max_zoom", suggestMax).
		Msg("catalog loaded")

	enc, err := encode.NewEncoder(cfg.Format)
	if err != nil {
		return err
	}
	if w, ok := enc.(*encode.WebPEncoder); ok {
		w.Effort = cfg.WebPEffort
	}
	priority, err := tile.PriorityByName(cfg.Priority)
	if err != nil {
		return err
	}

	cacheBlocks := cfg.CacheBlocks
	if cacheBlocks <= 0 {
		cacheBlocks, err = cog.CacheBlocksForMemory(cog.DefaultCacheMemoryFraction, typicalBlockBytes)
		if err != nil {
			log.Warn().Err(err).Msg("sizing block cache from RAM failed; using default")
			cacheBlocks = 0
		}
	}
	cache, err := cog.NewBlockCache(cacheBlocks)
	if err != nil {
		return err
	}

	pool := raster.NewPool(&raster.FileOpener{
		Dir:      cfg.SourceDir(),
		Cache:    cache,
		GridEPSG: cfg.GridEPSG,
	}, log)
	defer func() {
		if err := pool.Close(); err != nil {
			log.Warn().Err(err).Msg("closing sources")
		}
	}()

	outputPath := cfg.OutputPath()
	if !strings.HasSuffix(outputPath, ".pmtiles") {
		return fmt.Errorf("output %q must have .pmtiles extension", outputPath)
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	writer, err := pmtiles.NewWriter(outputPath, pmtiles.WriterOptions{
		TempDir:  cfg.TempDir,
		TileType: enc.PMTileType(),
	})
	if err != nil {
		return err
	}

	name := cfg.Name
	if name == "" {
		name = cfg.Source
	}
	tcfg := tile.Config{
		MinZoom:     cfg.MinZoom,
		MaxZoom:     cfg.MaxZoom,
		TileSize:    cfg.TileSize,
		Concurrency: cfg.Concurrency,
		Encoder:     enc,
		Priority:    priority,
		Logger:      log,
		Metrics:     m,
		Metadata: pmtiles.Metadata{
			Name:        name,
			Description: cfg.Description,
			Attribution: cfg.Attribution,
			License:     cfg.License,
			Version:     version,
			Encoding:    "terrarium",
		},
	}
	if cfg.Progress {
		tcfg.Progress = os.Stderr
	}

	fmt.Printf("terrarium2pmtiles %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %s\n", "Source:", cfg.SourceDir())
	fmt.Printf("  %-14s %s\n", "Format:", enc.Format())
	fmt.Printf("  %-14s %dpx\n", "Tile size:", cfg.TileSize)
	fmt.Printf("  %-14s %d - %d (suggested: %d - %d)\n", "Zoom:", cfg.MinZoom, cfg.MaxZoom, suggestMin, suggestMax)
	fmt.Printf("  %-14s %s\n", "Priority:", cfg.Priority)
	fmt.Printf("  %-14s %d\n", "Concurrency:", cfg.Concurrency)
	fmt.Printf("  %-14s %d blocks\n", "Block cache:", cacheBlocks)
	fmt.Printf("  %-14s %s\n", "Output:", outputPath)

	planner, err := tile.NewPlanner(tcfg, pool)
	if err != nil {
		writer.Abort()
		return err
	}

	start := time.Now()
	sum, err := planner.Run(ctx, records, writer)
	if err != nil {
		writer.Abort()
		return err
	}

	fmt.Printf("Done in %v: %v\n", time.Since(start).Round(time.Millisecond), sum)
	fmt.Printf("  %-14s %d unique of %d tiles\n", "Dedup:", int64(writer.Count())-writer.DedupHits(), writer.Count())
	if info, err := os.Stat(outputPath); err == nil {
		fmt.Printf("  %-14s %.1f MB\n", "Archive:", float64(info.Size())/(1024*1024))
	}
	return nil
}

// loadCatalog reads the bounds catalog. A missing, unreadable or empty
// catalog means there is no source data to render.
func loadCatalog(path string) ([]catalog.Record, error) {
	records, err := catalog.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tile.ErrNoSourceData, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s lists no sources", tile.ErrNoSourceData, path)
	}
	return records, nil
}
