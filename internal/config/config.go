// Package config holds run parameters. Environment variables with the
// TERRARIUM_ prefix supply defaults; the commands override them with flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
)

const envPrefix = "TERRARIUM_"

type Config struct {
	Source      string
	SourceStore string
	Output      string
	TempDir     string

	MinZoom     int
	MaxZoom     int
	TileSize    int
	Concurrency int
	Format      string
	WebPEffort  int
	// Priority is "resolution" (finer sources win) or "index" (catalog
	// order wins).
	Priority string

	// CacheBlocks bounds decoded GeoTIFF blocks held in memory. Zero sizes
	// the cache from system RAM.
	CacheBlocks int
	// GridEPSG is the CRS assumed for ASCII grids.
	GridEPSG int

	LogLevel    string
	LogConsole  bool
	MetricsAddr string
	Progress    bool

	Name        string
	Description string
	Attribution string
	License     string
}

// FromEnv returns the defaults overlaid with TERRARIUM_* variables.
func FromEnv() Config {
	return Config{
		Source:      getenv("SOURCE", ""),
		SourceStore: getenv("SOURCE_STORE", "source-store"),
		Output:      getenv("OUTPUT", ""),
		TempDir:     getenv("TEMP_DIR", ""),
		MinZoom:     getint("MIN_ZOOM", 10),
		MaxZoom:     getint("MAX_ZOOM", 17),
		TileSize:    getint("TILE_SIZE", 512),
		Concurrency: getint("CONCURRENCY", runtime.NumCPU()),
		Format:      strings.ToLower(getenv("FORMAT", "webp")),
		WebPEffort:  getint("WEBP_EFFORT", 75),
		Priority:    strings.ToLower(getenv("PRIORITY", "resolution")),
		CacheBlocks: getint("CACHE_BLOCKS", 0),
		GridEPSG:    getint("GRID_EPSG", 0),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", true),
		MetricsAddr: getenv("METRICS_ADDR", ""),
		Progress:    getbool("PROGRESS", true),
		Name:        getenv("NAME", ""),
		Description: getenv("DESCRIPTION", ""),
		Attribution: getenv("ATTRIBUTION", ""),
		License:     getenv("LICENSE", ""),
	}
}

// CatalogPath returns the bounds catalog of the configured source.
func (c Config) CatalogPath() string {
	return catalog.Path(c.SourceStore, c.Source)
}

// SourceDir returns the directory holding the source rasters.
func (c Config) SourceDir() string {
	return filepath.Join(c.SourceStore, c.Source)
}

// OutputPath returns Output, or <source>.pmtiles when unset.
func (c Config) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}
	return c.Source + ".pmtiles"
}

// Validate checks the parameters that the pipeline depends on.
func (c Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if c.MinZoom < 0 || c.MaxZoom > 30 || c.MinZoom > c.MaxZoom {
		return fmt.Errorf("invalid zoom range %d-%d", c.MinZoom, c.MaxZoom)
	}
	if c.TileSize <= 0 {
		return fmt.Errorf("invalid tile size %d", c.TileSize)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	switch c.Format {
	case "webp", "png":
	default:
		return fmt.Errorf("unsupported format %q (supported: webp, png)", c.Format)
	}
	switch c.Priority {
	case "resolution", "index":
	default:
		return fmt.Errorf("unsupported priority %q (supported: resolution, index)", c.Priority)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(envPrefix + k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(envPrefix + k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(envPrefix + k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}
