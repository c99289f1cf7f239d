package config

import (
	"path/filepath"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	c := FromEnv()
	if c.MinZoom != 10 || c.MaxZoom != 17 || c.TileSize != 512 {
		t.Errorf("zoom/tile defaults = %d-%d/%d", c.MinZoom, c.MaxZoom, c.TileSize)
	}
	if c.Format != "webp" || c.Priority != "resolution" || c.SourceStore != "source-store" {
		t.Errorf("defaults = %+v", c)
	}
	if c.Concurrency <= 0 {
		t.Errorf("Concurrency = %d", c.Concurrency)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("TERRARIUM_SOURCE", "swissalti")
	t.Setenv("TERRARIUM_MIN_ZOOM", "8")
	t.Setenv("TERRARIUM_MAX_ZOOM", "not-a-number")
	t.Setenv("TERRARIUM_FORMAT", "PNG")
	t.Setenv("TERRARIUM_LOG_CONSOLE", "no")
	t.Setenv("TERRARIUM_GRID_EPSG", "2056")

	c := FromEnv()
	if c.Source != "swissalti" || c.MinZoom != 8 || c.MaxZoom != 17 {
		t.Errorf("got source=%q zoom=%d-%d", c.Source, c.MinZoom, c.MaxZoom)
	}
	if c.Format != "png" || c.LogConsole || c.GridEPSG != 2056 {
		t.Errorf("got %+v", c)
	}
	if got, want := c.CatalogPath(), filepath.Join("source-store", "swissalti", "bounds.csv"); got != want {
		t.Errorf("CatalogPath = %q, want %q", got, want)
	}
	if c.OutputPath() != "swissalti.pmtiles" {
		t.Errorf("OutputPath = %q", c.OutputPath())
	}
}

func TestValidate(t *testing.T) {
	base := FromEnv()
	base.Source = "s"
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := map[string]func(*Config){
		"no source":     func(c *Config) { c.Source = "" },
		"zoom inverted": func(c *Config) { c.MinZoom, c.MaxZoom = 12, 10 },
		"zoom too deep": func(c *Config) { c.MaxZoom = 31 },
		"tile size":     func(c *Config) { c.TileSize = 0 },
		"concurrency":   func(c *Config) { c.Concurrency = 0 },
		"format":        func(c *Config) { c.Format = "jpeg" },
		"priority":      func(c *Config) { c.Priority = "newest" },
	}
	for name, mutate := range tests {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
