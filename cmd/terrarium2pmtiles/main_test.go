package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/pspoerri/terrarium2pmtiles/internal/catalog"
	"github.com/pspoerri/terrarium2pmtiles/internal/tile"
)

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	good := write("good.csv", "filename,left,bottom,right,top,width,height\n"+
		"dem.tif,0,0,100,100,10,10\n")
	records, err := loadCatalog(good)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(records) != 1 || records[0].Filename != "dem.tif" {
		t.Errorf("records = %+v", records)
	}

	tests := []struct {
		name  string
		path  string
		cause error
	}{
		{"missing", filepath.Join(dir, "missing.csv"), fs.ErrNotExist},
		{"malformed", write("bad.csv", "filename,left\ndem.tif,0\n"), nil},
		{"invalid row", write("inverted.csv", "filename,left,bottom,right,top,width,height\n"+
			"dem.tif,100,0,0,100,10,10\n"), catalog.ErrInvalidRecord},
		{"header only", write("empty.csv", "filename,left,bottom,right,top,width,height\n"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadCatalog(tt.path)
			if !errors.Is(err, tile.ErrNoSourceData) {
				t.Fatalf("err = %v, want ErrNoSourceData", err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("err = %v, want it to wrap %v", err, tt.cause)
			}
		})
	}
}
