package raster

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"image"
	"os"
	"path/filepath"
	"testing"
)

// hgtBytes builds an n x n tile whose sample (x, y) is x + 10*y, with the
// top-left sample void.
func hgtBytes(n int) []byte {
	b := make([]byte, 2*n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			v := int16(x + 10*y)
			if x == 0 && y == 0 {
				v = hgtVoid
			}
			binary.BigEndian.PutUint16(b[2*(y*n+x):], uint16(v))
		}
	}
	return b
}

func TestParseHGTName(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat int
		wantErr  bool
	}{
		{"N46E007.hgt", 7, 46, false},
		{"S33W071.hgt", -71, -33, false},
		{"n00e000.hgt.zip", 0, 0, false},
		{"X46E007.hgt", 0, 0, true},
		{"dem.hgt", 0, 0, true},
	}
	for _, tt := range tests {
		lon, lat, err := parseHGTName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v", tt.name, err)
			continue
		}
		if !tt.wantErr && (lon != tt.lon || lat != tt.lat) {
			t.Errorf("%s: got (%d, %d), want (%d, %d)", tt.name, lon, lat, tt.lon, tt.lat)
		}
	}
}

func TestOpenHGT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "N46E007.hgt")
	if err := os.WriteFile(path, hgtBytes(5), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := OpenHGT(path)
	if err != nil {
		t.Fatalf("OpenHGT: %v", err)
	}
	info := src.Info()
	if info.EPSG != 4326 || info.Width != 5 {
		t.Errorf("info = %+v", info)
	}
	// Sample centres lie on the whole-degree corners.
	cx, cy := info.Transform.ToPlanar(0.5, 0.5)
	if cx != 7 || cy != 47 {
		t.Errorf("first sample centre = (%v, %v), want (7, 47)", cx, cy)
	}
	ex, ey := info.Transform.ToPlanar(4.5, 4.5)
	if ex != 8 || ey != 46 {
		t.Errorf("last sample centre = (%v, %v), want (8, 46)", ex, ey)
	}

	w, err := src.ReadWindow(context.Background(), 0, image.Rect(0, 0, 5, 5))
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsNoData(w.At(0, 0)) {
		t.Errorf("void sample = %v", w.At(0, 0))
	}
	if w.At(3, 2) != 23 {
		t.Errorf("At(3,2) = %v, want 23", w.At(3, 2))
	}
}

func TestOpenHGT_Zip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S01W002.hgt.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	junk, _ := zw.Create(".DS_Store")
	junk.Write([]byte("junk"))
	w, _ := zw.Create("S01W002.hgt")
	w.Write(hgtBytes(3))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	src, err := OpenHGT(path)
	if err != nil {
		t.Fatalf("OpenHGT: %v", err)
	}
	if b := src.Info().Bounds(); b.Min[0] != -2.25 || b.Max[1] != 0.25 {
		t.Errorf("bounds = %v", b)
	}
}

func TestOpenHGT_BadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "N00E000.hgt")
	if err := os.WriteFile(path, make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenHGT(path); err == nil {
		t.Error("expected error for non-square tile")
	}
}
