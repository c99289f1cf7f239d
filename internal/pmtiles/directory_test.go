package pmtiles

import (
	"testing"

	"github.com/protomaps/go-pmtiles/pmtiles"
)

func TestOptimizeRunLengths_Empty(t *testing.T) {
	if got := optimizeRunLengths(nil); len(got) != 0 {
		t.Errorf("got %d entries, want 0", len(got))
	}
}

func TestOptimizeRunLengths_SharedData(t *testing.T) {
	entries := []pmtiles.EntryV3{
		{TileID: 5, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 6, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 7, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 8, Offset: 10, Length: 10, RunLength: 1},
	}
	got := optimizeRunLengths(entries)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].TileID != 5 || got[0].RunLength != 3 {
		t.Errorf("first = %+v, want TileID 5 RunLength 3", got[0])
	}
	if got[1].TileID != 8 || got[1].RunLength != 1 {
		t.Errorf("second = %+v, want TileID 8 RunLength 1", got[1])
	}
}

func TestOptimizeRunLengths_GapBreaksRun(t *testing.T) {
	entries := []pmtiles.EntryV3{
		{TileID: 1, Offset: 0, Length: 4, RunLength: 1},
		{TileID: 3, Offset: 0, Length: 4, RunLength: 1},
	}
	if got := optimizeRunLengths(entries); len(got) != 2 {
		t.Errorf("got %d entries, want 2", len(got))
	}
}

func TestOptimizeRunLengths_ContiguousDistinctData(t *testing.T) {
	// Adjacent bytes are distinct tiles, not a run.
	entries := []pmtiles.EntryV3{
		{TileID: 1, Offset: 0, Length: 4, RunLength: 1},
		{TileID: 2, Offset: 4, Length: 4, RunLength: 1},
	}
	if got := optimizeRunLengths(entries); len(got) != 2 {
		t.Errorf("got %d entries, want 2", len(got))
	}
}

func TestBuildDirectory_RoundTrip(t *testing.T) {
	entries := []pmtiles.EntryV3{
		{TileID: 20, Offset: 300, Length: 50, RunLength: 1},
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 200, RunLength: 1},
	}
	root, leaves := buildDirectory(entries)
	if len(leaves) != 0 {
		t.Errorf("small directory produced %d leaf bytes", len(leaves))
	}

	got, err := DeserializeDirectory(root)
	if err != nil {
		t.Fatalf("DeserializeDirectory: %v", err)
	}
	want := []pmtiles.EntryV3{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 200, RunLength: 1},
		{TileID: 20, Offset: 300, Length: 50, RunLength: 1},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDeserializeDirectory_Garbage(t *testing.T) {
	if _, err := DeserializeDirectory([]byte("not gzip")); err == nil {
		t.Error("expected error for non-gzip input")
	}
}
