// Package catalog reads and writes the per-source bounds catalog: one row per
// raster file with its EPSG:3857 extent and pixel dimensions.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// FileName is the catalog file inside a source directory.
const FileName = "bounds.csv"

// Header is the expected column order.
var Header = []string{"filename", "left", "bottom", "right", "top", "width", "height"}

// ErrInvalidRecord is returned for rows that cannot describe a raster.
var ErrInvalidRecord = errors.New("invalid bounds record")

// Record describes one source raster. Coordinates are EPSG:3857 metres.
type Record struct {
	Filename string
	Left     float64
	Bottom   float64
	Right    float64
	Top      float64
	Width    int
	Height   int
}

// Bound returns the record's planar extent.
func (r Record) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{r.Left, r.Bottom}, Max: orb.Point{r.Right, r.Top}}
}

// Resolution returns the coarser of the two pixel sizes in metres.
func (r Record) Resolution() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return math.Inf(1)
	}
	return math.Max((r.Right-r.Left)/float64(r.Width), (r.Top-r.Bottom)/float64(r.Height))
}

// Validate checks that the record describes a usable raster.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Filename) == "" {
		return fmt.Errorf("%w: empty filename", ErrInvalidRecord)
	}
	for _, v := range []float64{r.Left, r.Bottom, r.Right, r.Top} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: bounds are not finite", ErrInvalidRecord, r.Filename)
		}
	}
	if r.Left > r.Right || r.Bottom > r.Top {
		return fmt.Errorf("%w: %s: inverted bounds", ErrInvalidRecord, r.Filename)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %s: size %dx%d", ErrInvalidRecord, r.Filename, r.Width, r.Height)
	}
	return nil
}

// Path returns the catalog path for a source inside a source store.
func Path(store, source string) string {
	return filepath.Join(store, source, FileName)
}

// Read parses a bounds catalog. The header row is required; rows are
// returned in file order.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("reading header: empty catalog")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, col := range Header {
		if strings.TrimSpace(strings.ToLower(head[i])) != col {
			return nil, fmt.Errorf("column %d is %q, want %q", i+1, head[i], col)
		}
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadFile reads a bounds catalog from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	records, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func parseRow(row []string) (Record, error) {
	rec := Record{Filename: strings.TrimSpace(row[0])}
	floats := []*float64{&rec.Left, &rec.Bottom, &rec.Right, &rec.Top}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, Header[i+1], err)
		}
		*dst = v
	}
	var err error
	if rec.Width, err = strconv.Atoi(strings.TrimSpace(row[5])); err != nil {
		return Record{}, fmt.Errorf("%w: width: %v", ErrInvalidRecord, err)
	}
	if rec.Height, err = strconv.Atoi(strings.TrimSpace(row[6])); err != nil {
		return Record{}, fmt.Errorf("%w: height: %v", ErrInvalidRecord, err)
	}
	return rec, nil
}

// Write serialises records with the header row. Floats are written with
// the shortest representation that round-trips.
func Write(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Filename,
			strconv.FormatFloat(r.Left, 'g', -1, 64),
			strconv.FormatFloat(r.Bottom, 'g', -1, 64),
			strconv.FormatFloat(r.Right, 'g', -1, 64),
			strconv.FormatFloat(r.Top, 'g', -1, 64),
			strconv.Itoa(r.Width),
			strconv.Itoa(r.Height),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the catalog atomically via a temp file in the same directory.
func WriteFile(path string, records []Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".bounds-*.csv")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	if err := Write(tmp, records); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Union returns the bounding box of all records.
func Union(records []Record) orb.Bound {
	if len(records) == 0 {
		return orb.Bound{}
	}
	b := records[0].Bound()
	for _, r := range records[1:] {
		b = b.Union(r.Bound())
	}
	return b
}
