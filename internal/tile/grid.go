package tile

import (
	"math"
	"sync"
)

// ElevationGrid is a square grid of elevations in metres, row-major. NaN
// marks a cell no source covers; a defined cell is never zero by default.
type ElevationGrid struct {
	Size    int
	Values  []float64
	defined int
}

// NewElevationGrid returns a size x size grid with every cell undefined.
func NewElevationGrid(size int) *ElevationGrid {
	values := getValues(size * size)
	nan := math.NaN()
	for i := range values {
		values[i] = nan
	}
	return &ElevationGrid{Size: size, Values: values}
}

// At returns the value at column x, row y.
func (g *ElevationGrid) At(x, y int) float64 {
	return g.Values[y*g.Size+x]
}

// Set stores v at column x, row y. NaN clears the cell.
func (g *ElevationGrid) Set(x, y int, v float64) {
	i := y*g.Size + x
	was := !math.IsNaN(g.Values[i])
	now := !math.IsNaN(v)
	switch {
	case now && !was:
		g.defined++
	case was && !now:
		g.defined--
	}
	g.Values[i] = v
}

// Defined returns the number of defined cells.
func (g *ElevationGrid) Defined() int { return g.defined }

// Empty reports whether no cell is defined.
func (g *ElevationGrid) Empty() bool { return g.defined == 0 }

// Full reports whether every cell is defined.
func (g *ElevationGrid) Full() bool { return g.defined == len(g.Values) }

// Fill copies src's defined cells into g's undefined ones and returns how
// many were filled. Defined cells of g are never overwritten.
func (g *ElevationGrid) Fill(src *ElevationGrid) int {
	filled := 0
	for i, v := range src.Values {
		if math.IsNaN(v) || !math.IsNaN(g.Values[i]) {
			continue
		}
		g.Values[i] = v
		filled++
	}
	g.defined += filled
	return filled
}

// Release returns the grid's storage for reuse. The grid must not be used
// afterwards.
func (g *ElevationGrid) Release() {
	putValues(g.Values)
	g.Values = nil
	g.defined = 0
}

// valuePools maps slice length to a *sync.Pool of []float64. Only one or
// two tile sizes exist per run, so the map stays tiny.
var valuePools sync.Map

func getValues(n int) []float64 {
	if p, ok := valuePools.Load(n); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			return *v.(*[]float64)
		}
	}
	return make([]float64, n)
}

func putValues(v []float64) {
	if v == nil {
		return
	}
	p, _ := valuePools.LoadOrStore(len(v), &sync.Pool{})
	p.(*sync.Pool).Put(&v)
}
