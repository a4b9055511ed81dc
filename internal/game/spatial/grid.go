// Package spatial provides the bucket grid used for broad-phase projectile
// queries.
//
// The grid stores integer indices into the owning pool's dense arrays (not
// pointers) in preallocated per-cell slices, so a full rebuild every tick
// costs one Clear plus one append per live projectile and no allocation once
// the cells have warmed up.
package spatial

import (
	"math"

	"danmaku/internal/game/vmath"
)

// BucketGrid partitions a bounded rectangle into uniform cells.
//
// Positions outside the rectangle are clamped into the border cells, and
// query regions are clamped the same way, so membership stays conservative:
// a point inside a query region is always inside one of the returned cells.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col]).
type BucketGrid struct {
	min, max    vmath.Vec2
	cellSize    float32
	invCellSize float32
	cols, rows  int
	cells       [][]uint32
	scratch     []uint32
	count       int
}

// Span is an inclusive rectangle of cells.
type Span struct {
	MinCol, MaxCol int
	MinRow, MaxRow int
}

// NewBucketGrid creates a grid covering [min, max]. cellSize should be close
// to the typical query diameter; expectedEntries sizes the per-cell buffers.
func NewBucketGrid(min, max vmath.Vec2, cellSize float32, expectedEntries int) *BucketGrid {
	if !(cellSize > 0) {
		cellSize = 64
	}
	w := max.X - min.X
	h := max.Y - min.Y
	cols := int(math.Ceil(float64(w / cellSize)))
	rows := int(math.Ceil(float64(h / cellSize)))

	// Ensure at least 1x1 grid
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]uint32, cols*rows)
	avgPerCell := expectedEntries / len(cells)
	if avgPerCell < 4 {
		avgPerCell = 4
	}
	for i := range cells {
		cells[i] = make([]uint32, 0, avgPerCell)
	}

	return &BucketGrid{
		min:         min,
		max:         max,
		cellSize:    cellSize,
		invCellSize: 1 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]uint32, 0, 64),
	}
}

// Clear resets all cells without deallocating underlying memory.
// This is O(cells), not O(entries).
func (g *BucketGrid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
	g.count = 0
}

// Insert adds index at position p. Indices are appended in call order, so a
// rebuild in index order yields ascending indices within every cell.
func (g *BucketGrid) Insert(index uint32, p vmath.Vec2) {
	col := g.column(p.X)
	row := g.row(p.Y)
	idx := row*g.cols + col
	g.cells[idx] = append(g.cells[idx], index)
	g.count++
}

// SpanOf returns the cells overlapping the AABB [lo, hi].
func (g *BucketGrid) SpanOf(lo, hi vmath.Vec2) Span {
	return Span{
		MinCol: g.column(lo.X),
		MaxCol: g.column(hi.X),
		MinRow: g.row(lo.Y),
		MaxRow: g.row(hi.Y),
	}
}

// Cell returns the indices stored in one cell. The slice is owned by the grid.
func (g *BucketGrid) Cell(col, row int) []uint32 {
	return g.cells[row*g.cols+col]
}

// QueryRegion returns every index whose cell overlaps [lo, hi].
//
// IMPORTANT: The returned slice is reused on subsequent calls.
// Copy the results if you need to persist them.
//
// Candidates are a superset; callers run the exact test per index.
func (g *BucketGrid) QueryRegion(lo, hi vmath.Vec2) []uint32 {
	g.scratch = g.scratch[:0]
	if hi.X < lo.X || hi.Y < lo.Y {
		return g.scratch
	}
	s := g.SpanOf(lo, hi)
	for row := s.MinRow; row <= s.MaxRow; row++ {
		for col := s.MinCol; col <= s.MaxCol; col++ {
			g.scratch = append(g.scratch, g.cells[row*g.cols+col]...)
		}
	}
	return g.scratch
}

// column clamps in float space before converting, so infinities and values
// far outside the bounds never overflow the int conversion.
func (g *BucketGrid) column(x float32) int {
	return clampCell((x-g.min.X)*g.invCellSize, g.cols)
}

func (g *BucketGrid) row(y float32) int {
	return clampCell((y-g.min.Y)*g.invCellSize, g.rows)
}

func clampCell(f float32, n int) int {
	if !(f > 0) { // also catches NaN
		return 0
	}
	if f >= float32(n-1) {
		return n - 1
	}
	return int(f)
}

// Stats returns grid statistics for debugging/profiling.
func (g *BucketGrid) Stats() GridStats {
	var maxInCell, nonEmpty int
	for _, cell := range g.cells {
		count := len(cell)
		if count > maxInCell {
			maxInCell = count
		}
		if count > 0 {
			nonEmpty++
		}
	}

	avgPerCell := 0.0
	if nonEmpty > 0 {
		avgPerCell = float64(g.count) / float64(nonEmpty)
	}

	return GridStats{
		TotalCells:     len(g.cells),
		NonEmptyCells:  nonEmpty,
		TotalEntities:  g.count,
		MaxInCell:      maxInCell,
		AvgPerNonEmpty: avgPerCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	TotalCells     int
	NonEmptyCells  int
	TotalEntities  int
	MaxInCell      int
	AvgPerNonEmpty float64
}

// Dimensions returns the grid dimensions.
func (g *BucketGrid) Dimensions() (cols, rows int, cellSize float32) {
	return g.cols, g.rows, g.cellSize
}

// Bounds returns the rectangle the grid covers.
func (g *BucketGrid) Bounds() (min, max vmath.Vec2) {
	return g.min, g.max
}
