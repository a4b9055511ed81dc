// Package render draws diagnostic overlays of a world snapshot: bullets,
// lasers, receivers and the density of the bucket grid. It is a debugging
// aid served by the API, not a game renderer.
package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/fogleman/gg"

	"danmaku/internal/game"
)

// Options controls the overlay.
type Options struct {
	Scale    float64 // output pixels per world unit
	CellSize float64 // bucket grid cell size; 0 hides the grid
	Heatmap  bool    // shade grid cells by bullet count
	Stats    bool    // print tick statistics in the corner
}

// DefaultOptions returns an overlay at native size with the grid visible.
func DefaultOptions(cellSize float64) Options {
	return Options{Scale: 1, CellSize: cellSize, Heatmap: true, Stats: true}
}

// Default palette for styles without a render hint
var palette = []color.RGBA{
	{255, 90, 90, 255},
	{255, 210, 90, 255},
	{90, 200, 255, 255},
	{90, 255, 155, 255},
	{192, 90, 255, 255},
	{240, 240, 240, 255},
}

var (
	background  = color.RGBA{12, 12, 28, 255}
	gridLine    = color.RGBA{30, 30, 45, 255}
	playerColor = color.RGBA{90, 255, 155, 255}
	enemyColor  = color.RGBA{255, 90, 90, 255}
	boxColor    = color.RGBA{255, 210, 90, 255}
)

// Draw renders snap into a new image.
func Draw(snap *game.WorldSnapshot, opts Options) image.Image {
	return draw(snap, opts).Image()
}

// WritePNG renders snap and encodes it as PNG.
func WritePNG(out io.Writer, snap *game.WorldSnapshot, opts Options) error {
	return draw(snap, opts).EncodePNG(out)
}

func draw(snap *game.WorldSnapshot, opts Options) *gg.Context {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	w := int(math.Ceil(float64(snap.Width) * opts.Scale))
	h := int(math.Ceil(float64(snap.Height) * opts.Scale))
	if w <= 0 || h <= 0 {
		w, h = 1, 1
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(background)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	dc.Push()
	dc.Scale(opts.Scale, opts.Scale)
	if opts.CellSize > 0 {
		if opts.Heatmap {
			drawHeatmap(dc, snap, opts.CellSize)
		}
		drawGrid(dc, float64(snap.Width), float64(snap.Height), opts.CellSize)
	}
	drawPools(dc, snap.Pools)
	drawLasers(dc, snap.Lasers)
	drawReceivers(dc, snap.Receivers)
	dc.Pop()

	if opts.Stats {
		drawStats(dc, snap)
	}
	return dc
}

func drawGrid(dc *gg.Context, width, height, cell float64) {
	dc.SetColor(gridLine)
	dc.SetLineWidth(1)
	for x := 0.0; x <= width; x += cell {
		dc.DrawLine(x, 0, x, height)
		dc.Stroke()
	}
	for y := 0.0; y <= height; y += cell {
		dc.DrawLine(0, y, width, y)
		dc.Stroke()
	}
}

// drawHeatmap shades each cell by the number of bullets centered in it.
func drawHeatmap(dc *gg.Context, snap *game.WorldSnapshot, cell float64) {
	cols := int(math.Ceil(float64(snap.Width) / cell))
	rows := int(math.Ceil(float64(snap.Height) / cell))
	if cols <= 0 || rows <= 0 {
		return
	}
	counts := make([]int, cols*rows)
	peak := 0
	for i := range snap.Pools {
		p := &snap.Pools[i]
		if p.Cosmetic {
			continue
		}
		for _, b := range p.Bullets {
			cx := int(float64(b.X) / cell)
			cy := int(float64(b.Y) / cell)
			if cx < 0 || cy < 0 || cx >= cols || cy >= rows {
				continue
			}
			idx := cy*cols + cx
			counts[idx]++
			if counts[idx] > peak {
				peak = counts[idx]
			}
		}
	}
	if peak == 0 {
		return
	}
	for idx, n := range counts {
		if n == 0 {
			continue
		}
		a := uint8(20 + 140*n/peak)
		dc.SetColor(color.NRGBA{255, 60, 30, a})
		dc.DrawRectangle(float64(idx%cols)*cell, float64(idx/cols)*cell, cell, cell)
		dc.Fill()
	}
}

func drawPools(dc *gg.Context, pools []game.PoolSnapshot) {
	for i := range pools {
		p := &pools[i]
		c := parseHexColor(p.Color, palette[i%len(palette)])
		if p.Cosmetic {
			dc.SetColor(color.NRGBA{c.R, c.G, c.B, 90})
		} else {
			dc.SetColor(c)
		}
		for _, b := range p.Bullets {
			r := float64(p.Radius * b.Scale)
			if r < 1 {
				r = 1
			}
			dc.DrawCircle(float64(b.X), float64(b.Y), r)
			dc.Fill()
		}
	}
}

func drawLasers(dc *gg.Context, lasers []game.LaserSnapshot) {
	for _, l := range lasers {
		if len(l.Points) < 2 {
			continue
		}
		c := color.NRGBA{255, 120, 220, 200}
		if l.PlayerOwned {
			c = color.NRGBA{120, 200, 255, 200}
		}
		dc.SetColor(c)
		dc.SetLineWidth(math.Max(1, float64(l.Width)*2))
		dc.MoveTo(float64(l.Points[0].X), float64(l.Points[0].Y))
		for _, pt := range l.Points[1:] {
			dc.LineTo(float64(pt.X), float64(pt.Y))
		}
		dc.Stroke()
	}
}

func drawReceivers(dc *gg.Context, receivers []game.ReceiverState) {
	dc.SetLineWidth(1.5)
	for _, r := range receivers {
		x, y := float64(r.Position.X), float64(r.Position.Y)
		switch r.Kind {
		case game.ReceiverPlayer:
			dc.SetColor(playerColor)
			dc.DrawCircle(x, y, float64(r.Radius))
		case game.ReceiverCollider:
			dc.SetColor(boxColor)
			hx, hy := float64(r.HalfExtents.X), float64(r.HalfExtents.Y)
			dc.DrawRectangle(x-hx, y-hy, 2*hx, 2*hy)
		default:
			dc.SetColor(enemyColor)
			dc.DrawCircle(x, y, float64(r.Radius))
		}
		dc.Stroke()
	}
}

func drawStats(dc *gg.Context, snap *game.WorldSnapshot) {
	s := snap.Stats
	lines := []string{
		fmt.Sprintf("tick %d  t=%.2fs", s.Tick, s.Time),
		fmt.Sprintf("bullets %d  pools %d  lasers %d", s.Bullets, s.Pools, s.Lasers),
		fmt.Sprintf("hits %d  grazes %d  kills %d", s.Hits, s.Grazes, s.Kills),
	}
	dc.SetColor(color.White)
	for i, line := range lines {
		dc.DrawString(line, 6, 14+float64(i)*14)
	}
}

func parseHexColor(hex string, fallback color.RGBA) color.RGBA {
	if len(hex) != 7 || hex[0] != '#' {
		return fallback
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return fallback
	}
	return color.RGBA{r, g, b, 255}
}
