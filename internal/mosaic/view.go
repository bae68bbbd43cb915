// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mosaic

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Image is the destination type accepted by Compose.
type Image = draw.Image

// View is a read-only picture of the mosaic: the displayed tile per cell and
// the marker.
type View struct {
	cells         []*Buffer
	columns, rows int
	marker        image.Rectangle
	markerVisible bool
	background    color.RGBA
	markerColor   color.RGBA
}

func (v View) Bounds() image.Rectangle {
	return image.Rect(0, 0, v.columns*TileSize, v.rows*TileSize)
}

// Tile returns the displayed buffer of the cell at (col, row) and whether it
// holds a decoded tile.
func (v View) Tile(col, row int) (*Buffer, bool) {
	if col < 0 || row < 0 || col >= v.columns || row >= v.rows {
		return nil, false
	}
	b := v.cells[row*v.columns+col]
	return b, b.ready
}

func (v View) Marker() (image.Rectangle, bool) {
	return v.marker, v.markerVisible
}

// Compose draws the whole view into dst at dst's origin.
func (v View) Compose(dst Image) {
	v.ComposeRegion(dst, v.Bounds())
}

// ComposeRegion redraws only r, typically one damage rectangle.
func (v View) ComposeRegion(dst Image, r image.Rectangle) {
	r = r.Intersect(v.Bounds()).Intersect(dst.Bounds())
	if r.Empty() {
		return
	}

	draw.Draw(dst, r, image.NewUniform(v.background), image.Point{}, draw.Src)
	for i, b := range v.cells {
		if !b.ready {
			continue
		}
		origin := image.Pt(i%v.columns*TileSize, i/v.columns*TileSize)
		cell := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(TileSize, TileSize))}
		clip := cell.Intersect(r)
		if clip.Empty() {
			continue
		}
		draw.Draw(dst, clip, b, clip.Min.Sub(origin), draw.Src)
	}

	if v.markerVisible {
		drawMarker(dst, v.marker, r, v.markerColor)
	}
}

var markerOutline = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// drawMarker paints a filled disc with a light outline inside box, limited
// to clip.
func drawMarker(dst Image, box, clip image.Rectangle, fill color.RGBA) {
	area := box.Intersect(clip)
	if area.Empty() {
		return
	}
	size := box.Dx()
	// Twice the pixel-centre coordinates keeps the maths integral.
	cx, cy := 2*box.Min.X+size, 2*box.Min.Y+size
	outer := size * size
	inner := (size - 4) * (size - 4)
	if size < 6 {
		inner = outer
	}
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			dx, dy := 2*x+1-cx, 2*y+1-cy
			d := dx*dx + dy*dy
			switch {
			case d > outer:
			case d > inner:
				dst.Set(x, y, markerOutline)
			default:
				dst.Set(x, y, fill)
			}
		}
	}
}
