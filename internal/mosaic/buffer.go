// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mosaic

import (
	"image"
	"image/color"

	"github.com/relabs-tech/ais_chartplotter/internal/geo"
)

const (
	TileSize   = geo.TileSize
	tilePixels = TileSize * TileSize
)

// Buffer holds one tile as packed 8-bit RGB. It implements image.Image so it
// can be drawn directly.
type Buffer struct {
	pix   []byte
	ready bool
}

func newBuffer(bg color.RGBA) *Buffer {
	b := &Buffer{pix: make([]byte, 3*tilePixels)}
	b.fill(bg)
	return b
}

func (b *Buffer) fill(c color.RGBA) {
	for i := 0; i < len(b.pix); i += 3 {
		b.pix[i], b.pix[i+1], b.pix[i+2] = c.R, c.G, c.B
	}
}

// set stores c blended over bg at linear index i.
func (b *Buffer) set(i int, c color.NRGBA, bg color.RGBA) {
	o := 3 * i
	switch c.A {
	case 0xff:
		b.pix[o], b.pix[o+1], b.pix[o+2] = c.R, c.G, c.B
	case 0:
		b.pix[o], b.pix[o+1], b.pix[o+2] = bg.R, bg.G, bg.B
	default:
		b.pix[o] = blend(c.R, bg.R, c.A)
		b.pix[o+1] = blend(c.G, bg.G, c.A)
		b.pix[o+2] = blend(c.B, bg.B, c.A)
	}
}

func blend(fg, bg, a uint8) uint8 {
	return uint8((uint32(fg)*uint32(a) + uint32(bg)*(255-uint32(a)) + 127) / 255)
}

// Ready reports whether the buffer holds a completely decoded tile.
func (b *Buffer) Ready() bool {
	return b.ready
}

// RGB returns the stored colour at (x, y) inside the tile.
func (b *Buffer) RGB(x, y int) (r, g, bl uint8) {
	o := 3 * (y*TileSize + x)
	return b.pix[o], b.pix[o+1], b.pix[o+2]
}

func (b *Buffer) ColorModel() color.Model {
	return color.RGBAModel
}

func (b *Buffer) Bounds() image.Rectangle {
	return image.Rect(0, 0, TileSize, TileSize)
}

func (b *Buffer) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= TileSize || y >= TileSize {
		return color.RGBA{}
	}
	r, g, bl := b.RGB(x, y)
	return color.RGBA{R: r, G: g, B: bl, A: 0xff}
}
