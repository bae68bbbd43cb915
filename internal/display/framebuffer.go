// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package display

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/mosaic"
)

const (
	dotRadius   = 8
	dotMargin   = 6
	labelHeight = 18
)

var (
	labelBackground = color.RGBA{A: 0xff}
	labelText       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// Framebuffer writes the mosaic into a Linux fbdev device. Only damaged
// regions are converted and written.
type Framebuffer struct {
	dev    io.WriterAt
	closer io.Closer
	screen image.Rectangle
	stride int
	bpp    int

	scratch *image.RGBA
	row     []byte

	lastStatus ais.Status
	drawn      bool
	log        *slog.Logger
}

// OpenFramebuffer opens a device such as /dev/fb0 and reads its geometry
// from sysfs.
func OpenFramebuffer(path string) (*Framebuffer, error) {
	sys := filepath.Join("/sys/class/graphics", filepath.Base(path))
	size, err := readSysfs(sys, "virtual_size")
	if err != nil {
		return nil, err
	}
	w, h, ok := strings.Cut(size, ",")
	if !ok {
		return nil, fmt.Errorf("framebuffer %s: bad virtual_size %q", path, size)
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	bpp, err3 := readSysfsInt(sys, "bits_per_pixel")
	stride, err4 := readSysfsInt(sys, "stride")
	if err := firstErr(err1, err2, err3, err4); err != nil {
		return nil, fmt.Errorf("framebuffer %s geometry: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer: %w", err)
	}
	fb, err := NewFramebuffer(f, width, height, stride, bpp)
	if err != nil {
		f.Close()
		return nil, err
	}
	fb.closer = f
	fb.log.Info("framebuffer opened", "device", path, "width", width, "height", height, "bpp", bpp)
	return fb, nil
}

func readSysfs(dir, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("read framebuffer %s: %w", name, err)
	}
	return strings.TrimSpace(string(b)), nil
}

func readSysfsInt(dir, name string) (int, error) {
	s, err := readSysfs(dir, name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// NewFramebuffer wraps an already opened device. bpp must be 16 (RGB565)
// or 32 (XRGB8888).
func NewFramebuffer(dev io.WriterAt, width, height, stride, bpp int) (*Framebuffer, error) {
	if bpp != 16 && bpp != 32 {
		return nil, fmt.Errorf("framebuffer: unsupported depth %d bpp", bpp)
	}
	if width <= 0 || height <= 0 || stride < width*bpp/8 {
		return nil, fmt.Errorf("framebuffer: bad geometry %dx%d stride %d", width, height, stride)
	}
	screen := image.Rect(0, 0, width, height)
	return &Framebuffer{
		dev:     dev,
		screen:  screen,
		stride:  stride,
		bpp:     bpp,
		scratch: image.NewRGBA(screen),
		row:     make([]byte, width*bpp/8),
		log:     slog.With("component", "framebuffer"),
	}, nil
}

func (f *Framebuffer) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

func (f *Framebuffer) dotRect() image.Rectangle {
	x := f.screen.Max.X - dotMargin - 2*dotRadius
	return image.Rect(x, dotMargin, x+2*dotRadius, dotMargin+2*dotRadius)
}

func (f *Framebuffer) labelRect() image.Rectangle {
	return image.Rect(0, f.screen.Max.Y-labelHeight, f.screen.Max.X, f.screen.Max.Y)
}

func (f *Framebuffer) Present(view mosaic.View, damage []image.Rectangle, full bool, status ais.Status) error {
	if full || !f.drawn {
		damage = []image.Rectangle{f.screen}
	}

	var dirty []image.Rectangle
	for _, r := range damage {
		r = r.Intersect(f.screen)
		if r.Empty() {
			continue
		}
		draw.Draw(f.scratch, r, image.Black, image.Point{}, draw.Src)
		view.ComposeRegion(f.scratch, r)
		dirty = append(dirty, r)
	}

	// Overlays sit on top of the map; redraw them when the map under them
	// changed or the status did.
	statusChanged := !f.drawn || status != f.lastStatus
	for _, o := range []image.Rectangle{f.dotRect(), f.labelRect()} {
		if statusChanged || overlaps(o, dirty) {
			view.ComposeRegion(f.scratch, o)
			dirty = append(dirty, o)
		}
	}
	f.drawDot(status)
	f.drawLabel(status)

	for _, r := range dirty {
		if err := f.flush(r); err != nil {
			return err
		}
	}
	f.lastStatus = status
	f.drawn = true
	return nil
}

func overlaps(r image.Rectangle, rects []image.Rectangle) bool {
	for _, d := range rects {
		if r.Overlaps(d) {
			return true
		}
	}
	return false
}

func (f *Framebuffer) drawDot(status ais.Status) {
	c := status.Color()
	r := f.dotRect()
	cx, cy := r.Min.X+dotRadius, r.Min.Y+dotRadius
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= dotRadius*dotRadius {
				f.scratch.SetRGBA(x, y, c)
			}
		}
	}
}

func (f *Framebuffer) drawLabel(status ais.Status) {
	text := statusLine(status)
	if text == "" {
		return
	}
	r := f.labelRect()
	width := font.MeasureString(basicfont.Face7x13, text).Ceil() + 8
	box := image.Rect(r.Min.X, r.Min.Y, min(r.Min.X+width, r.Max.X), r.Max.Y)
	draw.Draw(f.scratch, box, image.NewUniform(labelBackground), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  f.scratch,
		Src:  image.NewUniform(labelText),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(r.Min.X+4, r.Max.Y-4),
	}
	d.DrawString(text)
}

// flush converts r to the device format and writes it row by row.
func (f *Framebuffer) flush(r image.Rectangle) error {
	bytesPP := f.bpp / 8
	n := r.Dx() * bytesPP
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := f.row[:n]
		src := f.scratch.Pix[f.scratch.PixOffset(r.Min.X, y):]
		for i := 0; i < r.Dx(); i++ {
			p := src[4*i : 4*i+4]
			if f.bpp == 16 {
				v := rgb565(p[0], p[1], p[2])
				row[2*i] = byte(v)
				row[2*i+1] = byte(v >> 8)
			} else {
				row[4*i] = p[2]
				row[4*i+1] = p[1]
				row[4*i+2] = p[0]
				row[4*i+3] = 0xff
			}
		}
		off := int64(y*f.stride + r.Min.X*bytesPP)
		if _, err := f.dev.WriteAt(row, off); err != nil {
			return fmt.Errorf("write framebuffer row %d: %w", y, err)
		}
	}
	return nil
}

func rgb565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}
