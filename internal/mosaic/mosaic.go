// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mosaic keeps the on-screen grid of map tiles and the ship marker.
//
// Every cell owns a front buffer, which is what the display sees, and a back
// buffer that receives decoder output. A decoded tile only becomes visible
// when it is committed and its buffers swap. Inside a refresh pass the swaps
// are staged and applied together at EndPass, so the display never shows a
// mix of old and new tiles with a blank centre.
//
// Pixel writes come from a single goroutine and take no lock. Swaps and
// marker updates take the write lock; Compose and Snapshot readers take the
// read lock.
package mosaic

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/relabs-tech/ais_chartplotter/internal/geo"
)

var (
	ErrBadCell   = errors.New("cell outside the mosaic grid")
	ErrNotActive = errors.New("cell is not the active decode target")
)

var (
	DefaultBackground  = color.RGBA{R: 0xaa, G: 0xd3, B: 0xdf, A: 0xff} // OSM water
	DefaultMarkerColor = color.RGBA{R: 0xe0, G: 0x1b, B: 0x24, A: 0xff}
)

type Config struct {
	Columns    int
	Rows       int
	Center     image.Point // cell (column, row) that holds the vessel
	MarkerSize int
	Background color.RGBA
	Marker     color.RGBA
}

func (c Config) Validate() error {
	var errs []error
	if c.Columns < 1 || c.Rows < 1 {
		errs = append(errs, fmt.Errorf("grid %dx%d must have at least one cell", c.Columns, c.Rows))
	}
	if c.Center.X < 0 || c.Center.X >= c.Columns || c.Center.Y < 0 || c.Center.Y >= c.Rows {
		errs = append(errs, fmt.Errorf("center cell %v outside %dx%d grid", c.Center, c.Columns, c.Rows))
	}
	if c.MarkerSize < 1 || c.MarkerSize > TileSize {
		errs = append(errs, fmt.Errorf("marker size %d out of range [1,%d]", c.MarkerSize, TileSize))
	}
	return errors.Join(errs...)
}

type Mosaic struct {
	cfg Config

	mu     sync.RWMutex
	front  []*Buffer
	back   []*Buffer
	damage damage

	marker        image.Rectangle
	markerVisible bool

	// Writer state, owned by the decoding goroutine.
	active int
	inPass bool
	staged []bool
}

// New allocates front and back buffers for every cell up front.
func New(cfg Config) (*Mosaic, error) {
	if cfg.Background == (color.RGBA{}) {
		cfg.Background = DefaultBackground
	}
	if cfg.Marker == (color.RGBA{}) {
		cfg.Marker = DefaultMarkerColor
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mosaic config: %w", err)
	}

	n := cfg.Columns * cfg.Rows
	m := &Mosaic{
		cfg:    cfg,
		front:  make([]*Buffer, n),
		back:   make([]*Buffer, n),
		staged: make([]bool, n),
		active: -1,
	}
	for i := 0; i < n; i++ {
		m.front[i] = newBuffer(cfg.Background)
		m.back[i] = newBuffer(cfg.Background)
	}
	m.damage.bounds = m.Bounds()
	m.damage.invalidateAll()
	return m, nil
}

func (m *Mosaic) Config() Config {
	return m.cfg
}

func (m *Mosaic) Cells() int {
	return len(m.front)
}

// Bounds is the pixel extent of the whole grid.
func (m *Mosaic) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.cfg.Columns*TileSize, m.cfg.Rows*TileSize)
}

// Cell returns the index of the cell at column col, row row.
func (m *Mosaic) Cell(col, row int) int {
	return row*m.cfg.Columns + col
}

// CellPos is the inverse of Cell.
func (m *Mosaic) CellPos(cell int) image.Point {
	return image.Pt(cell%m.cfg.Columns, cell/m.cfg.Columns)
}

func (m *Mosaic) CenterCell() int {
	return m.Cell(m.cfg.Center.X, m.cfg.Center.Y)
}

// CellOrigin is the top-left pixel of a cell.
func (m *Mosaic) CellOrigin(cell int) image.Point {
	p := m.CellPos(cell)
	return image.Pt(p.X*TileSize, p.Y*TileSize)
}

func (m *Mosaic) CellRect(cell int) image.Rectangle {
	o := m.CellOrigin(cell)
	return image.Rect(o.X, o.Y, o.X+TileSize, o.Y+TileSize)
}

func (m *Mosaic) validCell(cell int) bool {
	return cell >= 0 && cell < len(m.front)
}

// BeginPass starts a refresh pass. Commits are held back until EndPass.
func (m *Mosaic) BeginPass() {
	m.inPass = true
	clear(m.staged)
}

// BeginTile makes cell the target of subsequent WritePixel calls. A tile
// that was still being written to is abandoned.
func (m *Mosaic) BeginTile(cell int) error {
	if !m.validCell(cell) {
		return fmt.Errorf("begin tile %d: %w", cell, ErrBadCell)
	}
	m.active = cell
	m.staged[cell] = false
	b := m.back[cell]
	b.ready = false
	b.fill(m.cfg.Background)
	return nil
}

// WritePixel stores one decoded pixel in the active cell's back buffer.
// The index wraps modulo TileSize². Writes to any other cell are dropped.
func (m *Mosaic) WritePixel(cell, index int, c color.NRGBA) {
	if cell != m.active || cell < 0 {
		return
	}
	index %= tilePixels
	if index < 0 {
		index += tilePixels
	}
	m.back[cell].set(index, c, m.cfg.Background)
}

// CommitTile marks the active cell's tile complete. Outside a pass it
// becomes visible immediately.
func (m *Mosaic) CommitTile(cell int) error {
	if !m.validCell(cell) {
		return fmt.Errorf("commit tile %d: %w", cell, ErrBadCell)
	}
	if cell != m.active {
		return fmt.Errorf("commit tile %d: %w", cell, ErrNotActive)
	}
	m.active = -1
	m.back[cell].ready = true

	if m.inPass {
		m.staged[cell] = true
		return nil
	}

	m.mu.Lock()
	m.swap(cell)
	m.mu.Unlock()
	return nil
}

// AbandonTile drops the active tile; the cell keeps showing its old image.
func (m *Mosaic) AbandonTile(cell int) {
	if cell == m.active {
		m.back[cell].ready = false
		m.active = -1
	}
}

// EndPass swaps every staged cell at once and returns the committed cells.
func (m *Mosaic) EndPass() []int {
	if m.active >= 0 {
		m.AbandonTile(m.active)
	}
	var committed []int
	m.mu.Lock()
	for cell, ok := range m.staged {
		if ok {
			m.swap(cell)
			committed = append(committed, cell)
		}
	}
	m.mu.Unlock()
	clear(m.staged)
	m.inPass = false
	return committed
}

// CancelPass ends a pass without swapping anything; every cell keeps the
// tile it showed before BeginPass.
func (m *Mosaic) CancelPass() {
	if m.active >= 0 {
		m.AbandonTile(m.active)
	}
	for cell, ok := range m.staged {
		if ok {
			m.back[cell].ready = false
		}
	}
	clear(m.staged)
	m.inPass = false
}

// swap must be called with mu held.
func (m *Mosaic) swap(cell int) {
	m.front[cell], m.back[cell] = m.back[cell], m.front[cell]
	m.damage.invalidate(m.CellRect(cell))
}

// PlaceMarker centres the marker on offset within the given cell.
func (m *Mosaic) PlaceMarker(offset geo.PixelOffset, cell int) error {
	if !m.validCell(cell) {
		return fmt.Errorf("place marker in %d: %w", cell, ErrBadCell)
	}
	o := m.CellOrigin(cell)
	half := m.cfg.MarkerSize / 2
	tl := image.Pt(o.X+offset.X-half, o.Y+offset.Y-half)
	r := image.Rectangle{Min: tl, Max: tl.Add(image.Pt(m.cfg.MarkerSize, m.cfg.MarkerSize))}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markerVisible && r == m.marker {
		return nil
	}
	if m.markerVisible {
		m.damage.invalidate(m.marker)
	}
	m.marker = r
	m.markerVisible = true
	m.damage.invalidate(r)
	return nil
}

func (m *Mosaic) HideMarker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markerVisible {
		m.damage.invalidate(m.marker)
		m.markerVisible = false
	}
}

// Marker returns the marker rectangle in mosaic pixels.
func (m *Mosaic) Marker() (image.Rectangle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.marker, m.markerVisible
}

// Invalidate requests a repaint of the whole mosaic.
func (m *Mosaic) Invalidate() {
	m.mu.Lock()
	m.damage.invalidateAll()
	m.mu.Unlock()
}

// TakeDamage returns the regions changed since the last call. full means
// the whole mosaic must be repainted and rects is empty.
func (m *Mosaic) TakeDamage() (rects []image.Rectangle, full bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.damage.take()
}

// Snapshot returns a view of the displayed state. The view shares the front
// buffers, so it is only stable on the goroutine that decodes tiles or until
// the next commit; other goroutines should use Compose.
func (m *Mosaic) Snapshot() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

func (m *Mosaic) snapshot() View {
	return View{
		cells:         append([]*Buffer(nil), m.front...),
		columns:       m.cfg.Columns,
		rows:          m.cfg.Rows,
		marker:        m.marker,
		markerVisible: m.markerVisible,
		background:    m.cfg.Background,
		markerColor:   m.cfg.Marker,
	}
}

// Compose draws the displayed state into dst while holding the read lock.
// Safe to call from any goroutine.
func (m *Mosaic) Compose(dst Image) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.snapshot().Compose(dst)
}
