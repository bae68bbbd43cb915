// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package display

import (
	"fmt"
	"image"
	"log/slog"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/mosaic"
)

// Panel is a monochrome display such as *ssd1306.Dev.
type Panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// StatusPanel shows the fix as text on a small OLED next to the chart.
type StatusPanel struct {
	dev    Panel
	closer func() error

	img   *image1bit.VerticalLSB
	last  ais.Status
	drawn bool
	log   *slog.Logger
}

// addrBus pins every transaction to one address so the display can sit
// somewhere other than the driver's default 0x3C.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error {
	return b.Bus.Tx(b.addr, w, r)
}

// OpenStatusPanel initialises periph and an SSD1306 on the default I2C bus.
func OpenStatusPanel(addr uint16) (*StatusPanel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus: %w", err)
	}
	dev, err := ssd1306.NewI2C(addrBus{Bus: bus, addr: addr}, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to initialize status panel: %w", err)
	}
	p := NewStatusPanel(dev)
	p.closer = func() error {
		dev.Halt()
		return bus.Close()
	}
	p.log.Info("status panel initialized", "addr", fmt.Sprintf("0x%02X", addr))
	if err := p.splash(); err != nil {
		p.log.Warn("splash failed", "err", err)
	}
	return p, nil
}

func NewStatusPanel(dev Panel) *StatusPanel {
	return &StatusPanel{
		dev: dev,
		img: image1bit.NewVerticalLSB(dev.Bounds()),
		log: slog.With("component", "status_panel"),
	}
}

func (p *StatusPanel) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// Present ignores the map and redraws only when the status changed.
func (p *StatusPanel) Present(_ mosaic.View, _ []image.Rectangle, _ bool, status ais.Status) error {
	if p.drawn && status == p.last {
		return nil
	}
	p.render(status)
	if err := p.dev.Draw(p.dev.Bounds(), p.img, image.Point{}); err != nil {
		return fmt.Errorf("status panel: %w", err)
	}
	p.last = status
	p.drawn = true
	return nil
}

// Lines returns the text rows shown for status.
func Lines(status ais.Status) []string {
	head := validityLabel(status)
	f := status.Fix
	if !f.HasPosition() {
		return []string{head, "Waiting..."}
	}
	lines := []string{
		head,
		fmt.Sprintf("MMSI %d", f.MMSI),
		hemisphere(f.Latitude, "N", "S"),
		hemisphere(f.Longitude, "E", "W"),
	}
	if f.ShipName != "" {
		lines[0] = head + " " + f.ShipName
	}
	return lines
}

func validityLabel(s ais.Status) string {
	if s.State == ais.Connecting {
		return "CONNECTING"
	}
	switch s.Fix.Validity {
	case ais.Valid:
		return "OK"
	case ais.ConnectionButNoData:
		return "NO DATA"
	case ais.ConnectionButCorruptData:
		return "CORRUPT"
	default:
		return "NO LINK"
	}
}

func (p *StatusPanel) clear() {
	for i := range p.img.Pix {
		p.img.Pix[i] = 0
	}
}

func (p *StatusPanel) drawer() *font.Drawer {
	return &font.Drawer{
		Dst:  p.img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
}

func (p *StatusPanel) render(status ais.Status) {
	p.clear()
	d := p.drawer()
	for i, line := range Lines(status) {
		d.Dot = fixed.P(0, 13*(i+1))
		d.DrawString(line)
	}
}

func (p *StatusPanel) splash() error {
	p.clear()
	d := p.drawer()
	d.Dot = fixed.P(10, 26)
	d.DrawString("AIS Chart")
	d.Dot = fixed.P(5, 43)
	d.DrawString("Waiting for")
	d.Dot = fixed.P(25, 56)
	d.DrawString("fix")
	return p.dev.Draw(p.dev.Bounds(), p.img, image.Point{})
}
