package display

import (
	"errors"
	"image"
	"strings"
	"testing"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/mosaic"
)

// memDevice records framebuffer writes.
type memDevice struct {
	buf     []byte
	writes  int
	written int
	err     error
}

func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	copy(m.buf[off:], p)
	m.writes++
	m.written += len(p)
	return len(p), nil
}

func newMosaic(t *testing.T) *mosaic.Mosaic {
	t.Helper()
	m, err := mosaic.New(mosaic.Config{
		Columns:    4,
		Rows:       2,
		Center:     image.Pt(1, 0),
		MarkerSize: 16,
		Background: mosaic.DefaultBackground,
		Marker:     mosaic.DefaultMarkerColor,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func pixel565(buf []byte, stride, x, y int) uint16 {
	off := y*stride + 2*x
	return uint16(buf[off]) | uint16(buf[off+1])<<8
}

func TestFramebufferFirstPresentWritesEverything(t *testing.T) {
	const w, h = 1024, 512
	dev := &memDevice{buf: make([]byte, w*h*2)}
	fb, err := NewFramebuffer(dev, w, h, w*2, 16)
	if err != nil {
		t.Fatal(err)
	}
	m := newMosaic(t)

	if err := fb.Present(m.Snapshot(), nil, false, ais.Status{}); err != nil {
		t.Fatal(err)
	}
	if dev.written < w*h*2 {
		t.Fatalf("first frame wrote %d bytes, want at least %d", dev.written, w*h*2)
	}

	bg := mosaic.DefaultBackground
	want := rgb565(bg.R, bg.G, bg.B)
	if got := pixel565(dev.buf, w*2, 300, 300); got != want {
		t.Fatalf("background pixel = %#04x, want %#04x", got, want)
	}

	// Disconnected is red.
	dot := fb.dotRect()
	c := dot.Min.Add(image.Pt(dotRadius, dotRadius))
	if got := pixel565(dev.buf, w*2, c.X, c.Y); got != rgb565(ais.ColorRed.R, ais.ColorRed.G, ais.ColorRed.B) {
		t.Fatalf("status dot = %#04x, want red", got)
	}
}

func TestFramebufferWritesOnlyDamage(t *testing.T) {
	const w, h = 1024, 512
	dev := &memDevice{buf: make([]byte, w*h*2)}
	fb, _ := NewFramebuffer(dev, w, h, w*2, 16)
	m := newMosaic(t)
	status := ais.Status{}
	if err := fb.Present(m.Snapshot(), nil, true, status); err != nil {
		t.Fatal(err)
	}

	dev.written, dev.writes = 0, 0
	damage := []image.Rectangle{image.Rect(400, 200, 420, 210)}
	if err := fb.Present(m.Snapshot(), damage, false, status); err != nil {
		t.Fatal(err)
	}
	if dev.writes != 10 || dev.written != 10*20*2 {
		t.Fatalf("writes = %d bytes = %d, want 10 rows of 40 bytes", dev.writes, dev.written)
	}

	dev.written, dev.writes = 0, 0
	if err := fb.Present(m.Snapshot(), nil, false, status); err != nil {
		t.Fatal(err)
	}
	if dev.writes != 0 {
		t.Fatalf("idle frame wrote %d rows", dev.writes)
	}
}

func TestFramebufferRedrawsOverlayOnStatusChange(t *testing.T) {
	const w, h = 1024, 512
	dev := &memDevice{buf: make([]byte, w*h*2)}
	fb, _ := NewFramebuffer(dev, w, h, w*2, 16)
	m := newMosaic(t)
	if err := fb.Present(m.Snapshot(), nil, true, ais.Status{}); err != nil {
		t.Fatal(err)
	}

	status := ais.Status{
		State: ais.Connected,
		Fix: ais.Fix{
			MMSI: 211234560, Latitude: 55.4872, Longitude: 12.5974,
			ShipName: "NORDLYS", TimeUTC: "2026-10-17 12:34:56.789 +0000 UTC",
			Validity: ais.Valid,
		},
	}
	dev.writes = 0
	if err := fb.Present(m.Snapshot(), nil, false, status); err != nil {
		t.Fatal(err)
	}
	if want := 2*dotRadius + labelHeight; dev.writes != want {
		t.Fatalf("overlay rows = %d, want %d", dev.writes, want)
	}
	c := fb.dotRect().Min.Add(image.Pt(dotRadius, dotRadius))
	if got := pixel565(dev.buf, w*2, c.X, c.Y); got != rgb565(ais.ColorGreen.R, ais.ColorGreen.G, ais.ColorGreen.B) {
		t.Fatalf("status dot = %#04x, want green", got)
	}
}

func TestFramebuffer32bpp(t *testing.T) {
	const w, h = 64, 32
	dev := &memDevice{buf: make([]byte, w*h*4)}
	fb, err := NewFramebuffer(dev, w, h, w*4, 32)
	if err != nil {
		t.Fatal(err)
	}
	m := newMosaic(t)
	if err := fb.Present(m.Snapshot(), nil, true, ais.Status{}); err != nil {
		t.Fatal(err)
	}
	bg := mosaic.DefaultBackground
	off := 20*w*4 + 10*4
	got := dev.buf[off : off+4]
	if got[0] != bg.B || got[1] != bg.G || got[2] != bg.R || got[3] != 0xff {
		t.Fatalf("pixel = %v, want BGRX of %v", got, bg)
	}
}

func TestFramebufferRejectsBadGeometry(t *testing.T) {
	dev := &memDevice{}
	if _, err := NewFramebuffer(dev, 100, 100, 200, 24); err == nil {
		t.Fatal("24 bpp accepted")
	}
	if _, err := NewFramebuffer(dev, 100, 100, 100, 16); err == nil {
		t.Fatal("short stride accepted")
	}
}

func TestFramebufferWriteError(t *testing.T) {
	dev := &memDevice{buf: make([]byte, 32*32*2), err: errors.New("gone")}
	fb, _ := NewFramebuffer(dev, 32, 32, 64, 16)
	if err := fb.Present(newMosaic(t).Snapshot(), nil, true, ais.Status{}); err == nil {
		t.Fatal("expected write error")
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name string
		fix  ais.Fix
		want string
	}{
		{"empty", ais.Fix{}, ""},
		{"mmsi only", ais.Fix{MMSI: 211234560, Latitude: 1, Longitude: 2}, "MMSI 211234560"},
		{"name and time", ais.Fix{MMSI: 1, Latitude: 1, ShipName: "NORDLYS", TimeUTC: "2026-10-17 08:01:02.5 +0000 UTC"}, "NORDLYS  08:01:02 UTC"},
		{"short time kept", ais.Fix{TimeUTC: "08:01"}, "08:01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusLine(ais.Status{Fix: tt.fix}); got != tt.want {
				t.Fatalf("statusLine = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakePanel counts draws into a 128x64 monochrome frame.
type fakePanel struct {
	draws int
	last  image.Image
}

func (f *fakePanel) Bounds() image.Rectangle { return image.Rect(0, 0, 128, 64) }

func (f *fakePanel) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	f.draws++
	f.last = src
	return nil
}

func litPixels(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.At(x, y) == image1bit.On {
				n++
			}
		}
	}
	return n
}

func TestStatusPanelRedrawsOnlyOnChange(t *testing.T) {
	dev := &fakePanel{}
	p := NewStatusPanel(dev)
	view := newMosaic(t).Snapshot()

	s := ais.Status{State: ais.Connected, Fix: ais.Fix{Validity: ais.ConnectionButNoData}}
	for i := 0; i < 3; i++ {
		if err := p.Present(view, nil, false, s); err != nil {
			t.Fatal(err)
		}
	}
	if dev.draws != 1 {
		t.Fatalf("draws = %d, want 1", dev.draws)
	}
	if litPixels(dev.last) == 0 {
		t.Fatal("panel is blank")
	}

	s.Fix = ais.Fix{MMSI: 211234560, Latitude: -33.9, Longitude: 18.4, Validity: ais.Valid}
	if err := p.Present(view, nil, false, s); err != nil {
		t.Fatal(err)
	}
	if dev.draws != 2 {
		t.Fatalf("draws = %d, want 2", dev.draws)
	}
}

func TestStatusPanelLines(t *testing.T) {
	got := Lines(ais.Status{
		State: ais.Connected,
		Fix:   ais.Fix{MMSI: 211234560, Latitude: -33.9249, Longitude: -18.4241, Validity: ais.Valid, ShipName: "NORDLYS"},
	})
	want := []string{"OK NORDLYS", "MMSI 211234560", "33.9249S", "18.4241W"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("lines = %q, want %q", got, want)
	}

	got = Lines(ais.Status{State: ais.Connecting})
	if got[0] != "CONNECTING" || got[1] != "Waiting..." {
		t.Fatalf("connecting lines = %q", got)
	}
}

func TestAddrBusRewritesAddress(t *testing.T) {
	bus := &recordingBus{}
	b := addrBus{Bus: bus, addr: 0x3D}
	if err := b.Tx(0x3C, []byte{0}, nil); err != nil {
		t.Fatal(err)
	}
	if bus.addr != 0x3D {
		t.Fatalf("addr = %#x, want 0x3D", bus.addr)
	}
}

type recordingBus struct {
	i2c.Bus
	addr uint16
}

func (b *recordingBus) Tx(addr uint16, w, r []byte) error {
	b.addr = addr
	return nil
}
