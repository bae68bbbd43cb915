// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pngstream decodes PNG images fed in arbitrary chunks and hands
// every decoded pixel to a callback instead of building an image.Image.
//
// Only two scanlines are ever held uncompressed, which keeps the working set
// to the compressed tile plus a few hundred bytes regardless of image size.
// Compressed IDAT data is retained until the IDAT sequence ends; rows are
// then inflated and emitted in raster order.
//
// Usage:
//
//	dec := pngstream.NewDecoder()
//	dec.OnPixel(func(x, y int, c color.NRGBA) { ... })
//	dec.OnFinished(func(w, h int) { ... })
//	for _, chunk := range chunks {
//		if err := dec.Feed(chunk); err != nil { ... }
//	}
//	dec.Reset()
package pngstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image/color"
	"io"

	"github.com/klauspost/compress/zlib"
)

// State of a single image decode.
type State int

const (
	Idle State = iota
	Decoding
	Finished
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Decoding:
		return "decoding"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type (
	PixelFunc    func(x, y int, c color.NRGBA)
	FinishedFunc func(width, height int)
)

// DefaultMaxDimension bounds width and height of accepted images.
const DefaultMaxDimension = 4096

// maxChunkLength bounds a single chunk so a corrupt length field cannot make
// the decoder buffer without limit.
const maxChunkLength = 8 << 20

// ErrNeedsReset is returned by Feed once an image has finished or failed.
var ErrNeedsReset = errors.New("pngstream: decoder must be reset before reuse")

// DecodeError reports a malformed or unsupported stream.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "pngstream: " + e.Reason
}

func decodeErr(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

const pngSignature = "\x89PNG\r\n\x1a\n"

const (
	ctGray      = 0
	ctRGB       = 2
	ctPalette   = 3
	ctGrayAlpha = 4
	ctRGBA      = 6
)

type header struct {
	width, height int
	depth         int
	colorType     int
	bitsPerPixel  int
	bytesPerPixel int // filter unit, at least 1
	rowBytes      int
}

// Decoder is a single-image PNG state machine. Callbacks are registered once
// and survive Reset.
type Decoder struct {
	// MaxDimension overrides DefaultMaxDimension when positive.
	MaxDimension int

	onPixel    PixelFunc
	onFinished FinishedFunc

	state   State
	err     error
	pending []byte

	sigDone    bool
	haveHeader bool
	hdr        header
	palette    []color.NRGBA
	trns       []byte
	idat       []byte
	idatSeen   bool
	idatDone   bool
	pixels     int

	cur, prev []byte
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) OnPixel(fn PixelFunc) {
	d.onPixel = fn
}

func (d *Decoder) OnFinished(fn FinishedFunc) {
	d.onFinished = fn
}

func (d *Decoder) State() State {
	return d.state
}

// Err returns the error that moved the decoder to Failed.
func (d *Decoder) Err() error {
	return d.err
}

// Pixels is the number of pixel callbacks issued since the last Reset.
func (d *Decoder) Pixels() int {
	return d.pixels
}

// Reset returns the decoder to Idle, discarding any partially decoded image.
// Buffers keep their capacity for the next image.
func (d *Decoder) Reset() {
	d.state = Idle
	d.err = nil
	d.pending = d.pending[:0]
	d.sigDone = false
	d.haveHeader = false
	d.hdr = header{}
	d.palette = d.palette[:0]
	d.trns = d.trns[:0]
	d.idat = d.idat[:0]
	d.idatSeen = false
	d.idatDone = false
	d.pixels = 0
}

// Feed pushes the next piece of the PNG stream. Any split is accepted,
// including the whole file at once. Bytes after IEND are ignored.
func (d *Decoder) Feed(p []byte) error {
	switch d.state {
	case Finished, Failed:
		return ErrNeedsReset
	case Idle:
		d.state = Decoding
	}

	buf := p
	if len(d.pending) > 0 {
		d.pending = append(d.pending, p...)
		buf = d.pending
	}

	n, err := d.consume(buf)
	if err != nil {
		d.state = Failed
		d.err = err
		d.pending = d.pending[:0]
		return err
	}
	if d.state == Finished {
		d.pending = d.pending[:0]
		return nil
	}

	d.pending = append(d.pending[:0], buf[n:]...)
	return nil
}

// consume parses every complete chunk in buf and returns how many bytes
// were used.
func (d *Decoder) consume(buf []byte) (int, error) {
	off := 0
	if !d.sigDone {
		if len(buf) < len(pngSignature) {
			if !bytes.HasPrefix([]byte(pngSignature), buf) {
				return 0, decodeErr("not a PNG stream")
			}
			return 0, nil
		}
		if string(buf[:len(pngSignature)]) != pngSignature {
			return 0, decodeErr("not a PNG stream")
		}
		off = len(pngSignature)
		d.sigDone = true
	}

	for d.state == Decoding {
		if len(buf)-off < 8 {
			break
		}
		length := binary.BigEndian.Uint32(buf[off:])
		if length > maxChunkLength {
			return off, decodeErr("chunk length %d too large", length)
		}
		total := 12 + int(length)
		if len(buf)-off < total {
			break
		}

		typ := string(buf[off+4 : off+8])
		data := buf[off+8 : off+8+int(length)]
		want := binary.BigEndian.Uint32(buf[off+8+int(length):])
		if crc32.ChecksumIEEE(buf[off+4:off+8+int(length)]) != want {
			return off, decodeErr("invalid checksum in %s chunk", typ)
		}

		if err := d.chunk(typ, data); err != nil {
			return off, err
		}
		off += total
	}
	return off, nil
}

func (d *Decoder) chunk(typ string, data []byte) error {
	if !d.haveHeader && typ != "IHDR" {
		return decodeErr("%s chunk before IHDR", typ)
	}

	// The image data ends with the first non-IDAT chunk after it.
	if d.idatSeen && !d.idatDone && typ != "IDAT" {
		if err := d.emit(); err != nil {
			return err
		}
		d.idatDone = true
	}

	switch typ {
	case "IHDR":
		if d.haveHeader {
			return decodeErr("duplicate IHDR chunk")
		}
		return d.parseHeader(data)

	case "PLTE":
		if d.idatSeen {
			return decodeErr("PLTE after image data")
		}
		return d.parsePalette(data)

	case "tRNS":
		if d.idatSeen {
			return decodeErr("tRNS after image data")
		}
		return d.parseTransparency(data)

	case "IDAT":
		if d.idatDone {
			return decodeErr("non-consecutive IDAT chunks")
		}
		if d.hdr.colorType == ctPalette && len(d.palette) == 0 {
			return decodeErr("missing PLTE for paletted image")
		}
		d.idatSeen = true
		d.idat = append(d.idat, data...)
		return nil

	case "IEND":
		if !d.idatDone {
			return decodeErr("no image data")
		}
		d.state = Finished
		if d.onFinished != nil {
			d.onFinished(d.hdr.width, d.hdr.height)
		}
		return nil

	default:
		if typ[0]&0x20 == 0 {
			return decodeErr("unsupported critical chunk %q", typ)
		}
		return nil
	}
}

func (d *Decoder) parseHeader(data []byte) error {
	if len(data) != 13 {
		return decodeErr("bad IHDR length %d", len(data))
	}

	maxDim := d.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	w := binary.BigEndian.Uint32(data[0:4])
	h := binary.BigEndian.Uint32(data[4:8])
	if w == 0 || h == 0 {
		return decodeErr("zero image dimension %dx%d", w, h)
	}
	if w > uint32(maxDim) || h > uint32(maxDim) {
		return decodeErr("image %dx%d exceeds %d pixels per side", w, h, maxDim)
	}

	depth, ct := int(data[8]), int(data[9])
	if data[10] != 0 {
		return decodeErr("unknown compression method %d", data[10])
	}
	if data[11] != 0 {
		return decodeErr("unknown filter method %d", data[11])
	}
	switch data[12] {
	case 0:
	case 1:
		return decodeErr("interlaced images are not supported")
	default:
		return decodeErr("unknown interlace method %d", data[12])
	}

	var channels int
	switch ct {
	case ctGray:
		channels = 1
		if depth != 1 && depth != 2 && depth != 4 && depth != 8 && depth != 16 {
			return decodeErr("bad bit depth %d for greyscale", depth)
		}
	case ctPalette:
		channels = 1
		if depth != 1 && depth != 2 && depth != 4 && depth != 8 {
			return decodeErr("bad bit depth %d for paletted image", depth)
		}
	case ctRGB, ctGrayAlpha, ctRGBA:
		channels = map[int]int{ctRGB: 3, ctGrayAlpha: 2, ctRGBA: 4}[ct]
		if depth != 8 && depth != 16 {
			return decodeErr("bad bit depth %d for colour type %d", depth, ct)
		}
	default:
		return decodeErr("unknown colour type %d", ct)
	}

	bits := channels * depth
	d.hdr = header{
		width:         int(w),
		height:        int(h),
		depth:         depth,
		colorType:     ct,
		bitsPerPixel:  bits,
		bytesPerPixel: max(1, bits/8),
		rowBytes:      (int(w)*bits + 7) / 8,
	}
	d.haveHeader = true
	return nil
}

func (d *Decoder) parsePalette(data []byte) error {
	if len(data)%3 != 0 || len(data) == 0 || len(data)/3 > 256 {
		return decodeErr("bad PLTE length %d", len(data))
	}
	n := len(data) / 3
	if d.hdr.colorType == ctPalette && n > 1<<d.hdr.depth {
		return decodeErr("palette of %d entries exceeds bit depth %d", n, d.hdr.depth)
	}
	d.palette = d.palette[:0]
	for i := 0; i < n; i++ {
		d.palette = append(d.palette, color.NRGBA{R: data[3*i], G: data[3*i+1], B: data[3*i+2], A: 0xff})
	}
	return nil
}

func (d *Decoder) parseTransparency(data []byte) error {
	switch d.hdr.colorType {
	case ctPalette:
		if len(data) > len(d.palette) {
			return decodeErr("tRNS has %d entries for %d palette colours", len(data), len(d.palette))
		}
		for i, a := range data {
			d.palette[i].A = a
		}
	case ctGray:
		if len(data) != 2 {
			return decodeErr("bad tRNS length %d for greyscale", len(data))
		}
	case ctRGB:
		if len(data) != 6 {
			return decodeErr("bad tRNS length %d for truecolour", len(data))
		}
	default:
		return decodeErr("tRNS not allowed for colour type %d", d.hdr.colorType)
	}
	d.trns = append(d.trns[:0], data...)
	return nil
}

// emit inflates the collected image data and issues the pixel callbacks row
// by row.
func (d *Decoder) emit() error {
	zr, err := zlib.NewReader(bytes.NewReader(d.idat))
	if err != nil {
		return decodeErr("bad zlib stream: %v", err)
	}
	defer zr.Close()

	n := 1 + d.hdr.rowBytes
	if cap(d.cur) < n {
		d.cur = make([]byte, n)
		d.prev = make([]byte, n)
	}
	cur, prev := d.cur[:n], d.prev[:n]
	clear(prev)

	for y := 0; y < d.hdr.height; y++ {
		if _, err := io.ReadFull(zr, cur); err != nil {
			return decodeErr("image data ends at row %d of %d: %v", y, d.hdr.height, err)
		}
		if err := unfilter(cur[0], cur[1:], prev[1:], d.hdr.bytesPerPixel); err != nil {
			return err
		}
		if err := d.emitRow(y, cur[1:]); err != nil {
			return err
		}
		cur, prev = prev, cur
	}
	return nil
}

func (d *Decoder) emitRow(y int, row []byte) error {
	for x := 0; x < d.hdr.width; x++ {
		c, err := d.pixelAt(row, x)
		if err != nil {
			return err
		}
		d.pixels++
		if d.onPixel != nil {
			d.onPixel(x, y, c)
		}
	}
	return nil
}

// sample returns the x-th sub-byte sample of a packed row.
func sample(row []byte, x, depth int) uint8 {
	bit := x * depth
	shift := 8 - depth - bit%8
	mask := uint8(1<<depth - 1)
	return row[bit/8] >> shift & mask
}

func (d *Decoder) pixelAt(row []byte, x int) (color.NRGBA, error) {
	depth := d.hdr.depth

	switch d.hdr.colorType {
	case ctGray:
		var raw uint16
		var v uint8
		if depth == 16 {
			raw = binary.BigEndian.Uint16(row[2*x:])
			v = uint8(raw >> 8)
		} else {
			s := sample(row, x, depth)
			raw = uint16(s)
			v = s * (0xff / uint8(1<<depth-1))
		}
		a := uint8(0xff)
		if len(d.trns) == 2 && binary.BigEndian.Uint16(d.trns) == raw {
			a = 0
		}
		return color.NRGBA{R: v, G: v, B: v, A: a}, nil

	case ctRGB:
		var r, g, b uint16
		if depth == 16 {
			r = binary.BigEndian.Uint16(row[6*x:])
			g = binary.BigEndian.Uint16(row[6*x+2:])
			b = binary.BigEndian.Uint16(row[6*x+4:])
		} else {
			r, g, b = uint16(row[3*x]), uint16(row[3*x+1]), uint16(row[3*x+2])
		}
		a := uint8(0xff)
		if len(d.trns) == 6 &&
			binary.BigEndian.Uint16(d.trns[0:]) == r &&
			binary.BigEndian.Uint16(d.trns[2:]) == g &&
			binary.BigEndian.Uint16(d.trns[4:]) == b {
			a = 0
		}
		if depth == 16 {
			return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: a}, nil
		}
		return color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: a}, nil

	case ctPalette:
		idx := int(sample(row, x, depth))
		if depth == 8 {
			idx = int(row[x])
		}
		if idx >= len(d.palette) {
			return color.NRGBA{}, decodeErr("palette index %d out of range", idx)
		}
		return d.palette[idx], nil

	case ctGrayAlpha:
		if depth == 16 {
			return color.NRGBA{R: row[4*x], G: row[4*x], B: row[4*x], A: row[4*x+2]}, nil
		}
		return color.NRGBA{R: row[2*x], G: row[2*x], B: row[2*x], A: row[2*x+1]}, nil

	default: // ctRGBA
		if depth == 16 {
			return color.NRGBA{R: row[8*x], G: row[8*x+2], B: row[8*x+4], A: row[8*x+6]}, nil
		}
		return color.NRGBA{R: row[4*x], G: row[4*x+1], B: row[4*x+2], A: row[4*x+3]}, nil
	}
}

// unfilter reverses the per-row filter in place. cdat and pdat are the
// current and previous rows without the filter byte.
func unfilter(filter byte, cdat, pdat []byte, bpp int) error {
	switch filter {
	case 0:
	case 1: // sub
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += cdat[i-bpp]
		}
	case 2: // up
		for i, p := range pdat {
			cdat[i] += p
		}
	case 3: // average
		for i := 0; i < bpp && i < len(cdat); i++ {
			cdat[i] += pdat[i] / 2
		}
		for i := bpp; i < len(cdat); i++ {
			cdat[i] += uint8((int(cdat[i-bpp]) + int(pdat[i])) / 2)
		}
	case 4: // paeth
		for i := range cdat {
			var a, c uint8
			if i >= bpp {
				a, c = cdat[i-bpp], pdat[i-bpp]
			}
			cdat[i] += paeth(a, pdat[i], c)
		}
	default:
		return decodeErr("bad filter type %d", filter)
	}
	return nil
}

func paeth(a, b, c uint8) uint8 {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
