// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package mosaic

import "image"

// maxDamageRects is the threshold after which pending damage collapses into
// a full repaint.
const maxDamageRects = 16

type damage struct {
	bounds image.Rectangle
	rects  []image.Rectangle
	full   bool
}

// invalidate records r, clipped to the mosaic.
func (d *damage) invalidate(r image.Rectangle) {
	if d.full {
		return
	}
	r = r.Intersect(d.bounds)
	if r.Empty() {
		return
	}
	for _, existing := range d.rects {
		if r.In(existing) {
			return
		}
	}
	d.rects = append(d.rects, r)
	if len(d.rects) > maxDamageRects {
		d.invalidateAll()
	}
}

func (d *damage) invalidateAll() {
	d.full = true
	d.rects = d.rects[:0]
}

// take returns the pending damage and clears it.
func (d *damage) take() ([]image.Rectangle, bool) {
	rects := append([]image.Rectangle(nil), d.rects...)
	full := d.full
	d.rects = d.rects[:0]
	d.full = false
	return rects, full
}
