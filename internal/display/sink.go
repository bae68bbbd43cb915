// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display puts the mosaic and the AIS status on physical outputs.
package display

import (
	"fmt"
	"image"
	"math"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/mosaic"
)

// Sink renders one frame. damage lists the changed regions of the mosaic;
// full means everything changed and damage is empty.
type Sink interface {
	Present(view mosaic.View, damage []image.Rectangle, full bool, status ais.Status) error
}

// statusLine is the one-line vessel label shared by the outputs.
func statusLine(s ais.Status) string {
	f := s.Fix
	name := f.ShipName
	if name == "" && f.HasPosition() {
		name = fmt.Sprintf("MMSI %d", f.MMSI)
	}
	if f.TimeUTC == "" {
		return name
	}
	// The stream sends "2006-01-02 15:04:05.999999999 -0700 MST"; keep
	// the clock part.
	t := f.TimeUTC
	if len(t) >= 19 {
		t = t[11:19] + " UTC"
	}
	if name == "" {
		return t
	}
	return name + "  " + t
}

func hemisphere(v float64, pos, neg string) string {
	if v < 0 {
		return fmt.Sprintf("%.4f%s", math.Abs(v), neg)
	}
	return fmt.Sprintf("%.4f%s", v, pos)
}
