// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import "image/color"

var (
	ColorRed    = color.RGBA{R: 0xe0, G: 0x1b, B: 0x24, A: 0xff}
	ColorOrange = color.RGBA{R: 0xff, G: 0x78, B: 0x00, A: 0xff}
	ColorYellow = color.RGBA{R: 0xf6, G: 0xd3, B: 0x2d, A: 0xff}
	ColorGreen  = color.RGBA{R: 0x33, G: 0xd1, B: 0x7a, A: 0xff}
	ColorBlue   = color.RGBA{R: 0x35, G: 0x84, B: 0xe4, A: 0xff}
)

var validityColors = map[Validity]color.RGBA{
	NoConnection:             ColorRed,
	ConnectionButNoData:      ColorOrange,
	ConnectionButCorruptData: ColorYellow,
	Valid:                    ColorGreen,
}

var stateColors = map[ConnState]color.RGBA{
	Connecting: ColorBlue,
}

// StatusColor maps a transport state and validity to the indicator colour.
// A state entry wins over the validity entry.
func StatusColor(state ConnState, v Validity) color.RGBA {
	if c, ok := stateColors[state]; ok {
		return c
	}
	if c, ok := validityColors[v]; ok {
		return c
	}
	return ColorRed
}

func (s Status) Color() color.RGBA {
	return StatusColor(s.State, s.Fix.Validity)
}
