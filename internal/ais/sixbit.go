// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errUnsupportedType = errors.New("unsupported AIS message type")
	errShortPayload    = errors.New("AIS payload too short")
)

// Coordinates are sent in 1/10000 minute; 91 and 181 mean not available.
const (
	coordScale         = 600000.0
	positionReportBits = 168
	staticPartABits    = 160
)

// payloadBits removes the 6-bit ASCII armour of an AIVDM payload and
// returns one element per bit.
func payloadBits(payload string, fill int) ([]uint8, error) {
	bits := make([]uint8, 0, 6*len(payload))
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		if c < '0' || c > 'w' || (c > 'W' && c < '`') {
			return nil, fmt.Errorf("invalid armour character %q", c)
		}
		v := c - '0'
		if v > 40 {
			v -= 8
		}
		for b := 5; b >= 0; b-- {
			bits = append(bits, v>>b&1)
		}
	}
	if fill < 0 || fill > 5 || fill > len(bits) {
		return nil, fmt.Errorf("invalid fill bit count %d", fill)
	}
	return bits[:len(bits)-fill], nil
}

func uintAt(bits []uint8, start, n int) uint64 {
	var v uint64
	for _, b := range bits[start : start+n] {
		v = v<<1 | uint64(b)
	}
	return v
}

func intAt(bits []uint8, start, n int) int64 {
	v := int64(uintAt(bits, start, n))
	if bits[start] == 1 {
		v -= 1 << n
	}
	return v
}

// textAt decodes n six-bit characters, dropping '@' padding.
func textAt(bits []uint8, start, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		v := byte(uintAt(bits, start+6*i, 6))
		if v < 32 {
			v += 64
		}
		sb.WriteByte(v)
	}
	return strings.TrimSpace(strings.TrimRight(sb.String(), "@"))
}

// report is the subset of an AIS message the chartplotter uses.
type report struct {
	msgType  int
	mmsi     int64
	lat, lon float64
	hasPos   bool
	shipName string
}

func decodeReport(bits []uint8) (report, error) {
	if len(bits) < 38 {
		return report{}, errShortPayload
	}
	r := report{
		msgType: int(uintAt(bits, 0, 6)),
		mmsi:    int64(uintAt(bits, 8, 30)),
	}

	var lonAt, latAt int
	switch r.msgType {
	case 1, 2, 3:
		lonAt, latAt = 61, 89
	case 18:
		lonAt, latAt = 57, 85
	case 24:
		if len(bits) < 40 {
			return r, errShortPayload
		}
		if uintAt(bits, 38, 2) != 0 {
			return r, errUnsupportedType // part B carries no name
		}
		if len(bits) < staticPartABits {
			return r, errShortPayload
		}
		r.shipName = textAt(bits, 40, 20)
		return r, nil
	default:
		return r, errUnsupportedType
	}

	if len(bits) < positionReportBits {
		return r, errShortPayload
	}
	lon := intAt(bits, lonAt, 28)
	lat := intAt(bits, latAt, 27)
	// Unavailable coordinates pass through as 91/181 and are rejected by
	// the range checks in the parser.
	r.lon = float64(lon) / coordScale
	r.lat = float64(lat) / coordScale
	r.hasPos = true
	return r, nil
}
