// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import (
	"fmt"

	"github.com/relabs-tech/ais_chartplotter/internal/geo"
)

// Validity classifies how far the last stream event can be trusted.
type Validity int

const (
	NoConnection Validity = iota
	ConnectionButNoData
	ConnectionButCorruptData
	Valid
)

var validityNames = [...]string{
	NoConnection:             "NO_CONNECTION",
	ConnectionButNoData:      "CONNECTION_BUT_NO_DATA",
	ConnectionButCorruptData: "CONNECTION_BUT_CORRUPT_DATA",
	Valid:                    "VALID",
}

func (v Validity) String() string {
	if v < 0 || int(v) >= len(validityNames) {
		return fmt.Sprintf("Validity(%d)", int(v))
	}
	return validityNames[v]
}

func (v Validity) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Validity) UnmarshalText(b []byte) error {
	for i, name := range validityNames {
		if name == string(b) {
			*v = Validity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown validity %q", b)
}

// ConnState is the lifecycle of the stream transport.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

var connStateNames = [...]string{
	Disconnected: "DISCONNECTED",
	Connecting:   "CONNECTING",
	Connected:    "CONNECTED",
}

func (s ConnState) String() string {
	if s < 0 || int(s) >= len(connStateNames) {
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
	return connStateNames[s]
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnState) UnmarshalText(b []byte) error {
	for i, name := range connStateNames {
		if name == string(b) {
			*s = ConnState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// Fix is the last known vessel observation, suitable for JSON and MQTT.
type Fix struct {
	MMSI      int64    `json:"mmsi"`
	Latitude  float64  `json:"lat"`                 // decimal degrees
	Longitude float64  `json:"lon"`                 // decimal degrees
	ShipName  string   `json:"ship_name,omitempty"` // trimmed
	TimeUTC   string   `json:"time_utc,omitempty"`  // as sent by the stream
	Validity  Validity `json:"validity"`
}

// HasPosition reports whether a position was ever received.
func (f Fix) HasPosition() bool {
	return f.MMSI != 0
}

func (f Fix) Position() geo.GeoPoint {
	return geo.GeoPoint{Latitude: f.Latitude, Longitude: f.Longitude}
}

// Status couples the transport state with the last fix.
type Status struct {
	State ConnState `json:"state"`
	Fix   Fix       `json:"fix"`
}
