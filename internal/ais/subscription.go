// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import "encoding/json"

// Subscription is the one message sent to the stream after connecting.
// Field order and names are part of the stream's wire contract.
type Subscription struct {
	APIKey          string         `json:"APIKey"`
	BoundingBoxes   [][][2]float64 `json:"BoundingBoxes"`
	FiltersShipMMSI []string       `json:"FiltersShipMMSI"`
}

// NewSubscription filters the whole world down to a single vessel.
func NewSubscription(apiKey, mmsi string) Subscription {
	return Subscription{
		APIKey:          apiKey,
		BoundingBoxes:   [][][2]float64{{{-90, -180}, {90, 180}}},
		FiltersShipMMSI: []string{mmsi},
	}
}

func (s Subscription) Marshal() ([]byte, error) {
	return json.Marshal(s)
}
