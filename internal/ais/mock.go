// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/relabs-tech/ais_chartplotter/internal/geo"
)

const (
	mockMMSI     = 211234560
	mockShipName = "MOCK VESSEL"
	mockRadius   = 0.02 // degrees of latitude
	mockPeriod   = 10 * time.Minute
)

// MockSource drives the ingestor with a synthetic vessel circling a centre
// point, for bench use without network or receiver.
type MockSource struct {
	in       *Ingestor
	center   geo.GeoPoint
	interval time.Duration
	start    time.Time
}

func NewMockSource(in *Ingestor, center geo.GeoPoint, interval time.Duration) *MockSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &MockSource{in: in, center: center, interval: interval, start: time.Now()}
}

// Next returns the stream message for time now.
func (m *MockSource) Next(now time.Time) ([]byte, error) {
	mmsi, err := strconv.ParseInt(m.in.Vessel(), 10, 64)
	if err != nil || mmsi <= 0 {
		mmsi = mockMMSI
	}

	angle := 2 * math.Pi * now.Sub(m.start).Seconds() / mockPeriod.Seconds()
	lat := m.center.Latitude + mockRadius*math.Sin(angle)
	lon := m.center.Longitude + mockRadius*math.Cos(angle)/math.Cos(m.center.Latitude*math.Pi/180)
	return encodeReport(mmsi, lat, lon, mockShipName, now)
}

func (m *MockSource) Run(ctx context.Context) error {
	m.in.OnConnecting()
	if err := m.in.OnConnected(nil); err != nil {
		return err
	}
	defer m.in.OnDisconnected()

	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			msg, err := m.Next(now)
			if err != nil {
				m.in.OnCorrupt(err)
				continue
			}
			_ = m.in.OnMessage(msg)
		}
	}
}
