// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import (
	"context"
	"encoding/json"
	"time"
)

// Source is anything that feeds stream events into an Ingestor until ctx is
// done: the websocket stream, a serial receiver, or the mock vessel.
type Source interface {
	Run(ctx context.Context) error
}

// MessageTypePositionReport is the stream's name for position reports.
const MessageTypePositionReport = "PositionReport"

type metaData struct {
	MMSI      int64   `json:"MMSI"`
	ShipName  string  `json:"ShipName,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	TimeUTC   string  `json:"time_utc"`
}

type streamMessage struct {
	MessageType string   `json:"MessageType"`
	MetaData    metaData `json:"MetaData"`
}

// encodeReport builds a message in the same shape the websocket stream
// sends, so local sources go through the same parser.
func encodeReport(mmsi int64, lat, lon float64, shipName string, t time.Time) ([]byte, error) {
	return json.Marshal(streamMessage{
		MessageType: MessageTypePositionReport,
		MetaData: metaData{
			MMSI:      mmsi,
			ShipName:  shipName,
			Latitude:  lat,
			Longitude: lon,
			TimeUTC:   t.UTC().String(),
		},
	})
}

// watchNoData runs CheckNoData once a second until done is closed.
func watchNoData(done <-chan struct{}, in *Ingestor) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-t.C:
			in.CheckNoData(now)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
