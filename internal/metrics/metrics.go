// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tiles
	TileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chartplotter",
		Subsystem: "tiles",
		Name:      "fetches_total",
		Help:      "Tile fetches by result",
	}, []string{"result"})

	TileFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chartplotter",
		Subsystem: "tiles",
		Name:      "fetch_duration_seconds",
		Help:      "Tile fetch latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	TileBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chartplotter",
		Subsystem: "tiles",
		Name:      "bytes_total",
		Help:      "Compressed tile bytes received",
	})

	TileDecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chartplotter",
		Subsystem: "tiles",
		Name:      "decode_errors_total",
		Help:      "Tiles abandoned because the image did not decode",
	})

	// Map
	RefreshPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chartplotter",
		Subsystem: "map",
		Name:      "refresh_passes_total",
		Help:      "Mosaic refresh passes by outcome",
	}, []string{"outcome"})

	MarkerMoves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chartplotter",
		Subsystem: "map",
		Name:      "marker_moves_total",
		Help:      "Marker-only updates without a tile refresh",
	})

	// AIS
	AISMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chartplotter",
		Subsystem: "ais",
		Name:      "messages_total",
		Help:      "AIS stream messages by resulting validity",
	}, []string{"validity"})

	AISConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chartplotter",
		Subsystem: "ais",
		Name:      "connected",
		Help:      "1 while the AIS stream is connected",
	})

	AISSubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chartplotter",
		Subsystem: "ais",
		Name:      "subscriptions_sent_total",
		Help:      "Subscription requests sent to the AIS stream",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
