// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/config"
	"github.com/relabs-tech/ais_chartplotter/internal/geo"
	"github.com/relabs-tech/ais_chartplotter/internal/store"
)

// resolveVessel picks the MMSI to track: the configured one wins and is
// remembered, otherwise the stored one is used.
func resolveVessel(ctx context.Context, cfg *config.Config, st store.Store) (string, error) {
	if cfg.AISMMSI != "" {
		if st != nil {
			if err := st.SetVessel(ctx, cfg.AISMMSI); err != nil {
				slog.Warn("failed to remember vessel", "err", err)
			}
		}
		return cfg.AISMMSI, nil
	}
	if st != nil {
		mmsi, err := st.Vessel(ctx)
		switch {
		case err == nil:
			return mmsi, nil
		case !errors.Is(err, store.ErrNotFound):
			slog.Warn("stored vessel unreadable", "err", err)
		}
	}
	if cfg.AISSource == "mock" {
		return "", nil
	}
	return "", errors.New("no vessel to track: set AIS_MMSI")
}

// newSource builds the AIS source named by AIS_SOURCE. centre is where the
// mock vessel circles.
func newSource(cfg *config.Config, in *ais.Ingestor, centre geo.GeoPoint) (ais.Source, error) {
	switch cfg.AISSource {
	case "websocket":
		return ais.NewStreamClient(cfg.AISStreamURL, in, cfg.ReconnectDelay()), nil
	case "nmea":
		return ais.NewNMEASource(cfg.AISSerialPort, cfg.AISBaudRate, in, cfg.ReconnectDelay()), nil
	case "mock":
		return ais.NewMockSource(in, centre, cfg.UpdatePeriod()), nil
	default:
		return nil, fmt.Errorf("unknown AIS source %q", cfg.AISSource)
	}
}

// runSource runs src until ctx ends and logs how it stopped.
func runSource(ctx context.Context, src ais.Source) {
	err := src.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("AIS source stopped", "err", err)
		return
	}
	slog.Info("AIS source stopped")
}
