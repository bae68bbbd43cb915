// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/chart"
	"github.com/relabs-tech/ais_chartplotter/internal/config"
	"github.com/relabs-tech/ais_chartplotter/internal/display"
	"github.com/relabs-tech/ais_chartplotter/internal/geo"
	"github.com/relabs-tech/ais_chartplotter/internal/mosaic"
	"github.com/relabs-tech/ais_chartplotter/internal/store"
	"github.com/relabs-tech/ais_chartplotter/internal/tiles"
)

// RunChartplotter runs the full pipeline: AIS in, tiles and marker out to
// the framebuffer and status panel, until SIGINT or SIGTERM.
func RunChartplotter() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()

	// ---- 1) Storage ----
	var st store.Store
	if cfg.StorePath != "" {
		sq, err := store.Open(ctx, cfg.StorePath)
		if err != nil {
			return err
		}
		closers = append(closers, sq)
		st = sq
	}

	// ---- 2) AIS ingest ----
	mmsi, err := resolveVessel(ctx, cfg, st)
	if err != nil {
		return err
	}
	in := ais.NewIngestor(cfg.AISAPIKey, mmsi, cfg.NoDataTimeout())
	defaultPos := geo.GeoPoint{Latitude: cfg.DefaultLatitude, Longitude: cfg.DefaultLongitude}
	src, err := newSource(cfg, in, defaultPos)
	if err != nil {
		return err
	}

	// ---- 3) Map ----
	m, err := mosaic.New(mosaic.Config{
		Columns:    cfg.MapColumns,
		Rows:       cfg.MapRows,
		Center:     image.Pt(cfg.MapCenterColumn, cfg.MapCenterRow),
		MarkerSize: cfg.MarkerSize,
	})
	if err != nil {
		return err
	}
	fetcher := tiles.NewFetcher(tiles.NewFastHTTPTransport(cfg.TileUserAgent), cfg.TileURLTemplate, cfg.TileTimeoutDuration())

	// ---- 4) Outputs ----
	var sinks []display.Sink
	if cfg.FramebufferDevice != "" {
		fb, err := display.OpenFramebuffer(cfg.FramebufferDevice)
		if err != nil {
			return err
		}
		closers = append(closers, fb)
		sinks = append(sinks, fb)
	}
	if cfg.StatusPanelI2CAddr != 0 {
		panel, err := display.OpenStatusPanel(cfg.StatusPanelI2CAddr)
		if err != nil {
			return err
		}
		closers = append(closers, panel)
		sinks = append(sinks, panel)
	}
	if len(sinks) == 0 {
		slog.Warn("no display configured, map is only served over the web")
	}

	ctrl := chart.New(chart.Config{
		Zoom:            cfg.MapZoom,
		DefaultPosition: defaultPos,
		SaveDistance:    cfg.PositionSaveDistance,
	}, m, fetcher, in, st, sinks...)

	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	goRun(func() { runSource(ctx, src) })

	if cfg.MQTTBroker != "" {
		client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			// The display works without the broker.
			slog.Warn("MQTT disabled", "err", err)
		} else {
			defer client.Disconnect(250)
			pub := NewFixPublisher(client, cfg.TopicAISFix, cfg.TopicAISStatus)
			updates, cancel := in.Watch()
			defer cancel()
			goRun(func() { pub.Run(ctx, updates) })
		}
	}

	if cfg.WebServerPort != 0 {
		web := NewWebServer(in, m, ctrl, st)
		goRun(func() {
			if err := web.Run(ctx, webAddr(cfg.WebServerPort)); err != nil {
				slog.Error("web server stopped", "err", err)
			}
		})
	}

	// ---- 5) Render loop ----
	if err := ctrl.Start(ctx); err != nil {
		slog.Warn("initial frame", "err", err)
	}
	if err := tickLoop(ctx, cfg.UpdatePeriod(), ctrl); err != nil {
		return fmt.Errorf("render loop: %w", err)
	}
	slog.Info("chartplotter shutting down")
	return nil
}

type ticker interface {
	Tick(ctx context.Context) error
}

// tickLoop drives t every period until ctx ends. Tick errors are logged,
// not fatal.
func tickLoop(ctx context.Context, period time.Duration, t ticker) error {
	tk := time.NewTicker(period)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-tk.C:
			if err := t.Tick(ctx); err != nil {
				slog.Warn("tick", "err", err)
			}
		}
	}
}
