// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/config"
	"github.com/relabs-tech/ais_chartplotter/internal/geo"
	"github.com/relabs-tech/ais_chartplotter/internal/store"
)

// RunAISProducer ingests AIS without any display and publishes the fix and
// the stream status as retained JSON on MQTT.
func RunAISProducer() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required for the AIS producer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- 1) Connect to MQTT broker ----
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-producer")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	// ---- 2) Vessel and AIS source ----
	var st store.Store
	if cfg.StorePath != "" {
		sq, err := store.Open(ctx, cfg.StorePath)
		if err != nil {
			return err
		}
		defer sq.Close()
		st = sq
	}
	mmsi, err := resolveVessel(ctx, cfg, st)
	if err != nil {
		return err
	}
	in := ais.NewIngestor(cfg.AISAPIKey, mmsi, cfg.NoDataTimeout())
	src, err := newSource(cfg, in, geo.GeoPoint{Latitude: cfg.DefaultLatitude, Longitude: cfg.DefaultLongitude})
	if err != nil {
		return err
	}

	// ---- 3) Publish every change ----
	pub := NewFixPublisher(client, cfg.TopicAISFix, cfg.TopicAISStatus)
	updates, cancel := in.Watch()
	defer cancel()
	if err := pub.Publish(in.Status()); err != nil {
		slog.Warn("initial publish failed", "err", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runSource(ctx, src)
	}()

	slog.Info("AIS producer running", "source", cfg.AISSource, "mmsi", mmsi, "topic", cfg.TopicAISFix)
	err = pub.Run(ctx, updates)
	<-done
	if errors.Is(err, context.Canceled) {
		slog.Info("AIS producer shutting down")
		return nil
	}
	return err
}
