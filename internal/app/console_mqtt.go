// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/config"
)

// RunConsoleMQTT prints the fixes and status published by the producer.
func RunConsoleMQTT() error {
	cfg := config.Get()
	if cfg == nil {
		return errors.New("config not initialised")
	}
	if cfg.MQTTBroker == "" {
		return errors.New("MQTT_BROKER is required for the console")
	}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-console")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	subs := map[string]mqtt.MessageHandler{
		cfg.TopicAISFix: func(_ mqtt.Client, msg mqtt.Message) {
			printFix(os.Stdout, msg.Payload())
		},
		cfg.TopicAISStatus: func(_ mqtt.Client, msg mqtt.Message) {
			printStatus(os.Stdout, msg.Payload())
		},
	}
	for topic, handler := range subs {
		token := client.Subscribe(topic, 0, handler)
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		slog.Info("console: subscribed", "topic", topic)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("console: shutting down")
	return nil
}

func printFix(w io.Writer, payload []byte) {
	var f ais.Fix
	if err := json.Unmarshal(payload, &f); err != nil {
		slog.Warn("console: fix unmarshal error", "err", err)
		return
	}
	name := f.ShipName
	if name == "" {
		name = "-"
	}
	fmt.Fprintf(w,
		"[FIX ] mmsi=%09d name=%s lat=%.6f lon=%.6f time=%s validity=%s\n",
		f.MMSI, name, f.Latitude, f.Longitude, f.TimeUTC, f.Validity,
	)
}

func printStatus(w io.Writer, payload []byte) {
	var s ais.Status
	if err := json.Unmarshal(payload, &s); err != nil {
		slog.Warn("console: status unmarshal error", "err", err)
		return
	}
	c := s.Color()
	fmt.Fprintf(w, "[LINK] state=%s validity=%s colour=#%02x%02x%02x\n",
		s.State, s.Fix.Validity, c.R, c.G, c.B)
}
