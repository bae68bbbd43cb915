// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
)

const publishTimeout = 5 * time.Second

// mqttPublisher is the part of mqtt.Client the fix publisher needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, token.Error())
	}
	slog.Info("connected to MQTT broker", "broker", broker, "client_id", clientID)
	return client, nil
}

// FixPublisher mirrors the ingestor onto MQTT. Both topics are retained so a
// late subscriber sees the latest state at once.
type FixPublisher struct {
	client      mqttPublisher
	fixTopic    string
	statusTopic string

	lastFix    ais.Fix
	lastStatus ais.Status
	published  bool
	log        *slog.Logger
}

func NewFixPublisher(client mqttPublisher, fixTopic, statusTopic string) *FixPublisher {
	return &FixPublisher{
		client:      client,
		fixTopic:    fixTopic,
		statusTopic: statusTopic,
		log:         slog.With("component", "mqtt"),
	}
}

// Run publishes every status the watch channel delivers until ctx ends.
func (p *FixPublisher) Run(ctx context.Context, updates <-chan ais.Status) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-updates:
			if err := p.Publish(s); err != nil {
				p.log.Warn("publish failed", "err", err)
			}
		}
	}
}

// Publish sends the fix when it changed and the status when anything did.
func (p *FixPublisher) Publish(s ais.Status) error {
	if p.published && s == p.lastStatus {
		return nil
	}
	if !p.published || s.Fix != p.lastFix {
		if err := p.send(p.fixTopic, s.Fix); err != nil {
			return err
		}
		p.lastFix = s.Fix
	}
	if err := p.send(p.statusTopic, s); err != nil {
		return err
	}
	p.lastStatus = s
	p.published = true
	p.log.Debug("published", "state", s.State, "validity", s.Fix.Validity)
	return nil
}

func (p *FixPublisher) send(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", topic, err)
	}
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
