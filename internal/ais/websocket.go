// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultStreamURL      = "wss://stream.aisstream.io/v0/stream"
	DefaultReconnectDelay = 5 * time.Second

	writeTimeout = 5 * time.Second
)

// StreamClient keeps a websocket connection to the AIS stream open and
// reconnects after a fixed delay whenever it drops.
type StreamClient struct {
	url            string
	in             *Ingestor
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	log            *slog.Logger
}

func NewStreamClient(url string, in *Ingestor, reconnectDelay time.Duration) *StreamClient {
	if url == "" {
		url = DefaultStreamURL
	}
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &StreamClient{
		url:            url,
		in:             in,
		reconnectDelay: reconnectDelay,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		log: slog.With("component", "ais-stream"),
	}
}

func (c *StreamClient) Run(ctx context.Context) error {
	for {
		if err := c.session(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("stream session ended", "error", err, "retry_in", c.reconnectDelay)
		}
		if err := sleepCtx(ctx, c.reconnectDelay); err != nil {
			return err
		}
	}
}

func (c *StreamClient) session(ctx context.Context) error {
	c.in.OnConnecting()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.in.OnError(err)
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetPingHandler(func(data string) error {
		c.in.OnControlFrame()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	if err := c.in.OnConnected(&wsSender{conn: conn, timeout: writeTimeout}); err != nil {
		c.in.OnError(err)
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go watchNoData(done, c.in)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.in.OnDisconnected()
				return nil
			}
			c.in.OnError(err)
			return err
		}
		switch typ {
		case websocket.TextMessage, websocket.BinaryMessage:
			_ = c.in.OnMessage(data)
		default:
			c.in.OnControlFrame()
		}
	}
}

// wsSender serialises text writes; gorilla allows one concurrent writer.
// Each write gives up after timeout.
type wsSender struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSender) SendText(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}
