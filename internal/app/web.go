// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/metrics"
	"github.com/relabs-tech/ais_chartplotter/internal/mosaic"
	"github.com/relabs-tech/ais_chartplotter/internal/store"
)

// StatusSource is usually an *ais.Ingestor.
type StatusSource interface {
	Status() ais.Status
	Watch() (<-chan ais.Status, func())
	SetVessel(mmsi string) error
}

// Composer is usually a *mosaic.Mosaic.
type Composer interface {
	Bounds() image.Rectangle
	Compose(dst mosaic.Image)
}

// Zoomer is usually a *chart.Controller.
type Zoomer interface {
	Zoom() int
	SetZoom(z int)
}

const wsWriteTimeout = 5 * time.Second

// WebServer serves the status API for phones and laptops on the boat.
type WebServer struct {
	status StatusSource
	mosaic Composer
	zoom   Zoomer
	store  store.Store

	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWebServer wires the handlers. mosaic, zoom and st may be nil; their
// endpoints then answer 404.
func NewWebServer(status StatusSource, m Composer, zoom Zoomer, st store.Store) *WebServer {
	return &WebServer{
		status: status,
		mosaic: m,
		zoom:   zoom,
		store:  st,
		log:    slog.With("component", "web"),
	}
}

func (s *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/fix", s.handleFix)
	mux.HandleFunc("POST /api/vessel", s.handleVessel)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", metrics.Handler())
	if s.mosaic != nil {
		mux.HandleFunc("GET /api/mosaic.png", s.handleMosaic)
	}
	if s.zoom != nil {
		mux.HandleFunc("GET /api/zoom", s.handleGetZoom)
		mux.HandleFunc("POST /api/zoom", s.handleSetZoom)
	}
	return mux
}

// Run serves on addr until ctx ends.
func (s *WebServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "err", err)
	}
}

func (s *WebServer) handleFix(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

type vesselRequest struct {
	MMSI string `json:"mmsi"`
}

func (s *WebServer) handleVessel(w http.ResponseWriter, r *http.Request) {
	var req vesselRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := ais.ValidateMMSI(req.MMSI); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.status.SetVessel(req.MMSI); err != nil {
		// The filter is stored even if the resubscription failed; the next
		// connection sends it.
		s.log.Warn("resubscribe failed", "mmsi", req.MMSI, "err", err)
	}
	if s.store != nil {
		if err := s.store.SetVessel(r.Context(), req.MMSI); err != nil {
			s.log.Warn("failed to remember vessel", "err", err)
		}
	}
	s.log.Info("tracked vessel changed", "mmsi", req.MMSI)
	writeJSON(w, http.StatusOK, req)
}

type zoomBody struct {
	Zoom int `json:"zoom"`
}

func (s *WebServer) handleGetZoom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, zoomBody{Zoom: s.zoom.Zoom()})
}

func (s *WebServer) handleSetZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	s.zoom.SetZoom(req.Zoom)
	writeJSON(w, http.StatusOK, zoomBody{Zoom: s.zoom.Zoom()})
}

// handleMosaic renders the current map. ?scale=0.5 shrinks it.
func (s *WebServer) handleMosaic(w http.ResponseWriter, r *http.Request) {
	scale := 1.0
	if v := r.URL.Query().Get("scale"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1 {
			http.Error(w, "scale must be in (0,1]", http.StatusBadRequest)
			return
		}
		scale = f
	}

	full := image.NewRGBA(s.mosaic.Bounds())
	s.mosaic.Compose(full)

	var out image.Image = full
	if scale != 1 {
		b := full.Bounds()
		dst := image.NewRGBA(image.Rect(0, 0,
			max(1, int(float64(b.Dx())*scale)),
			max(1, int(float64(b.Dy())*scale))))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), full, b, draw.Src, nil)
		out = dst
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, out); err != nil {
		s.log.Warn("png encode error", "err", err)
	}
}

// handleWS pushes the status as JSON whenever it changes, starting with
// the current one.
func (s *WebServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.status.Watch()
	defer cancel()

	// Reads only detect the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st ais.Status) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(st)
	}
	if err := send(s.status.Status()); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case st := <-updates:
			if err := send(st); err != nil {
				s.log.Debug("websocket client gone", "err", err)
				return
			}
		}
	}
}

func webAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}
