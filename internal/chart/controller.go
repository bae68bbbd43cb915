// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package chart drives the map: it decides when the tiles around the vessel
// must be refetched, decodes them into the mosaic, moves the marker and
// hands frames to the displays.
package chart

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"sync/atomic"

	"github.com/relabs-tech/ais_chartplotter/internal/ais"
	"github.com/relabs-tech/ais_chartplotter/internal/display"
	"github.com/relabs-tech/ais_chartplotter/internal/geo"
	"github.com/relabs-tech/ais_chartplotter/internal/metrics"
	"github.com/relabs-tech/ais_chartplotter/internal/mosaic"
	"github.com/relabs-tech/ais_chartplotter/internal/pngstream"
	"github.com/relabs-tech/ais_chartplotter/internal/store"
)

var (
	errIncomplete = errors.New("tile ended before the image was complete")
	errTileSize   = errors.New("tile has the wrong dimensions")
)

type Fetcher interface {
	Fetch(ctx context.Context, addr geo.TileAddress) ([]byte, error)
}

// FixSource is usually an *ais.Ingestor.
type FixSource interface {
	Status() ais.Status
}

type Config struct {
	Zoom            int
	DefaultPosition geo.GeoPoint
	SaveDistance    float64 // metres
	FeedChunk       int     // bytes per decoder Feed; 0 feeds the whole tile
}

// Controller is driven from one goroutine through Start and Tick. SetZoom
// and Refresh may be called from anywhere.
type Controller struct {
	cfg     Config
	mosaic  *mosaic.Mosaic
	fetcher Fetcher
	fixes   FixSource
	store   store.Store
	sinks   []display.Sink
	decoder *pngstream.Decoder

	zoom   atomic.Int32
	forced atomic.Bool

	centre     geo.GeoPoint
	centreZoom int
	rendered   bool

	saved     geo.GeoPoint
	haveSaved bool

	lastStatus ais.Status
	presented  bool

	// Decode target for the pixel callbacks.
	cell     int
	index    int
	finished bool
	width    int
	height   int

	log *slog.Logger
}

// New wires a controller. st may be nil when nothing is persisted.
func New(cfg Config, m *mosaic.Mosaic, f Fetcher, fixes FixSource, st store.Store, sinks ...display.Sink) *Controller {
	c := &Controller{
		cfg:     cfg,
		mosaic:  m,
		fetcher: f,
		fixes:   fixes,
		store:   st,
		sinks:   sinks,
		decoder: pngstream.NewDecoder(),
		log:     slog.With("component", "chart"),
	}
	c.zoom.Store(int32(geo.ClampZoom(cfg.Zoom)))
	c.decoder.OnPixel(func(_, _ int, col color.NRGBA) {
		c.mosaic.WritePixel(c.cell, c.index, col)
		c.index++
	})
	c.decoder.OnFinished(func(w, h int) {
		c.finished = true
		c.width, c.height = w, h
	})
	return c
}

func (c *Controller) Zoom() int {
	return int(c.zoom.Load())
}

// SetZoom clamps z and forces a refresh on the next tick.
func (c *Controller) SetZoom(z int) {
	c.zoom.Store(int32(geo.ClampZoom(z)))
	c.forced.Store(true)
}

// Refresh forces the tiles to be refetched on the next tick.
func (c *Controller) Refresh() {
	c.forced.Store(true)
}

// Start seeds the centre from the store, or the default position, and draws
// the map there with the marker hidden.
func (c *Controller) Start(ctx context.Context) error {
	p := c.cfg.DefaultPosition
	if c.store != nil {
		stored, err := c.store.LastPosition(ctx)
		switch {
		case err == nil:
			p = stored
			c.saved, c.haveSaved = stored, true
			c.log.Info("resuming at stored position", "pos", p)
		case errors.Is(err, store.ErrNotFound):
			c.log.Info("no stored position, using default", "pos", p)
		default:
			c.log.Warn("stored position unreadable, using default", "err", err, "pos", p)
		}
	}
	c.centre = p
	c.centreZoom = c.Zoom()

	c.mosaic.HideMarker()
	c.mosaic.Invalidate()
	c.refresh(ctx, p, c.centreZoom)
	return c.present(c.fixes.Status())
}

// Tick runs one update: refresh the tiles if the vessel left the centre
// tile, move the marker, persist the position and push a frame.
func (c *Controller) Tick(ctx context.Context) error {
	status := c.fixes.Status()
	fix := status.Fix
	zoom := c.Zoom()
	forced := c.forced.Swap(false)

	target := c.centre
	hasFix := fix.Validity == ais.Valid && fix.HasPosition()
	if hasFix {
		target = fix.Position()
	}

	zoomChanged := zoom != c.centreZoom
	if forced || !c.rendered || zoomChanged || geo.TilesDiffer(c.centre, c.centreZoom, target, zoom) {
		if c.refresh(ctx, target, zoom) && zoomChanged && !hasFix {
			// The old marker offset belongs to the previous zoom.
			c.mosaic.HideMarker()
		}
	}

	if hasFix && c.rendered && !geo.TilesDiffer(c.centre, c.centreZoom, target, zoom) {
		c.placeMarker(target, zoom)
		c.persist(ctx, target)
	}
	return c.present(status)
}

func (c *Controller) placeMarker(p geo.GeoPoint, zoom int) {
	before, visible := c.mosaic.Marker()
	if err := c.mosaic.PlaceMarker(geo.PixelOffsetAt(p, zoom), c.mosaic.CenterCell()); err != nil {
		c.log.Error("place marker", "err", err)
		return
	}
	if after, _ := c.mosaic.Marker(); visible && after != before {
		metrics.MarkerMoves.Inc()
	}
}

func (c *Controller) persist(ctx context.Context, p geo.GeoPoint) {
	if c.store == nil {
		return
	}
	if c.haveSaved && geo.DistanceMeters(c.saved, p) < c.cfg.SaveDistance {
		return
	}
	if err := c.store.SavePosition(ctx, p); err != nil {
		c.log.Warn("save position", "err", err)
		return
	}
	c.saved, c.haveSaved = p, true
}

// passOrder lists the centre cell first, then the rest in raster order.
func (c *Controller) passOrder() []int {
	centre := c.mosaic.CenterCell()
	order := make([]int, 0, c.mosaic.Cells())
	order = append(order, centre)
	for cell := 0; cell < c.mosaic.Cells(); cell++ {
		if cell != centre {
			order = append(order, cell)
		}
	}
	return order
}

// refresh fetches and decodes every cell around p. The new tiles become
// visible together, and only if the centre tile made it. Each tile is
// fetched at most once per pass, failures included.
func (c *Controller) refresh(ctx context.Context, p geo.GeoPoint, zoom int) bool {
	centreTile := geo.Project(p, zoom)
	centreCell := c.mosaic.CenterCell()
	cpos := c.mosaic.CellPos(centreCell)
	log := c.log.With("centre", centreTile.String())

	bodies := make(map[geo.TileAddress][]byte)
	failed := make(map[geo.TileAddress]error)

	fail := func() bool {
		c.mosaic.CancelPass()
		metrics.RefreshPasses.WithLabelValues("failed").Inc()
		log.Warn("refresh pass failed, keeping previous tiles")
		return false
	}

	c.mosaic.BeginPass()
	for _, cell := range c.passOrder() {
		if ctx.Err() != nil {
			return fail()
		}
		pos := c.mosaic.CellPos(cell)
		addr := centreTile.Neighbor(pos.X-cpos.X, pos.Y-cpos.Y)

		if !addr.Valid() {
			// Beyond the poles: show plain background.
			c.mosaic.BeginTile(cell)
			c.mosaic.CommitTile(cell)
			continue
		}

		if !c.fillCell(ctx, log, cell, addr, bodies, failed) && cell == centreCell {
			// Nothing from this pass can be shown without the centre.
			return fail()
		}
	}

	committed := c.mosaic.EndPass()
	outcome := "complete"
	if len(committed) < c.mosaic.Cells() {
		outcome = "partial"
	}
	metrics.RefreshPasses.WithLabelValues(outcome).Inc()
	log.Info("map refreshed", "zoom", zoom, "cells", len(committed), "outcome", outcome)

	c.centre = p
	c.centreZoom = zoom
	c.rendered = true
	return true
}

// fillCell decodes addr into cell, fetching it unless this pass already
// has its body or its failure.
func (c *Controller) fillCell(ctx context.Context, log *slog.Logger, cell int, addr geo.TileAddress,
	bodies map[geo.TileAddress][]byte, failed map[geo.TileAddress]error) bool {
	if _, ok := failed[addr]; ok {
		return false
	}
	body, ok := bodies[addr]
	if !ok {
		var err error
		body, err = c.fetcher.Fetch(ctx, addr)
		if err != nil {
			failed[addr] = err
			log.Warn("tile fetch failed", "tile", addr.String(), "err", err)
			return false
		}
		bodies[addr] = body
	}

	if err := c.decodeInto(cell, body); err != nil {
		failed[addr] = err
		metrics.TileDecodeErrors.Inc()
		log.Warn("tile decode failed", "tile", addr.String(), "err", err)
		return false
	}
	return true
}

// decodeInto streams body through the decoder into cell's back buffer and
// commits it when a full tile came out.
func (c *Controller) decodeInto(cell int, body []byte) error {
	c.decoder.Reset()
	defer c.decoder.Reset()
	if err := c.mosaic.BeginTile(cell); err != nil {
		return err
	}
	c.cell, c.index, c.finished = cell, 0, false

	chunk := c.cfg.FeedChunk
	if chunk <= 0 {
		chunk = len(body)
	}
	for off := 0; off < len(body) && !c.finished; off += chunk {
		if err := c.decoder.Feed(body[off:min(off+chunk, len(body))]); err != nil {
			c.mosaic.AbandonTile(cell)
			return err
		}
	}
	if !c.finished {
		c.mosaic.AbandonTile(cell)
		return errIncomplete
	}
	if c.width != geo.TileSize || c.height != geo.TileSize {
		c.mosaic.AbandonTile(cell)
		return fmt.Errorf("%w: %dx%d", errTileSize, c.width, c.height)
	}
	return c.mosaic.CommitTile(cell)
}

// present pushes pending damage and the status to every sink. Nothing is
// sent when neither changed.
func (c *Controller) present(status ais.Status) error {
	damage, full := c.mosaic.TakeDamage()
	if c.presented && !full && len(damage) == 0 && status == c.lastStatus {
		return nil
	}

	view := c.mosaic.Snapshot()
	var errs []error
	for _, s := range c.sinks {
		if err := s.Present(view, damage, full, status); err != nil {
			errs = append(errs, err)
		}
	}
	c.lastStatus = status
	c.presented = true
	if len(errs) > 0 {
		// Repaint everything once the sink recovers.
		c.mosaic.Invalidate()
		return fmt.Errorf("present frame: %w", errors.Join(errs...))
	}
	return nil
}
