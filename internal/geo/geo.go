// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geo converts geographic positions into Web-Mercator tile
// addresses and sub-tile pixel offsets.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// TileSize is the edge length of a raster tile in pixels.
	TileSize = 256

	MinZoom = 0
	MaxZoom = 20
)

// GeoPoint is a WGS84 position in decimal degrees.
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Point returns the position in orb's [lon, lat] order.
func (p GeoPoint) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%.5f,%.5f", p.Latitude, p.Longitude)
}

// TileAddress identifies one tile of the slippy-map tiling scheme.
type TileAddress struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Zoom int `json:"zoom"`
}

func (a TileAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Zoom, a.X, a.Y)
}

// Valid reports whether the address lies inside the tile grid of its zoom.
func (a TileAddress) Valid() bool {
	if a.Zoom < MinZoom || a.Zoom > MaxZoom {
		return false
	}
	n := 1 << a.Zoom
	return a.X >= 0 && a.X < n && a.Y >= 0 && a.Y < n
}

// Neighbor returns the tile dx columns and dy rows away. Columns wrap
// around the antimeridian; rows are not clamped, so the result may be
// invalid near the poles.
func (a TileAddress) Neighbor(dx, dy int) TileAddress {
	n := 1 << a.Zoom
	x := (a.X + dx) % n
	if x < 0 {
		x += n
	}
	return TileAddress{X: x, Y: a.Y + dy, Zoom: a.Zoom}
}

// Tile converts the address to an orb maptile. Callers must check Valid first.
func (a TileAddress) Tile() maptile.Tile {
	return maptile.New(uint32(a.X), uint32(a.Y), maptile.Zoom(a.Zoom))
}

// Bound is the geographic extent of the tile.
func (a TileAddress) Bound() orb.Bound {
	return a.Tile().Bound()
}

// PixelOffset is the position of a point inside its tile, in pixels.
type PixelOffset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ClampZoom bounds z to [MinZoom, MaxZoom].
func ClampZoom(z int) int {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// fraction returns the continuous tile coordinates of p. Every other
// function in this package derives from it so that the refresh decision and
// the fetch always agree.
func fraction(p GeoPoint, zoom int) (fx, fy float64) {
	zoom = ClampZoom(zoom)
	f := maptile.Fraction(p.Point(), maptile.Zoom(zoom))
	n := float64(int(1) << zoom)

	fx = math.Mod(f[0], n)
	if fx < 0 {
		fx += n
	}

	fy = f[1]
	if fy < 0 {
		fy = 0
	}
	if fy >= n {
		fy = math.Nextafter(n, 0)
	}
	return fx, fy
}

// Project returns the address of the tile containing p.
func Project(p GeoPoint, zoom int) TileAddress {
	fx, fy := fraction(p, zoom)
	return TileAddress{X: int(math.Floor(fx)), Y: int(math.Floor(fy)), Zoom: ClampZoom(zoom)}
}

// PixelOffsetAt returns where p falls inside the tile returned by Project.
// Both components are in [0, TileSize).
func PixelOffsetAt(p GeoPoint, zoom int) PixelOffset {
	fx, fy := fraction(p, zoom)
	return PixelOffset{X: subPixel(fx), Y: subPixel(fy)}
}

func subPixel(f float64) int {
	px := int((f - math.Floor(f)) * TileSize)
	if px < 0 {
		return 0
	}
	if px >= TileSize {
		return TileSize - 1
	}
	return px
}

// TilesDiffer reports whether the two positions land on different tiles.
func TilesDiffer(oldPoint GeoPoint, oldZoom int, newPoint GeoPoint, newZoom int) bool {
	return Project(oldPoint, oldZoom) != Project(newPoint, newZoom)
}

// DistanceMeters is the great-circle distance between a and b.
func DistanceMeters(a, b GeoPoint) float64 {
	const earthRadiusMeters = 6371008.8
	la := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	lb := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return la.Distance(lb).Radians() * earthRadiusMeters
}
