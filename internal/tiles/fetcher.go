// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/ais_chartplotter/internal/geo"
	"github.com/relabs-tech/ais_chartplotter/internal/metrics"
)

const (
	DefaultURLTemplate = "http://tile.openstreetmap.org/{zoom}/{x}/{y}.png"
	DefaultTimeout     = 5 * time.Second
)

var (
	ErrNetwork     = errors.New("tile transport failed")
	ErrHTTPStatus  = errors.New("tile server returned non-success status")
	ErrTruncated   = errors.New("tile body shorter than declared length")
	ErrInvalidTile = errors.New("tile address outside the tile grid")
)

// FetchError describes a failed tile fetch. Kind is one of the Err*
// sentinels above, so callers can branch with errors.Is.
type FetchError struct {
	Addr   geo.TileAddress
	URL    string
	Kind   error
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrHTTPStatus):
		return fmt.Sprintf("fetch tile %s: http status %d", e.Addr, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch tile %s: %v: %v", e.Addr, e.Kind, e.Err)
	default:
		return fmt.Sprintf("fetch tile %s: %v", e.Addr, e.Kind)
	}
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Response is what a Transport returns for one request. ContentLength is -1
// when the server did not declare one.
type Response struct {
	Status        int
	Body          []byte
	ContentLength int
}

// Transport performs a single bounded GET. An error matching ErrTruncated
// means the body ended before its declared length.
type Transport interface {
	Request(ctx context.Context, url string, timeout time.Duration) (Response, error)
}

// Fetcher downloads raw compressed tiles. It never retries.
type Fetcher struct {
	transport Transport
	template  string
	timeout   time.Duration
	log       *slog.Logger
}

func NewFetcher(transport Transport, urlTemplate string, timeout time.Duration) *Fetcher {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		transport: transport,
		template:  urlTemplate,
		timeout:   timeout,
		log:       slog.With("component", "tiles"),
	}
}

// URL expands the template for addr.
func (f *Fetcher) URL(addr geo.TileAddress) string {
	return strings.NewReplacer(
		"{zoom}", strconv.Itoa(addr.Zoom),
		"{z}", strconv.Itoa(addr.Zoom),
		"{x}", strconv.Itoa(addr.X),
		"{y}", strconv.Itoa(addr.Y),
	).Replace(f.template)
}

// Fetch returns the full response body for addr.
func (f *Fetcher) Fetch(ctx context.Context, addr geo.TileAddress) ([]byte, error) {
	if !addr.Valid() {
		metrics.TileFetches.WithLabelValues("invalid").Inc()
		return nil, &FetchError{Addr: addr, Kind: ErrInvalidTile}
	}

	url := f.URL(addr)
	start := time.Now()
	resp, err := f.transport.Request(ctx, url, f.timeout)
	metrics.TileFetchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrTruncated) {
			metrics.TileFetches.WithLabelValues("truncated").Inc()
			return nil, &FetchError{Addr: addr, URL: url, Kind: ErrTruncated, Err: err}
		}
		metrics.TileFetches.WithLabelValues("network").Inc()
		return nil, &FetchError{Addr: addr, URL: url, Kind: ErrNetwork, Err: err}
	}
	if resp.Status < 200 || resp.Status > 299 {
		metrics.TileFetches.WithLabelValues("http").Inc()
		return nil, &FetchError{Addr: addr, URL: url, Kind: ErrHTTPStatus, Status: resp.Status}
	}
	if resp.ContentLength >= 0 && len(resp.Body) < resp.ContentLength {
		metrics.TileFetches.WithLabelValues("truncated").Inc()
		return nil, &FetchError{
			Addr: addr,
			URL:  url,
			Kind: ErrTruncated,
			Err:  fmt.Errorf("read %d of %d bytes", len(resp.Body), resp.ContentLength),
		}
	}

	metrics.TileFetches.WithLabelValues("ok").Inc()
	metrics.TileBytes.Add(float64(len(resp.Body)))
	f.log.Debug("tile downloaded", "tile", addr.String(), "bytes", len(resp.Body), "elapsed", time.Since(start))
	return resp.Body, nil
}
