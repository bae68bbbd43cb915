// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store persists the little state that survives a restart: the last
// displayed position and the tracked vessel.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relabs-tech/ais_chartplotter/internal/geo"
)

// ErrNotFound is returned when a value was never saved.
var ErrNotFound = errors.New("store: value not found")

const (
	keyLatitude  = "latitude"
	keyLongitude = "longitude"
	keyVessel    = "vessel_mmsi"
)

type Store interface {
	LastPosition(ctx context.Context) (geo.GeoPoint, error)
	SavePosition(ctx context.Context, p geo.GeoPoint) error
	Vessel(ctx context.Context) (string, error)
	SetVessel(ctx context.Context, mmsi string) error
}

// SQLiteStore keeps settings in a single key/value table.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// One writer; the settings table sees a handful of writes per minute.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		schema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init store %s: %w", path, err)
		}
	}

	s := &SQLiteStore{db: db, log: slog.With("component", "store")}
	s.log.Info("store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) put(ctx context.Context, kv map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for k, v := range kv {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now)
		if err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LastPosition(ctx context.Context) (geo.GeoPoint, error) {
	var p geo.GeoPoint
	lat, err := s.get(ctx, keyLatitude)
	if err != nil {
		return p, err
	}
	lon, err := s.get(ctx, keyLongitude)
	if err != nil {
		return p, err
	}
	if p.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
		return p, fmt.Errorf("stored latitude %q: %w", lat, err)
	}
	if p.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
		return p, fmt.Errorf("stored longitude %q: %w", lon, err)
	}
	return p, nil
}

// SavePosition writes both coordinates in one transaction.
func (s *SQLiteStore) SavePosition(ctx context.Context, p geo.GeoPoint) error {
	err := s.put(ctx, map[string]string{
		keyLatitude:  strconv.FormatFloat(p.Latitude, 'g', -1, 64),
		keyLongitude: strconv.FormatFloat(p.Longitude, 'g', -1, 64),
	})
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	s.log.Debug("position saved", "lat", p.Latitude, "lon", p.Longitude)
	return nil
}

func (s *SQLiteStore) Vessel(ctx context.Context) (string, error) {
	return s.get(ctx, keyVessel)
}

func (s *SQLiteStore) SetVessel(ctx context.Context, mmsi string) error {
	if err := s.put(ctx, map[string]string{keyVessel: mmsi}); err != nil {
		return fmt.Errorf("save vessel: %w", err)
	}
	return nil
}
