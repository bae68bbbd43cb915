// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/ais_chartplotter/internal/metrics"
)

// DefaultNoDataTimeout is how long a fresh connection may stay silent before
// it is reported as connected without data.
const DefaultNoDataTimeout = 10 * time.Second

var (
	ErrMalformed   = errors.New("malformed stream message")
	ErrNoMetadata  = errors.New("message has no MetaData object")
	ErrStreamError = errors.New("stream reported an error")
	ErrInvalidMMSI = errors.New("invalid MMSI")
)

// Sender accepts the outbound subscription text.
type Sender interface {
	SendText(msg []byte) error
}

// Ingestor turns stream events into the shared last-fix record. Event
// methods are called by one source goroutine; Current and Status may be
// called from anywhere.
type Ingestor struct {
	mu sync.RWMutex

	fix   Fix
	state ConnState

	apiKey     string
	mmsi       string
	tx         Sender
	conn       uint64 // bumped on every OnConnected
	subscribed bool
	sending    bool

	connectedAt   time.Time
	noDataTimeout time.Duration
	now           func() time.Time

	watchers map[chan Status]struct{}
	log      *slog.Logger
}

func NewIngestor(apiKey, mmsi string, noDataTimeout time.Duration) *Ingestor {
	if noDataTimeout <= 0 {
		noDataTimeout = DefaultNoDataTimeout
	}
	return &Ingestor{
		apiKey:        apiKey,
		mmsi:          mmsi,
		noDataTimeout: noDataTimeout,
		now:           time.Now,
		watchers:      make(map[chan Status]struct{}),
		log:           slog.With("component", "ais"),
	}
}

// Current returns a copy of the last fix.
func (in *Ingestor) Current() Fix {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.fix
}

func (in *Ingestor) State() ConnState {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.state
}

func (in *Ingestor) Status() Status {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return Status{State: in.state, Fix: in.fix}
}

func (in *Ingestor) Vessel() string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.mmsi
}

// Watch returns a channel that always holds the most recent status after a
// change. Intermediate updates are dropped for slow readers.
func (in *Ingestor) Watch() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	in.mu.Lock()
	in.watchers[ch] = struct{}{}
	in.mu.Unlock()

	return ch, func() {
		in.mu.Lock()
		delete(in.watchers, ch)
		in.mu.Unlock()
	}
}

// notify must be called with mu held.
func (in *Ingestor) notify() {
	s := Status{State: in.state, Fix: in.fix}
	for ch := range in.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func (in *Ingestor) OnConnecting() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state = Connecting
	in.log.Info("connecting to AIS stream")
	in.notify()
}

// OnConnected records the new connection and sends the subscription over
// tx. A nil tx means the source needs no subscription.
func (in *Ingestor) OnConnected(tx Sender) error {
	in.mu.Lock()
	in.state = Connected
	in.tx = tx
	in.conn++
	in.subscribed = false
	in.connectedAt = in.now()
	metrics.AISConnected.Set(1)
	in.log.Info("AIS stream connected")
	in.notify()
	in.mu.Unlock()

	return in.subscribe()
}

// subscribe sends the subscription if the current connection still needs
// one. The send runs without mu held, so a stalled socket never blocks
// Current or Status. Only one send is in flight at a time; whoever owns it
// sends again if the connection or the filter changed meanwhile.
func (in *Ingestor) subscribe() error {
	for {
		in.mu.Lock()
		if in.subscribed || in.sending || in.tx == nil || in.state != Connected {
			in.mu.Unlock()
			return nil
		}
		tx, conn, mmsi := in.tx, in.conn, in.mmsi
		in.sending = true
		in.mu.Unlock()

		msg, err := NewSubscription(in.apiKey, mmsi).Marshal()
		if err == nil {
			err = tx.SendText(msg)
		}

		in.mu.Lock()
		in.sending = false
		current := conn == in.conn
		if err == nil && current {
			metrics.AISSubscriptions.Inc()
			in.log.Info("subscription sent", "mmsi", mmsi)
			in.subscribed = mmsi == in.mmsi
		}
		in.mu.Unlock()

		if err != nil && current {
			return fmt.Errorf("send subscription: %w", err)
		}
	}
}

// OnDisconnected drops the connection. Any previous fix is stale from now on.
func (in *Ingestor) OnDisconnected() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.disconnect()
	in.log.Info("AIS stream disconnected")
	in.notify()
}

// OnError is a transport failure and is handled as a disconnect.
func (in *Ingestor) OnError(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.disconnect()
	in.log.Error("AIS stream error", "error", err)
	in.notify()
}

func (in *Ingestor) disconnect() {
	in.state = Disconnected
	in.tx = nil
	in.subscribed = false
	in.fix.Validity = NoConnection
	metrics.AISConnected.Set(0)
}

// OnControlFrame reports a non-data frame such as a ping. It proves the
// link is alive even when no reports arrive.
func (in *Ingestor) OnControlFrame() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.markNoData() {
		in.notify()
	}
}

// CheckNoData downgrades a silent connection once the timeout has passed.
func (in *Ingestor) CheckNoData(now time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state != Connected || now.Sub(in.connectedAt) < in.noDataTimeout {
		return
	}
	if in.markNoData() {
		in.notify()
	}
}

func (in *Ingestor) markNoData() bool {
	if in.state != Connected || in.fix.Validity != NoConnection {
		return false
	}
	in.fix.Validity = ConnectionButNoData
	return true
}

// SetVessel changes the tracked MMSI. While connected the subscription is
// sent again with the new filter.
func (in *Ingestor) SetVessel(mmsi string) error {
	mmsi = strings.TrimSpace(mmsi)
	if err := ValidateMMSI(mmsi); err != nil {
		return err
	}

	in.mu.Lock()
	if mmsi == in.mmsi {
		in.mu.Unlock()
		return nil
	}
	in.mmsi = mmsi
	in.subscribed = false
	if in.state == Connected {
		in.fix.Validity = ConnectionButNoData
	}
	in.notify()
	in.mu.Unlock()

	return in.subscribe()
}

// ValidateMMSI accepts a decimal MMSI of up to nine digits.
func ValidateMMSI(mmsi string) error {
	if mmsi == "" || len(mmsi) > 9 {
		return fmt.Errorf("%w: %q", ErrInvalidMMSI, mmsi)
	}
	n, err := strconv.ParseInt(mmsi, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidMMSI, mmsi)
	}
	return nil
}

// OnMessage parses one stream message. Failures mark the fix corrupt and
// keep the previous position.
func (in *Ingestor) OnMessage(raw []byte) error {
	u, err := parseMessage(raw)

	in.mu.Lock()
	defer in.mu.Unlock()
	defer func() {
		metrics.AISMessages.WithLabelValues(in.fix.Validity.String()).Inc()
		in.notify()
	}()

	if u.shipName != "" {
		in.fix.ShipName = u.shipName
	}
	if u.timeUTC != "" {
		in.fix.TimeUTC = u.timeUTC
	}

	if err != nil {
		in.fix.Validity = ConnectionButCorruptData
		in.log.Warn("corrupt AIS message", "error", err)
		return err
	}

	in.fix.MMSI = u.mmsi
	in.fix.Latitude = u.lat
	in.fix.Longitude = u.lon
	in.fix.Validity = Valid
	in.log.Debug("AIS fix", "mmsi", u.mmsi, "lat", u.lat, "lon", u.lon, "ship", in.fix.ShipName)
	return nil
}

// OnCorrupt reports a message for the tracked vessel that could not be
// decoded before reaching the parser.
func (in *Ingestor) OnCorrupt(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.fix.Validity = ConnectionButCorruptData
	metrics.AISMessages.WithLabelValues(in.fix.Validity.String()).Inc()
	in.log.Warn("corrupt AIS message", "error", err)
	in.notify()
}

// update carries the fields of one message. The optional fields are kept
// even when the position is rejected.
type update struct {
	mmsi     int64
	lat, lon float64
	shipName string
	timeUTC  string
}

func parseMessage(raw []byte) (update, error) {
	var u update

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return u, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	meta, ok := lookup(root, "MetaData").(map[string]any)
	if !ok {
		if msg, ok := lookup(root, "error").(string); ok {
			return u, fmt.Errorf("%w: %s", ErrStreamError, msg)
		}
		return u, ErrNoMetadata
	}

	if s, ok := lookup(meta, "ShipName").(string); ok {
		u.shipName = strings.TrimSpace(s)
	}
	if s, ok := lookup(meta, "time_utc").(string); ok {
		u.timeUTC = strings.TrimSpace(s)
	}

	var errs []error
	mmsi, err := integerField(meta, "MMSI")
	if err != nil {
		errs = append(errs, err)
	} else if mmsi <= 0 || mmsi > 999999999 {
		errs = append(errs, fmt.Errorf("%w: MMSI %d out of range", ErrMalformed, mmsi))
	}
	lat, err := floatField(meta, "latitude")
	if err != nil {
		errs = append(errs, err)
	} else if lat < -90 || lat > 90 {
		errs = append(errs, fmt.Errorf("%w: latitude %v out of range", ErrMalformed, lat))
	}
	lon, err := floatField(meta, "longitude")
	if err != nil {
		errs = append(errs, err)
	} else if lon < -180 || lon > 180 {
		errs = append(errs, fmt.Errorf("%w: longitude %v out of range", ErrMalformed, lon))
	}
	if len(errs) > 0 {
		return u, errors.Join(errs...)
	}

	u.mmsi, u.lat, u.lon = mmsi, lat, lon
	return u, nil
}

// lookup finds key in obj, preferring an exact match and otherwise
// ignoring case.
func lookup(obj map[string]any, key string) any {
	if v, ok := obj[key]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func integerField(obj map[string]any, key string) (int64, error) {
	n, ok := lookup(obj, key).(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %s missing or not a number", ErrMalformed, key)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", ErrMalformed, key)
	}
	return v, nil
}

func floatField(obj map[string]any, key string) (float64, error) {
	n, ok := lookup(obj, key).(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: %s missing or not a number", ErrMalformed, key)
	}
	v, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrMalformed, key)
	}
	return v, nil
}
