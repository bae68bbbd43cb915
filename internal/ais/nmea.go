// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ais

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

const (
	DefaultSerialPort = "/dev/ttyUSB0"
	DefaultBaudRate   = 38400
)

// NMEASource reads AIVDM/AIVDO sentences from a local AIS receiver and
// forwards position reports of the tracked vessel to the ingestor.
type NMEASource struct {
	open           func() (io.ReadCloser, error)
	in             *Ingestor
	reconnectDelay time.Duration
	names          map[int64]string
	now            func() time.Time
	log            *slog.Logger
}

func NewNMEASource(portName string, baud uint, in *Ingestor, reconnectDelay time.Duration) *NMEASource {
	if portName == "" {
		portName = DefaultSerialPort
	}
	if baud == 0 {
		baud = DefaultBaudRate
	}
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	return newNMEASource(func() (io.ReadCloser, error) {
		return serial.Open(opts)
	}, in, reconnectDelay)
}

func newNMEASource(open func() (io.ReadCloser, error), in *Ingestor, reconnectDelay time.Duration) *NMEASource {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &NMEASource{
		open:           open,
		in:             in,
		reconnectDelay: reconnectDelay,
		names:          make(map[int64]string),
		now:            time.Now,
		log:            slog.With("component", "ais-nmea"),
	}
}

func (s *NMEASource) Run(ctx context.Context) error {
	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("receiver session ended", "error", err, "retry_in", s.reconnectDelay)
		}
		if err := sleepCtx(ctx, s.reconnectDelay); err != nil {
			return err
		}
	}
}

func (s *NMEASource) session(ctx context.Context) error {
	s.in.OnConnecting()

	port, err := s.open()
	if err != nil {
		err = fmt.Errorf("open AIS receiver: %w", err)
		s.in.OnError(err)
		return err
	}
	defer port.Close()
	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer stop()

	// A serial receiver takes no subscription.
	if err := s.in.OnConnected(nil); err != nil {
		s.in.OnError(err)
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go watchNoData(done, s.in)

	sc := bufio.NewScanner(port)
	for sc.Scan() {
		s.handleLine(sc.Text())
	}

	if ctx.Err() != nil {
		s.in.OnDisconnected()
		return nil
	}
	err = sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.in.OnError(err)
	return err
}

func (s *NMEASource) handleLine(line string) {
	line = strings.TrimSpace(line)
	// AIS sentences are encapsulated and start with '!'
	if !strings.HasPrefix(line, "!") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		// Noise from other vessels is not ours to judge.
		s.log.Debug("NMEA parse error", "error", err, "line", line)
		return
	}
	switch sentence.DataType() {
	case nmea.TypeVDM, nmea.TypeVDO:
	default:
		return
	}
	m, ok := sentence.(nmea.VDMVDO)
	if !ok || m.NumFragments != 1 {
		// Multi-fragment messages (static voyage data) are not decoded.
		return
	}

	r, err := s.decode(m)
	target, _ := strconv.ParseInt(s.in.Vessel(), 10, 64)
	if r.mmsi == 0 || r.mmsi != target {
		return
	}
	if errors.Is(err, errUnsupportedType) {
		return
	}
	if err != nil {
		s.in.OnCorrupt(fmt.Errorf("decode %s: %w", line, err))
		return
	}

	if r.shipName != "" {
		s.names[r.mmsi] = r.shipName
	}
	if !r.hasPos {
		return
	}

	msg, err := encodeReport(r.mmsi, r.lat, r.lon, s.names[r.mmsi], s.now())
	if err != nil {
		s.in.OnCorrupt(err)
		return
	}
	_ = s.in.OnMessage(msg)
}

func (s *NMEASource) decode(m nmea.VDMVDO) (report, error) {
	if len(m.Fields) < 6 {
		return report{}, fmt.Errorf("%w: %d fields", errShortPayload, len(m.Fields))
	}
	fill, err := strconv.Atoi(m.Fields[5])
	if err != nil {
		fill = 0
	}
	bits, err := payloadBits(m.Fields[4], fill)
	if err != nil {
		return report{}, err
	}
	return decodeReport(bits)
}
