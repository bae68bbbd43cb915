package ais

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStreamClientSession(t *testing.T) {
	subs := make(chan string, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read subscription: %v", err)
			return
		}
		subs <- string(msg)

		conn.WriteMessage(websocket.TextMessage, []byte(validMessage))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	in := NewIngestor("test-key", "211234560", time.Minute)
	c := NewStreamClient("ws"+strings.TrimPrefix(srv.URL, "http"), in, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.session(ctx); err != nil {
		t.Fatalf("session: %v", err)
	}

	select {
	case sub := <-subs:
		want := `{"APIKey":"test-key","BoundingBoxes":[[[-90,-180],[90,180]]],"FiltersShipMMSI":["211234560"]}`
		if sub != want {
			t.Fatalf("subscription = %s", sub)
		}
	default:
		t.Fatal("no subscription received")
	}

	fix := in.Current()
	if fix.MMSI != 211234560 || fix.ShipName != "NORDLYS" {
		t.Fatalf("fix = %+v", fix)
	}
	if fix.Validity != NoConnection || in.State() != Disconnected {
		t.Fatalf("after close: validity = %v state = %v", fix.Validity, in.State())
	}
}

func TestStreamClientDialFailure(t *testing.T) {
	in := NewIngestor("k", "211234560", 0)
	c := NewStreamClient("ws://127.0.0.1:1/", in, time.Millisecond)

	if err := c.session(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if in.State() != Disconnected || in.Current().Validity != NoConnection {
		t.Fatalf("state = %v validity = %v", in.State(), in.Current().Validity)
	}
}

func TestStreamClientRunStopsOnCancel(t *testing.T) {
	in := NewIngestor("k", "211234560", 0)
	c := NewStreamClient("ws://127.0.0.1:1/", in, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
