package ais

import (
	"encoding/json"
	"errors"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	sendFn func(msg []byte) error
	sent   []string
}

func (f *fakeSender) SendText(msg []byte) error {
	f.sent = append(f.sent, string(msg))
	if f.sendFn != nil {
		return f.sendFn(msg)
	}
	return nil
}

const validMessage = `{"MessageType":"PositionReport","MetaData":{"MMSI":211234560,"ShipName":"  NORDLYS  ","latitude":54.1,"longitude":10.2,"time_utc":"2024-05-01 10:00:00 +0000 UTC"}}`

func connected(t *testing.T) (*Ingestor, *fakeSender) {
	t.Helper()
	in := NewIngestor("secret", "211234560", time.Second)
	tx := &fakeSender{}
	if err := in.OnConnected(tx); err != nil {
		t.Fatalf("OnConnected: %v", err)
	}
	return in, tx
}

func TestInitialFixHasNoConnection(t *testing.T) {
	in := NewIngestor("k", "1", 0)
	if got := in.Current().Validity; got != NoConnection {
		t.Fatalf("validity = %v", got)
	}
	if in.State() != Disconnected {
		t.Fatalf("state = %v", in.State())
	}
}

func TestValidMessage(t *testing.T) {
	in, _ := connected(t)
	if err := in.OnMessage([]byte(validMessage)); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}

	fix := in.Current()
	want := Fix{
		MMSI:      211234560,
		Latitude:  54.1,
		Longitude: 10.2,
		ShipName:  "NORDLYS",
		TimeUTC:   "2024-05-01 10:00:00 +0000 UTC",
		Validity:  Valid,
	}
	if fix != want {
		t.Fatalf("fix = %+v, want %+v", fix, want)
	}
}

func TestMetadataKeysAreCaseInsensitive(t *testing.T) {
	in, _ := connected(t)
	msg := `{"metadata":{"mmsi":211234560,"Latitude":1.5,"LONGITUDE":-2.5}}`
	if err := in.OnMessage([]byte(msg)); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	if fix := in.Current(); fix.Validity != Valid || fix.Latitude != 1.5 || fix.Longitude != -2.5 {
		t.Fatalf("fix = %+v", fix)
	}
}

func TestOptionalFieldsDoNotInvalidate(t *testing.T) {
	in, _ := connected(t)
	msg := `{"MetaData":{"MMSI":211234560,"latitude":54.1,"longitude":10.2}}`
	if err := in.OnMessage([]byte(msg)); err != nil {
		t.Fatalf("OnMessage: %v", err)
	}
	if fix := in.Current(); fix.Validity != Valid || fix.ShipName != "" {
		t.Fatalf("fix = %+v", fix)
	}
}

func TestCorruptMessagesKeepPosition(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantErr error
	}{
		{"missing mmsi", `{"MetaData":{"latitude":1,"longitude":2,"ShipName":"X"}}`, ErrMalformed},
		{"string latitude", `{"MetaData":{"MMSI":1,"latitude":"54.1","longitude":2}}`, ErrMalformed},
		{"fractional mmsi", `{"MetaData":{"MMSI":1.5,"latitude":1,"longitude":2}}`, ErrMalformed},
		{"latitude out of range", `{"MetaData":{"MMSI":1,"latitude":91,"longitude":2}}`, ErrMalformed},
		{"no metadata", `{"MessageType":"PositionReport"}`, ErrNoMetadata},
		{"stream error", `{"error":"Api Key Is Not Valid"}`, ErrStreamError},
		{"not json", `hello`, ErrMalformed},
		{"metadata not an object", `{"MetaData":[1,2,3]}`, ErrNoMetadata},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := connected(t)
			if err := in.OnMessage([]byte(validMessage)); err != nil {
				t.Fatal(err)
			}

			err := in.OnMessage([]byte(tt.msg))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			fix := in.Current()
			if fix.Validity != ConnectionButCorruptData {
				t.Fatalf("validity = %v", fix.Validity)
			}
			if fix.MMSI != 211234560 || fix.Latitude != 54.1 || fix.Longitude != 10.2 {
				t.Fatalf("position changed: %+v", fix)
			}
		})
	}
}

func TestCorruptMessageStillUpdatesOptionalFields(t *testing.T) {
	in, _ := connected(t)
	in.OnMessage([]byte(validMessage))
	in.OnMessage([]byte(`{"MetaData":{"ShipName":"NEW NAME","latitude":1}}`))

	fix := in.Current()
	if fix.ShipName != "NEW NAME" || fix.Latitude != 54.1 {
		t.Fatalf("fix = %+v", fix)
	}
}

func TestDisconnectForcesNoConnection(t *testing.T) {
	in, _ := connected(t)
	in.OnMessage([]byte(validMessage))
	in.OnDisconnected()

	fix := in.Current()
	if fix.Validity != NoConnection {
		t.Fatalf("validity = %v, want NO_CONNECTION", fix.Validity)
	}
	if fix.Latitude != 54.1 {
		t.Fatal("disconnect erased the last position")
	}

	in, _ = connected(t)
	in.OnMessage([]byte(validMessage))
	in.OnError(errors.New("tls: bad record"))
	if got := in.Current().Validity; got != NoConnection {
		t.Fatalf("validity after error = %v", got)
	}
	if in.State() != Disconnected {
		t.Fatalf("state after error = %v", in.State())
	}
}

func TestSubscriptionWireFormat(t *testing.T) {
	msg, err := NewSubscription("my-key", "211234560").Marshal()
	if err != nil {
		t.Fatal(err)
	}
	want := `{"APIKey":"my-key","BoundingBoxes":[[[-90,-180],[90,180]]],"FiltersShipMMSI":["211234560"]}`
	if string(msg) != want {
		t.Fatalf("subscription =\n%s\nwant\n%s", msg, want)
	}
}

func TestSubscriptionSentOncePerConnection(t *testing.T) {
	in, tx := connected(t)
	in.OnMessage([]byte(validMessage))
	in.OnControlFrame()
	if len(tx.sent) != 1 {
		t.Fatalf("sent %d subscriptions, want 1", len(tx.sent))
	}
	if in.State() != Connected {
		t.Fatalf("state = %v", in.State())
	}

	in.OnDisconnected()
	tx2 := &fakeSender{}
	in.OnConnected(tx2)
	if len(tx.sent) != 1 || len(tx2.sent) != 1 {
		t.Fatalf("sent %d then %d, want one per connection", len(tx.sent), len(tx2.sent))
	}

	var sub Subscription
	if err := json.Unmarshal([]byte(tx2.sent[0]), &sub); err != nil {
		t.Fatal(err)
	}
	if sub.APIKey != "secret" || len(sub.FiltersShipMMSI) != 1 || sub.FiltersShipMMSI[0] != "211234560" {
		t.Fatalf("subscription = %+v", sub)
	}
}

func TestSubscriptionFailureIsRetriedOnReconnect(t *testing.T) {
	in := NewIngestor("k", "211234560", 0)
	bad := &fakeSender{sendFn: func([]byte) error { return errors.New("broken pipe") }}
	if err := in.OnConnected(bad); err == nil {
		t.Fatal("expected send error")
	}
	in.OnError(errors.New("broken pipe"))

	good := &fakeSender{}
	if err := in.OnConnected(good); err != nil {
		t.Fatal(err)
	}
	if len(good.sent) != 1 {
		t.Fatalf("sent %d on reconnect", len(good.sent))
	}
}

func TestNilSenderSkipsSubscription(t *testing.T) {
	in := NewIngestor("k", "211234560", 0)
	if err := in.OnConnected(nil); err != nil {
		t.Fatal(err)
	}
	if in.State() != Connected {
		t.Fatalf("state = %v", in.State())
	}
}

func TestSetVesselResubscribes(t *testing.T) {
	in, tx := connected(t)
	in.OnMessage([]byte(validMessage))

	if err := in.SetVessel("219000001"); err != nil {
		t.Fatal(err)
	}
	if len(tx.sent) != 2 {
		t.Fatalf("sent %d, want resubscription", len(tx.sent))
	}
	if in.Current().Validity != ConnectionButNoData {
		t.Fatalf("validity = %v after vessel change", in.Current().Validity)
	}

	if err := in.SetVessel("219000001"); err != nil {
		t.Fatal(err)
	}
	if len(tx.sent) != 2 {
		t.Fatal("unchanged vessel caused a resubscription")
	}

	for _, bad := range []string{"", "abc", "1234567890", "-5"} {
		if err := in.SetVessel(bad); !errors.Is(err, ErrInvalidMMSI) {
			t.Fatalf("SetVessel(%q) = %v", bad, err)
		}
	}
}

func TestNoDataAfterControlFrameOrTimeout(t *testing.T) {
	in := NewIngestor("k", "1", 10*time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in.now = func() time.Time { return now }

	in.OnControlFrame()
	if in.Current().Validity != NoConnection {
		t.Fatal("control frame while disconnected changed validity")
	}

	in.OnConnected(&fakeSender{})
	if in.Current().Validity != NoConnection {
		t.Fatal("connecting alone changed validity")
	}
	in.CheckNoData(now.Add(5 * time.Second))
	if in.Current().Validity != NoConnection {
		t.Fatal("timeout fired early")
	}
	in.CheckNoData(now.Add(10 * time.Second))
	if in.Current().Validity != ConnectionButNoData {
		t.Fatalf("validity = %v after timeout", in.Current().Validity)
	}

	in.OnDisconnected()
	in.OnConnected(&fakeSender{})
	in.OnControlFrame()
	if in.Current().Validity != ConnectionButNoData {
		t.Fatalf("validity = %v after ping", in.Current().Validity)
	}

	in.OnMessage([]byte(validMessage))
	in.OnControlFrame()
	in.CheckNoData(now.Add(time.Hour))
	if in.Current().Validity != Valid {
		t.Fatal("ping or timeout downgraded a valid fix")
	}
}

func TestWatchReceivesLatestStatus(t *testing.T) {
	in := NewIngestor("k", "211234560", 0)
	ch, cancel := in.Watch()
	defer cancel()

	in.OnConnecting()
	in.OnConnected(nil)
	in.OnMessage([]byte(validMessage))

	select {
	case s := <-ch:
		if s.State != Connected || s.Fix.Validity != Valid {
			t.Fatalf("status = %+v", s)
		}
	default:
		t.Fatal("no status delivered")
	}
	select {
	case s := <-ch:
		t.Fatalf("stale status left in channel: %+v", s)
	default:
	}
}

func TestStatusColorTable(t *testing.T) {
	tests := []struct {
		state ConnState
		v     Validity
		want  color.RGBA
	}{
		{Disconnected, NoConnection, ColorRed},
		{Connected, ConnectionButNoData, ColorOrange},
		{Connected, ConnectionButCorruptData, ColorYellow},
		{Connected, Valid, ColorGreen},
		{Connecting, NoConnection, ColorBlue},
		{Connecting, Valid, ColorBlue},
		{Connected, Validity(42), ColorRed},
	}
	for _, tt := range tests {
		if got := StatusColor(tt.state, tt.v); got != tt.want {
			t.Errorf("StatusColor(%v, %v) = %v, want %v", tt.state, tt.v, got, tt.want)
		}
	}
}

func TestFixJSON(t *testing.T) {
	b, err := json.Marshal(Fix{MMSI: 1, Latitude: 2, Longitude: 3, Validity: ConnectionButCorruptData})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"mmsi":1,"lat":2,"lon":3,"validity":"CONNECTION_BUT_CORRUPT_DATA"}`
	if string(b) != want {
		t.Fatalf("json = %s, want %s", b, want)
	}

	var s Status
	if err := json.Unmarshal([]byte(`{"state":"CONNECTING","fix":{"validity":"VALID"}}`), &s); err != nil {
		t.Fatal(err)
	}
	if s.State != Connecting || s.Fix.Validity != Valid {
		t.Fatalf("status = %+v", s)
	}
}

// stallSender blocks every send until release is closed.
type stallSender struct {
	mu      sync.Mutex
	sent    []string
	entered chan struct{}
	release chan struct{}
}

func (s *stallSender) SendText(msg []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, string(msg))
	s.mu.Unlock()
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestStalledSubscriptionDoesNotBlockReaders(t *testing.T) {
	in := NewIngestor("k", "211234560", time.Second)
	tx := &stallSender{entered: make(chan struct{}, 4), release: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- in.OnConnected(tx) }()
	<-tx.entered

	got := make(chan Status, 1)
	go func() { got <- in.Status() }()
	select {
	case s := <-got:
		if s.State != Connected {
			t.Fatalf("state = %v during send", s.State)
		}
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind a stalled subscription send")
	}

	// A vessel change while the first send is stuck is sent once it returns.
	if err := in.SetVessel("219000001"); err != nil {
		t.Fatal(err)
	}
	close(tx.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.sent) != 2 || !strings.Contains(tx.sent[1], "219000001") {
		t.Fatalf("sent = %q, want the new filter resent", tx.sent)
	}
}
