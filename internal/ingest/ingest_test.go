package ingest

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/beacon.report/internal/estimate"
	"github.com/banshee-data/beacon.report/internal/geom"
	"github.com/banshee-data/beacon.report/internal/monitoring"
)

const sampleReport = `{
	"location": {
		"position": {
			"x": 3.5, "y": -1.25, "z": 1.2,
			"used_anchors": [
				{"mac": "aa:bb:cc:dd:ee:01", "rssi": -61.0},
				{"mac": "aa:bb:cc:dd:ee:02", "rssi": -67.5}
			],
			"unused_anchors": [
				{"mac": "aa:bb:cc:dd:ee:03", "rssi": -89.0}
			]
		}
	},
	"tag": {"mac": "11:22:33:44:55:66"},
	"timestamp": 1756500000000
}`

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(sampleReport))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}

	want := estimate.Reading{
		TagMac:   "11:22:33:44:55:66",
		Position: geom.Point{X: 3.5, Y: -1.25, Z: 1.2},
		RSSI: map[string]float64{
			"aa:bb:cc:dd:ee:01": -61.0,
			"aa:bb:cc:dd:ee:02": -67.5,
		},
		Timestamp: time.UnixMilli(1756500000000),
	}
	if diff := cmp.Diff(want, msg.Reading); diff != "" {
		t.Errorf("Reading mismatch (-want +got):\n%s", diff)
	}

	// discovery spans used and unused anchors
	if len(msg.DiscoveredMacs) != 3 {
		t.Fatalf("DiscoveredMacs = %v, want 3 entries", msg.DiscoveredMacs)
	}
	found := false
	for _, mac := range msg.DiscoveredMacs {
		if mac == "aa:bb:cc:dd:ee:03" {
			found = true
		}
	}
	if !found {
		t.Error("unused anchor missing from DiscoveredMacs")
	}
}

func TestParseMessageRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"garbage", "not json"},
		{"missing tag", `{"location":{"position":{"used_anchors":[{"mac":"a","rssi":-60}]}},"timestamp":1}`},
		{"no used anchors", `{"location":{"position":{"used_anchors":[]}},"tag":{"mac":"t"},"timestamp":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tc.data)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseMessageDropsImplausibleRSSI(t *testing.T) {
	defer monitoring.Mute()()

	data := `{
		"location": {"position": {"used_anchors": [
			{"mac": "a1", "rssi": -61.0},
			{"mac": "a2", "rssi": 12.0},
			{"mac": "a3", "rssi": -300.0}
		]}},
		"tag": {"mac": "t"}, "timestamp": 1
	}`
	msg, err := ParseMessage([]byte(data))
	if err != nil {
		t.Fatalf("ParseMessage failed: %v", err)
	}
	if len(msg.Reading.RSSI) != 1 {
		t.Errorf("RSSI = %v, want only a1", msg.Reading.RSSI)
	}
	if _, ok := msg.Reading.RSSI["a1"]; !ok {
		t.Error("valid reading was dropped")
	}

	// a report with nothing plausible left is rejected outright
	allBad := `{"location":{"position":{"used_anchors":[{"mac":"a2","rssi":12.0}]}},"tag":{"mac":"t"},"timestamp":1}`
	if _, err := ParseMessage([]byte(allBad)); err == nil {
		t.Error("expected error when every reading is implausible")
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	id1, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()

	msg := Message{DiscoveredMacs: []string{"a"}}
	h.Broadcast(msg)

	for _, ch := range []chan Message{ch1, ch2} {
		select {
		case got := <-ch:
			if len(got.DiscoveredMacs) != 1 {
				t.Errorf("unexpected message: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive broadcast")
		}
	}

	h.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}

	h.Broadcast(msg)
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatal("remaining subscriber missed broadcast after unsubscribe")
	}

	h.Close()
	if _, ok := <-ch2; ok {
		t.Error("channel should be closed after hub Close")
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	defer monitoring.Mute()()

	h := NewHub()
	_, ch := h.Subscribe()

	// fill the buffer and then some; Broadcast must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Broadcast(Message{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Errorf("subscriber buffer holds %d, want full (%d)", len(ch), cap(ch))
	}
}

func TestUDPListenerDeliversParsedMessages(t *testing.T) {
	defer monitoring.Mute()()

	l, err := NewUDPListener("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewUDPListener failed: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Monitor(ctx)

	_, ch := l.Hub().Subscribe()

	conn, err := net.Dial("udp", l.LocalAddr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// malformed datagram first: must be dropped, not fatal
	if _, err := conn.Write([]byte("junk")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := conn.Write([]byte(sampleReport)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Reading.TagMac != "11:22:33:44:55:66" {
			t.Errorf("unexpected message: %+v", msg.Reading)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered")
	}
}

func TestFixtureSourceReplaysAndRefreshesTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.jsonl")
	if err := os.WriteFile(path, []byte(sampleReport+"\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := NewFixtureSource(path, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewFixtureSource failed: %v", err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go src.Monitor(ctx)

	_, ch := src.Hub().Subscribe()
	start := time.Now()
	select {
	case msg := <-ch:
		if msg.Reading.Timestamp.Before(start.Add(-time.Second)) {
			t.Errorf("timestamp %v not refreshed", msg.Reading.Timestamp)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fixture source produced no message")
	}
}

func TestNewFixtureSourceRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(path, []byte("\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFixtureSource(path, time.Second); err == nil {
		t.Error("expected error for empty fixture")
	}
}
