package heartbeat

import (
	"encoding/json"
	"testing"
	"time"
)

type captureBroadcaster struct {
	payloads chan []byte
}

func (c *captureBroadcaster) BroadcastSockets(payload []byte) {
	c.payloads <- payload
}

func TestEmitPayload(t *testing.T) {
	sink := &captureBroadcaster{payloads: make(chan []byte, 1)}
	e := New(sink, func() int64 { return 42 }, 15*time.Second, nil)

	e.emit()

	var m map[string]any
	select {
	case payload := <-sink.payloads:
		if err := json.Unmarshal(payload, &m); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
	default:
		t.Fatal("nothing broadcast")
	}

	if m["post_type"] != "meta_event" || m["meta_event_type"] != "heartbeat" {
		t.Fatalf("payload = %v", m)
	}
	if m["self_id"] != float64(42) {
		t.Fatalf("self_id = %v", m["self_id"])
	}
	if m["interval"] != float64(15000) {
		t.Fatalf("interval = %v, want 15000 ms", m["interval"])
	}
}

func TestStartShortIntervalStillSchedules(t *testing.T) {
	sink := &captureBroadcaster{payloads: make(chan []byte, 8)}
	e := New(sink, func() int64 { return 1 }, 10*time.Millisecond, nil)

	e.Start()
	defer e.Stop()
	if e.cron == nil {
		t.Fatal("short intervals must still schedule (rounded up, not refused)")
	}
}

func TestStartAndStop(t *testing.T) {
	sink := &captureBroadcaster{payloads: make(chan []byte, 8)}
	e := New(sink, func() int64 { return 1 }, time.Second, nil)

	e.Start()
	if e.cron == nil {
		t.Fatal("schedule did not start")
	}

	select {
	case <-sink.payloads:
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat within three intervals")
	}
	e.Stop()
}
