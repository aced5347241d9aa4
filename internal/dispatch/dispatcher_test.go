package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/DGGua/oicq/internal/onebot"
)

type capturedPost struct {
	header http.Header
	body   []byte
}

func newCaptureServer(t *testing.T) (*httptest.Server, chan capturedPost) {
	t.Helper()
	posts := make(chan capturedPost, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posts <- capturedPost{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, posts
}

func TestWebhookResponseDrainedForReuse(t *testing.T) {
	var mu sync.Mutex
	newConns := 0

	// Large enough that the response is only reusable if fully read.
	big := bytes.Repeat([]byte("x"), 64<<10)
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write(big)
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			mu.Lock()
			newConns++
			mu.Unlock()
		}
	}
	srv.Start()
	defer srv.Close()

	d := New(Config{PostURL: []string{srv.URL}})
	body := []byte(`{"k":"v"}`)
	d.post(srv.URL, body)
	d.post(srv.URL, body)

	mu.Lock()
	defer mu.Unlock()
	if newConns != 1 {
		t.Fatalf("connections opened = %d, want 1 (keep-alive reuse)", newConns)
	}
}

func TestDispatchWebhookHeadersAndSignature(t *testing.T) {
	srv, posts := newCaptureServer(t)

	d := New(Config{
		PostURL: []string{srv.URL},
		Secret:  "hunter2",
		SelfID:  func() int64 { return 42 },
	})

	event := onebot.Lifecycle(42, onebot.LifecycleEnable)
	d.Dispatch(event)

	var post capturedPost
	select {
	case post = <-posts:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the event")
	}

	if got := post.header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	if got := post.header.Get("X-Self-ID"); got != "42" {
		t.Fatalf("X-Self-ID = %q", got)
	}
	if got := post.header.Get("User-Agent"); got != "OneBot" {
		t.Fatalf("User-Agent = %q", got)
	}

	mac := hmac.New(sha1.New, []byte("hunter2"))
	mac.Write(post.body)
	want := "sha1=" + hex.EncodeToString(mac.Sum(nil))
	if got := post.header.Get("X-Signature"); got != want {
		t.Fatalf("X-Signature = %q, want %q", got, want)
	}

	var m map[string]any
	if err := json.Unmarshal(post.body, &m); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if m["meta_event_type"] != "lifecycle" || m["sub_type"] != "enable" {
		t.Fatalf("body = %s", post.body)
	}
}

func TestDispatchNoSignatureWithoutSecret(t *testing.T) {
	srv, posts := newCaptureServer(t)

	d := New(Config{PostURL: []string{srv.URL}, SelfID: func() int64 { return 1 }})
	d.Dispatch(onebot.Heartbeat(1, 1000))

	select {
	case post := <-posts:
		if post.header.Get("X-Signature") != "" {
			t.Fatal("X-Signature set without a secret")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never received the event")
	}
}

func TestDispatchMultipleURLs(t *testing.T) {
	srv1, posts1 := newCaptureServer(t)
	srv2, posts2 := newCaptureServer(t)

	d := New(Config{PostURL: []string{srv1.URL, srv2.URL}, SelfID: func() int64 { return 1 }})
	d.Dispatch(onebot.Lifecycle(1, onebot.LifecycleConnect))

	for i, posts := range []chan capturedPost{posts1, posts2} {
		select {
		case <-posts:
		case <-time.After(2 * time.Second):
			t.Fatalf("webhook %d never received the event", i+1)
		}
	}
}

type fakeWriter struct {
	frames chan []byte
	err    error
}

func (f *fakeWriter) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	if f.err != nil {
		return f.err
	}
	f.frames <- p
	return nil
}

func TestBroadcastSkipsFailingSink(t *testing.T) {
	d := New(Config{SelfID: func() int64 { return 1 }})

	broken := &fakeWriter{err: errors.New("connection reset")}
	healthy := &fakeWriter{frames: make(chan []byte, 1)}
	d.AddSocket(broken)
	d.AddSocket(healthy)

	d.BroadcastSockets([]byte(`{"ok":true}`))

	select {
	case frame := <-healthy.frames:
		if string(frame) != `{"ok":true}` {
			t.Fatalf("frame = %s", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("healthy sink never received the frame")
	}
}

func TestBroadcastSocketsSkipsWebhooks(t *testing.T) {
	srv, posts := newCaptureServer(t)

	d := New(Config{PostURL: []string{srv.URL}, SelfID: func() int64 { return 1 }})
	sink := &fakeWriter{frames: make(chan []byte, 1)}
	d.AddSocket(sink)

	payload, _ := json.Marshal(onebot.Heartbeat(1, 5000))
	d.BroadcastSockets(payload)

	<-sink.frames
	select {
	case <-posts:
		t.Fatal("heartbeat must not be posted to webhooks")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoveSocket(t *testing.T) {
	d := New(Config{SelfID: func() int64 { return 1 }})
	sink := d.AddSocket(&fakeWriter{frames: make(chan []byte, 1)})
	if d.SocketCount() != 1 {
		t.Fatalf("count = %d, want 1", d.SocketCount())
	}
	d.RemoveSocket(sink)
	if d.SocketCount() != 0 {
		t.Fatalf("count = %d, want 0", d.SocketCount())
	}
}
