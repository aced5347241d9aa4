// Package dispatch fans events out to the configured sinks: webhook URLs
// and connected WebSocket clients (forward and reverse alike). Delivery is
// best-effort at-most-once; failures are logged and skipped.
package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// FrameWriter is the slice of a WebSocket connection the dispatcher needs.
// *websocket.Conn satisfies it.
type FrameWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// SocketSink is one registered WebSocket client. Writes are serialized per
// sink so concurrent broadcasts cannot interleave frames.
type SocketSink struct {
	mu sync.Mutex
	w  FrameWriter
}

// Send writes one text frame to the client, serialized with broadcasts.
func (s *SocketSink) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(ctx, websocket.MessageText, payload)
}

// Config holds the dispatcher settings.
type Config struct {
	PostURL []string
	Secret  string
	Timeout time.Duration
	SelfID  func() int64
	Logger  *slog.Logger
}

// Dispatcher serializes each event once and delivers it to every sink.
type Dispatcher struct {
	urls   []string
	secret string
	selfID func() int64
	client *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	sinks map[*SocketSink]struct{}
}

func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	selfID := cfg.SelfID
	if selfID == nil {
		selfID = func() int64 { return 0 }
	}
	return &Dispatcher{
		urls:   cfg.PostURL,
		secret: cfg.Secret,
		selfID: selfID,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		sinks:  make(map[*SocketSink]struct{}),
	}
}

// AddSocket registers a WebSocket client for broadcasts.
func (d *Dispatcher) AddSocket(w FrameWriter) *SocketSink {
	sink := &SocketSink{w: w}
	d.mu.Lock()
	d.sinks[sink] = struct{}{}
	d.mu.Unlock()
	return sink
}

// RemoveSocket deregisters a client.
func (d *Dispatcher) RemoveSocket(sink *SocketSink) {
	d.mu.Lock()
	delete(d.sinks, sink)
	d.mu.Unlock()
}

// SocketCount reports the number of registered WebSocket sinks.
func (d *Dispatcher) SocketCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

// Dispatch delivers an event to every webhook URL and every WebSocket sink.
// The event is serialized once; webhook posts run concurrently.
func (d *Dispatcher) Dispatch(event any) {
	body, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("event marshal failed", "error", err)
		return
	}
	for _, url := range d.urls {
		go d.post(url, body)
	}
	d.BroadcastSockets(body)
}

// BroadcastSockets writes a payload to the WebSocket sinks only. Heartbeats
// take this path: they are never posted to webhooks.
func (d *Dispatcher) BroadcastSockets(payload []byte) {
	d.mu.RLock()
	sinks := make([]*SocketSink, 0, len(d.sinks))
	for sink := range d.sinks {
		sinks = append(sinks, sink)
	}
	d.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Send(context.Background(), payload); err != nil {
			d.logger.Warn("socket write failed, skipping sink", "error", err)
		}
	}
}

func (d *Dispatcher) post(url string, body []byte) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn("webhook request build failed", "url", url, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Self-ID", strconv.FormatInt(d.selfID(), 10))
	req.Header.Set("User-Agent", "OneBot")
	if d.secret != "" {
		req.Header.Set("X-Signature", "sha1="+sign(d.secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook post failed", "url", url, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Warn("webhook post rejected", "url", url, "status", resp.StatusCode)
	}
	// Read the response to completion so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
}

// sign computes the hex HMAC-SHA1 of the body under the configured secret.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
