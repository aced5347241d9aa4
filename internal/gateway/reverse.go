package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/DGGua/oicq/internal/action"
	"github.com/DGGua/oicq/internal/config"
	"github.com/DGGua/oicq/internal/dispatch"
)

// ReverseManager dials out to the configured reverse WebSocket URLs and
// keeps one connection per URL alive, redialing per the reconnect policy.
type ReverseManager struct {
	cfg        config.Config
	pipeline   *action.Pipeline
	dispatcher *dispatch.Dispatcher
	selfID     func() int64
	logger     *slog.Logger
	once       sync.Once
}

func NewReverseManager(cfg config.Config, pipeline *action.Pipeline, dispatcher *dispatch.Dispatcher, selfID func() int64, logger *slog.Logger) *ReverseManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReverseManager{
		cfg:        cfg,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		selfID:     selfID,
		logger:     logger,
	}
}

// Start launches one dial loop per configured URL. It runs at most once per
// process, so wiring it to the session's first enable event is safe even if
// the session re-enables later.
func (m *ReverseManager) Start(ctx context.Context) {
	m.once.Do(func() {
		for _, url := range m.cfg.WSReverseURL {
			go m.maintain(ctx, url)
		}
	})
}

func (m *ReverseManager) maintain(ctx context.Context, url string) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: m.dialHeaders(),
		})
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			m.logger.Warn("reverse dial failed", "url", url, "error", err)
			if !m.sleepBeforeRedial(ctx) {
				return
			}
			continue
		}

		m.logger.Info("reverse socket connected", "url", url)
		loopErr := runFrameLoop(ctx, conn, m.dispatcher, m.pipeline, m.selfID())
		code := websocket.CloseStatus(loopErr)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		m.logger.Info("reverse socket closed", "url", url, "code", int(code), "error", loopErr)

		if !m.redialAfterClose(code) {
			m.logger.Info("reverse socket terminal, not redialing", "url", url, "code", int(code))
			return
		}
		if !m.sleepBeforeRedial(ctx) {
			return
		}
	}
}

func (m *ReverseManager) dialHeaders() http.Header {
	h := http.Header{}
	h.Set("X-Self-ID", strconv.FormatInt(m.selfID(), 10))
	h.Set("X-Client-Role", "Universal")
	h.Set("User-Agent", "OneBot")
	if m.cfg.AccessToken != "" {
		h.Set("Authorization", "Bearer "+m.cfg.AccessToken)
	}
	return h
}

// redialAfterClose decides whether a closed connection is redialed: a
// normal closure (1000) is terminal unless reconnect-on-1000 is enabled,
// and a negative reconnect interval disables redialing entirely.
func (m *ReverseManager) redialAfterClose(code websocket.StatusCode) bool {
	if m.cfg.ReconnectPace() < 0 {
		return false
	}
	if code == websocket.StatusNormalClosure && !m.cfg.WSReverseReconnectOnCode1000 {
		return false
	}
	return true
}

func (m *ReverseManager) sleepBeforeRedial(ctx context.Context) bool {
	pace := m.cfg.ReconnectPace()
	if pace < 0 {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(pace):
		return true
	}
}
