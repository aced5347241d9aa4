// Package gateway serves the action API over HTTP and WebSocket and
// maintains the reverse (gateway-dialed) WebSocket connections.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/DGGua/oicq/internal/action"
	"github.com/DGGua/oicq/internal/config"
	"github.com/DGGua/oicq/internal/dispatch"
	"github.com/DGGua/oicq/internal/onebot"
)

// Server is the forward-facing listener: plain HTTP action calls and
// client-initiated WebSocket sessions share one port.
type Server struct {
	cfg        config.Config
	pipeline   *action.Pipeline
	dispatcher *dispatch.Dispatcher
	selfID     func() int64
	logger     *slog.Logger
}

func New(cfg config.Config, pipeline *action.Pipeline, dispatcher *dispatch.Dispatcher, selfID func() int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		selfID:     selfID,
		logger:     logger,
	}
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if isUpgrade(r) && s.cfg.UseWS {
		s.handleWS(w, r)
		return
	}
	s.handleHTTP(w, r)
}

func isUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Upgrade")), "websocket")
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.UseHTTP {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if r.Method == http.MethodOptions && s.cfg.EnableCORS {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusOK)
		return
	}

	if status := authStatus(r, s.cfg.AccessToken); status != http.StatusOK {
		s.logger.Warn("http: request rejected", "status", status, "remote", r.RemoteAddr)
		w.WriteHeader(status)
		return
	}

	if s.cfg.EnableCORS {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	data, ok := decodeParams(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ack, err := s.pipeline.Apply(r.URL.Path, data)
	if err != nil {
		if errors.Is(err, action.ErrActionNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(ack)
}

// decodeParams parses the request body as a JSON object; the body is the
// only parameter source. An empty or unparseable body fails the request.
// Query parameters are never action data (access_token is consumed by auth).
func decodeParams(r *http.Request) (map[string]any, bool) {
	if r.Body == nil {
		return nil, false
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, false
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil || data == nil {
		return nil, false
	}
	return data, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	if authStatus(r, s.cfg.AccessToken) != http.StatusOK {
		s.logger.Warn("ws: client rejected", "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusProtocolError, "authorization failed")
		return
	}

	s.logger.Info("ws: client connected", "remote", r.RemoteAddr)
	err = runFrameLoop(r.Context(), conn, s.dispatcher, s.pipeline, s.selfID())
	s.logger.Info("ws: client disconnected", "remote", r.RemoteAddr, "error", err)
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

// runFrameLoop registers conn as an event sink, announces the session
// lifecycle, then serves action frames until the connection dies. The read
// error that ended the loop is returned so the caller can inspect the close
// status.
func runFrameLoop(ctx context.Context, conn *websocket.Conn, dispatcher *dispatch.Dispatcher, pipeline *action.Pipeline, selfID int64) error {
	sink := dispatcher.AddSocket(conn)
	defer dispatcher.RemoveSocket(sink)

	for _, subType := range []string{onebot.LifecycleConnect, onebot.LifecycleEnable} {
		payload, _ := json.Marshal(onebot.Lifecycle(selfID, subType))
		if err := sink.Send(ctx, payload); err != nil {
			return err
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := sink.Send(ctx, applyFrame(pipeline, data)); err != nil {
			return err
		}
	}
}

// applyFrame maps one inbound action frame to its response frame. The
// success ack never carries the echo; failure frames do.
func applyFrame(pipeline *action.Pipeline, data []byte) []byte {
	var req onebot.ActionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Action == "" {
		return onebot.FailureFrame(onebot.RetcodeBadRequest, req.Echo)
	}
	ack, err := pipeline.Apply(req.Action, req.Data)
	if err != nil {
		return onebot.FailureFrame(onebot.RetcodeNotFound, req.Echo)
	}
	return ack
}
