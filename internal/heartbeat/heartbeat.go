// Package heartbeat emits periodic meta events to connected WebSocket
// clients. Webhook targets never receive heartbeats.
package heartbeat

import (
	"encoding/json"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/DGGua/oicq/internal/onebot"
)

// Broadcaster fans a payload out to the live socket sinks.
type Broadcaster interface {
	BroadcastSockets(payload []byte)
}

type Emitter struct {
	broadcaster Broadcaster
	selfID      func() int64
	interval    time.Duration
	logger      *slog.Logger
	cron        *cronlib.Cron
}

func New(b Broadcaster, selfID func() int64, interval time.Duration, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		broadcaster: b,
		selfID:      selfID,
		interval:    interval,
		logger:      logger,
	}
}

// Start schedules the heartbeat at the configured interval. The scheduler
// rounds intervals under a second up to one second.
func (e *Emitter) Start() {
	if e.interval < time.Second {
		e.logger.Warn("heartbeat interval under a second, scheduler rounds up", "interval", e.interval)
	}
	e.cron = cronlib.New()
	e.cron.Schedule(cronlib.Every(e.interval), cronlib.FuncJob(e.emit))
	e.cron.Start()
	e.logger.Info("heartbeat started", "interval", e.interval)
}

// Stop halts the schedule; in-flight emits finish.
func (e *Emitter) Stop() {
	if e.cron != nil {
		e.cron.Stop()
	}
}

func (e *Emitter) emit() {
	payload, err := json.Marshal(onebot.Heartbeat(e.selfID(), int(e.interval/time.Millisecond)))
	if err != nil {
		e.logger.Error("marshal heartbeat", "error", err)
		return
	}
	e.broadcaster.BroadcastSockets(payload)
}
