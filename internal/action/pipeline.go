package action

import (
	"log/slog"

	"github.com/DGGua/oicq/internal/onebot"
)

// Pipeline accepts action requests from any transport, resolves them
// against the registry and queues the invocation. Accepted requests are
// acknowledged immediately; the outcome of the invocation is only logged.
type Pipeline struct {
	registry *Registry
	queue    *Queue
	logger   *slog.Logger
}

func NewPipeline(registry *Registry, queue *Queue, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: registry, queue: queue, logger: logger}
}

// Apply resolves and enqueues one action. On success it returns the fixed
// async ack; unknown actions return ErrActionNotFound.
func (p *Pipeline) Apply(name string, data map[string]any) ([]byte, error) {
	c, err := p.registry.Resolve(Normalize(name))
	if err != nil {
		return nil, err
	}
	args := BuildArgs(c.Params, data)
	p.queue.Push(func() {
		if err := c.Invoke(args); err != nil {
			p.logger.Warn("action invocation failed", "action", c.Name, "error", err)
		}
	})
	p.logger.Debug("action queued", "action", c.Name, "args", len(args))
	return []byte(onebot.AsyncAck), nil
}
