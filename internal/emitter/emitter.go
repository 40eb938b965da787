// Package emitter fans strategy events out to the signal bus. Publication
// is strictly best effort: a full buffer drops the event rather than ever
// blocking an execution pass, and subscribers tolerate gaps by re-reading
// strategy state.
package emitter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

const defaultBuffer = 64

// Emitter buffers strategy events and forwards them onto the signal bus
// from a single background goroutine.
type Emitter struct {
	bus    domain.SignalBus
	events chan domain.StrategyEvent
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New creates an Emitter with the given buffer size; size <= 0 uses the
// default.
func New(bus domain.SignalBus, size int, logger *slog.Logger) *Emitter {
	if size <= 0 {
		size = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		bus:    bus,
		events: make(chan domain.StrategyEvent, size),
		logger: logger.With(slog.String("component", "emitter")),
		done:   make(chan struct{}),
	}
}

// Start launches the forwarding loop. It returns immediately; the loop runs
// until ctx is cancelled or Close is called.
func (e *Emitter) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go e.loop(ctx)
	})
}

// Emit queues an event for publication. It never blocks: when the buffer is
// full the event is dropped with a log line.
func (e *Emitter) Emit(event domain.StrategyEvent) {
	select {
	case e.events <- event:
	default:
		e.logger.Warn("event buffer full, dropping event",
			slog.String("type", string(event.Type)),
			slog.String("strategy_id", event.StrategyID))
	}
}

// Close stops the forwarding loop. Buffered events are discarded.
func (e *Emitter) Close() {
	e.stopOnce.Do(func() { close(e.done) })
}

func (e *Emitter) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case event := <-e.events:
			e.publish(ctx, event)
		}
	}
}

func (e *Emitter) publish(ctx context.Context, event domain.StrategyEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("marshal event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, domain.UpdateChannel, payload); err != nil {
		e.logger.Warn("publish event",
			slog.String("type", string(event.Type)),
			slog.String("strategy_id", event.StrategyID),
			slog.String("error", err.Error()))
	}
}
