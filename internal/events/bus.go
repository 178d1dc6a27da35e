// Package events carries completed calculations to downstream consumers.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/devcarbon/internal/model"
)

// Type identifies the kind of event.
type Type string

// CalculationCompleted is published once per finished calculation.
const CalculationCompleted Type = "calculation.completed"

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Event is a single published message.
type Event struct {
	Type       Type                          `json:"type"`
	OccurredAt time.Time                     `json:"occurred_at"`
	Result     model.CarbonCalculationResult `json:"result"`
}

// Publisher accepts events without blocking the caller.
type Publisher interface {
	Publish(e Event)
}

// Bus fans events out to buffered subscriber channels. A subscriber whose
// channel is full misses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewBus creates a Bus. A non-positive buffer uses DefaultBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{buffer: buffer}
}

// Subscribe returns a channel that receives every subsequent event. The
// channel is closed by Close.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers e to every subscriber that has room. It never blocks.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for i, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			zap.L().Warn("events: subscriber full, dropping event",
				zap.Int("subscriber", i),
				zap.String("type", string(e.Type)),
				zap.String("result_id", e.Result.ID),
			)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Sink consumes events from a subscription.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// Dispatch feeds every event from ch to each sink in order until ch is
// closed. It keeps draining after ctx is cancelled so results buffered at
// shutdown still reach their sinks; Close ends the loop. Sink errors are
// logged and do not stop the loop.
func Dispatch(ctx context.Context, ch <-chan Event, sinks ...Sink) {
	ctx = context.WithoutCancel(ctx)
	for e := range ch {
		for _, s := range sinks {
			if err := s.Handle(ctx, e); err != nil {
				zap.L().Error("events: sink failed",
					zap.String("sink", s.Name()),
					zap.String("result_id", e.Result.ID),
					zap.Error(err),
				)
			}
		}
	}
}
