package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrBusFull is returned by Publish when the broadcast channel is saturated;
// the event is dropped rather than blocking the dispatcher's event loop.
var ErrBusFull = errors.New("eventbus: channel full")

// Subscriber is a single dashboard connection.
type Subscriber interface {
	ID() string
	Send(Event) error
}

// Bus fans a single publish stream out to every subscriber on its own
// background worker, exactly as DefaultEventBus does in the teacher's
// internal/realtime package.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool

	eventChan chan Event
	sequence  int64

	logger  *slog.Logger
	metrics *Metrics

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a Bus with a 1000-event buffer, matching the teacher's
// channel capacity for the same "administrative traffic is infrequent,
// bursts are rare" workload assumption.
func New(logger *slog.Logger, metrics *Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[Subscriber]bool),
		eventChan:   make(chan Event, 1000),
		logger:      logger.With("component", "eventbus"),
		metrics:     metrics,
		stopChan:    make(chan struct{}),
	}
}

// Subscribe registers s to receive future events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[s] = true
	if b.metrics != nil {
		b.metrics.ConnectionsActive.Set(float64(len(b.subscribers)))
	}
}

// Unsubscribe removes s.
func (b *Bus) Unsubscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, s)
	if b.metrics != nil {
		b.metrics.ConnectionsActive.Set(float64(len(b.subscribers)))
	}
}

// ActiveSubscribers reports the current subscriber count.
func (b *Bus) ActiveSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish stamps event with the next sequence number and queues it for
// broadcast. It never blocks the caller (the single-threaded command
// dispatcher): a full channel drops the event and returns ErrBusFull.
func (b *Bus) Publish(event Event) error {
	event.Sequence = atomic.AddInt64(&b.sequence, 1)

	select {
	case b.eventChan <- event:
		return nil
	default:
		b.logger.Warn("event channel full, dropping event", "type", event.Type, "name", event.Name)
		if b.metrics != nil {
			b.metrics.EventsDropped.Inc()
		}
		return ErrBusFull
	}
}

// Start launches the broadcast worker.
func (b *Bus) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.broadcastWorker(ctx)
}

// Stop signals the broadcast worker to exit and waits for it.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	b.wg.Wait()
}

func (b *Bus) broadcastWorker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		case event := <-b.eventChan:
			b.deliver(event)
		}
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.Send(event); err != nil {
			b.logger.Debug("subscriber send failed", "subscriber_id", s.ID(), "error", err)
			if b.metrics != nil {
				b.metrics.DeliveryErrors.Inc()
			}
		}
	}
	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(event.Type).Inc()
	}
}
