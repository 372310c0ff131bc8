package api

import (
	"sync"

	"go.uber.org/zap"

	"hoslog/internal/config"
)

// SSEEvent is one message on a tenant's live feed.
type SSEEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans live events out to SSE and WebSocket clients, keyed by
// tenant.
type EventBroker interface {
	Subscribe(tenant string) chan SSEEvent
	Unsubscribe(tenant string, ch chan SSEEvent)
	Publish(tenant string, evt SSEEvent)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // tenant -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(tenant string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[tenant] == nil {
		b.subs[tenant] = map[chan SSEEvent]struct{}{}
	}
	b.subs[tenant][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(tenant string, ch chan SSEEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[tenant]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, tenant)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(tenant string, evt SSEEvent) {
	b.mu.Lock()
	for ch := range b.subs[tenant] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// NewEventBroker picks Redis, then NATS, then the in-process broker.
func NewEventBroker(cfg config.EventsConfig, log *zap.Logger) (EventBroker, error) {
	switch {
	case cfg.RedisURL != "":
		return NewRedisBroker(cfg.RedisURL, cfg.RedisChannel, log)
	case cfg.NATSURL != "":
		return NewNATSBroker(cfg.NATSURL, cfg.NATSSubject, log)
	}
	return NewBroker(), nil
}
