package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NATSBroker implements EventBroker on core NATS subjects, one per tenant.
type NATSBroker struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger

	mu   sync.Mutex
	subs map[chan SSEEvent]*natsSub
}

type natsSub struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func NewNATSBroker(url, subject string, log *zap.Logger) (*NATSBroker, error) {
	nc, err := nats.Connect(url, nats.Name("hoslog-api"))
	if err != nil {
		return nil, err
	}
	return NewNATSBrokerConn(nc, subject, log), nil
}

// NewNATSBrokerConn wraps an existing connection.
func NewNATSBrokerConn(nc *nats.Conn, subject string, log *zap.Logger) *NATSBroker {
	if log == nil {
		log = zap.NewNop()
	}
	if subject == "" {
		subject = "hos.events"
	}
	return &NATSBroker{nc: nc, subject: subject, log: log, subs: map[chan SSEEvent]*natsSub{}}
}

var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func (b *NATSBroker) subjectFor(tenant string) string {
	return b.subject + "." + subjectToken.Replace(tenant)
}

func (b *NATSBroker) Subscribe(tenant string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ns := &natsSub{}
	sub, err := b.nc.Subscribe(b.subjectFor(tenant), func(msg *nats.Msg) {
		var evt SSEEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return // drop malformed messages
		}
		ns.mu.Lock()
		defer ns.mu.Unlock()
		if ns.closed {
			return
		}
		select {
		case ch <- evt:
		default:
		}
	})
	if err != nil {
		b.log.Warn("nats subscribe failed", zap.String("tenant", tenant), zap.Error(err))
	}
	ns.sub = sub
	b.mu.Lock()
	b.subs[ch] = ns
	b.mu.Unlock()
	return ch
}

func (b *NATSBroker) Unsubscribe(tenant string, ch chan SSEEvent) {
	b.mu.Lock()
	ns := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ns == nil {
		return
	}
	if ns.sub != nil {
		_ = ns.sub.Unsubscribe()
	}
	ns.mu.Lock()
	ns.closed = true
	close(ch)
	ns.mu.Unlock()
}

func (b *NATSBroker) Publish(tenant string, evt SSEEvent) {
	b.PublishContext(context.Background(), tenant, evt)
}

// PublishContext publishes evt with the trace context of ctx in the message
// headers.
func (b *NATSBroker) PublishContext(ctx context.Context, tenant string, evt SSEEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	msg := &nats.Msg{Subject: b.subjectFor(tenant), Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	if err := b.nc.PublishMsg(msg); err != nil {
		b.log.Warn("nats publish failed", zap.String("tenant", tenant), zap.String("type", evt.Type), zap.Error(err))
	}
}

// Ping reports whether the connection is up.
func (b *NATSBroker) Ping(ctx context.Context) error {
	if !b.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (b *NATSBroker) Close() error {
	b.nc.Close()
	return nil
}
