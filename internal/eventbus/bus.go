// Package eventbus broadcasts typed state-change events to any number of
// in-process subscribers.
//
// Delivery is synchronous and in registration order. Emits are serialized,
// so every subscriber observes the same total order of events. A subscriber
// whose callback returns an error or panics is removed and delivery to the
// rest continues. Callbacks must not call back into the bus.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/promptlab/internal/telemetry"
)

// Callback receives events. Returning an error unsubscribes it.
type Callback func(Event) error

// Subscription is a live registration on a Bus.
type Subscription struct {
	id       string
	bus      *Bus
	fn       Callback
	onRemove func()
	once     sync.Once
}

// ID returns the client id assigned at subscribe time ("client-N").
func (s *Subscription) ID() string { return s.id }

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s, "unsubscribed")
}

func (s *Subscription) release() {
	s.once.Do(func() {
		if s.onRemove != nil {
			s.onRemove()
		}
	})
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	initial  func() (Event, error)
	onRemove func()
}

// WithInitialState delivers the event built by fn right after Connected,
// before any other event can reach the subscriber. fn runs with emits
// blocked, so it sees a state no concurrent event has been published past.
func WithInitialState(fn func() (Event, error)) SubscribeOption {
	return func(o *subscribeOptions) { o.initial = fn }
}

// OnRemove registers fn to run once when the subscription ends for any reason.
func OnRemove(fn func()) SubscribeOption {
	return func(o *subscribeOptions) { o.onRemove = fn }
}

// Bus is an in-process event broadcaster.
type Bus struct {
	logger *slog.Logger

	// emitMu orders emits and the connect handshake.
	emitMu sync.Mutex

	mu     sync.Mutex
	subs   []*Subscription
	nextID uint64

	dropped metric.Int64Counter
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	b := &Bus{logger: logger}
	meter := telemetry.Meter("promptlab/eventbus")
	b.dropped, _ = meter.Int64Counter("promptlab.eventbus.subscribers_dropped",
		metric.WithDescription("Subscribers removed after a failed or panicking delivery"))
	return b
}

// RegisterMetrics exposes the live subscriber count as an OTEL gauge.
func (b *Bus) RegisterMetrics() {
	meter := telemetry.Meter("promptlab/eventbus")
	_, _ = meter.Int64ObservableGauge("promptlab.eventbus.subscribers",
		metric.WithDescription("Live event bus subscribers"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.SubscriberCount()))
			return nil
		}),
	)
}

// Subscribe registers fn and immediately delivers Connected to it. If that
// delivery (or the optional initial state) fails, the subscription is
// removed before Subscribe returns; Active reports false in that case.
func (b *Bus) Subscribe(fn Callback, opts ...SubscribeOption) *Subscription {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	b.nextID++
	sub := &Subscription{
		id:       fmt.Sprintf("client-%d", b.nextID),
		bus:      b,
		fn:       fn,
		onRemove: o.onRemove,
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	if !b.deliver(sub, Connected{ClientID: sub.id}) {
		return sub
	}
	if o.initial != nil {
		ev, err := o.initial()
		if err != nil {
			b.logger.Warn("eventbus: build initial state failed", "client_id", sub.id, "error", err)
			b.remove(sub, "initial state unavailable")
			return sub
		}
		b.deliver(sub, ev)
	}
	return sub
}

// SubscribeSink adapts a transport sink to the bus. The sink is closed when
// the subscription ends.
func (b *Bus) SubscribeSink(sink Sink, opts ...SubscribeOption) *Subscription {
	opts = append(opts, OnRemove(func() {
		if err := sink.Close(); err != nil {
			b.logger.Debug("eventbus: sink close failed", "error", err)
		}
	}))
	return b.Subscribe(sink.Send, opts...)
}

// Emit delivers ev to every current subscriber, in registration order.
func (b *Bus) Emit(ev Event) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	snapshot := make([]*Subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.deliver(sub, ev)
	}
}

// Active reports whether sub is still registered.
func (b *Bus) Active(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s == sub {
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.release()
	}
}

// deliver calls the subscriber and removes it on error or panic. It reports
// whether the subscriber is still registered.
func (b *Bus) deliver(sub *Subscription, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("eventbus: subscriber panicked", "client_id", sub.id, "event", ev.Type(), "panic", r)
			b.drop(sub, "panic")
			ok = false
		}
	}()
	if err := sub.fn(ev); err != nil {
		b.logger.Info("eventbus: subscriber failed, removing", "client_id", sub.id, "event", ev.Type(), "error", err)
		b.drop(sub, "error")
		return false
	}
	return true
}

func (b *Bus) drop(sub *Subscription, reason string) {
	if b.dropped != nil {
		b.dropped.Add(context.Background(), 1)
	}
	b.remove(sub, reason)
}

func (b *Bus) remove(sub *Subscription, reason string) {
	b.mu.Lock()
	found := false
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			found = true
			break
		}
	}
	b.mu.Unlock()

	if found {
		b.logger.Debug("eventbus: subscriber removed", "client_id", sub.id, "reason", reason)
	}
	sub.release()
}
