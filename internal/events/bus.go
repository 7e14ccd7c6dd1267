package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/safar/agri-supply-tracker/internal/metrics"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, ev Event) error

// Failure is a subscriber error recorded during one Publish.
type Failure struct {
	Subscriber string
	Err        error
}

// Delivery reports how one event fared across subscribers.
type Delivery struct {
	Event     Event
	Delivered int
	Failures  []Failure
}

type subscription struct {
	id      uint64
	name    string
	kinds   map[Kind]bool
	handler Handler
}

func (s subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus is an in-memory fan-out. Subscribers run synchronously, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers handler for the given kinds, or for every kind when none are given.
func (b *Bus) Subscribe(name string, handler Handler, kinds ...Kind) (unsubscribe func()) {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, name: name, kinds: set, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish hands ev to every matching subscriber. A failing or panicking subscriber is
// recorded and skipped over.
func (b *Bus) Publish(ctx context.Context, ev Event) Delivery {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	delivery := Delivery{Event: ev}
	for _, s := range subs {
		if !s.wants(ev.Kind()) {
			continue
		}

		err := b.invoke(ctx, s, ev)
		delivery.Delivered++
		if err != nil {
			delivery.Failures = append(delivery.Failures, Failure{Subscriber: s.name, Err: err})
			b.logger.Warn("event subscriber failed",
				zap.String("subscriber", s.name),
				zap.String("event", string(ev.Kind())),
				zap.Int64("product_id", ev.Product()),
				zap.String("tx_hash", ev.Metadata().TxHash),
				zap.Error(err),
			)
		}
	}
	return delivery
}

func (b *Bus) invoke(ctx context.Context, s subscription, ev Event) (err error) {
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panicked: %v", s.name, r)
			result = "panic"
		}
		metrics.BusDeliveries.WithLabelValues(string(ev.Kind()), result).Inc()
	}()

	if err := s.handler(ctx, ev); err != nil {
		result = "error"
		return err
	}
	return nil
}
