package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/burrowd/burrow/pkg/pattern"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/google/uuid"
)

// queueSize bounds each subscriber's delivery queue. A subscriber that
// falls further behind than this is dropped.
const queueSize = 64

// Transport pushes events to one connected subscriber. Implemented by the
// server's connection wrapper. Push returning an error means the subscriber
// is gone; the broker removes it rather than surfacing the failure.
type Transport interface {
	ID() string
	Push(event *types.Event) error
}

// subscriber owns a bounded queue drained by its own goroutine, so a slow
// or stalled transport never blocks Publish.
type subscriber struct {
	subscription types.Subscription
	patterns     map[string]struct{}
	transport    Transport

	queue     chan *types.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// Broker manages live pattern-scoped subscriptions and pushes every
// published event to the subscribers whose patterns match it.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]*subscriber // keyed by subscriber id
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]*subscriber),
	}
}

// Subscribe registers patterns for a subscriber. Re-subscription by the
// same subscriber merges the pattern sets idempotently and keeps the
// original subscription id.
func (b *Broker) Subscribe(subscriberID string, patterns []string, transport Transport) (string, error) {
	if err := pattern.ValidateAll(patterns); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriberID]
	if !ok {
		sub = &subscriber{
			subscription: types.Subscription{
				ID:           uuid.New().String(),
				SubscriberID: subscriberID,
				CreatedAt:    time.Now(),
			},
			patterns:  make(map[string]struct{}),
			transport: transport,
			queue:     make(chan *types.Event, queueSize),
			closed:    make(chan struct{}),
		}
		b.subs[subscriberID] = sub
		metrics.SubscribersTotal.Set(float64(len(b.subs)))
		go b.drain(sub)
	} else if transport != nil {
		sub.transport = transport
	}

	for _, p := range patterns {
		sub.patterns[p] = struct{}{}
	}
	sub.subscription.Patterns = sortedPatterns(sub.patterns)

	lg := log.WithSubscriberID(subscriberID)
	lg.Debug().
		Strs("patterns", sub.subscription.Patterns).
		Msg("subscription updated")

	return sub.subscription.ID, nil
}

// drain delivers one subscriber's queue in FIFO order. A push failure
// means the client is gone; the subscriber is removed and the goroutine
// exits.
func (b *Broker) drain(sub *subscriber) {
	for {
		select {
		case <-sub.closed:
			return
		case event := <-sub.queue:
			b.mu.RLock()
			transport := sub.transport
			b.mu.RUnlock()
			if transport == nil {
				continue
			}
			if err := transport.Push(event); err != nil {
				metrics.PushFailures.Inc()
				lg := log.WithSubscriberID(sub.subscription.SubscriberID)
				lg.Warn().
					Err(err).
					Str("event", event.Name).
					Msg("push failed, dropping subscriber")
				b.Unsubscribe(sub.subscription.SubscriberID)
				return
			}
		}
	}
}

// Unsubscribe atomically removes all of a subscriber's registrations.
// Returns false if the subscriber was unknown.
func (b *Broker) Unsubscribe(subscriberID string) bool {
	b.mu.Lock()
	sub, ok := b.subs[subscriberID]
	if !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.subs, subscriberID)
	metrics.SubscribersTotal.Set(float64(len(b.subs)))
	b.mu.Unlock()

	sub.close()
	lg := log.WithSubscriberID(subscriberID)
	lg.Debug().Msg("unsubscribed")
	return true
}

// Publish enqueues the event for every subscriber with a matching pattern.
// It never performs transport I/O itself: each subscriber's queue is
// drained by its own goroutine, so Publish stays non-blocking inside the
// event log's ordered observer chain. A full queue means the subscriber
// stopped keeping up; it is dropped like a failed push. Per-subscriber
// FIFO queues preserve non-decreasing sequence order.
func (b *Broker) Publish(event *types.Event) {
	b.mu.RLock()
	var targets []*subscriber
	for _, sub := range b.subs {
		if sub.transport == nil {
			continue
		}
		if pattern.MatchAny(sub.subscription.Patterns, event.Name) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var stalled []string
	for _, sub := range targets {
		select {
		case sub.queue <- event:
		case <-sub.closed:
		default:
			metrics.PushFailures.Inc()
			lg := log.WithSubscriberID(sub.subscription.SubscriberID)
			lg.Warn().
				Str("event", event.Name).
				Msg("delivery queue full, dropping subscriber")
			stalled = append(stalled, sub.subscription.SubscriberID)
		}
	}
	for _, id := range stalled {
		b.Unsubscribe(id)
	}
}

// List exposes active subscriptions for diagnostics, sorted by subscriber id.
func (b *Broker) List() []types.Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		out = append(out, sub.subscription)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubscriberID < out[j].SubscriberID
	})
	return out
}

// Count returns the number of active subscribers.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func sortedPatterns(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
