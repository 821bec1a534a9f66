package observation

import (
	"sort"
	"sync"
	"time"

	"github.com/burrowd/burrow/pkg/broker"
	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/eventlog"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/pattern"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager implements the observation subsystem: observer→target
// subscriptions, historical queries, frequency analysis, and timed replay.
type Manager struct {
	log *eventlog.Log

	mu         sync.RWMutex
	subs       map[string]*obsSub            // keyed by subscription id
	byObserver map[string]map[string]*obsSub // observer id → subscription id → sub
	sessions   map[string]*replayRun

	logger zerolog.Logger
}

// deliveryQueueSize bounds each registration's delivery queue. An observer
// that falls further behind than this loses the registration.
const deliveryQueueSize = 64

// obsSub owns a bounded queue drained by its own goroutine, so a stalled
// observer transport never blocks Observe.
type obsSub struct {
	subscription types.ObservationSubscription
	transport    broker.Transport

	queue     chan *types.Event
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *obsSub) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// NewManager creates an observation manager reading from the given log. The
// daemon registers Observe as a log observer to drive live target-scoped
// delivery.
func NewManager(eventLog *eventlog.Log) *Manager {
	return &Manager{
		log:        eventLog,
		subs:       make(map[string]*obsSub),
		byObserver: make(map[string]map[string]*obsSub),
		sessions:   make(map[string]*replayRun),
		logger:     log.WithComponent("observation"),
	}
}

// Subscribe registers an observer for events originating from target and
// matching the patterns. One observer may watch several targets; each
// (observer, target) registration gets its own subscription id.
func (m *Manager) Subscribe(observerID, targetID string, patterns []string, transport broker.Transport) (string, error) {
	if observerID == "" {
		return "", errdefs.Validationf("observer_id is empty")
	}
	if targetID == "" {
		return "", errdefs.Validationf("target_id is empty")
	}
	if err := pattern.ValidateAll(patterns); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-subscribing to the same target merges patterns, mirroring the
	// broker's idempotent subscribe.
	for _, sub := range m.byObserver[observerID] {
		if sub.subscription.TargetID != targetID {
			continue
		}
		merged := mergePatterns(sub.subscription.Patterns, patterns)
		sub.subscription.Patterns = merged
		if transport != nil {
			sub.transport = transport
		}
		return sub.subscription.ID, nil
	}

	sub := &obsSub{
		subscription: types.ObservationSubscription{
			ID:         uuid.New().String(),
			ObserverID: observerID,
			TargetID:   targetID,
			Patterns:   mergePatterns(nil, patterns),
			CreatedAt:  time.Now(),
		},
		transport: transport,
		queue:     make(chan *types.Event, deliveryQueueSize),
		closed:    make(chan struct{}),
	}
	m.subs[sub.subscription.ID] = sub
	if m.byObserver[observerID] == nil {
		m.byObserver[observerID] = make(map[string]*obsSub)
	}
	m.byObserver[observerID][sub.subscription.ID] = sub
	go m.drain(sub)

	m.logger.Debug().
		Str("observer_id", observerID).
		Str("target_id", targetID).
		Msg("observation subscription created")

	return sub.subscription.ID, nil
}

// Unsubscribe removes all of an observer's registrations, or only those for
// targetID when it is non-empty.
func (m *Manager) Unsubscribe(observerID, targetID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, sub := range m.byObserver[observerID] {
		if targetID != "" && sub.subscription.TargetID != targetID {
			continue
		}
		delete(m.subs, id)
		delete(m.byObserver[observerID], id)
		sub.close()
		removed++
	}
	if len(m.byObserver[observerID]) == 0 {
		delete(m.byObserver, observerID)
	}
	return removed
}

// drop removes one registration, by id, wherever it is indexed.
func (m *Manager) drop(sub *obsSub) {
	m.mu.Lock()
	delete(m.subs, sub.subscription.ID)
	delete(m.byObserver[sub.subscription.ObserverID], sub.subscription.ID)
	if len(m.byObserver[sub.subscription.ObserverID]) == 0 {
		delete(m.byObserver, sub.subscription.ObserverID)
	}
	m.mu.Unlock()
	sub.close()
}

// drain delivers one registration's queue in FIFO order. A push failure
// drops that registration only.
func (m *Manager) drain(sub *obsSub) {
	for {
		select {
		case <-sub.closed:
			return
		case event := <-sub.queue:
			m.mu.RLock()
			transport := sub.transport
			m.mu.RUnlock()
			if transport == nil {
				continue
			}
			if err := transport.Push(event); err != nil {
				m.logger.Warn().
					Err(err).
					Str("observer_id", sub.subscription.ObserverID).
					Msg("observer push failed, dropping registration")
				m.drop(sub)
				return
			}
		}
	}
}

// List returns active observation subscriptions, sorted by observer then
// target for stable diagnostics output.
func (m *Manager) List() []types.ObservationSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.ObservationSubscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub.subscription)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObserverID != out[j].ObserverID {
			return out[i].ObserverID < out[j].ObserverID
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// Observe delivers a live event to observers watching its origin. Wired as
// an event log observer, so it only enqueues: transport I/O happens on
// per-registration drain goroutines and a stalled observer never blocks an
// append. Push failures and queue overflows drop the failing registration
// only.
func (m *Manager) Observe(event *types.Event) {
	if event.Origin == "" {
		return
	}

	m.mu.RLock()
	var targets []*obsSub
	for _, sub := range m.subs {
		if sub.transport == nil || sub.subscription.TargetID != event.Origin {
			continue
		}
		if pattern.MatchAny(sub.subscription.Patterns, event.Name) {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.queue <- event:
		case <-sub.closed:
		default:
			m.logger.Warn().
				Str("observer_id", sub.subscription.ObserverID).
				Str("event", event.Name).
				Msg("observer queue full, dropping registration")
			m.drop(sub)
		}
	}
}

// HistoryResult is the answer to a history query.
type HistoryResult struct {
	Events []*types.Event `json:"events"`
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// QueryHistory returns historical events originating from target (all
// origins when target is empty), matching the patterns, newer than since.
// When more events match than limit, the most recent are kept; order is
// ascending by sequence. Counts aggregate per event name over everything
// returned.
func (m *Manager) QueryHistory(target string, patterns []string, since uint64, limit int) (*HistoryResult, error) {
	events, err := m.log.Query(patterns, since, 0)
	if err != nil {
		return nil, err
	}

	if target != "" {
		filtered := events[:0:0]
		for _, event := range events {
			if event.Origin == target {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}

	total := len(events)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	counts := make(map[string]int, len(events))
	for _, event := range events {
		counts[event.Name]++
	}

	return &HistoryResult{Events: events, Counts: counts, Total: total}, nil
}

// FrequencyCount is one entry of a pattern analysis, ordered most frequent
// first.
type FrequencyCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AnalyzePatterns computes per-event-name frequencies over the matching
// window, sorted descending by count (ties broken by name). Only the
// "frequency" analysis kind exists today.
func (m *Manager) AnalyzePatterns(patterns []string, kind string, limit int) ([]FrequencyCount, error) {
	if kind == "" {
		kind = "frequency"
	}
	if kind != "frequency" {
		return nil, errdefs.Validationf("unknown analysis type %q", kind)
	}

	events, err := m.log.Query(patterns, 0, 0)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]int)
	for _, event := range events {
		byName[event.Name]++
	}

	out := make([]FrequencyCount, 0, len(byName))
	for name, count := range byName {
		out = append(out, FrequencyCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func mergePatterns(existing, incoming []string) []string {
	set := make(map[string]struct{}, len(existing)+len(incoming))
	for _, p := range existing {
		set[p] = struct{}{}
	}
	for _, p := range incoming {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
