package eventlog

import (
	"sync"
	"time"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/burrowd/burrow/pkg/pattern"
	"github.com/burrowd/burrow/pkg/storage"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// persistFailureBudget is the number of consecutive persistence failures
// tolerated before the log fails closed for writes. A single successful
// persist resets the count.
const persistFailureBudget = 5

// Observer is notified after every successful append, outside the append
// critical section. The daemon wires the dispatcher and broker here.
type Observer func(event *types.Event)

// Log is the ordered, append-only event record. Appends assign strictly
// increasing, gapless sequence numbers; events are immutable once appended.
type Log struct {
	mu       sync.RWMutex
	events   []*types.Event
	lastSeq  uint64
	store    storage.Store
	degraded bool

	// notifyMu serializes observer notification in sequence order. It is
	// acquired while mu is still held, then mu is released; see Append.
	notifyMu sync.Mutex

	persistErrs int

	observerMu sync.RWMutex
	observers  []Observer

	logger zerolog.Logger
}

// New creates an event log backed by the given store. Previously persisted
// events are reloaded so sequence numbering continues where it left off.
func New(store storage.Store) (*Log, error) {
	if store == nil {
		store = storage.NullStore{}
	}

	l := &Log{
		store:  store,
		logger: log.WithComponent("eventlog"),
	}

	events, err := store.LoadEvents()
	if err != nil {
		return nil, err
	}
	l.events = events
	if n := len(events); n > 0 {
		l.lastSeq = events[n-1].Sequence
		l.logger.Info().
			Int("events", n).
			Uint64("last_sequence", l.lastSeq).
			Msg("event log reloaded")
	}

	return l, nil
}

// AddObserver registers a post-append hook. Not safe to call concurrently
// with Append; the daemon registers all observers during startup.
func (l *Log) AddObserver(obs Observer) {
	l.observerMu.Lock()
	defer l.observerMu.Unlock()
	l.observers = append(l.observers, obs)
}

// Append assigns the next sequence number, records the event, and notifies
// observers. It is O(1) and never fails the caller on a persistence error;
// those are logged and counted. Append only returns an error once the
// persistence retry budget is exhausted and the log has failed closed.
func (l *Log) Append(event *types.Event) (uint64, error) {
	if event.Name == "" {
		return 0, errdefs.Validationf("event name is empty")
	}

	l.mu.Lock()
	if l.degraded {
		l.mu.Unlock()
		return 0, errdefs.ErrUnavailable
	}

	l.lastSeq++
	event.Sequence = l.lastSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.events = append(l.events, event)

	// Persist inside the critical section so the store sees appends in
	// sequence order. Errors degrade, they do not fail the append.
	persistErr := l.store.AppendEvent(event)
	var failures int
	var failed bool
	if persistErr != nil {
		l.persistErrs++
		failures = l.persistErrs
		failed = failures >= persistFailureBudget
		if failed {
			l.degraded = true
		}
	} else {
		l.persistErrs = 0
	}
	size := len(l.events)

	// Hand off to the notify mutex before releasing the append mutex, so
	// observers always see events in sequence order even with concurrent
	// appenders. The next append can assign its sequence while this one
	// is still notifying, but its notification queues behind ours.
	l.notifyMu.Lock()
	l.mu.Unlock()

	metrics.EventsAppended.Inc()
	metrics.EventLogSize.Set(float64(size))
	if persistErr != nil {
		metrics.PersistenceErrors.Inc()
		l.logger.Error().
			Err(persistErr).
			Uint64("sequence", event.Sequence).
			Int("consecutive_failures", failures).
			Msg("failed to persist event")
		if failed {
			l.logger.Error().Msg("persistence retry budget exhausted, event log is now write-closed")
		}
	}

	l.notify(event)
	l.notifyMu.Unlock()
	return event.Sequence, nil
}

func (l *Log) notify(event *types.Event) {
	l.observerMu.RLock()
	observers := l.observers
	l.observerMu.RUnlock()

	for _, obs := range observers {
		obs(event)
	}
}

// Query returns events matching any of the patterns, with sequence numbers
// strictly greater than since, in ascending sequence order, bounded by limit
// (limit <= 0 means unbounded). An empty pattern set matches everything.
func (l *Log) Query(patterns []string, since uint64, limit int) ([]*types.Event, error) {
	if err := pattern.ValidateAll(patterns); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*types.Event
	for _, event := range l.events {
		if event.Sequence <= since {
			continue
		}
		if !pattern.MatchAny(patterns, event.Name) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Tail returns the most recent events matching the patterns, at most limit,
// in ascending sequence order. When more matches exist than limit, the oldest
// are dropped. limit <= 0 means unbounded.
func (l *Log) Tail(patterns []string, limit int) ([]*types.Event, error) {
	if err := pattern.ValidateAll(patterns); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*types.Event
	for i := len(l.events) - 1; i >= 0; i-- {
		event := l.events[i]
		if !pattern.MatchAny(patterns, event.Name) {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}

	// Collected newest-first; reverse to ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Len returns the number of events in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// LastSequence returns the sequence number of the most recent append, or
// zero for an empty log.
func (l *Log) LastSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

// Healthy reports whether the log is accepting writes.
func (l *Log) Healthy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.degraded
}
