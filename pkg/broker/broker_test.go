package broker

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/eventlog"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/storage"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
}

// fakeTransport records pushed events; fails after failAfter pushes if set.
type fakeTransport struct {
	mu        sync.Mutex
	id        string
	events    []*types.Event
	failAfter int // -1 means never fail
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id, failAfter: -1}
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Push(event *types.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failAfter >= 0 && len(t.events) >= t.failAfter {
		return errors.New("broken pipe")
	}
	t.events = append(t.events, event)
	return nil
}

func (t *fakeTransport) pushed() []*types.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*types.Event(nil), t.events...)
}

func TestSubscribeValidatesPatterns(t *testing.T) {
	b := NewBroker()

	_, err := b.Subscribe("client-1", []string{"bad::pattern"}, newFakeTransport("client-1"))
	assert.True(t, errdefs.IsInvalidPattern(err))
	assert.Equal(t, 0, b.Count())
}

func TestPublishMatchesPatterns(t *testing.T) {
	b := NewBroker()
	tr := newFakeTransport("client-1")

	_, err := b.Subscribe("client-1", []string{"completion:*"}, tr)
	require.NoError(t, err)

	events := []string{
		"completion:result",
		"monitor:subscribe",
		"completion:status",
		"observation:replay",
		"completion:async",
	}
	for i, name := range events {
		b.Publish(&types.Event{Name: name, Sequence: uint64(i + 1)})
	}

	require.Eventually(t, func() bool {
		return len(tr.pushed()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	pushed := tr.pushed()
	// Exactly the completion: events, in publish order.
	assert.Equal(t, "completion:result", pushed[0].Name)
	assert.Equal(t, "completion:status", pushed[1].Name)
	assert.Equal(t, "completion:async", pushed[2].Name)

	// Sequence order is non-decreasing.
	for i := 1; i < len(pushed); i++ {
		assert.GreaterOrEqual(t, pushed[i].Sequence, pushed[i-1].Sequence)
	}
}

func TestResubscribeMergesPatterns(t *testing.T) {
	b := NewBroker()
	tr := newFakeTransport("client-1")

	id1, err := b.Subscribe("client-1", []string{"completion:*"}, tr)
	require.NoError(t, err)
	id2, err := b.Subscribe("client-1", []string{"monitor:*", "completion:*"}, tr)
	require.NoError(t, err)

	// Same subscription, merged patterns.
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, b.Count())

	subs := b.List()
	require.Len(t, subs, 1)
	assert.Equal(t, []string{"completion:*", "monitor:*"}, subs[0].Patterns)
}

func TestPushFailureDropsSubscriber(t *testing.T) {
	b := NewBroker()

	healthy := newFakeTransport("healthy")
	broken := newFakeTransport("broken")
	broken.failAfter = 1

	_, err := b.Subscribe("healthy", []string{"*"}, healthy)
	require.NoError(t, err)
	_, err = b.Subscribe("broken", []string{"*"}, broken)
	require.NoError(t, err)

	b.Publish(&types.Event{Name: "tick:one", Sequence: 1})
	b.Publish(&types.Event{Name: "tick:two", Sequence: 2})

	// The broken subscriber is removed after its failed push; the healthy
	// one is unaffected.
	require.Eventually(t, func() bool {
		return b.Count() == 1 && len(healthy.pushed()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, broken.pushed(), 1)

	b.Publish(&types.Event{Name: "tick:three", Sequence: 3})
	require.Eventually(t, func() bool {
		return len(healthy.pushed()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, broken.pushed(), 1)
}

func TestUnsubscribeRemovesAllRegistrations(t *testing.T) {
	b := NewBroker()
	tr := newFakeTransport("client-1")

	_, err := b.Subscribe("client-1", []string{"completion:*", "monitor:*"}, tr)
	require.NoError(t, err)

	assert.True(t, b.Unsubscribe("client-1"))
	assert.False(t, b.Unsubscribe("client-1"))
	assert.Equal(t, 0, b.Count())

	b.Publish(&types.Event{Name: "completion:result", Sequence: 1})
	assert.Empty(t, tr.pushed())
}

// blockingTransport simulates a connected client that stopped reading: its
// Push blocks until released.
type blockingTransport struct {
	id      string
	release chan struct{}
}

func newBlockingTransport(t *testing.T, id string) *blockingTransport {
	tr := &blockingTransport{id: id, release: make(chan struct{})}
	t.Cleanup(func() { close(tr.release) })
	return tr
}

func (t *blockingTransport) ID() string { return t.id }

func (t *blockingTransport) Push(event *types.Event) error {
	<-t.release
	return nil
}

func TestStalledSubscriberDoesNotBlockAppends(t *testing.T) {
	b := NewBroker()
	l, err := eventlog.New(storage.NullStore{})
	require.NoError(t, err)
	l.AddObserver(b.Publish)

	stalled := newBlockingTransport(t, "stalled")
	healthy := newFakeTransport("healthy")
	_, err = b.Subscribe("stalled", []string{"*"}, stalled)
	require.NoError(t, err)
	_, err = b.Subscribe("healthy", []string{"*"}, healthy)
	require.NoError(t, err)

	// Appends and reads must complete even while one subscriber's push
	// hangs on a full socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			if _, err := l.Append(&types.Event{Name: fmt.Sprintf("tick:t%d", i)}); err != nil {
				t.Errorf("append failed: %v", err)
				return
			}
		}
		events, err := l.Query(nil, 0, 0)
		if err != nil || len(events) != 5 {
			t.Errorf("query returned %d events, err %v", len(events), err)
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("append or query blocked behind a stalled subscriber")
	}

	require.Eventually(t, func() bool {
		return len(healthy.pushed()) == 5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueOverflowDropsStalledSubscriber(t *testing.T) {
	b := NewBroker()

	stalled := newBlockingTransport(t, "stalled")
	_, err := b.Subscribe("stalled", []string{"*"}, stalled)
	require.NoError(t, err)

	// One event is stuck in Push, queueSize fill the queue, the next
	// overflows and evicts the subscriber.
	for i := 0; i < queueSize+3; i++ {
		b.Publish(&types.Event{Name: "tick:tock", Sequence: uint64(i + 1)})
	}

	require.Eventually(t, func() bool {
		return b.Count() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestListSortedBySubscriber(t *testing.T) {
	b := NewBroker()

	_, err := b.Subscribe("zeta", []string{"a:b"}, newFakeTransport("zeta"))
	require.NoError(t, err)
	_, err = b.Subscribe("alpha", []string{"c:d"}, newFakeTransport("alpha"))
	require.NoError(t, err)

	subs := b.List()
	require.Len(t, subs, 2)
	assert.Equal(t, "alpha", subs[0].SubscriberID)
	assert.Equal(t, "zeta", subs[1].SubscriberID)
}
