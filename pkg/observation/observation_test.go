package observation

import (
	"errors"
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

type fakeTransport struct {
	mu     sync.Mutex
	id     string
	events []*types.Event
	fail   bool
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Push(event *types.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
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

func newTestManager(t *testing.T) (*Manager, *eventlog.Log) {
	t.Helper()
	l, err := eventlog.New(storage.NullStore{})
	require.NoError(t, err)
	m := NewManager(l)
	l.AddObserver(m.Observe)
	return m, l
}

func TestSubscribeValidation(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Subscribe("", "target", nil, nil)
	assert.True(t, errdefs.IsValidation(err))

	_, err = m.Subscribe("observer", "", nil, nil)
	assert.True(t, errdefs.IsValidation(err))

	_, err = m.Subscribe("observer", "target", []string{"bad::pat"}, nil)
	assert.True(t, errdefs.IsInvalidPattern(err))
}

func TestObserveDeliversTargetEventsOnly(t *testing.T) {
	m, l := newTestManager(t)
	tr := &fakeTransport{id: "observer-1"}

	_, err := m.Subscribe("observer-1", "agent-a", []string{"task:*"}, tr)
	require.NoError(t, err)

	_, err = l.Append(&types.Event{Name: "task:started", Origin: "agent-a"})
	require.NoError(t, err)
	_, err = l.Append(&types.Event{Name: "task:started", Origin: "agent-b"})
	require.NoError(t, err)
	_, err = l.Append(&types.Event{Name: "heartbeat", Origin: "agent-a"})
	require.NoError(t, err)
	_, err = l.Append(&types.Event{Name: "task:finished", Origin: "agent-a"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(tr.pushed()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	pushed := tr.pushed()
	assert.Equal(t, "task:started", pushed[0].Name)
	assert.Equal(t, "task:finished", pushed[1].Name)
}

// blockedTransport simulates an observer that stopped reading: Push blocks
// until released.
type blockedTransport struct {
	id      string
	release chan struct{}
}

func (t *blockedTransport) ID() string { return t.id }

func (t *blockedTransport) Push(event *types.Event) error {
	<-t.release
	return nil
}

func TestStalledObserverDoesNotBlockAppends(t *testing.T) {
	m, l := newTestManager(t)

	stalled := &blockedTransport{id: "stalled", release: make(chan struct{})}
	t.Cleanup(func() { close(stalled.release) })
	_, err := m.Subscribe("stalled", "agent-a", nil, stalled)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			if _, err := l.Append(&types.Event{Name: "task:tick", Origin: "agent-a"}); err != nil {
				t.Errorf("append failed: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("append blocked behind a stalled observer")
	}
}

func TestSubscribeMergesPerTarget(t *testing.T) {
	m, _ := newTestManager(t)

	id1, err := m.Subscribe("observer-1", "agent-a", []string{"task:*"}, nil)
	require.NoError(t, err)
	id2, err := m.Subscribe("observer-1", "agent-a", []string{"completion:*"}, nil)
	require.NoError(t, err)
	id3, err := m.Subscribe("observer-1", "agent-b", []string{"task:*"}, nil)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)

	subs := m.List()
	require.Len(t, subs, 2)
	assert.Equal(t, []string{"completion:*", "task:*"}, subs[0].Patterns)
}

func TestUnsubscribeByTarget(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Subscribe("observer-1", "agent-a", []string{"*"}, nil)
	require.NoError(t, err)
	_, err = m.Subscribe("observer-1", "agent-b", []string{"*"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Unsubscribe("observer-1", "agent-a"))
	assert.Len(t, m.List(), 1)

	// Empty target removes everything that remains.
	assert.Equal(t, 1, m.Unsubscribe("observer-1", ""))
	assert.Empty(t, m.List())
}

func TestQueryHistory(t *testing.T) {
	m, l := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := l.Append(&types.Event{Name: "task:started", Origin: "agent-a"})
		require.NoError(t, err)
	}
	_, err := l.Append(&types.Event{Name: "task:started", Origin: "agent-b"})
	require.NoError(t, err)
	_, err = l.Append(&types.Event{Name: "task:finished", Origin: "agent-a"})
	require.NoError(t, err)

	res, err := m.QueryHistory("agent-a", []string{"task:*"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Len(t, res.Events, 4)
	assert.Equal(t, 3, res.Counts["task:started"])
	assert.Equal(t, 1, res.Counts["task:finished"])
}

func TestQueryHistoryLimitKeepsMostRecent(t *testing.T) {
	m, l := newTestManager(t)

	for i := 0; i < 10; i++ {
		_, err := l.Append(&types.Event{Name: "tick:tock", Origin: "clock"})
		require.NoError(t, err)
	}

	res, err := m.QueryHistory("clock", nil, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
	require.Len(t, res.Events, 3)
	assert.Equal(t, uint64(8), res.Events[0].Sequence)
	assert.Equal(t, uint64(10), res.Events[2].Sequence)
}

func TestAnalyzePatterns(t *testing.T) {
	m, l := newTestManager(t)

	for _, name := range []string{"a:x", "a:x", "b:y"} {
		_, err := l.Append(&types.Event{Name: name})
		require.NoError(t, err)
	}

	counts, err := m.AnalyzePatterns(nil, "frequency", 0)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, FrequencyCount{Name: "a:x", Count: 2}, counts[0])
	assert.Equal(t, FrequencyCount{Name: "b:y", Count: 1}, counts[1])
}

func TestAnalyzePatternsUnknownKind(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.AnalyzePatterns(nil, "percentile", 0)
	assert.True(t, errdefs.IsValidation(err))
}

func TestAnalyzePatternsLimitAndFilter(t *testing.T) {
	m, l := newTestManager(t)

	names := []string{"a:x", "a:x", "a:y", "b:z", "b:z", "b:z"}
	for _, name := range names {
		_, err := l.Append(&types.Event{Name: name})
		require.NoError(t, err)
	}

	counts, err := m.AnalyzePatterns([]string{"a:*"}, "", 1)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, FrequencyCount{Name: "a:x", Count: 2}, counts[0])
}

func appendAt(t *testing.T, l *eventlog.Log, name string, ts time.Time) {
	t.Helper()
	_, err := l.Append(&types.Event{Name: name, Timestamp: ts, Origin: "test"})
	require.NoError(t, err)
}

func TestReplayPreservesOrderAndScalesTime(t *testing.T) {
	m, l := newTestManager(t)

	base := time.Now().Add(-time.Minute)
	appendAt(t, l, "step:one", base)
	appendAt(t, l, "step:two", base.Add(500*time.Millisecond))
	appendAt(t, l, "step:three", base.Add(1000*time.Millisecond))

	tr := &fakeTransport{id: "requester"}
	start := time.Now()
	session, err := m.Replay(ReplayRequest{
		Patterns:  []string{"step:*"},
		Speed:     10.0,
		Requester: tr,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, session.EventCount)
	// 1s of original spacing at 10x is ~100ms.
	assert.InDelta(t, 100*time.Millisecond, session.EstimatedDuration, float64(5*time.Millisecond))

	require.Eventually(t, func() bool {
		return len(tr.pushed()) == 3
	}, 5*time.Second, 10*time.Millisecond)
	elapsed := time.Since(start)

	pushed := tr.pushed()
	assert.Equal(t, "step:one", pushed[0].Name)
	assert.Equal(t, "step:two", pushed[1].Name)
	assert.Equal(t, "step:three", pushed[2].Name)

	// Scheduling jitter aside, 10x compression of a 1s window should be
	// well under the original duration.
	assert.Less(t, elapsed, 700*time.Millisecond)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestReplayAsNewEventsAppendsTagged(t *testing.T) {
	m, l := newTestManager(t)

	base := time.Now().Add(-time.Minute)
	appendAt(t, l, "step:one", base)
	appendAt(t, l, "step:two", base.Add(10*time.Millisecond))
	before := l.LastSequence()

	session, err := m.Replay(ReplayRequest{
		Patterns:    []string{"step:*"},
		Speed:       100.0,
		AsNewEvents: true,
	})
	require.NoError(t, err)

	// The session is bracketed by lifecycle events in the log.
	require.Eventually(t, func() bool {
		finished, err := l.Query([]string{types.EventReplayFinished}, 0, 0)
		return err == nil && len(finished) == 1
	}, 5*time.Second, 10*time.Millisecond)

	started, err := l.Query([]string{types.EventReplayStarted}, 0, 0)
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, session.ID, started[0].Data["session_id"])

	finished, err := l.Query([]string{types.EventReplayFinished}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, string(types.ReplayStatusCompleted), finished[0].Data["outcome"])

	events, err := l.Query([]string{"step:*"}, before, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "step:one", events[0].Name)
	assert.Equal(t, uint64(1), events[0].Data["replay_of"])
	assert.Equal(t, session.ID, events[0].Data["replay_session"])
	assert.Greater(t, events[0].Sequence, before)
}

func TestReplayRejectsBadSpeed(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Replay(ReplayRequest{Speed: 0, AsNewEvents: true})
	assert.True(t, errdefs.IsValidation(err))

	_, err = m.Replay(ReplayRequest{Speed: -1, AsNewEvents: true})
	assert.True(t, errdefs.IsValidation(err))
}

func TestCancelReplay(t *testing.T) {
	m, l := newTestManager(t)

	base := time.Now().Add(-time.Hour)
	appendAt(t, l, "slow:one", base)
	appendAt(t, l, "slow:two", base.Add(time.Hour))

	tr := &fakeTransport{id: "requester"}
	session, err := m.Replay(ReplayRequest{
		Patterns:  []string{"slow:*"},
		Speed:     1.0, // one hour gap: never finishes unless cancelled
		Requester: tr,
	})
	require.NoError(t, err)

	status, err := m.ReplayStatus(session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReplayStatusRunning, status.Status)

	require.NoError(t, m.CancelReplay(session.ID))

	// The session is transient: removal follows cancellation.
	require.Eventually(t, func() bool {
		_, err := m.ReplayStatus(session.ID)
		return errdefs.IsNotFound(err)
	}, 5*time.Second, 10*time.Millisecond)

	finished, err := l.Query([]string{types.EventReplayFinished}, 0, 0)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, string(types.ReplayStatusCancelled), finished[0].Data["outcome"])

	assert.True(t, errdefs.IsNotFound(m.CancelReplay("unknown-session")))
}
