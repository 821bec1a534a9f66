package observation

import (
	"context"
	"time"

	"github.com/burrowd/burrow/pkg/broker"
	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/google/uuid"
)

// ReplayRequest describes one replay of historical events.
type ReplayRequest struct {
	// Patterns select which historical events to re-emit.
	Patterns []string

	// Origin, when non-empty, restricts the replay to events from one
	// producer.
	Origin string

	// Since excludes events at or below this sequence number.
	Since uint64

	// Speed scales pacing: 5.0 replays five times faster than the original
	// spacing, 0.5 at half pace. Must be positive.
	Speed float64

	// AsNewEvents appends replayed copies to the canonical log with fresh
	// sequence numbers and a replay tag, visible to live subscribers.
	// Otherwise events are pushed only to Requester.
	AsNewEvents bool

	// Requester receives the replayed events when AsNewEvents is false.
	Requester broker.Transport
}

type replayRun struct {
	session types.ReplaySession
	cancel  context.CancelFunc
}

// Replay starts re-emitting matched historical events, preserving their
// relative timing scaled by the requested speed. Pacing runs on its own
// goroutine and timer; ordinary dispatch is never blocked. The returned
// session reports the event count and estimated duration.
func (m *Manager) Replay(req ReplayRequest) (*types.ReplaySession, error) {
	if req.Speed <= 0 {
		return nil, errdefs.Validationf("replay speed must be positive, got %v", req.Speed)
	}
	if !req.AsNewEvents && req.Requester == nil {
		return nil, errdefs.Validationf("replay without as_new_events requires a requester transport")
	}

	events, err := m.log.Query(req.Patterns, req.Since, 0)
	if err != nil {
		return nil, err
	}
	if req.Origin != "" {
		filtered := events[:0:0]
		for _, event := range events {
			if event.Origin == req.Origin {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}

	session := types.ReplaySession{
		ID:          uuid.NewString(),
		Patterns:    req.Patterns,
		Speed:       req.Speed,
		AsNewEvents: req.AsNewEvents,
		Status:      types.ReplayStatusRunning,
		EventCount:  len(events),
		StartedAt:   time.Now(),
	}
	if len(events) > 1 {
		span := events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
		session.EstimatedDuration = time.Duration(float64(span) / req.Speed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &replayRun{session: session, cancel: cancel}

	m.mu.Lock()
	m.sessions[session.ID] = run
	m.mu.Unlock()

	lg := log.WithSessionID(session.ID)
	lg.Info().
		Int("events", len(events)).
		Float64("speed", req.Speed).
		Bool("as_new_events", req.AsNewEvents).
		Msg("replay started")
	m.emitAudit(types.EventReplayStarted, map[string]interface{}{
		"session_id":  session.ID,
		"event_count": len(events),
		"speed":       req.Speed,
	})

	go m.runReplay(ctx, run, events, req)

	out := session
	return &out, nil
}

// ReplayStatus returns a snapshot of a session. Finished sessions are
// transient: once removed, the id reports not found.
func (m *Manager) ReplayStatus(sessionID string) (*types.ReplaySession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.sessions[sessionID]
	if !ok {
		return nil, errdefs.NotFoundf("replay session %s", sessionID)
	}
	out := run.session
	return &out, nil
}

// CancelReplay stops an in-flight session.
func (m *Manager) CancelReplay(sessionID string) error {
	m.mu.RLock()
	run, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return errdefs.NotFoundf("replay session %s", sessionID)
	}
	run.cancel()
	return nil
}

func (m *Manager) runReplay(ctx context.Context, run *replayRun, events []*types.Event, req ReplayRequest) {
	outcome := types.ReplayStatusCompleted
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for i, event := range events {
		if i > 0 {
			gap := event.Timestamp.Sub(events[i-1].Timestamp)
			if gap > 0 {
				timer.Reset(time.Duration(float64(gap) / req.Speed))
				select {
				case <-timer.C:
				case <-ctx.Done():
					outcome = types.ReplayStatusCancelled
				}
			}
		}
		if outcome == types.ReplayStatusCancelled {
			break
		}
		m.emit(run.session.ID, event, req)
	}

	m.mu.Lock()
	delete(m.sessions, run.session.ID)
	m.mu.Unlock()

	metrics.ReplaysTotal.WithLabelValues(string(outcome)).Inc()
	lg := log.WithSessionID(run.session.ID)
	lg.Info().
		Str("outcome", string(outcome)).
		Msg("replay finished")
	m.emitAudit(types.EventReplayFinished, map[string]interface{}{
		"session_id": run.session.ID,
		"outcome":    string(outcome),
	})
}

// emitAudit appends a replay lifecycle event to the canonical log, so
// session starts and outcomes are visible to subscribers and history
// queries like any other event.
func (m *Manager) emitAudit(name string, data map[string]interface{}) {
	if _, err := m.log.Append(&types.Event{
		Name:   name,
		Data:   data,
		Origin: "observation",
	}); err != nil {
		m.logger.Warn().Err(err).Str("event", name).Msg("failed to append replay audit event")
	}
}

// emit re-emits one historical event: appended to the canonical log with a
// fresh sequence number and a replay tag, or pushed only to the requester.
func (m *Manager) emit(sessionID string, event *types.Event, req ReplayRequest) {
	if req.AsNewEvents {
		replayed := event.Clone()
		replayed.Sequence = 0
		replayed.Timestamp = time.Time{}
		if replayed.Data == nil {
			replayed.Data = make(map[string]interface{}, 2)
		}
		replayed.Data["replay_of"] = event.Sequence
		replayed.Data["replay_session"] = sessionID
		if _, err := m.log.Append(replayed); err != nil {
			m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to append replayed event")
		}
		return
	}

	if err := req.Requester.Push(event); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("replay push failed")
	}
}
