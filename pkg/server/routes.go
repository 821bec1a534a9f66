package server

import (
	"time"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/burrowd/burrow/pkg/observation"
	"github.com/burrowd/burrow/pkg/types"
)

type routeFunc func(c *conn, data map[string]interface{}) (map[string]interface{}, error)

func (s *Server) routeTable() map[string]routeFunc {
	return map[string]routeFunc{
		"completion:async":  s.handleCompletionAsync,
		"completion:status": s.handleCompletionStatus,
		"completion:result": s.handleCompletionResult,
		"completion:cancel": s.handleCompletionCancel,

		"monitor:subscribe":   s.handleMonitorSubscribe,
		"monitor:unsubscribe": s.handleMonitorUnsubscribe,

		"observation:subscribe":        s.handleObservationSubscribe,
		"observation:unsubscribe":      s.handleObservationUnsubscribe,
		"observation:list":             s.handleObservationList,
		"observation:query_history":    s.handleQueryHistory,
		"observation:analyze_patterns": s.handleAnalyzePatterns,
		"observation:replay":           s.handleReplay,
		"observation:replay_cancel":    s.handleReplayCancel,

		"event:emit":  s.handleEventEmit,
		"event:query": s.handleEventQuery,

		"daemon:ping": s.handlePing,
	}
}

// handle dispatches one decoded request to its route and writes the
// response frame.
func (s *Server) handle(c *conn, req *request) {
	start := time.Now()

	route, ok := s.routes[req.Event]
	if !ok {
		err := errdefs.NotFoundf("unknown event %q", req.Event)
		c.writeError(req.ID, req.Event, err)
		metrics.RequestsTotal.WithLabelValues(req.Event, errdefs.Code(err)).Inc()
		return
	}

	data, err := route(c, req.Data)

	status := "ok"
	if err != nil {
		status = errdefs.Code(err)
		c.writeError(req.ID, req.Event, err)
	} else {
		c.writeResult(req.ID, data)
	}

	metrics.RequestsTotal.WithLabelValues(req.Event, status).Inc()
	metrics.RequestDuration.WithLabelValues(req.Event).Observe(time.Since(start).Seconds())
}

func (s *Server) handleCompletionAsync(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	params := mapField(data, "params")
	if params == nil {
		// Flat payloads are accepted: the whole data object is the params.
		params = data
	}

	requestID, err := s.deps.Registry.Submit(params)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"request_id": requestID}, nil
}

func (s *Server) handleCompletionStatus(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	requestID := stringField(data, "request_id")
	if requestID == "" {
		counts := s.deps.Registry.Counts()
		return map[string]interface{}{
			"counts":      counts,
			"outstanding": counts.Outstanding(),
		}, nil
	}

	status, err := s.deps.Registry.Status(requestID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"request_id": requestID,
		"status":     string(status),
	}, nil
}

func (s *Server) handleCompletionResult(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	requestID := stringField(data, "request_id")
	if requestID == "" {
		return nil, errdefs.Validationf("request_id is required")
	}

	job, err := s.deps.Registry.Job(requestID)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{
		"request_id": requestID,
		"status":     string(job.Status),
	}
	if !job.Status.Terminal() {
		out["pending"] = true
		return out, nil
	}
	if job.Error != "" {
		out["error"] = job.Error
	} else {
		out["result"] = job.Result
	}
	return out, nil
}

func (s *Server) handleCompletionCancel(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	requestID := stringField(data, "request_id")
	if requestID == "" {
		return nil, errdefs.Validationf("request_id is required")
	}

	status, err := s.deps.Registry.Cancel(requestID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"request_id": requestID,
		"status":     string(status),
	}, nil
}

func (s *Server) handleMonitorSubscribe(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	patterns := patternsField(data, "patterns")
	if len(patterns) == 0 {
		return nil, errdefs.Validationf("patterns are required")
	}

	subID, err := s.deps.Broker.Subscribe(c.id, patterns, c)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"subscription_id": subID,
		"patterns":        patterns,
	}, nil
}

func (s *Server) handleMonitorUnsubscribe(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"unsubscribed": s.deps.Broker.Unsubscribe(c.id),
	}, nil
}

func (s *Server) handleObservationSubscribe(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	observerID := stringField(data, "observer_id")
	if observerID == "" {
		observerID = c.id
	}
	targetID := stringField(data, "target_id")

	subID, err := s.deps.Observation.Subscribe(observerID, targetID, patternsField(data, "patterns"), c)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"subscription_id": subID,
		"observer_id":     observerID,
		"target_id":       targetID,
	}, nil
}

func (s *Server) handleObservationUnsubscribe(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	observerID := stringField(data, "observer_id")
	if observerID == "" {
		observerID = c.id
	}

	removed := s.deps.Observation.Unsubscribe(observerID, stringField(data, "target_id"))
	return map[string]interface{}{"removed": removed}, nil
}

func (s *Server) handleObservationList(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"subscriptions": s.deps.Observation.List(),
	}, nil
}

func (s *Server) handleQueryHistory(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	res, err := s.deps.Observation.QueryHistory(
		stringField(data, "target_id"),
		patternsField(data, "patterns"),
		uint64Field(data, "since"),
		intField(data, "limit"),
	)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"events": res.Events,
		"counts": res.Counts,
		"total":  res.Total,
	}, nil
}

func (s *Server) handleAnalyzePatterns(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	counts, err := s.deps.Observation.AnalyzePatterns(
		patternsField(data, "patterns"),
		stringField(data, "analysis_type"),
		intField(data, "limit"),
	)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"frequencies": counts}, nil
}

func (s *Server) handleReplay(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	speed := floatField(data, "speed")
	if speed == 0 {
		speed = 1.0
	}

	session, err := s.deps.Observation.Replay(observation.ReplayRequest{
		Patterns:    patternsField(data, "patterns"),
		Origin:      stringField(data, "origin"),
		Since:       uint64Field(data, "since"),
		Speed:       speed,
		AsNewEvents: boolField(data, "as_new_events"),
		Requester:   c,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session_id":            session.ID,
		"status":                string(session.Status),
		"event_count":           session.EventCount,
		"estimated_duration_ms": session.EstimatedDuration.Milliseconds(),
	}, nil
}

func (s *Server) handleReplayCancel(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	sessionID := stringField(data, "session_id")
	if sessionID == "" {
		return nil, errdefs.Validationf("session_id is required")
	}

	if err := s.deps.Observation.CancelReplay(sessionID); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"session_id": sessionID,
		"cancelled":  true,
	}, nil
}

func (s *Server) handleEventEmit(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	name := stringField(data, "name")
	if name == "" {
		return nil, errdefs.Validationf("event name is required")
	}

	origin := stringField(data, "origin")
	if origin == "" {
		origin = c.id
	}

	resp, seq, err := s.deps.Emitter.Emit(s.baseCtx, &types.Event{
		Name:   name,
		Data:   mapField(data, "data"),
		Origin: origin,
	})
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{"sequence": seq}
	if resp != nil {
		out["response"] = resp.Data
	}
	return out, nil
}

func (s *Server) handleEventQuery(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	events, err := s.deps.Log.Query(
		patternsField(data, "patterns"),
		uint64Field(data, "since"),
		intField(data, "limit"),
	)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"events": events,
		"count":  len(events),
	}, nil
}

func (s *Server) handlePing(c *conn, data map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"pong":          true,
		"server_time":   time.Now().UTC().Format(time.RFC3339Nano),
		"last_sequence": s.deps.Log.LastSequence(),
	}, nil
}

// Payload field coercion. JSON numbers decode as float64; missing or
// mistyped fields read as zero values and are validated by the routes
// that require them.

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func patternsField(data map[string]interface{}, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

func mapField(data map[string]interface{}, key string) map[string]interface{} {
	if v, ok := data[key].(map[string]interface{}); ok {
		return v
	}
	return nil
}

func floatField(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func uint64Field(data map[string]interface{}, key string) uint64 {
	f := floatField(data, key)
	if f < 0 {
		return 0
	}
	return uint64(f)
}

func intField(data map[string]interface{}, key string) int {
	return int(floatField(data, key))
}

func boolField(data map[string]interface{}, key string) bool {
	v, _ := data[key].(bool)
	return v
}
