package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/burrowd/burrow/pkg/errdefs"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/burrowd/burrow/pkg/storage"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/burrowd/burrow/pkg/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventSink receives the completion:result event emitted on every terminal
// transition. Satisfied by *eventlog.Log.
type EventSink interface {
	Append(event *types.Event) (uint64, error)
}

// Config holds configuration for creating a Registry
type Config struct {
	// MaxOutstanding caps jobs in queued or in_progress state. Submissions
	// beyond the cap fail fast with ErrQueueFull. Zero means 256.
	MaxOutstanding int

	// Concurrency bounds simultaneously executing worker invocations.
	// Zero means 8.
	Concurrency int

	// JobTimeout, when non-zero, bounds a single completion. Enforced via
	// the worker's context; a timed-out job records failed exactly once.
	JobTimeout time.Duration
}

type job struct {
	types.CompletionJob
	cancel context.CancelFunc
}

// Registry tracks outstanding asynchronous completion jobs by request id.
// All state transitions pass through a single mutex-guarded writer path;
// the forward-only state machine guarantees no observer ever sees a
// terminal status regress.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*job

	cfg    Config
	worker worker.Worker
	sink   EventSink
	store  storage.Store

	baseCtx    context.Context
	baseCancel context.CancelFunc
	sem        chan struct{}
	wg         sync.WaitGroup

	logger zerolog.Logger
}

// New creates a Registry backed by the given worker. Jobs left outstanding
// by a previous process are marked failed on load: the worker invocation
// died with that process.
func New(cfg Config, w worker.Worker, sink EventSink, store storage.Store) (*Registry, error) {
	if w == nil {
		return nil, errdefs.Validationf("registry requires a worker")
	}
	if store == nil {
		store = storage.NullStore{}
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 256
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	r := &Registry{
		jobs:       make(map[string]*job),
		cfg:        cfg,
		worker:     w,
		sink:       sink,
		store:      store,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sem:        make(chan struct{}, cfg.Concurrency),
		logger:     log.WithComponent("registry"),
	}

	persisted, err := store.ListJobs()
	if err != nil {
		baseCancel()
		return nil, err
	}
	for _, p := range persisted {
		if p.Status.Terminal() {
			continue
		}
		p.Status = types.JobStatusFailed
		p.Error = "daemon restarted before completion"
		now := time.Now()
		p.CompletedAt = &now
		if err := store.PutJob(p); err != nil {
			r.logger.Error().Err(err).Str("request_id", p.RequestID).Msg("failed to persist orphaned job")
		}
		r.logger.Warn().
			Str("request_id", p.RequestID).
			Msg("marked orphaned job failed on startup")
	}

	return r, nil
}

// Submit validates params, registers a queued job, and hands it to the
// worker asynchronously. It returns the fresh request id immediately and
// never blocks on completion.
func (r *Registry) Submit(params map[string]interface{}) (string, error) {
	if len(params) == 0 {
		return "", errdefs.Validationf("completion params are empty")
	}

	r.mu.Lock()
	outstanding := 0
	for _, j := range r.jobs {
		if !j.Status.Terminal() {
			outstanding++
		}
	}
	if outstanding >= r.cfg.MaxOutstanding {
		r.mu.Unlock()
		metrics.JobsRejected.Inc()
		return "", errdefs.ErrQueueFull
	}

	requestID := uuid.New().String()
	jobCtx, cancel := context.WithCancel(r.baseCtx)
	j := &job{
		CompletionJob: types.CompletionJob{
			RequestID:   requestID,
			Status:      types.JobStatusQueued,
			SubmittedAt: time.Now(),
			Params:      params,
		},
		cancel: cancel,
	}
	r.jobs[requestID] = j
	outstanding++
	r.mu.Unlock()

	metrics.JobsOutstanding.Set(float64(outstanding))
	if err := r.store.PutJob(&j.CompletionJob); err != nil {
		r.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to persist job")
	}
	lg := log.WithRequestID(requestID)
	lg.Debug().Msg("job submitted")

	r.wg.Add(1)
	go r.run(jobCtx, requestID)

	return requestID, nil
}

// run executes one job on its own goroutine, bounded by the concurrency
// semaphore. A slow completion holds a semaphore slot, never a lock.
func (r *Registry) run(ctx context.Context, requestID string) {
	defer r.wg.Done()

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		r.finish(requestID, nil, ctx.Err())
		return
	}

	if !r.markInProgress(requestID) {
		// Cancelled while queued.
		return
	}

	if r.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.JobTimeout)
		defer cancel()
	}

	params := r.jobParams(requestID)
	result, err := r.worker.Invoke(ctx, params)
	r.finish(requestID, result, err)
}

func (r *Registry) jobParams(requestID string) map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if j, ok := r.jobs[requestID]; ok {
		return j.Params
	}
	return nil
}

// markInProgress advances queued → in_progress. Returns false if the job is
// already terminal (cancelled before the worker picked it up).
func (r *Registry) markInProgress(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[requestID]
	if !ok || j.Status != types.JobStatusQueued {
		return false
	}
	j.Status = types.JobStatusInProgress
	now := time.Now()
	j.StartedAt = &now
	return true
}

// finish translates a worker outcome into a terminal transition.
func (r *Registry) finish(requestID string, result map[string]interface{}, err error) {
	switch {
	case err == nil:
		r.complete(requestID, types.JobStatusCompleted, result, "")
	case errors.Is(err, context.Canceled):
		r.complete(requestID, types.JobStatusCancelled, nil, "cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		r.complete(requestID, types.JobStatusFailed, nil, "job timed out")
	default:
		r.complete(requestID, types.JobStatusFailed, nil, err.Error())
	}
}

// complete writes the terminal state exactly once under the single-writer
// rule. Duplicate completions for the same request id (the cancel versus
// natural-completion race) are discarded with a warning, so one job can
// never produce two outcomes.
func (r *Registry) complete(requestID string, status types.JobStatus, result map[string]interface{}, errMsg string) {
	r.mu.Lock()
	j, ok := r.jobs[requestID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if j.Status.Terminal() {
		prev := j.Status
		r.mu.Unlock()
		lg := log.WithRequestID(requestID)
		lg.Warn().
			Str("recorded", string(prev)).
			Str("discarded", string(status)).
			Msg("duplicate completion discarded")
		return
	}

	j.Status = status
	now := time.Now()
	j.CompletedAt = &now
	j.Result = result
	j.Error = errMsg
	record := j.CompletionJob

	outstanding := 0
	for _, other := range r.jobs {
		if !other.Status.Terminal() {
			outstanding++
		}
	}
	r.mu.Unlock()

	j.cancel()

	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.JobsOutstanding.Set(float64(outstanding))
	if err := r.store.PutJob(&record); err != nil {
		r.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to persist terminal job state")
	}
	lg := log.WithRequestID(requestID)
	lg.Info().
		Str("status", string(status)).
		Msg("job finished")

	r.emitResult(&record)
}

// emitResult appends the completion:result event carrying the originating
// request id, the sole correlation between submission and outcome, seen
// identically by push subscribers and pollers.
func (r *Registry) emitResult(record *types.CompletionJob) {
	if r.sink == nil {
		return
	}

	data := map[string]interface{}{
		"request_id": record.RequestID,
		"status":     string(record.Status),
	}
	if record.Result != nil {
		data["result"] = record.Result
	}
	if record.Error != "" {
		data["error"] = record.Error
	}

	if _, err := r.sink.Append(&types.Event{
		Name:   types.EventCompletionResult,
		Data:   data,
		Origin: "registry",
	}); err != nil {
		r.logger.Error().Err(err).Str("request_id", record.RequestID).Msg("failed to emit completion result event")
	}
}

// Status returns the job's current state.
func (r *Registry) Status(requestID string) (types.JobStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[requestID]
	if !ok {
		return "", errdefs.NotFoundf("request %s", requestID)
	}
	return j.Status, nil
}

// Job returns a copy of the full job record.
func (r *Registry) Job(requestID string) (*types.CompletionJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[requestID]
	if !ok {
		return nil, errdefs.NotFoundf("request %s", requestID)
	}
	record := j.CompletionJob
	return &record, nil
}

// Result returns the terminal payload. A job that has not finished reports
// pending (done=false) rather than an error, so pollers can retry safely.
func (r *Registry) Result(requestID string) (result map[string]interface{}, done bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[requestID]
	if !ok {
		return nil, false, errdefs.NotFoundf("request %s", requestID)
	}
	if !j.Status.Terminal() {
		return nil, false, nil
	}
	if j.Error != "" {
		return map[string]interface{}{"error": j.Error}, true, nil
	}
	return j.Result, true, nil
}

// Cancel requests cancellation. It is advisory: if the job already reached
// a terminal state the existing state is reported and nothing changes. The
// single-writer rule in complete() reconciles the race against natural
// completion.
func (r *Registry) Cancel(requestID string) (types.JobStatus, error) {
	r.mu.Lock()
	j, ok := r.jobs[requestID]
	if !ok {
		r.mu.Unlock()
		return "", errdefs.NotFoundf("request %s", requestID)
	}
	if j.Status.Terminal() {
		status := j.Status
		r.mu.Unlock()
		return status, nil
	}
	wasQueued := j.Status == types.JobStatusQueued
	r.mu.Unlock()

	j.cancel()
	if wasQueued {
		// The worker never picked this job up; record the terminal state
		// directly instead of waiting for the run goroutine.
		r.complete(requestID, types.JobStatusCancelled, nil, "cancelled")
	}

	r.mu.RLock()
	status := j.Status
	r.mu.RUnlock()
	return status, nil
}

// Counts aggregates jobs by status.
func (r *Registry) Counts() types.JobCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var c types.JobCounts
	for _, j := range r.jobs {
		switch j.Status {
		case types.JobStatusQueued:
			c.Queued++
		case types.JobStatusInProgress:
			c.InProgress++
		case types.JobStatusCompleted:
			c.Completed++
		case types.JobStatusFailed:
			c.Failed++
		case types.JobStatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// Stop cancels all outstanding jobs and waits for worker goroutines to
// drain. Terminal records are preserved.
func (r *Registry) Stop() {
	r.baseCancel()
	r.wg.Wait()
}
