package daemon

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/burrowd/burrow/pkg/broker"
	"github.com/burrowd/burrow/pkg/config"
	"github.com/burrowd/burrow/pkg/dispatcher"
	"github.com/burrowd/burrow/pkg/eventlog"
	"github.com/burrowd/burrow/pkg/log"
	"github.com/burrowd/burrow/pkg/metrics"
	"github.com/burrowd/burrow/pkg/observation"
	"github.com/burrowd/burrow/pkg/registry"
	"github.com/burrowd/burrow/pkg/server"
	"github.com/burrowd/burrow/pkg/storage"
	"github.com/burrowd/burrow/pkg/types"
	"github.com/burrowd/burrow/pkg/worker"
	"github.com/rs/zerolog"

	"github.com/anthropics/anthropic-sdk-go"
)

// healthInterval is how often component health is re-evaluated.
const healthInterval = 10 * time.Second

// Daemon wires every subsystem together: storage, event log, dispatcher,
// completion registry, broker, observation manager, and the socket server.
type Daemon struct {
	cfg *config.Config

	store       storage.Store
	log         *eventlog.Log
	dispatcher  *dispatcher.Dispatcher
	registry    *registry.Registry
	broker      *broker.Broker
	observation *observation.Manager
	server      *server.Server

	metricsSrv *http.Server
	cancel     context.CancelFunc

	logger zerolog.Logger
}

// Option overrides part of the default wiring.
type Option func(*options)

type options struct {
	worker worker.Worker
}

// WithWorker substitutes the completion worker. The default talks to the
// Anthropic Messages API.
func WithWorker(w worker.Worker) Option {
	return func(o *options) { o.worker = w }
}

// New builds a daemon from configuration. Nothing listens until Start.
func New(cfg *config.Config, optFns ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts options
	for _, fn := range optFns {
		fn(&opts)
	}

	var store storage.Store = storage.NullStore{}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, err
		}
		boltStore, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		store = boltStore
	}

	eventLog, err := eventlog.New(store)
	if err != nil {
		store.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:         cfg,
		store:       store,
		log:         eventLog,
		dispatcher:  dispatcher.New(),
		broker:      broker.NewBroker(),
		observation: observation.NewManager(eventLog),
		logger:      log.WithComponent("daemon"),
	}

	w := opts.worker
	if w == nil {
		w = worker.NewAnthropicWorker(func(o *worker.Options) {
			if cfg.Completion.Model != "" {
				o.Model = anthropic.Model(cfg.Completion.Model)
			}
			o.MaxTokens = cfg.Completion.MaxTokens
			o.Temperature = cfg.Completion.Temperature
		})
	}

	d.registry, err = registry.New(registry.Config{
		MaxOutstanding: cfg.Completion.MaxOutstanding,
		Concurrency:    cfg.Completion.Concurrency,
		JobTimeout:     time.Duration(cfg.Completion.JobTimeout),
	}, w, resultSink{d}, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	// Push delivery rides the log's ordered observer chain; dispatch runs
	// synchronously in Emit so the emitter can receive a handler response.
	eventLog.AddObserver(d.broker.Publish)
	eventLog.AddObserver(d.observation.Observe)

	d.server, err = server.New(server.Config{SocketPath: cfg.SocketPath}, server.Deps{
		Emitter:     d,
		Registry:    d.registry,
		Broker:      d.broker,
		Observation: d.observation,
		Log:         eventLog,
	})
	if err != nil {
		d.registry.Stop()
		store.Close()
		return nil, err
	}

	d.registerHooks()
	return d, nil
}

// resultSink routes registry-emitted events through the daemon so plugin
// handlers see completion results like any other event.
type resultSink struct {
	d *Daemon
}

func (s resultSink) Append(event *types.Event) (uint64, error) {
	_, seq, err := s.d.Emit(context.Background(), event)
	return seq, err
}

// Emit appends the event to the canonical log and dispatches it to plugin
// handlers, returning the first handler response if any. Broker and
// observation delivery already happened inside Append's observer chain.
func (d *Daemon) Emit(ctx context.Context, event *types.Event) (*dispatcher.Response, uint64, error) {
	seq, err := d.log.Append(event)
	if err != nil {
		return nil, 0, err
	}
	return d.dispatcher.Dispatch(ctx, event), seq, nil
}

// RegisterHandler exposes the dispatcher for plugin wiring at startup.
func (d *Daemon) RegisterHandler(pattern, name string, handler dispatcher.Handler) error {
	return d.dispatcher.Register(pattern, name, handler)
}

// Start begins serving. The metrics endpoint is optional; the socket
// server is not.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	metrics.RegisterComponent("eventlog", true, "accepting writes")
	metrics.RegisterComponent("registry", true, "accepting jobs")
	metrics.RegisterComponent("server", false, "not started")

	if err := d.server.Start(ctx); err != nil {
		return err
	}
	metrics.UpdateComponent("server", true, "listening")

	if d.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", metrics.HealthHandler())
		mux.HandleFunc("/readyz", metrics.ReadyHandler())
		mux.HandleFunc("/livez", metrics.LivenessHandler())

		d.metricsSrv = &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		d.logger.Info().Str("addr", d.cfg.MetricsAddr).Msg("metrics endpoint listening")
	}

	go d.watchHealth(ctx)

	d.logger.Info().
		Str("socket", d.cfg.SocketPath).
		Str("data_dir", d.cfg.DataDir).
		Msg("daemon started")
	return nil
}

// watchHealth keeps the health checker in sync with subsystem state. A
// write-closed event log degrades readiness but leaves liveness intact.
func (d *Daemon) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.log.Healthy() {
				metrics.UpdateComponent("eventlog", true, "accepting writes")
			} else {
				metrics.MarkDegraded("eventlog", "persistence failed, write-closed")
			}
			counts := d.registry.Counts()
			if counts.Outstanding() >= d.cfg.Completion.MaxOutstanding {
				metrics.MarkDegraded("registry", "saturated")
			} else {
				metrics.UpdateComponent("registry", true, "accepting jobs")
			}
			metrics.UpdateComponent("server", d.server.Healthy(), "")
		}
	}
}

// Stop tears subsystems down in reverse start order: stop accepting
// requests, drain jobs, then close storage.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}

	d.server.Stop()

	if d.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}

	d.registry.Stop()

	if err := d.store.Close(); err != nil {
		d.logger.Error().Err(err).Msg("failed to close store")
	}
	d.logger.Info().Msg("daemon stopped")
}

// Log exposes the event log for diagnostics and tests.
func (d *Daemon) Log() *eventlog.Log { return d.log }

// Registry exposes the completion registry.
func (d *Daemon) Registry() *registry.Registry { return d.registry }
