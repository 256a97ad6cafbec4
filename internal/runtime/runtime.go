// Package runtime assembles the pipeline: event source, persistence,
// detection engines, hub, metrics and the HTTP API, with ordered
// startup and graceful shutdown.
package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/config"
	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/engine/cmdinject"
	"github.com/mcpwatch/mcpwatch-go/internal/engine/exfil"
	"github.com/mcpwatch/mcpwatch-go/internal/engine/fsexposure"
	"github.com/mcpwatch/mcpwatch-go/internal/engine/toolpoison"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
	"github.com/mcpwatch/mcpwatch-go/internal/httpapi"
	"github.com/mcpwatch/mcpwatch-go/internal/hub"
	"github.com/mcpwatch/mcpwatch-go/internal/llm"
	"github.com/mcpwatch/mcpwatch-go/internal/observability"
	"github.com/mcpwatch/mcpwatch-go/internal/storage"
)

// Runtime owns every subsystem of a running monitor.
type Runtime struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	store   storage.Store
	source  *events.Source
	hub     *hub.Hub
	bus     *ResultBus
	metrics *observability.Metrics
	api     *httpapi.Server

	exfilEngine *exfil.Engine
	engineNames []string
	instanceID  string

	startedAt time.Time
	accepted  atomic.Uint64
	dropped   atomic.Uint64
	detected  atomic.Uint64
	cataloged atomic.Uint64
}

// New wires all subsystems from configuration. The classifier is only
// constructed when the tool-poisoning engine is enabled; a missing API
// key disables that engine with a warning instead of failing startup.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Runtime, error) {
	store, err := storage.NewBoltDB(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	metrics := observability.NewMetrics()

	r := &Runtime{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		bus:        NewResultBus(),
		metrics:    metrics,
		instanceID: uuid.NewString(),
	}

	engines, err := r.buildEngines()
	if err != nil {
		store.Close()
		return nil, err
	}

	r.hub = hub.New(store, engines, metrics, logger)
	r.hub.SetResultCallback(func(res *engine.Result) {
		r.detected.Add(1)
		if r.exfilEngine != nil {
			metrics.TrackedEmailsGauge.Set(float64(r.exfilEngine.Registry().Len()))
		}
		r.bus.Publish(res)
	})
	r.hub.SetCatalogCallback(func(n int) {
		r.cataloged.Add(uint64(n))
	})

	r.source = events.NewSource(cfg.EventSource, logger)
	r.source.SetDropCallback(func() {
		r.dropped.Add(1)
		metrics.EventsDropped.Inc()
	})
	r.source.SetMalformedCallback(metrics.EventsMalformed.Inc)

	r.api = httpapi.NewServer(cfg.Listen, r, metrics.Handler(), logger)
	return r, nil
}

// buildEngines instantiates the enabled detection engines.
func (r *Runtime) buildEngines() ([]engine.Engine, error) {
	var engines []engine.Engine

	if r.cfg.EngineEnabled(config.EngineCommandInjection) {
		engines = append(engines, cmdinject.New(r.logger))
	}
	if r.cfg.EngineEnabled(config.EngineFileSystemExposure) {
		engines = append(engines, fsexposure.New(r.logger))
	}
	if r.cfg.EngineEnabled(config.EngineDataExfiltration) {
		capacity := 0
		if r.cfg.Exfil != nil {
			capacity = r.cfg.Exfil.RegistryCapacity
		}
		r.exfilEngine = exfil.New(capacity, r.logger)
		engines = append(engines, r.exfilEngine)
	}
	if r.cfg.EngineEnabled(config.EngineToolsPoisoning) {
		classifier, err := llm.NewOpenAIClassifier(r.cfg.LLM)
		if err != nil {
			r.logger.Warnw("tool-poisoning engine disabled", "reason", err)
		} else {
			tp := toolpoison.New(classifier, toolpoison.OptionsFromConfig(r.cfg.LLM), r.logger)
			tp.SetRetryCallback(r.metrics.ClassifierRetries.Inc)
			engines = append(engines, tp)
		}
	}

	if len(engines) == 0 {
		return nil, fmt.Errorf("no detection engines could be started")
	}
	for _, eng := range engines {
		r.engineNames = append(r.engineNames, eng.Name())
	}
	r.logger.Infow("detection engines registered", "engines", r.engineNames)
	return engines, nil
}

// Source exposes the event source so an embedding proxy can Push
// events in inline mode.
func (r *Runtime) Source() *events.Source { return r.source }

// Bus exposes the live result bus.
func (r *Runtime) Bus() *ResultBus { return r.bus }

// Run starts every subsystem and processes events until the context is
// canceled or the source closes. Always returns after cleanup.
func (r *Runtime) Run(ctx context.Context) error {
	r.startedAt = time.Now()
	r.logger.Infow("monitor starting", "instance_id", r.instanceID)

	if err := r.source.Start(ctx); err != nil {
		r.store.Close()
		return fmt.Errorf("failed to start event source: %w", err)
	}

	apiErr := make(chan error, 1)
	go func() { apiErr <- r.api.Start() }()

	defer r.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-apiErr:
			if err != nil {
				return fmt.Errorf("HTTP API failed: %w", err)
			}
			return nil
		case ev, ok := <-r.source.Events():
			if !ok {
				r.logger.Info("event source closed, stopping")
				return nil
			}
			r.accepted.Add(1)
			r.hub.Process(ctx, ev)
		}
	}
}

// shutdown stops subsystems in reverse dependency order, each bounded
// by the configured grace period.
func (r *Runtime) shutdown() {
	grace := r.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 500 * time.Millisecond
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := r.api.Shutdown(shutdownCtx); err != nil {
		r.logger.Warnw("HTTP API shutdown incomplete", "error", err)
	}

	r.source.Stop()

	if err := r.store.Close(); err != nil {
		r.logger.Warnw("storage close failed", "error", err)
	}
	r.logger.Info("monitor stopped")
}

// Status implements httpapi.StatusProvider.
func (r *Runtime) Status() httpapi.Status {
	st := httpapi.Status{
		Status:         "running",
		InstanceID:     r.instanceID,
		UptimeSeconds:  int64(time.Since(r.startedAt).Seconds()),
		Engines:        r.engineNames,
		EventsAccepted: r.accepted.Load(),
		EventsDropped:  r.dropped.Load(),
		Detections:     r.detected.Load(),
		CatalogedTools: r.cataloged.Load(),
	}
	if r.exfilEngine != nil {
		summary := r.exfilEngine.Registry().Summary()
		st.TrackedEmails = &httpapi.TrackedEmails{
			TotalTracked: summary.TotalTracked,
			BySource:     summary.BySource,
			Emails:       summary.Emails,
		}
	}
	return st
}
