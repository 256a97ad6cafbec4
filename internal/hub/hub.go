// Package hub dispatches observed events through persistence, the tool
// catalog and the detection engines. Events are processed strictly in
// arrival order; within one event the engines run concurrently and the
// hub joins them before taking the next event.
package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
	"github.com/mcpwatch/mcpwatch-go/internal/observability"
	"github.com/mcpwatch/mcpwatch-go/internal/storage"
)

// Hub owns the per-event dispatch path.
type Hub struct {
	store   storage.Store
	engines []engine.Engine
	metrics *observability.Metrics
	logger  *zap.SugaredLogger

	// onResult receives every persisted result; used for the live bus.
	onResult func(res *engine.Result)

	// onCatalog receives the count of newly cataloged tools.
	onCatalog func(n int)
}

// New constructs a hub. metrics and onResult may be nil.
func New(store storage.Store, engines []engine.Engine, metrics *observability.Metrics, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		store:   store,
		engines: engines,
		metrics: metrics,
		logger:  logger,
	}
}

// SetResultCallback installs the result fan-out hook. Must be called
// before Process.
func (h *Hub) SetResultCallback(fn func(res *engine.Result)) {
	h.onResult = fn
}

// SetCatalogCallback installs a hook invoked with the number of newly
// cataloged tools. Must be called before Process.
func (h *Hub) SetCatalogCallback(fn func(n int)) {
	h.onCatalog = fn
}

// Process runs one event through the full pipeline: raw insert, typed
// insert, catalog update with analysis of newly seen tools, then
// concurrent engine fan-out. Persistence failures are logged and do
// not stop analysis.
func (h *Hub) Process(ctx context.Context, ev *events.Event) {
	if h.metrics != nil {
		h.metrics.EventsTotal.Inc()
	}

	id, err := h.store.InsertRawEvent(ev)
	if err != nil {
		h.logger.Warnw("failed to persist raw event", "error", err, "ts", ev.TS)
	} else {
		ev.RawEventID = id
	}

	h.insertTyped(ev)
	h.processCatalog(ctx, ev)
	h.fanOut(ctx, ev)
}

func (h *Hub) insertTyped(ev *events.Event) {
	var err error
	switch {
	case ev.IsMCP():
		err = h.store.InsertRPCEvent(ev)
	case ev.IsFile():
		err = h.store.InsertFileEvent(ev)
	case ev.IsProcess():
		err = h.store.InsertProcessEvent(ev)
	default:
		return
	}
	if err != nil {
		h.logger.Warnw("failed to persist typed event", "eventType", ev.EventType, "error", err)
	}
}

// processCatalog updates the tool catalog from tools/list responses and
// hands newly seen descriptors to the catalog-driven engines. Known
// descriptors are skipped, so each tool is analyzed at most once.
func (h *Hub) processCatalog(ctx context.Context, ev *events.Event) {
	// Any RECV result carrying a tools array feeds the catalog; the
	// response itself has no method field to key on.
	if !ev.IsMCP() || ev.Task() != events.TaskRecv {
		return
	}

	descs := events.ExtractToolDescriptors(ev)
	if len(descs) == 0 {
		return
	}

	inserted, err := h.store.InsertToolCatalog(descs)
	if err != nil {
		h.logger.Warnw("failed to update tool catalog", "error", err)
		return
	}
	if len(inserted) == 0 {
		return
	}
	h.logger.Infow("cataloged new tools", "count", len(inserted), "server", inserted[0].McpTag)
	if h.onCatalog != nil {
		h.onCatalog(len(inserted))
	}

	for _, eng := range h.engines {
		catalogEng, ok := eng.(engine.CatalogEngine)
		if !ok {
			continue
		}
		for _, res := range catalogEng.ProcessTools(ctx, inserted, ev) {
			h.deliver(eng.Name(), res)
		}
	}
}

// fanOut runs every interested engine concurrently and joins them.
func (h *Hub) fanOut(ctx context.Context, ev *events.Event) {
	var wg sync.WaitGroup
	resultCh := make(chan *engine.Result, len(h.engines))

	for _, eng := range h.engines {
		if !eng.ShouldProcess(ev) {
			continue
		}
		wg.Add(1)
		go func(eng engine.Engine) {
			defer wg.Done()
			start := time.Now()
			res := engine.Handle(ctx, eng, ev, h.logger)
			if h.metrics != nil {
				h.metrics.EngineDuration.WithLabelValues(eng.Name()).Observe(time.Since(start).Seconds())
			}
			if res != nil {
				resultCh <- res
			}
		}(eng)
	}

	wg.Wait()
	close(resultCh)

	for res := range resultCh {
		h.deliver(res.Result.Detector, res)
	}
}

// deliver persists one result and forwards it to the live bus.
func (h *Hub) deliver(engineName string, res *engine.Result) {
	if _, err := h.store.InsertEngineResult(res); err != nil {
		h.logger.Warnw("failed to persist engine result", "engine", engineName, "error", err)
	}
	if h.metrics != nil {
		h.metrics.EngineResults.WithLabelValues(res.Result.Detector, string(res.Result.Severity)).Inc()
	}
	h.logger.Warnw("detection",
		"detector", res.Result.Detector,
		"severity", res.Result.Severity,
		"evaluation", res.Result.Evaluation,
		"findings", len(res.Result.Findings),
		"reference", res.Reference)

	if h.onResult != nil {
		h.onResult(res)
	}
}
