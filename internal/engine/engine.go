// Package engine defines the contract shared by every detection
// engine: filter predicates, the processing entry point and the result
// envelope engines emit toward persistence and UI fan-out.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

// Engine is one detection engine. Engines are stateless unless they
// document otherwise; an engine owning correlation state is
// responsible for its own thread-safety.
type Engine interface {
	// Name identifies the engine in logs and persisted results.
	Name() string

	// ShouldProcess reports whether the engine wants the event.
	ShouldProcess(ev *events.Event) bool

	// Process analyzes one event. A nil result with nil error means
	// "nothing to report". Errors never propagate past Handle.
	Process(ctx context.Context, ev *events.Event) (*Result, error)
}

// CatalogEngine is the bulk entry point for engines driven by the
// tool catalog rather than by single events. The hub detects this
// capability by type assertion and calls ProcessTools once per batch
// of newly cataloged descriptors.
type CatalogEngine interface {
	Engine
	ProcessTools(ctx context.Context, descs []*events.ToolDescriptor, ev *events.Event) []*Result
}

// Base carries the common filtering state of an engine: its name and
// the event types and producers it accepts. Empty filter slices mean
// "unconstrained".
type Base struct {
	name       string
	eventTypes []string
	producers  []string
	logger     *zap.SugaredLogger
}

// NewBase constructs the shared engine state.
func NewBase(name string, eventTypes, producers []string, logger *zap.SugaredLogger) Base {
	return Base{
		name:       name,
		eventTypes: eventTypes,
		producers:  producers,
		logger:     logger,
	}
}

// Name returns the engine name.
func (b *Base) Name() string { return b.name }

// EventTypes returns the accepted event types (nil = any).
func (b *Base) EventTypes() []string { return b.eventTypes }

// Producers returns the accepted producers (nil = any).
func (b *Base) Producers() []string { return b.producers }

// Logger returns the engine logger.
func (b *Base) Logger() *zap.SugaredLogger { return b.logger }

// ShouldProcess implements the default filter: the event type must be
// in eventTypes (or the list empty) and the producer in producers (or
// the list empty).
func (b *Base) ShouldProcess(ev *events.Event) bool {
	if len(b.eventTypes) > 0 && !contains(b.eventTypes, ev.EventType) {
		return false
	}
	if len(b.producers) > 0 && !contains(b.producers, ev.Producer) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Handle runs one engine against one event. It applies the engine's
// filter, recovers panics and swallows errors so that a misbehaving
// engine can never break the event stream: any failure yields nil.
func Handle(ctx context.Context, eng Engine, ev *events.Event, logger *zap.SugaredLogger) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Errorw("engine panicked", "engine", eng.Name(), "panic", r, "ts", ev.TS)
			}
			res = nil
		}
	}()

	if !eng.ShouldProcess(ev) {
		return nil
	}

	result, err := eng.Process(ctx, ev)
	if err != nil {
		if logger != nil {
			logger.Warnw("engine processing failed", "engine", eng.Name(), "error", err, "ts", ev.TS)
		}
		return nil
	}
	return result
}
