// Package storage persists events, the tool catalog and engine results
// in a local bbolt database.
package storage

import (
	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

// Store is the persistence contract used by the hub. All methods are
// safe for concurrent use.
type Store interface {
	// InsertRawEvent persists the event as received and returns its id.
	InsertRawEvent(ev *events.Event) (string, error)

	// Typed copies for per-type querying.
	InsertRPCEvent(ev *events.Event) error
	InsertFileEvent(ev *events.Event) error
	InsertProcessEvent(ev *events.Event) error

	// InsertToolCatalog upserts descriptors into the catalog and
	// returns only the ones not seen before. Re-inserting a known
	// (server, producer, slug) triple is a no-op.
	InsertToolCatalog(descs []*events.ToolDescriptor) ([]*events.ToolDescriptor, error)

	// QueryToolsBy returns all cataloged descriptors for one server.
	QueryToolsBy(mcpTag, producer string) ([]*events.ToolDescriptor, error)

	// InsertEngineResult persists one detection result and returns its id.
	InsertEngineResult(res *engine.Result) (string, error)

	Close() error
}
