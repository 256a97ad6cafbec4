package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

// fakeStore records every call in memory.
type fakeStore struct {
	mu         sync.Mutex
	raw        []*events.Event
	rpc        []*events.Event
	file       []*events.Event
	process    []*events.Event
	catalog    map[string]*events.ToolDescriptor
	results    []*engine.Result
	nextID     int
	failInsert bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{catalog: make(map[string]*events.ToolDescriptor)}
}

func (s *fakeStore) InsertRawEvent(ev *events.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsert {
		return "", fmt.Errorf("store unavailable")
	}
	s.nextID++
	s.raw = append(s.raw, ev)
	return fmt.Sprintf("raw-%d", s.nextID), nil
}

func (s *fakeStore) InsertRPCEvent(ev *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpc = append(s.rpc, ev)
	return nil
}

func (s *fakeStore) InsertFileEvent(ev *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = append(s.file, ev)
	return nil
}

func (s *fakeStore) InsertProcessEvent(ev *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = append(s.process, ev)
	return nil
}

func (s *fakeStore) InsertToolCatalog(descs []*events.ToolDescriptor) ([]*events.ToolDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []*events.ToolDescriptor
	for _, d := range descs {
		if _, seen := s.catalog[d.Key()]; seen {
			continue
		}
		s.catalog[d.Key()] = d
		inserted = append(inserted, d)
	}
	return inserted, nil
}

func (s *fakeStore) QueryToolsBy(string, string) ([]*events.ToolDescriptor, error) { return nil, nil }

func (s *fakeStore) InsertEngineResult(res *engine.Result) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return fmt.Sprintf("res-%d", len(s.results)), nil
}

func (s *fakeStore) Close() error { return nil }

// markerEngine flags every MCP event with a fixed finding.
type markerEngine struct {
	engine.Base
}

func newMarkerEngine() *markerEngine {
	return &markerEngine{Base: engine.NewBase("MarkerEngine", []string{events.TypeMCP}, nil, zap.NewNop().Sugar())}
}

func (m *markerEngine) Process(_ context.Context, ev *events.Event) (*engine.Result, error) {
	return engine.NewResult("Marker", ev, engine.SeverityLow, 25,
		[]engine.Finding{{Category: engine.CategoryLow, Reason: "marker"}}), nil
}

// fakeCatalogEngine counts ProcessTools batches.
type fakeCatalogEngine struct {
	engine.Base
	batches [][]*events.ToolDescriptor
}

func newFakeCatalogEngine() *fakeCatalogEngine {
	return &fakeCatalogEngine{Base: engine.NewBase("CatalogEngine", []string{events.TypeMCP}, nil, zap.NewNop().Sugar())}
}

func (f *fakeCatalogEngine) ShouldProcess(*events.Event) bool { return false }

func (f *fakeCatalogEngine) Process(context.Context, *events.Event) (*engine.Result, error) {
	return nil, nil
}

func (f *fakeCatalogEngine) ProcessTools(_ context.Context, descs []*events.ToolDescriptor, ev *events.Event) []*engine.Result {
	f.batches = append(f.batches, descs)
	return []*engine.Result{
		engine.NewResult("CatalogDetector", ev, engine.SeverityHigh, 90,
			[]engine.Finding{{Category: engine.CategoryCritical, Reason: "poisoned"}}),
	}
}

func mcpEvent(ts int64) *events.Event {
	return &events.Event{
		EventType: events.TypeMCP,
		Producer:  events.ProducerLocal,
		TS:        ts,
		Data:      map[string]any{"task": events.TaskSend},
	}
}

func toolsListEvent(ts int64, names ...string) *events.Event {
	tools := make([]any, 0, len(names))
	for _, n := range names {
		tools = append(tools, map[string]any{"name": n, "description": "desc of " + n})
	}
	return &events.Event{
		EventType: events.TypeMCP,
		Producer:  events.ProducerLocal,
		McpTag:    "srv",
		TS:        ts,
		Data: map[string]any{
			"task": events.TaskRecv,
			"message": map[string]any{
				"method": "tools/list",
				"result": map[string]any{"tools": tools},
			},
		},
	}
}

func TestProcessPersistsAndFansOut(t *testing.T) {
	store := newFakeStore()
	h := New(store, []engine.Engine{newMarkerEngine()}, nil, zap.NewNop().Sugar())

	var published []*engine.Result
	h.SetResultCallback(func(res *engine.Result) { published = append(published, res) })

	ev := mcpEvent(1)
	h.Process(context.Background(), ev)

	assert.Equal(t, "raw-1", ev.RawEventID)
	assert.Len(t, store.raw, 1)
	assert.Len(t, store.rpc, 1)
	require.Len(t, store.results, 1)
	assert.Equal(t, "Marker", store.results[0].Result.Detector)
	require.Len(t, published, 1)
	assert.Equal(t, []string{"raw-1"}, published[0].Reference)
}

func TestProcessTypedRouting(t *testing.T) {
	store := newFakeStore()
	h := New(store, nil, nil, zap.NewNop().Sugar())
	ctx := context.Background()

	h.Process(ctx, &events.Event{EventType: events.TypeFile, TS: 1})
	h.Process(ctx, &events.Event{EventType: events.TypeProcess, TS: 2})
	h.Process(ctx, &events.Event{EventType: "Other", TS: 3})

	assert.Len(t, store.file, 1)
	assert.Len(t, store.process, 1)
	assert.Empty(t, store.rpc)
	assert.Len(t, store.raw, 3)
}

func TestCatalogAnalyzesOnlyNewTools(t *testing.T) {
	store := newFakeStore()
	catalogEng := newFakeCatalogEngine()
	h := New(store, []engine.Engine{catalogEng}, nil, zap.NewNop().Sugar())
	ctx := context.Background()

	h.Process(ctx, toolsListEvent(1, "send_email", "read_file"))
	require.Len(t, catalogEng.batches, 1)
	assert.Len(t, catalogEng.batches[0], 2)
	assert.Len(t, store.results, 1)

	// The same announcement again: nothing new, no second analysis.
	h.Process(ctx, toolsListEvent(2, "send_email", "read_file"))
	assert.Len(t, catalogEng.batches, 1)

	// A partially new announcement analyzes only the new tool.
	h.Process(ctx, toolsListEvent(3, "send_email", "delete_file"))
	require.Len(t, catalogEng.batches, 2)
	require.Len(t, catalogEng.batches[1], 1)
	assert.Equal(t, "delete_file", catalogEng.batches[1][0].Slug)
}

func TestCatalogIgnoresNonToolsList(t *testing.T) {
	store := newFakeStore()
	catalogEng := newFakeCatalogEngine()
	h := New(store, []engine.Engine{catalogEng}, nil, zap.NewNop().Sugar())

	// tools/list SEND direction carries no result to catalog.
	ev := mcpEvent(1)
	h.Process(context.Background(), ev)
	assert.Empty(t, catalogEng.batches)
}

func TestCatalogWithoutMethodField(t *testing.T) {
	store := newFakeStore()
	catalogEng := newFakeCatalogEngine()
	h := New(store, []engine.Engine{catalogEng}, nil, zap.NewNop().Sugar())

	// Responses carry only a result; the tools array alone marks them
	// as catalog updates.
	ev := &events.Event{
		EventType: events.TypeMCP,
		Producer:  events.ProducerLocal,
		McpTag:    "srv",
		TS:        1,
		Data: map[string]any{
			"task": events.TaskRecv,
			"message": map[string]any{
				"result": map[string]any{"tools": []any{
					map[string]any{"name": "send_email", "description": "sends mail"},
				}},
			},
		},
	}
	h.Process(context.Background(), ev)

	require.Len(t, catalogEng.batches, 1)
	require.Len(t, catalogEng.batches[0], 1)
	assert.Equal(t, "send_email", catalogEng.batches[0][0].Slug)
}

func TestCatalogCallbackCountsNewTools(t *testing.T) {
	store := newFakeStore()
	catalogEng := newFakeCatalogEngine()
	h := New(store, []engine.Engine{catalogEng}, nil, zap.NewNop().Sugar())
	ctx := context.Background()

	var cataloged int
	h.SetCatalogCallback(func(n int) { cataloged += n })

	h.Process(ctx, toolsListEvent(1, "send_email", "read_file"))
	assert.Equal(t, 2, cataloged)

	// Re-announcing known tools does not fire the callback.
	h.Process(ctx, toolsListEvent(2, "send_email", "read_file"))
	assert.Equal(t, 2, cataloged)

	h.Process(ctx, toolsListEvent(3, "delete_file"))
	assert.Equal(t, 3, cataloged)
}

func TestProcessSurvivesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failInsert = true
	h := New(store, []engine.Engine{newMarkerEngine()}, nil, zap.NewNop().Sugar())

	ev := mcpEvent(1)
	assert.NotPanics(t, func() { h.Process(context.Background(), ev) })

	// Analysis still ran; the result references the timestamp id.
	require.Len(t, store.results, 1)
	assert.Equal(t, []string{"id-1"}, store.results[0].Reference)
}
