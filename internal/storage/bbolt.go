package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mcpwatch/mcpwatch-go/internal/engine"
	"github.com/mcpwatch/mcpwatch-go/internal/events"
)

// Bucket names.
const (
	RawEventsBucket     = "raw_events"
	RPCEventsBucket     = "rpc_events"
	FileEventsBucket    = "file_events"
	ProcessEventsBucket = "process_events"
	ToolCatalogBucket   = "tool_catalog"
	EngineResultsBucket = "engine_results"
)

// BoltDB implements Store on a local bbolt file. Event and result keys
// are ULIDs, so chronological iteration is a plain bucket scan.
type BoltDB struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltDB opens (or creates) the database under dataDir.
func NewBoltDB(dataDir string, logger *zap.SugaredLogger) (*BoltDB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "mcpwatch.db")

	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	b := &BoltDB{db: db, logger: logger}
	if err := b.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return b, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) initBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		buckets := []string{
			RawEventsBucket,
			RPCEventsBucket,
			FileEventsBucket,
			ProcessEventsBucket,
			ToolCatalogBucket,
			EngineResultsBucket,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// InsertRawEvent persists the event as received and returns its ULID.
func (b *BoltDB) InsertRawEvent(ev *events.Event) (string, error) {
	id := ulid.Make().String()
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(RawEventsBucket)).Put([]byte(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store raw event: %w", err)
	}
	return id, nil
}

// InsertRPCEvent persists an MCP event copy keyed by its raw id.
func (b *BoltDB) InsertRPCEvent(ev *events.Event) error {
	return b.insertTyped(RPCEventsBucket, ev)
}

// InsertFileEvent persists a file event copy keyed by its raw id.
func (b *BoltDB) InsertFileEvent(ev *events.Event) error {
	return b.insertTyped(FileEventsBucket, ev)
}

// InsertProcessEvent persists a process event copy keyed by its raw id.
func (b *BoltDB) InsertProcessEvent(ev *events.Event) error {
	return b.insertTyped(ProcessEventsBucket, ev)
}

func (b *BoltDB) insertTyped(bucket string, ev *events.Event) error {
	key := ev.RawEventID
	if key == "" {
		key = ulid.Make().String()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store event in %s: %w", bucket, err)
	}
	return nil
}

// InsertToolCatalog upserts descriptors and returns only the ones not
// already cataloged. The catalog key is (mcpTag, producer, slug), so a
// server re-announcing the same tools yields an empty slice.
func (b *BoltDB) InsertToolCatalog(descs []*events.ToolDescriptor) ([]*events.ToolDescriptor, error) {
	if len(descs) == 0 {
		return nil, nil
	}

	var inserted []*events.ToolDescriptor
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolCatalogBucket))
		for _, desc := range descs {
			key := []byte(desc.Key())
			if bucket.Get(key) != nil {
				continue
			}
			data, err := json.Marshal(desc)
			if err != nil {
				return fmt.Errorf("failed to marshal descriptor %s: %w", desc.Slug, err)
			}
			if err := bucket.Put(key, data); err != nil {
				return fmt.Errorf("failed to store descriptor %s: %w", desc.Slug, err)
			}
			inserted = append(inserted, desc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// QueryToolsBy returns all cataloged descriptors for one server.
func (b *BoltDB) QueryToolsBy(mcpTag, producer string) ([]*events.ToolDescriptor, error) {
	prefix := []byte(mcpTag + "\x00" + producer + "\x00")

	var out []*events.ToolDescriptor
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(ToolCatalogBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var desc events.ToolDescriptor
			if err := json.Unmarshal(v, &desc); err != nil {
				b.logger.Warnw("skipping unreadable catalog entry", "key", string(k), "error", err)
				continue
			}
			out = append(out, &desc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query tool catalog: %w", err)
	}
	return out, nil
}

// InsertEngineResult persists one detection result and returns its ULID.
func (b *BoltDB) InsertEngineResult(res *engine.Result) (string, error) {
	id := ulid.Make().String()
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(EngineResultsBucket)).Put([]byte(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store engine result: %w", err)
	}
	return id, nil
}
