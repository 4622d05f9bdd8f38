package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ExecType distinguishes a fresh run from a retry for the run directory
// naming scheme and the persisted status snapshot.
type ExecType string

// The two exec types a run directory can be tagged with.
const (
	ExecRun   ExecType = "RUN"
	ExecRetry ExecType = "RETRY"
)

// Context is the persistence context: three logical namespaces (status,
// records, steps) opened under one run directory, with a write-through
// cache over records and steps since those are the hot path for every
// checkpoint publication.
//
// Grounded on the teacher's Store[S] plus its MemStore in-memory
// write-through behavior, generalized from a single typed state blob to
// three opaque byte-keyed namespaces. The cache here plays the role the
// spec's §4.1 calls out explicitly: authoritative while the engine runs,
// with deletes removing the cache entry before the backing delete is
// scheduled.
type Context struct {
	RunDir string

	status  Namespace
	records Namespace
	steps   Namespace

	mu          sync.RWMutex
	recordCache map[string][]byte
	stepCache   map[string][]byte
}

// Open creates a fresh run directory named {cwd}/{name}-[{execType}]-{iso
// timestamp}/ and opens its three namespaces via backend.
func Open(backend Backend, cwd, name string, execType ExecType, now time.Time) (*Context, error) {
	dirName := fmt.Sprintf("%s-[%s]-%s", name, execType, now.UTC().Format("2006-01-02T15-04-05.000Z"))
	runDir := filepath.Join(cwd, dirName)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create run dir %s: %w", runDir, err)
	}
	return openAt(backend, runDir)
}

// OpenExisting opens a previously-created run directory, used by retry to
// read a prior run's residual state.
func OpenExisting(backend Backend, runDir string) (*Context, error) {
	if _, err := os.Stat(runDir); err != nil {
		return nil, fmt.Errorf("store: run dir %s: %w", runDir, err)
	}
	return openAt(backend, runDir)
}

func openAt(backend Backend, runDir string) (*Context, error) {
	status, records, steps, err := backend.Open(runDir)
	if err != nil {
		return nil, err
	}
	return &Context{
		RunDir:      runDir,
		status:      status,
		records:     records,
		steps:       steps,
		recordCache: make(map[string][]byte),
		stepCache:   make(map[string][]byte),
	}, nil
}

// PutStatus writes a single status key.
func (c *Context) PutStatus(ctx context.Context, key string, value []byte) error {
	return c.status.Put(ctx, key, value)
}

// PutManyStatus atomically writes several status keys — either all become
// visible or none do, so the on-disk status snapshot is never torn.
func (c *Context) PutManyStatus(ctx context.Context, kvs map[string][]byte) error {
	return c.status.PutMany(ctx, kvs)
}

// GetStatus returns (nil, nil) when the key is absent, distinct from a
// genuine error.
func (c *Context) GetStatus(ctx context.Context, key string) ([]byte, error) {
	v, err := c.status.Get(ctx, key)
	if err == ErrNotFound {
		return nil, nil
	}
	return v, err
}

// PutRecord writes the record index entry and updates the cache.
func (c *Context) PutRecord(ctx context.Context, id string, value []byte) error {
	if err := c.records.Put(ctx, id, value); err != nil {
		return err
	}
	c.mu.Lock()
	c.recordCache[id] = value
	c.mu.Unlock()
	return nil
}

// DelRecord removes the cache entry before scheduling the backing delete,
// per the spec's cache-authoritative-while-running contract.
func (c *Context) DelRecord(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.recordCache, id)
	c.mu.Unlock()
	return c.records.Delete(ctx, id)
}

// GetRecord is served from the write-through cache on the hot path; it
// only falls through to the backing namespace on a cache miss.
func (c *Context) GetRecord(ctx context.Context, id string) ([]byte, error) {
	c.mu.RLock()
	v, ok := c.recordCache[id]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.recordCache[id] = v
	c.mu.Unlock()
	return v, nil
}

// PutStep writes a SER snapshot and updates the cache.
func (c *Context) PutStep(ctx context.Context, id string, value []byte) error {
	if err := c.steps.Put(ctx, id, value); err != nil {
		return err
	}
	c.mu.Lock()
	c.stepCache[id] = value
	c.mu.Unlock()
	return nil
}

// DelStep removes a SER snapshot, evicting the cache first.
func (c *Context) DelStep(ctx context.Context, id string) error {
	c.mu.Lock()
	delete(c.stepCache, id)
	c.mu.Unlock()
	return c.steps.Delete(ctx, id)
}

// GetStep is served from the write-through cache on the hot path.
func (c *Context) GetStep(ctx context.Context, id string) ([]byte, error) {
	c.mu.RLock()
	v, ok := c.stepCache[id]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.steps.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.stepCache[id] = v
	c.mu.Unlock()
	return v, nil
}

// ScanRecords iterates the records namespace in key order, used by retry
// and the run summary writer.
func (c *Context) ScanRecords(ctx context.Context, fn func(id string, value []byte) error) error {
	return c.records.Scan(ctx, fn)
}

// Close flushes and releases all three namespaces. Idempotent.
func (c *Context) Close() error {
	var firstErr error
	for _, ns := range []Namespace{c.status, c.records, c.steps} {
		if err := ns.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
