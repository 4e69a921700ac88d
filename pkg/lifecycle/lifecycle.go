// Package lifecycle implements LifecycleTracker: recording
// access counts and last-accessed timestamps in blocking, async
// fire-and-forget, or batched modes.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/store"
)

// Mode selects how access updates reach the backend.
type Mode string

const (
	ModeBlocking Mode = "blocking"
	ModeAsync    Mode = "async"
	ModeBatched  Mode = "batched"
)

// Config controls tracker behavior.
type Config struct {
	Enabled       bool
	UpdateOnGet   bool
	Mode          Mode
	FlushInterval time.Duration // batched mode coalescing period
}

func DefaultConfig() Config {
	return Config{Enabled: true, UpdateOnGet: true, Mode: ModeBlocking, FlushInterval: 2 * time.Second}
}

// delta accumulates a pending access-count bump for one memory between
// flushes in batched mode.
type delta struct {
	count        int64
	lastAccessed time.Time
}

// Tracker records memory access in one of the three modes. The
// returned in-memory Memory is always updated by the caller (MemoryStore)
// before Record is invoked, so readers see coherent counts even under
// batched mode — Tracker only owns persistence timing.
type Tracker struct {
	cfg     Config
	backend store.StoreBackend
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]*delta

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config, backend store.StoreBackend, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tracker{cfg: cfg, backend: backend, log: log, pending: map[string]*delta{}, stopCh: make(chan struct{})}
	if cfg.Enabled && cfg.Mode == ModeBatched {
		t.wg.Add(1)
		go t.flushLoop()
	}
	return t
}

// UpdateOnGet reports whether Get callers should bump the in-memory
// access_count/last_accessed before persistence.
func (t *Tracker) UpdateOnGet() bool {
	return t.cfg.Enabled && t.cfg.UpdateOnGet
}

// Record applies one access event for memoryID, at time `at`, per the
// configured mode.
func (t *Tracker) Record(ctx context.Context, memoryID string, at time.Time) {
	if !t.cfg.Enabled {
		return
	}
	switch t.cfg.Mode {
	case ModeBlocking:
		t.persist(ctx, memoryID, at)
	case ModeAsync:
		go func() {
			// Detached from ctx: the caller's request may finish (and its
			// context be cancelled) before this background update lands.
			t.persist(context.Background(), memoryID, at)
		}()
	case ModeBatched:
		t.mu.Lock()
		d, ok := t.pending[memoryID]
		if !ok {
			d = &delta{}
			t.pending[memoryID] = d
		}
		d.count++
		d.lastAccessed = at
		t.mu.Unlock()
	}
}

// persist issues a MERGE-style update: an atomic increment of access_count
// plus a single-column last_accessed write. Neither statement reads or
// rewrites any other field, so concurrent writes to the same memory are
// never clobbered.
func (t *Tracker) persist(ctx context.Context, memoryID string, at time.Time) {
	if err := t.backend.IncrementMemoryField(ctx, memoryID, "access_count", 1); err != nil {
		t.log.Warn("lifecycle: access_count increment failed", zap.String("memory_id", memoryID), zap.Error(err))
		return
	}
	if err := t.backend.SetMemoryLastAccessed(ctx, memoryID, at); err != nil {
		t.log.Warn("lifecycle: last_accessed update failed", zap.String("memory_id", memoryID), zap.Error(err))
	}
}

func (t *Tracker) flushLoop() {
	defer t.wg.Done()
	interval := t.cfg.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Flush(context.Background())
		case <-t.stopCh:
			t.Flush(context.Background())
			return
		}
	}
}

// Flush applies all pending batched deltas immediately.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.pending
	t.pending = map[string]*delta{}
	t.mu.Unlock()

	for memoryID, d := range batch {
		if err := t.backend.IncrementMemoryField(ctx, memoryID, "access_count", d.count); err != nil {
			t.log.Warn("lifecycle: batched flush failed", zap.String("memory_id", memoryID), zap.Error(err))
			continue
		}
		if err := t.backend.SetMemoryLastAccessed(ctx, memoryID, d.lastAccessed); err != nil {
			t.log.Warn("lifecycle: batched last_accessed write failed", zap.String("memory_id", memoryID), zap.Error(err))
		}
	}
}

// Stop flushes any pending batched deltas and stops the flusher goroutine.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}
