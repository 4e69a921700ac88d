// Package hooks implements the HookRegistry: four event
// families dispatched in registration order. Only before_deleted is
// synchronous and veto-capable; the rest fire-and-forget and never
// propagate errors into the calling operation.
package hooks

import (
	"sync"

	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/model"
)

// OnCreatedFunc runs after a memory is durably created.
type OnCreatedFunc func(m *model.Memory)

// OnUpdatedFunc runs after a memory is updated, given the pre- and post-image.
type OnUpdatedFunc func(old, new *model.Memory)

// OnAccessedFunc runs after a memory is returned from Get.
type OnAccessedFunc func(m *model.Memory)

// BeforeDeletedFunc runs before a memory is deleted; returning false vetoes
// the deletion.
type BeforeDeletedFunc func(m *model.Memory) bool

// Registry holds registered hooks and dispatches them in registration order.
// Reads dominate (every memory write dispatches), so it is guarded by a
// RWMutex rather than a channel-based event bus — no pack repo pulls in a
// dedicated event-bus library for in-process callbacks.
type Registry struct {
	mu sync.RWMutex

	onCreated     []OnCreatedFunc
	onUpdated     []OnUpdatedFunc
	onAccessed    []OnAccessedFunc
	beforeDeleted []BeforeDeletedFunc

	log *zap.Logger
}

func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{log: log}
}

func (r *Registry) OnCreated(fn OnCreatedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreated = append(r.onCreated, fn)
}

func (r *Registry) OnUpdated(fn OnUpdatedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpdated = append(r.onUpdated, fn)
}

func (r *Registry) OnAccessed(fn OnAccessedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAccessed = append(r.onAccessed, fn)
}

func (r *Registry) BeforeDeleted(fn BeforeDeletedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeDeleted = append(r.beforeDeleted, fn)
}

// DispatchCreated fires on-created hooks fire-and-forget, each in its own
// goroutine so a slow or panicking hook cannot stall the write path.
func (r *Registry) DispatchCreated(m *model.Memory) {
	r.mu.RLock()
	fns := append([]OnCreatedFunc(nil), r.onCreated...)
	r.mu.RUnlock()

	for _, fn := range fns {
		fn := fn
		go func() {
			defer r.recoverLog("on_created")
			fn(m)
		}()
	}
}

// DispatchUpdated fires on-updated hooks fire-and-forget.
func (r *Registry) DispatchUpdated(old, new *model.Memory) {
	r.mu.RLock()
	fns := append([]OnUpdatedFunc(nil), r.onUpdated...)
	r.mu.RUnlock()

	for _, fn := range fns {
		fn := fn
		go func() {
			defer r.recoverLog("on_updated")
			fn(old, new)
		}()
	}
}

// DispatchAccessed fires on-accessed hooks fire-and-forget, after the
// value has already been returned to the caller.
func (r *Registry) DispatchAccessed(m *model.Memory) {
	r.mu.RLock()
	fns := append([]OnAccessedFunc(nil), r.onAccessed...)
	r.mu.RUnlock()

	for _, fn := range fns {
		fn := fn
		go func() {
			defer r.recoverLog("on_accessed")
			fn(m)
		}()
	}
}

// DispatchBeforeDeleted runs before_deleted hooks synchronously in
// registration order, short-circuiting on the first veto (false). It
// returns true only if every hook consents.
func (r *Registry) DispatchBeforeDeleted(m *model.Memory) bool {
	r.mu.RLock()
	fns := append([]BeforeDeletedFunc(nil), r.beforeDeleted...)
	r.mu.RUnlock()

	for _, fn := range fns {
		if !r.safeVeto(fn, m) {
			return false
		}
	}
	return true
}

func (r *Registry) safeVeto(fn BeforeDeletedFunc, m *model.Memory) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("before_deleted hook panicked, treating as veto", zap.Any("panic", rec))
			ok = false
		}
	}()
	return fn(m)
}

func (r *Registry) recoverLog(event string) {
	if rec := recover(); rec != nil {
		r.log.Error("hook panicked", zap.String("event", event), zap.Any("panic", rec))
	}
}
