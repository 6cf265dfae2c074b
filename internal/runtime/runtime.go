// Package runtime owns the process-global native backend and the cache of
// loaded model weights. It enforces that at most one backend instance ever
// exists per process and that every loaded model is released before the
// backend is torn down.
package runtime

import (
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
	"github.com/shaneholloman/goose-local-inference/internal/llama"
)

var (
	initMu sync.Mutex
	holder *Runtime
)

// Slot is a cache cell holding at most one loaded model.
type Slot struct {
	mu sync.Mutex // may be held for tens of seconds across a model load
	id string

	// loaded is nil when the slot is empty.
	loaded *LoadedModel
}

// LoadedModel is a resident set of weights plus its chat template.
type LoadedModel struct {
	Weights      llama.Model
	ChatTemplate string
}

// Lock acquires the slot for the duration of a load or generation. Callers
// must call Unlock when done.
func (s *Slot) Lock()   { s.mu.Lock() }
func (s *Slot) Unlock() { s.mu.Unlock() }

// Loaded returns the slot's current contents, or nil if empty. Callers
// must hold the slot lock.
func (s *Slot) Loaded() *LoadedModel { return s.loaded }

// SetLoaded stores a freshly loaded model into the slot. Callers must hold
// the slot lock.
func (s *Slot) SetLoaded(lm *LoadedModel) { s.loaded = lm }

// Evict releases any resident model, closing its weights. Callers must
// hold the slot lock.
func (s *Slot) Evict() {
	if s.loaded == nil {
		return
	}
	s.loaded.Weights.Close()
	s.loaded = nil
}

// Runtime is a strong handle to the process-wide backend plus the model
// cache. Field order matters: cache must be released before backend, so it
// is declared first and Close tears down in declaration order.
type Runtime struct {
	log *zerolog.Logger

	cacheMu sync.Mutex
	cache   map[string]*Slot

	backend *llama.Backend

	refMu sync.Mutex
	refs  int
}

// GetOrInit returns the process-wide Runtime, constructing the native
// backend on first use. Concurrent callers serialize on initMu: the first
// one in constructs the backend; later callers (while the runtime is
// still live) just bump the reference count.
func GetOrInit(log *zerolog.Logger) (*Runtime, error) {
	initMu.Lock()
	defer initMu.Unlock()

	if holder != nil {
		holder.refMu.Lock()
		holder.refs++
		holder.refMu.Unlock()
		return holder, nil
	}

	backend, err := llama.InitBackend()
	if err != nil {
		return nil, apperr.Execf(err, "failed to initialize inference backend")
	}

	rt := &Runtime{
		log:     log,
		cache:   make(map[string]*Slot),
		backend: backend,
		refs:    1,
	}
	holder = rt
	return rt, nil
}

// Backend exposes the underlying native backend handle. Device
// enumeration is done through llama.Model.Devices, not through it.
func (r *Runtime) Backend() *llama.Backend { return r.backend }

// GetOrCreateSlot returns the cache slot for id, creating an empty one if
// absent. The slot itself still needs locking before inspection/mutation.
func (r *Runtime) GetOrCreateSlot(id string) *Slot {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	s, ok := r.cache[id]
	if !ok {
		s = &Slot{id: id}
		r.cache[id] = s
	}
	return s
}

// OtherSlots returns every slot in the cache except keepID, for the
// provider to evict before loading the target model.
func (r *Runtime) OtherSlots(keepID string) []*Slot {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	out := make([]*Slot, 0, len(r.cache))
	for id, s := range r.cache {
		if id == keepID {
			continue
		}
		out = append(out, s)
	}
	return out
}

// EvictOthers empties every slot except keepID before the caller loads the
// target model, enforcing the one-resident-model cache policy. Slots are
// unloaded concurrently since each Weights.Close() is an independent FFI
// call; in practice the cache holds at most one other slot, so this is
// mostly future-proofing for a looser eviction policy.
func (r *Runtime) EvictOthers(keepID string) error {
	slots := r.OtherSlots(keepID)
	var g errgroup.Group
	for _, s := range slots {
		s := s
		g.Go(func() error {
			s.Lock()
			defer s.Unlock()
			s.Evict()
			return nil
		})
	}
	return g.Wait()
}

// Close releases the caller's strong reference. On the last reference, the
// cache (and thereby every loaded model) is dropped before the backend.
func (r *Runtime) Close() {
	r.refMu.Lock()
	r.refs--
	last := r.refs == 0
	r.refMu.Unlock()
	if !last {
		return
	}

	initMu.Lock()
	defer initMu.Unlock()

	r.cacheMu.Lock()
	for _, s := range r.cache {
		s.Lock()
		s.Evict()
		s.Unlock()
	}
	r.cache = nil
	r.cacheMu.Unlock()

	r.backend.Close()
	if holder == r {
		holder = nil
	}
}
