// Package registry is the only process-wide mutable state the engine keeps
// (spec §9 "Global mutable state"): a handle -> wrapper map. The RPC session
// loop (internal/rpc) looks up a handle on every message after Build0 and
// dispatches into the returned *wrapper.Wrapper; this package never
// interprets the handle itself, matching spec.md §3's "opaque 32-bit
// identifier allocated by the host" — registry only stores what the host
// hands it.
//
// Grounded on the teacher's libravdb.Database (libravdb/database.go): a
// sync.RWMutex-guarded map plus a root directory, generalized from the
// teacher's string-keyed map[string]*Collection (with its own built-in
// lazy-load-from-storage fallback in GetCollection) to a uint32-keyed
// map[uint32]*wrapper.Wrapper. Lazy loading doesn't apply here: the host
// always names the handle it wants, and whether that handle already has
// files on disk is exactly the question Build vs Load answers, not
// something registry should guess at.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ivory-labs/vectord/internal/obs"
	"github.com/ivory-labs/vectord/internal/vecstore"
	"github.com/ivory-labs/vectord/internal/wrapper"
)

var (
	// ErrExists is returned by Build when the handle already has a live
	// wrapper registered.
	ErrExists = fmt.Errorf("registry: handle already exists")
	// ErrNotFound is returned by any lookup against an unregistered handle.
	ErrNotFound = fmt.Errorf("registry: handle not found")
	// ErrClosed is returned once the registry has been shut down.
	ErrClosed = fmt.Errorf("registry: closed")
)

// Registry is the live handle -> wrapper table for one daemon process.
type Registry struct {
	mu     sync.RWMutex
	root   string
	live   map[uint32]*wrapper.Wrapper
	closed bool

	// metrics and breakers are shared process-wide state handed down to
	// every wrapper this registry builds or loads, mirroring the teacher's
	// one-Metrics-per-Database wiring (libravdb/database.go).
	metrics  *obs.Metrics
	breakers *obs.CircuitBreakerManager
}

// processMetrics is the one *obs.Metrics every Registry in this process
// shares: obs.NewMetrics registers against the default Prometheus registry,
// which rejects a second registration of the same metric names.
var (
	processMetricsOnce sync.Once
	processMetrics     *obs.Metrics
)

// New constructs a registry rooted at dir; every handle's files live under
// dir/<handle>, the per-index layout spec.md §3 names.
func New(dir string) *Registry {
	processMetricsOnce.Do(func() { processMetrics = obs.NewMetrics() })
	return &Registry{
		root:     dir,
		live:     make(map[uint32]*wrapper.Wrapper),
		metrics:  processMetrics,
		breakers: obs.NewCircuitBreakerManager(),
	}
}

// Metrics returns the shared metric set every handle updates, for a host
// process that wants to expose a Prometheus scrape endpoint alongside the
// RPC socket.
func (r *Registry) Metrics() *obs.Metrics { return r.metrics }

func (r *Registry) breakerFor(handle uint32) *obs.CircuitBreaker {
	name := strconv.FormatUint(uint64(handle), 10)
	return r.breakers.GetOrCreate(name, obs.DefaultCircuitBreakerConfig(name))
}

func (r *Registry) dirFor(handle uint32) string {
	return filepath.Join(r.root, strconv.FormatUint(uint64(handle), 10))
}

// Build trains a fresh index under handle and registers it. The host must
// not reuse a handle still registered; that is ErrExists, not silently
// overwritten, since overwriting would leak the previous wrapper's WAL
// writer goroutine and mmap handles.
func (r *Registry) Build(ctx context.Context, handle uint32, opts *wrapper.Options, vectors []vecstore.Vecf32, pointers, times []uint64) (*wrapper.Wrapper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, exists := r.live[handle]; exists {
		return nil, ErrExists
	}

	withDir := *opts
	withDir.Dir = r.dirFor(handle)

	w, err := wrapper.Build(ctx, &withDir, vectors, pointers, times,
		wrapper.WithMetrics(r.metrics), wrapper.WithBreaker(r.breakerFor(handle)))
	if err != nil {
		return nil, err
	}
	r.live[handle] = w
	return w, nil
}

// Load reopens a previously built handle's on-disk files and registers the
// resulting wrapper. Its options come from the handle's own meta file, not
// from the caller (spec.md §6's wire contract is the bare `Load { id }`).
// Mirrors Build's reject-on-already-registered rule.
func (r *Registry) Load(ctx context.Context, handle uint32) (*wrapper.Wrapper, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, exists := r.live[handle]; exists {
		return nil, ErrExists
	}

	w, err := wrapper.Load(ctx, r.dirFor(handle),
		wrapper.WithMetrics(r.metrics), wrapper.WithBreaker(r.breakerFor(handle)))
	if err != nil {
		return nil, err
	}
	r.live[handle] = w
	return w, nil
}

// Get returns the live wrapper for handle, for Insert/Delete/Search/Flush
// dispatch.
func (r *Registry) Get(handle uint32) (*wrapper.Wrapper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	w, ok := r.live[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return w, nil
}

// Unload releases a handle's in-memory state while leaving its files on
// disk (spec §3 Lifecycle), removing it from the live map so a later Load
// can bring it back.
func (r *Registry) Unload(ctx context.Context, handle uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	w, ok := r.live[handle]
	if !ok {
		return ErrNotFound
	}
	if err := w.Shutdown(ctx); err != nil {
		return err
	}
	delete(r.live, handle)
	return nil
}

// Drop shuts down and deletes every on-disk file for handle (spec §3
// Lifecycle: "dropped to delete files").
func (r *Registry) Drop(ctx context.Context, handle uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	w, ok := r.live[handle]
	if !ok {
		return ErrNotFound
	}
	if err := w.Drop(ctx); err != nil {
		return err
	}
	delete(r.live, handle)
	return nil
}

// Handles returns every currently-registered handle, used by health checks
// and graceful-shutdown sweeps.
func (r *Registry) Handles() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.live))
	for h := range r.live {
		out = append(out, h)
	}
	return out
}

// Close shuts down every live wrapper and marks the registry closed; used
// on daemon teardown (spec §9: "teardown on daemon shutdown").
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	var firstErr error
	for handle, w := range r.live {
		if err := w.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("registry: shutdown handle %d: %w", handle, err)
		}
	}
	r.live = nil
	r.closed = true
	return firstErr
}
