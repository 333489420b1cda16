// Package wrapper mediates between an index (HNSW or IVF), its WAL, and its
// version map, presenting the build/load/insert/delete/search/flush/
// shutdown/drop surface the RPC session loop (internal/rpc) calls into.
//
// Grounded on the teacher's libravdb.Collection (libravdb/collection.go),
// which already mediates between an index.Index, a storage.Collection
// (WAL-backed), and obs.Metrics behind one sync.RWMutex and a closed flag.
// Generalized from the teacher's string-named, single-HNSW-type collection
// to an opaque handle hosting either flavor (HNSW, IvfNaive, IvfPQ) chosen
// at build time, and from the teacher's string vector ids to host-supplied
// uint64 pointers packed with a version counter (vecstore.InternalID).
package wrapper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ivory-labs/vectord/internal/index/flat"
	"github.com/ivory-labs/vectord/internal/index/hnsw"
	"github.com/ivory-labs/vectord/internal/index/ivf"
	"github.com/ivory-labs/vectord/internal/obs"
	"github.com/ivory-labs/vectord/internal/quant"
	"github.com/ivory-labs/vectord/internal/rawstore"
	"github.com/ivory-labs/vectord/internal/vecstore"
	"github.com/ivory-labs/vectord/internal/versionmap"
	"github.com/ivory-labs/vectord/internal/wal"
)

// WrapperOption customizes a Wrapper at Build/Load time without disturbing
// existing call sites (it is always the final, variadic parameter).
type WrapperOption func(*Wrapper)

// WithMetrics shares one process-wide *obs.Metrics across every handle, the
// way the teacher's Database hands its single *obs.Metrics to every
// Collection it opens (libravdb/database.go). Passing nil is fine: every
// metrics update site checks for it first, same as the teacher's
// `if c.metrics != nil`.
func WithMetrics(m *obs.Metrics) WrapperOption {
	return func(w *Wrapper) { w.metrics = m }
}

// WithBreaker installs a circuit breaker guarding this handle's Flush path:
// after repeated persistence failures it fails fast instead of retrying a
// disk that is no longer responding (spec's I/O-failure policy: transient
// writes are retried once, persistent ones must stop hammering the disk).
func WithBreaker(b *obs.CircuitBreaker) WrapperOption {
	return func(w *Wrapper) { w.breaker = b }
}

// Algo selects which index flavor a handle wraps.
type Algo int

const (
	AlgoFlat Algo = iota
	AlgoHNSW
	AlgoIvfNaive
	AlgoIvfPQ
)

// Options is the wire-level Build0 record (spec §6): everything needed to
// construct an index of either flavor.
type Options struct {
	Dims   int
	Kind   vecstore.Kind
	Metric vecstore.Metric
	Algo   Algo

	HNSW hnsw.Config // Quantizer left nil; filled in from Quantization below

	IVF    ivf.Config
	PQRatio  int
	PQSample int

	// Quantization configures HNSW's optional quantizer and IvfNaive's
	// required one; IvfPQ always builds its own residual product quantizer
	// and ignores this field.
	Quantization *quant.QuantizationConfig

	Dir string // on-disk directory this handle's files live under
}

var (
	ErrClosed      = fmt.Errorf("wrapper: index is shut down")
	ErrIndexFrozen = fmt.Errorf("wrapper: IVF indexes are frozen after build")
	ErrNotLoaded   = fmt.Errorf("wrapper: index is not loaded")
)

// Wrapper is the live, in-memory state behind one handle.
type Wrapper struct {
	mu   sync.RWMutex
	opts Options

	flatIdx  *flat.Index
	hnswIdx  *hnsw.Index
	naiveIdx *ivf.Naive
	pqIdx    *ivf.PQ

	versions *versionmap.Map
	log      *wal.WAL
	raw      *rawstore.Store

	metrics *obs.Metrics
	breaker *obs.CircuitBreaker

	loaded bool
	closed bool
}

// Result is one search hit with the host's own pointer restored (the
// packed version bits are stripped before a result ever leaves this
// package).
type Result struct {
	Pointer  uint64
	Time     uint64
	Distance float32
}

func walPath(dir string) string { return filepath.Join(dir, "wal") }

// Build constructs a fresh index from a corpus (spec §6 Build0/Build1/
// Build2: the RPC session streams Build1 vector batches before a Build2
// finalize; this package takes the already-assembled corpus and leaves
// batching to the caller).
func Build(ctx context.Context, opts *Options, vectors []vecstore.Vecf32, pointers []uint64, times []uint64, extra ...WrapperOption) (*Wrapper, error) {
	if len(vectors) != len(pointers) || len(vectors) != len(times) {
		return nil, fmt.Errorf("wrapper: vectors/pointers/times length mismatch")
	}
	if opts.Dims <= 0 {
		return nil, fmt.Errorf("wrapper: dims must be positive")
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("wrapper: create directory: %w", err)
		}
	}

	versions := versionmap.New()
	payloads := make([]vecstore.Payload, len(vectors))
	for i, p := range pointers {
		v, err := versions.Insert(p)
		if err != nil {
			return nil, fmt.Errorf("wrapper: duplicate pointer in build corpus: %w", err)
		}
		id, err := vecstore.EncodeInternalID(p, v)
		if err != nil {
			return nil, fmt.Errorf("wrapper: %w", err)
		}
		payloads[i] = vecstore.Payload{Pointer: uint64(id), Time: times[i]}
	}

	w := &Wrapper{opts: *opts, versions: versions}
	for _, opt := range extra {
		opt(w)
	}

	switch opts.Algo {
	case AlgoFlat:
		cfg := &flat.Config{Dims: opts.Dims, Kind: opts.Kind, Metric: opts.Metric}
		if opts.Quantization != nil {
			q, err := quant.NewQuantizer(opts.Quantization)
			if err != nil {
				return nil, fmt.Errorf("wrapper: build quantizer: %w", err)
			}
			if err := q.Train(ctx, vectors); err != nil {
				return nil, fmt.Errorf("wrapper: train quantizer: %w", err)
			}
			cfg.Quantizer = q
			cfg.QuantCfg = opts.Quantization
		}
		idx, err := flat.New(cfg)
		if err != nil {
			return nil, err
		}
		for i, v := range vectors {
			if err := idx.Insert(ctx, v, payloads[i]); err != nil {
				return nil, fmt.Errorf("wrapper: insert vector %d: %w", i, err)
			}
		}
		w.flatIdx = idx

	case AlgoHNSW:
		cfg := opts.HNSW
		cfg.Dims, cfg.Kind, cfg.Metric = opts.Dims, opts.Kind, opts.Metric
		if opts.Quantization != nil {
			q, err := quant.NewQuantizer(opts.Quantization)
			if err != nil {
				return nil, fmt.Errorf("wrapper: build quantizer: %w", err)
			}
			if err := q.Train(ctx, vectors); err != nil {
				return nil, fmt.Errorf("wrapper: train quantizer: %w", err)
			}
			cfg.Quantizer = q
		}
		idx, err := hnsw.New(&cfg, nil)
		if err != nil {
			return nil, err
		}
		for i, v := range vectors {
			if err := idx.Insert(ctx, v, payloads[i], uint32(i)); err != nil {
				return nil, fmt.Errorf("wrapper: insert vector %d: %w", i, err)
			}
		}
		w.hnswIdx = idx

	case AlgoIvfNaive:
		base := opts.IVF
		base.Dims, base.Kind, base.Metric = opts.Dims, opts.Kind, opts.Metric
		idx, err := ivf.BuildNaive(ctx, &ivf.NaiveConfig{Config: base, QuantConfig: opts.Quantization}, vectors, payloads)
		if err != nil {
			return nil, err
		}
		w.naiveIdx = idx

	case AlgoIvfPQ:
		base := opts.IVF
		base.Dims, base.Kind, base.Metric = opts.Dims, opts.Kind, opts.Metric
		idx, err := ivf.BuildPQ(ctx, &ivf.PQConfig{Config: base, Ratio: opts.PQRatio, Sample: opts.PQSample}, vectors, payloads)
		if err != nil {
			return nil, err
		}
		w.pqIdx = idx

	default:
		return nil, fmt.Errorf("wrapper: unknown algo %d", opts.Algo)
	}

	if opts.Dir != "" {
		if err := writeMeta(opts); err != nil {
			return nil, err
		}
		l, err := wal.Open(walPath(opts.Dir))
		if err != nil {
			return nil, fmt.Errorf("wrapper: open wal: %w", err)
		}
		w.log = l
		if err := w.persistLocked(); err != nil {
			l.Close()
			return nil, err
		}
	}

	w.loaded = true
	return w, nil
}

// Load reopens a handle previously built under dir: it reads back the meta
// file Build sealed (spec §3: "options, algo-forever blob" — the one file
// every other per-handle file depends on), restores whichever index flavor
// was persisted, reopens the WAL, and replays any records written since the
// last Flush (spec §3 Lifecycle: "loaded from its files"). Grounded on the
// teacher's Database.Open sequence (open storage, then index, then replay),
// generalized across the three index flavors. Options are never supplied by
// the caller here (spec §6's wire contract is the bare `Load { id }`): a
// missing or corrupt meta file fails the load outright (spec §7's
// "truncated meta log" error kind) rather than falling back to whatever the
// caller happens to pass in.
func Load(ctx context.Context, dir string, extra ...WrapperOption) (*Wrapper, error) {
	if dir == "" {
		return nil, fmt.Errorf("wrapper: load requires a directory")
	}
	opts, err := readMeta(dir)
	if err != nil {
		return nil, fmt.Errorf("wrapper: load: %w", err)
	}

	w := &Wrapper{opts: *opts, versions: versionmap.New()}
	for _, opt := range extra {
		opt(w)
	}

	switch opts.Algo {
	case AlgoFlat:
		idx, err := flat.Load(filepath.Join(opts.Dir, "flat"))
		if err != nil {
			return nil, fmt.Errorf("wrapper: load flat index: %w", err)
		}
		w.flatIdx = idx
	case AlgoHNSW:
		cfg := opts.HNSW
		cfg.Dims, cfg.Kind, cfg.Metric = opts.Dims, opts.Kind, opts.Metric
		idx, err := hnsw.Load(filepath.Join(opts.Dir, "graph"), &cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("wrapper: load hnsw graph: %w", err)
		}
		w.hnswIdx = idx
	case AlgoIvfNaive:
		idx, err := ivf.LoadNaive(filepath.Join(opts.Dir, "ivf"))
		if err != nil {
			return nil, fmt.Errorf("wrapper: load ivf naive: %w", err)
		}
		w.naiveIdx = idx
	case AlgoIvfPQ:
		idx, err := ivf.LoadPQ(filepath.Join(opts.Dir, "ivf"))
		if err != nil {
			return nil, fmt.Errorf("wrapper: load ivf pq: %w", err)
		}
		w.pqIdx = idx
	default:
		return nil, fmt.Errorf("wrapper: unknown algo %d", opts.Algo)
	}

	// Every surviving payload's packed pointer/version is re-inserted into
	// a fresh version map at its persisted version so Filter accepts it;
	// the WAL replay below then re-applies any inserts/deletes recorded
	// after that last Flush.
	for _, p := range w.payloadsLocked() {
		id := vecstore.InternalID(p.Pointer)
		if err := w.versions.InsertAt(id.Pointer(), id.Version()); err != nil {
			return nil, fmt.Errorf("wrapper: rebuild version map: %w", err)
		}
	}

	l, err := wal.Open(walPath(opts.Dir))
	if err != nil {
		return nil, fmt.Errorf("wrapper: open wal: %w", err)
	}
	w.log = l

	if err := w.replay(ctx); err != nil {
		l.Close()
		return nil, err
	}

	w.loaded = true
	return w, nil
}

// payloadsLocked returns every payload currently held by the wrapped index,
// used only during Load to seed a fresh version map.
func (w *Wrapper) payloadsLocked() []vecstore.Payload {
	switch {
	case w.flatIdx != nil:
		return w.flatIdx.Payloads()
	case w.hnswIdx != nil:
		return w.hnswIdx.Payloads()
	case w.naiveIdx != nil:
		return w.naiveIdx.Payloads()
	case w.pqIdx != nil:
		return w.pqIdx.Payloads()
	}
	return nil
}

// Insert adds one vector to a loaded index. HNSW and Flat accept inserts
// after build; IVF lists are frozen (spec.md §5, §4.6).
func (w *Wrapper) Insert(ctx context.Context, pointer, hostTime uint64, v vecstore.Vector) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if !w.loaded {
		return ErrNotLoaded
	}
	if w.hnswIdx == nil && w.flatIdx == nil {
		return ErrIndexFrozen
	}

	version, err := w.versions.Insert(pointer)
	if err != nil {
		return err
	}
	id, err := vecstore.EncodeInternalID(pointer, version)
	if err != nil {
		return err
	}

	var vecData []float32
	if vf32, ok := v.(vecstore.Vecf32); ok {
		vecData = []float32(vf32)
	}
	rec, err := encodeWALRecordVector(opInsert, pointer, hostTime, version, vecData)
	if err != nil {
		return err
	}
	if w.log != nil {
		if err := w.log.Append(ctx, rec); err != nil {
			return fmt.Errorf("wrapper: wal append: %w", err)
		}
	}

	payload := vecstore.Payload{Pointer: uint64(id), Time: hostTime}
	if w.flatIdx != nil {
		if err := w.flatIdx.Insert(ctx, v, payload); err != nil {
			return err
		}
	} else if err := w.hnswIdx.Insert(ctx, v, payload, 0); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.InsertsTotal.Inc()
	}
	return nil
}

// Delete logically removes a pointer: a version-map bump, not a graph edit
// (spec §4.7).
func (w *Wrapper) Delete(ctx context.Context, pointer uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if !w.loaded {
		return ErrNotLoaded
	}

	rec, err := encodeWALRecord(opDelete, pointer, 0, 0)
	if err != nil {
		return err
	}
	if w.log != nil {
		if err := w.log.Append(ctx, rec); err != nil {
			return fmt.Errorf("wrapper: wal append: %w", err)
		}
	}
	if err := w.versions.Remove(pointer); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.DeletesTotal.Inc()
	}
	return nil
}

// Search dispatches to whichever index flavor this handle wraps, then
// filters every hit through the version map (spec §4.7 filter(id)) and
// restores the caller's own pointer.
func (w *Wrapper) Search(ctx context.Context, query vecstore.Vector, k, efOrNprobe int) ([]Result, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, ErrClosed
	}
	if !w.loaded {
		return nil, ErrNotLoaded
	}

	start := time.Now()
	results, err := w.searchLocked(ctx, query, k, efOrNprobe)
	if w.metrics != nil {
		w.metrics.SearchesTotal.Inc()
		w.metrics.SearchLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			w.metrics.SearchErrors.Inc()
		}
	}
	return results, err
}

func (w *Wrapper) searchLocked(ctx context.Context, query vecstore.Vector, k, efOrNprobe int) ([]Result, error) {
	switch {
	case w.flatIdx != nil:
		hits, err := w.flatIdx.Search(ctx, query, k)
		if err != nil {
			return nil, err
		}
		return w.filterFlat(hits), nil
	case w.hnswIdx != nil:
		hits, err := w.hnswIdx.Search(ctx, query, k, efOrNprobe)
		if err != nil {
			return nil, err
		}
		return w.filterHNSW(hits), nil
	case w.naiveIdx != nil:
		hits, err := w.naiveIdx.Search(ctx, query, k, efOrNprobe)
		if err != nil {
			return nil, err
		}
		return w.filterIVF(hits), nil
	case w.pqIdx != nil:
		hits, err := w.pqIdx.Search(ctx, query, k, efOrNprobe)
		if err != nil {
			return nil, err
		}
		return w.filterIVF(hits), nil
	default:
		return nil, ErrNotLoaded
	}
}

func (w *Wrapper) filterFlat(hits []flat.Result) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		id := vecstore.InternalID(h.Payload.Pointer)
		pointer, alive := w.versions.Filter(id.Pointer(), id.Version())
		if !alive {
			continue
		}
		out = append(out, Result{Pointer: pointer, Time: h.Payload.Time, Distance: h.Distance})
	}
	return out
}

func (w *Wrapper) filterHNSW(hits []hnsw.Result) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		id := vecstore.InternalID(h.Payload.Pointer)
		pointer, alive := w.versions.Filter(id.Pointer(), id.Version())
		if !alive {
			continue
		}
		out = append(out, Result{Pointer: pointer, Time: h.Payload.Time, Distance: h.Distance})
	}
	return out
}

func (w *Wrapper) filterIVF(hits []ivf.Result) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		id := vecstore.InternalID(h.Payload.Pointer)
		pointer, alive := w.versions.Filter(id.Pointer(), id.Version())
		if !alive {
			continue
		}
		out = append(out, Result{Pointer: pointer, Time: h.Payload.Time, Distance: h.Distance})
	}
	return out
}

// Flush durably persists WAL state and re-saves the wrapped index's file,
// whichever flavor (flat, HNSW or IVF) this handle holds.
func (w *Wrapper) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	flush := func() error {
		if w.log != nil {
			if err := w.log.Flush(ctx); err != nil {
				return err
			}
		}
		return w.persistLocked()
	}

	var err error
	if w.breaker != nil {
		err = w.breaker.Execute(ctx, flush)
	} else {
		err = flush()
	}

	if w.metrics != nil {
		if err != nil {
			w.metrics.FlushErrors.Inc()
		} else {
			w.metrics.FlushesTotal.Inc()
		}
	}
	return err
}

func (w *Wrapper) persistLocked() error {
	if w.opts.Dir == "" {
		return nil
	}
	switch {
	case w.flatIdx != nil:
		return w.flatIdx.Save(filepath.Join(w.opts.Dir, "flat"))
	case w.hnswIdx != nil:
		return w.hnswIdx.Save(filepath.Join(w.opts.Dir, "graph"))
	case w.naiveIdx != nil:
		return w.naiveIdx.Save(filepath.Join(w.opts.Dir, "ivf"))
	case w.pqIdx != nil:
		return w.pqIdx.Save(filepath.Join(w.opts.Dir, "ivf"))
	}
	return nil
}

// Shutdown releases in-memory state while leaving on-disk files intact
// (spec §3 Lifecycle: "unloaded to release memory while keeping files").
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if err := w.persistLocked(); err != nil {
		return err
	}
	if w.log != nil {
		if err := w.log.Close(); err != nil {
			return err
		}
	}
	if w.raw != nil {
		w.raw.Release()
	}
	w.closed = true
	w.loaded = false
	return nil
}

// Drop shuts down then deletes every on-disk file for this handle (spec §3
// Lifecycle: "dropped to delete files").
func (w *Wrapper) Drop(ctx context.Context) error {
	if err := w.Shutdown(ctx); err != nil {
		return err
	}
	if w.opts.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.opts.Dir); err != nil {
		return fmt.Errorf("wrapper: drop: %w", err)
	}
	return nil
}

// Size returns the number of vectors the wrapped index holds (alive or
// logically deleted).
func (w *Wrapper) Size() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	switch {
	case w.flatIdx != nil:
		return w.flatIdx.Size()
	case w.hnswIdx != nil:
		return w.hnswIdx.Size()
	case w.naiveIdx != nil:
		return w.naiveIdx.Size()
	case w.pqIdx != nil:
		return w.pqIdx.Size()
	}
	return 0
}
