package rpc

import (
	"context"
	"fmt"
	"io"

	"github.com/ivory-labs/vectord/internal/registry"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// Session runs the per-connection message loop: decode one frame, dispatch
// to internal/registry / internal/wrapper, encode the response frame.
// Grounded on the corpus's accept-loop-per-connection servers (e.g.
// kasuganosora-sqlexec's server.Server.Handle), generalized from a
// connection-scoped parser+session-manager pair to this module's flat
// decode-dispatch-encode loop, since there is no authentication or
// multi-statement session state to track here (spec.md §1 scopes that to
// the host database).
type Session struct {
	reg *registry.Registry

	// build accumulates Build1 frames between a Build0 and its closing
	// Build2; spec.md §6 streams the corpus rather than submitting it in
	// one message, but internal/wrapper.Build wants the whole corpus at
	// once, so this session assembles it before calling through.
	buildActive  bool
	buildHandle  uint32
	buildOptions *WireOptions
	vectors      []vecstore.Vecf32
	pointers     []uint64
	times        []uint64
}

// NewSession constructs a session dispatching against reg.
func NewSession(reg *registry.Registry) *Session {
	return &Session{reg: reg}
}

// Serve runs the decode-dispatch-encode loop until the peer disconnects, ctx
// is canceled, or a message fails: per spec.md §6/§7, any error ends the
// stream with a Reset frame before the connection closes.
func (s *Session) Serve(ctx context.Context, rw io.ReadWriter) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := ReadMessage(rw)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		resp, err := s.dispatch(ctx, msg)
		if err != nil {
			_ = WriteMessage(rw, Reset{Message: err.Error()})
			return err
		}
		if resp == nil {
			// Build1 carries no per-frame acknowledgment: the stream only
			// responds once, to Build2.
			continue
		}
		if err := WriteMessage(rw, resp); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg Message) (Message, error) {
	switch m := msg.(type) {
	case Build0:
		return nil, s.handleBuild0(m)
	case Build1:
		return nil, s.handleBuild1(m)
	case Build2:
		return s.handleBuild2(ctx)
	case LoadReq:
		return s.handleLoad(ctx, m)
	case UnloadReq:
		return s.handleUnload(ctx, m)
	case InsertReq:
		return s.handleInsert(ctx, m)
	case DeleteReq:
		return s.handleDelete(ctx, m)
	case SearchReq:
		return s.handleSearch(ctx, m)
	case FlushReq:
		return s.handleFlush(ctx, m)
	case DropReq:
		return s.handleDrop(ctx, m)
	default:
		return nil, fmt.Errorf("rpc: unexpected message type %T", msg)
	}
}

func (s *Session) handleBuild0(m Build0) error {
	if s.buildActive {
		return fmt.Errorf("rpc: build already in progress for handle %d", s.buildHandle)
	}
	opts := m.Options
	s.buildActive = true
	s.buildHandle = m.Handle
	s.buildOptions = &opts
	s.vectors = nil
	s.pointers = nil
	s.times = nil
	return nil
}

func (s *Session) handleBuild1(m Build1) error {
	if !s.buildActive {
		return fmt.Errorf("rpc: build1 without an open build0 stream")
	}
	v, err := m.Vector.ToVecf32()
	if err != nil {
		return err
	}
	s.vectors = append(s.vectors, v)
	s.pointers = append(s.pointers, m.Pointer)
	s.times = append(s.times, m.Time)
	return nil
}

func (s *Session) handleBuild2(ctx context.Context) (Message, error) {
	if !s.buildActive {
		return nil, fmt.Errorf("rpc: build2 without an open build0 stream")
	}
	opts, err := s.buildOptions.ToWrapperOptions()
	if err != nil {
		s.resetBuild()
		return nil, err
	}

	_, err = s.reg.Build(ctx, s.buildHandle, opts, s.vectors, s.pointers, s.times)
	s.resetBuild()
	if err != nil {
		return nil, err
	}
	return BuildResp{}, nil
}

func (s *Session) resetBuild() {
	s.buildActive = false
	s.buildOptions = nil
	s.vectors = nil
	s.pointers = nil
	s.times = nil
}

func (s *Session) handleLoad(ctx context.Context, m LoadReq) (Message, error) {
	if _, err := s.reg.Load(ctx, m.Handle); err != nil {
		return nil, err
	}
	return LoadResp{}, nil
}

func (s *Session) handleUnload(ctx context.Context, m UnloadReq) (Message, error) {
	if err := s.reg.Unload(ctx, m.Handle); err != nil {
		return nil, err
	}
	return UnloadResp{}, nil
}

func (s *Session) handleInsert(ctx context.Context, m InsertReq) (Message, error) {
	w, err := s.reg.Get(m.Handle)
	if err != nil {
		return nil, err
	}
	v, err := m.Vector.ToVector()
	if err != nil {
		return nil, err
	}
	if err := w.Insert(ctx, m.Pointer, m.Time, v); err != nil {
		return nil, err
	}
	return InsertResp{}, nil
}

func (s *Session) handleDelete(ctx context.Context, m DeleteReq) (Message, error) {
	w, err := s.reg.Get(m.Handle)
	if err != nil {
		return nil, err
	}
	if err := w.Delete(ctx, m.Pointer); err != nil {
		return nil, err
	}
	return DeleteResp{}, nil
}

func (s *Session) handleSearch(ctx context.Context, m SearchReq) (Message, error) {
	w, err := s.reg.Get(m.Handle)
	if err != nil {
		return nil, err
	}
	v, err := m.Vector.ToVector()
	if err != nil {
		return nil, err
	}
	hits, err := w.Search(ctx, v, m.K, m.EfOrNprobe)
	if err != nil {
		return nil, err
	}
	result := make([]uint64, len(hits))
	for i, h := range hits {
		result[i] = h.Pointer
	}
	return SearchResp{Result: result}, nil
}

func (s *Session) handleFlush(ctx context.Context, m FlushReq) (Message, error) {
	w, err := s.reg.Get(m.Handle)
	if err != nil {
		return nil, err
	}
	if err := w.Flush(ctx); err != nil {
		return nil, err
	}
	return FlushResp{}, nil
}

func (s *Session) handleDrop(ctx context.Context, m DropReq) (Message, error) {
	if err := s.reg.Drop(ctx, m.Handle); err != nil {
		return nil, err
	}
	return DropResp{}, nil
}
