package rpc

import (
	"bytes"
	"context"
	"math/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivory-labs/vectord/internal/registry"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, SearchReq{Handle: 7, Vector: WireVector{Kind: vecstore.KindF32, F32: []float32{1, 2, 3}}, K: 5, EfOrNprobe: 32}))

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	req, ok := msg.(SearchReq)
	require.True(t, ok)
	assert.Equal(t, uint32(7), req.Handle)
	assert.Equal(t, 5, req.K)
	assert.Equal(t, []float32{1, 2, 3}, req.Vector.F32)
}

func TestWireVectorRoundTripsAllKinds(t *testing.T) {
	cases := []vecstore.Vector{
		vecstore.Vecf32{1, 2, 3, 4},
		vecstore.Vecf16{vecstore.F16FromFloat32(1.5), vecstore.F16FromFloat32(-2.5)},
		&vecstore.SVecf32{D: 5, Indices: []uint32{1, 3}, Values: []float32{0.5, 0.25}},
		func() vecstore.Vector {
			b := vecstore.NewBVecf32(8)
			b.Set(0, true)
			b.Set(5, true)
			return b
		}(),
	}

	for _, v := range cases {
		wire := FromVector(v)
		back, err := wire.ToVector()
		require.NoError(t, err)
		assert.Equal(t, v.Dims(), back.Dims())
	}
}

func randomVectors(n, dims int, seed int64) ([]vecstore.Vecf32, []uint64, []uint64) {
	rng := rand.New(rand.NewSource(seed))
	vectors := make([]vecstore.Vecf32, n)
	pointers := make([]uint64, n)
	times := make([]uint64, n)
	for i := 0; i < n; i++ {
		v := make(vecstore.Vecf32, dims)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
		pointers[i] = uint64(i + 1)
		times[i] = uint64(i)
	}
	return vectors, pointers, times
}

func TestSessionBuildAndSearchEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(t.TempDir())
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	serveErr := make(chan error, 1)
	go func() {
		sess := NewSession(reg)
		serveErr <- sess.Serve(ctx, serverConn)
	}()

	vectors, pointers, times := randomVectors(20, 4, 1)
	opts := WireOptions{
		Dims:       4,
		Distance:   vecstore.MetricL2,
		VectorKind: vecstore.KindF32,
		Indexing:   WireIndexing{Algo: WireFlat},
	}
	require.NoError(t, WriteMessage(clientConn, Build0{Handle: 1, Options: opts}))
	for i, v := range vectors {
		require.NoError(t, WriteMessage(clientConn, Build1{
			Vector:  FromVector(v),
			Pointer: pointers[i],
			Time:    times[i],
		}))
	}
	require.NoError(t, WriteMessage(clientConn, Build2{}))

	msg, err := ReadMessage(clientConn)
	require.NoError(t, err)
	_, ok := msg.(BuildResp)
	require.True(t, ok)

	require.NoError(t, WriteMessage(clientConn, SearchReq{
		Handle: 1,
		Vector: FromVector(vectors[3]),
		K:      1,
	}))
	msg, err = ReadMessage(clientConn)
	require.NoError(t, err)
	searchResp, ok := msg.(SearchResp)
	require.True(t, ok)
	require.Len(t, searchResp.Result, 1)
	assert.Equal(t, pointers[3], searchResp.Result[0])

	require.NoError(t, WriteMessage(clientConn, DeleteReq{Handle: 1, Pointer: pointers[3]}))
	msg, err = ReadMessage(clientConn)
	require.NoError(t, err)
	_, ok = msg.(DeleteResp)
	require.True(t, ok)

	require.NoError(t, WriteMessage(clientConn, SearchReq{Handle: 1, Vector: FromVector(vectors[3]), K: 5}))
	msg, err = ReadMessage(clientConn)
	require.NoError(t, err)
	searchResp, ok = msg.(SearchResp)
	require.True(t, ok)
	for _, p := range searchResp.Result {
		assert.NotEqual(t, pointers[3], p)
	}

	require.NoError(t, WriteMessage(clientConn, DropReq{Handle: 1}))
	msg, err = ReadMessage(clientConn)
	require.NoError(t, err)
	_, ok = msg.(DropResp)
	require.True(t, ok)

	cancel()
	clientConn.Close()
	<-serveErr
}

func TestSessionUnknownHandleResetsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New(t.TempDir())
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		sess := NewSession(reg)
		_ = sess.Serve(ctx, serverConn)
	}()

	require.NoError(t, WriteMessage(clientConn, SearchReq{Handle: 999, Vector: WireVector{Kind: vecstore.KindF32, F32: []float32{1, 2}}, K: 1}))
	msg, err := ReadMessage(clientConn)
	require.NoError(t, err)
	reset, ok := msg.(Reset)
	require.True(t, ok)
	assert.NotEmpty(t, reset.Message)
}
