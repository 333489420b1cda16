package quant

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ivory-labs/vectord/internal/distkernel"
	"github.com/ivory-labs/vectord/internal/vecstore"
)

// TrivialQuantizer stores vectors uncompressed. distance(lhs, rhs_id)
// forwards straight to the raw vector (spec §4.3); "encoding" here is just a
// portable float32 byte serialization so the same WAL/mmap machinery that
// stores PQ codes can store trivial ones too.
type TrivialQuantizer struct {
	cfg    *QuantizationConfig
	metric distkernel.Func
}

func newTrivialQuantizer(cfg *QuantizationConfig) *TrivialQuantizer {
	return &TrivialQuantizer{cfg: cfg}
}

func (q *TrivialQuantizer) Train(ctx context.Context, vectors []vecstore.Vecf32) error {
	fn, err := distkernel.Get(vecstore.KindF32, q.cfg.Metric)
	if err != nil {
		return err
	}
	q.metric = fn
	return nil
}

func (q *TrivialQuantizer) Encode(v vecstore.Vecf32) ([]byte, error) {
	if len(v) != q.cfg.Dims {
		return nil, fmt.Errorf("quant: vector has %d dims, expected %d", len(v), q.cfg.Dims)
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf, nil
}

func (q *TrivialQuantizer) Decode(code []byte) (vecstore.Vecf32, error) {
	if len(code) != 4*q.cfg.Dims {
		return nil, fmt.Errorf("quant: code length %d does not match dims %d", len(code), q.cfg.Dims)
	}
	out := make(vecstore.Vecf32, q.cfg.Dims)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(code[i*4:]))
	}
	return out, nil
}

type trivialQueryTable struct{ query vecstore.Vecf32 }

func (trivialQueryTable) isQueryTable() {}

func (q *TrivialQuantizer) BuildQueryTable(query vecstore.Vecf32) (QueryTable, error) {
	return trivialQueryTable{query: query}, nil
}

func (q *TrivialQuantizer) DistanceToCode(table QueryTable, code []byte) (float32, error) {
	tq, ok := table.(trivialQueryTable)
	if !ok {
		return 0, fmt.Errorf("quant: query table type mismatch for trivial quantizer")
	}
	v, err := q.Decode(code)
	if err != nil {
		return 0, err
	}
	if q.metric == nil {
		fn, err := distkernel.Get(vecstore.KindF32, q.cfg.Metric)
		if err != nil {
			return 0, err
		}
		q.metric = fn
	}
	return q.metric(tq.query, v)
}

func (q *TrivialQuantizer) CodeSize() int      { return 4 * q.cfg.Dims }
func (q *TrivialQuantizer) IsTrained() bool    { return true }
func (q *TrivialQuantizer) MemoryUsage() int64 { return 0 }

// TrivialQuantizerFactory creates TrivialQuantizer instances.
type TrivialQuantizerFactory struct{}

func NewTrivialQuantizerFactory() *TrivialQuantizerFactory { return &TrivialQuantizerFactory{} }

func (f *TrivialQuantizerFactory) Create(config *QuantizationConfig) (Quantizer, error) {
	if config.Type != TrivialQuantization {
		return nil, fmt.Errorf("quant: unsupported quantization type %s", config.Type)
	}
	return newTrivialQuantizer(config), nil
}

func (f *TrivialQuantizerFactory) Supports(qType QuantizationType) bool {
	return qType == TrivialQuantization
}

func (f *TrivialQuantizerFactory) Name() string { return "TrivialQuantizer" }
