package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tensord/internal/engine"
	"tensord/internal/engine/refgraph"
)

// writeArtifact writes a refgraph artifact under dir/1/model.yaml.
func writeArtifact(t *testing.T, dir, artifact string) {
	t.Helper()
	vdir := filepath.Join(dir, "1")
	if err := os.MkdirAll(vdir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(vdir, refgraph.DefaultArtifact), []byte(artifact), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

// projectionArtifact maps X [-1,k] to Y [-1,n] where Y[j] = X[j] for j < k.
func projectionArtifact(k, n int) string {
	w := make([]string, 0, k*n)
	for r := 0; r < k; r++ {
		for c := 0; c < n; c++ {
			if r == c {
				w = append(w, "1")
			} else {
				w = append(w, "0")
			}
		}
	}
	return fmt.Sprintf(`
inputs:
  - {name: X, datatype: FP32, dims: [-1, %d]}
outputs:
  - {name: Y, datatype: FP32, dims: [-1, %d], op: matmul, from: [X], weights: [%s]}
`, k, n, strings.Join(w, ", "))
}

// projectionConfig is the configuration matching projectionArtifact.
func projectionConfig(maxBatch int, params map[string]string) ModelConfig {
	return ModelConfig{
		Name:         "proj",
		MaxBatchSize: maxBatch,
		Input:        []TensorConfig{{Name: "X", DataType: "TYPE_FP32", Dims: []int64{10}}},
		Output:       []TensorConfig{{Name: "Y", DataType: "TYPE_FP32", Dims: []int64{5}}},
		Parameters:   params,
	}
}

// countingCore wraps the reference engine and records expensive calls.
type countingCore struct {
	engine.Core
	mu           sync.Mutex
	reads        int
	compiles     int
	infers       int
	compileDelay time.Duration
	compileErr   error
	panicOnInfer bool
	outputShape  engine.Shape
}

func newCountingCore() *countingCore { return &countingCore{Core: refgraph.New()} }

func (c *countingCore) ReadModel(path string) (engine.Graph, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Core.ReadModel(path)
}

func (c *countingCore) Compile(g engine.Graph, device string) (engine.CompiledGraph, error) {
	c.mu.Lock()
	c.compiles++
	delay, cerr := c.compileDelay, c.compileErr
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if cerr != nil {
		return nil, cerr
	}
	cg, err := c.Core.Compile(g, device)
	if err != nil {
		return nil, err
	}
	return &countingCompiled{CompiledGraph: cg, core: c}, nil
}

func (c *countingCore) counts() (reads, compiles, infers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.compiles, c.infers
}

type countingCompiled struct {
	engine.CompiledGraph
	core *countingCore
}

func (c *countingCompiled) NewRequest() (engine.Request, error) {
	r, err := c.CompiledGraph.NewRequest()
	if err != nil {
		return nil, err
	}
	return &countingRequest{Request: r, core: c.core}, nil
}

type countingRequest struct {
	engine.Request
	core *countingCore
}

func (r *countingRequest) Infer() error {
	r.core.mu.Lock()
	r.core.infers++
	boom := r.core.panicOnInfer
	r.core.mu.Unlock()
	if boom {
		panic("native fault")
	}
	return r.Request.Infer()
}

func (r *countingRequest) Output(name string) (engine.Tensor, error) {
	t, err := r.Request.Output(name)
	if err != nil || r.core.outputShape == nil {
		return t, err
	}
	return reshapedTensor{Tensor: t, shape: r.core.outputShape}, nil
}

type reshapedTensor struct {
	engine.Tensor
	shape engine.Shape
}

func (t reshapedTensor) Shape() engine.Shape { return t.shape.Clone() }

// fakeRequest is a host request backed by in-memory inputs.
type fakeRequest struct {
	id        string
	inputs    []*Input
	requested map[string]bool // nil means every output
	respErr   error
	resp      *fakeResponse
	released  int
}

func newFloatRequest(id, name string, shape engine.Shape, vals ...float32) *fakeRequest {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return &fakeRequest{id: id, inputs: []*Input{{
		Name: name, DataType: engine.TypeFP32, Shape: shape,
		Buffers: []Buffer{{Data: data, Memory: MemoryCPU}},
	}}}
}

func (r *fakeRequest) ID() string       { return r.id }
func (r *fakeRequest) InputCount() int { return len(r.inputs) }

func (r *fakeRequest) InputByIndex(i int) (*Input, error) {
	if i < 0 || i >= len(r.inputs) {
		return nil, errors.New("input index out of range")
	}
	return r.inputs[i], nil
}

func (r *fakeRequest) Input(name string) (*Input, error) {
	for _, in := range r.inputs {
		if in.Name == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("no input %q", name)
}

func (r *fakeRequest) OutputRequested(name string) bool {
	return r.requested == nil || r.requested[name]
}

func (r *fakeRequest) NewResponse() (Response, error) {
	if r.respErr != nil {
		return nil, r.respErr
	}
	r.resp = &fakeResponse{outputs: map[string][]byte{}, shapes: map[string]engine.Shape{}}
	return r.resp, nil
}

func (r *fakeRequest) Release() { r.released++ }

type fakeResponse struct {
	outputs map[string][]byte
	shapes  map[string]engine.Shape
	sends   int
	err     error
}

func (r *fakeResponse) NewOutput(name string, dt engine.DataType, shape engine.Shape) ([]byte, error) {
	buf := make([]byte, engine.ByteSize(dt, shape))
	r.outputs[name] = buf
	r.shapes[name] = shape.Clone()
	return buf, nil
}

func (r *fakeResponse) Send(err error) {
	r.sends++
	r.err = err
}

func (r *fakeResponse) floats(name string) []float32 {
	b := r.outputs[name]
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

type reqReport struct {
	id      string
	success bool
}

// fakeStats records statistics reports.
type fakeStats struct {
	mu       sync.Mutex
	requests []reqReport
	batches  []int
}

func (s *fakeStats) ReportRequest(_ string, req Request, success bool, _ Timestamps) {
	s.mu.Lock()
	s.requests = append(s.requests, reqReport{id: req.ID(), success: success})
	s.mu.Unlock()
}

func (s *fakeStats) ReportBatch(_ string, n int, _ Timestamps) {
	s.mu.Lock()
	s.batches = append(s.batches, n)
	s.mu.Unlock()
}

// newTestBinder writes artifact into a temp repository and returns a binder
// over a counting core.
func newTestBinder(t *testing.T, cfg ModelConfig, artifact string) (*Binder, *countingCore) {
	t.Helper()
	dir := t.TempDir()
	writeArtifact(t, dir, artifact)
	core := newCountingCore()
	b, err := NewBinder(BinderConfig{Model: cfg, Dir: dir, Version: 1, Core: core, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new binder: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, core
}

func newTestInstance(t *testing.T, b *Binder, stats Statistics) *Instance {
	t.Helper()
	inst, err := NewInstance(b, InstanceConfig{Name: "proj_0", Kind: KindCPU, Stats: stats, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new instance: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func seq(from float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = from + float32(i)
	}
	return out
}
