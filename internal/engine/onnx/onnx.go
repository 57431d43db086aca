//go:build onnx

package onnx

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"tensord/internal/engine"
)

// Built reports whether this binary links ONNX Runtime.
const Built = true

// ONNX Runtime keeps one environment per process; cores share it through a
// reference count.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnv(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Core compiles ONNX models into dynamic sessions.
type Core struct {
	mu     sync.Mutex
	props  map[string]map[string]string
	closed bool
}

// New initializes ONNX Runtime from libraryPath (empty uses the library default).
func New(libraryPath string) (engine.Core, error) {
	if err := acquireEnv(libraryPath); err != nil {
		return nil, err
	}
	return &Core{props: make(map[string]map[string]string)}, nil
}

func (c *Core) DefaultArtifact() string { return DefaultArtifact }

type graph struct {
	path    string
	inputs  []engine.Port
	outputs []engine.Port
}

func (g *graph) Inputs() []engine.Port  { return g.inputs }
func (g *graph) Outputs() []engine.Port { return g.outputs }

func (c *Core) ReadModel(path string) (engine.Graph, error) {
	ins, outs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, err
	}
	g := &graph{path: path}
	for i, info := range ins {
		p, err := toPort(info, i)
		if err != nil {
			return nil, err
		}
		g.inputs = append(g.inputs, p)
	}
	for i, info := range outs {
		p, err := toPort(info, i)
		if err != nil {
			return nil, err
		}
		g.outputs = append(g.outputs, p)
	}
	return g, nil
}

func (c *Core) AddExtension(path string) error {
	return errors.New("custom operator libraries are not supported by the onnx engine")
}

func (c *Core) SetProperty(device string, options map[string]string) error {
	if device != engine.DeviceCPU {
		return fmt.Errorf("unsupported device %q", device)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dst := c.props[device]
	if dst == nil {
		dst = make(map[string]string)
		c.props[device] = dst
	}
	for k, v := range options {
		dst[k] = v
	}
	return nil
}

func (c *Core) sessionOptions(device string) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	props := c.props[device]
	c.mu.Unlock()
	if v, ok := props["CPU_THREADS_NUM"]; ok {
		if n, _ := strconv.Atoi(v); n > 0 {
			if err := opts.SetIntraOpNumThreads(n); err != nil {
				_ = opts.Destroy()
				return nil, err
			}
		}
	}
	if v, ok := props["CPU_THROUGHPUT_STREAMS"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if err := opts.SetInterOpNumThreads(n); err != nil {
				_ = opts.Destroy()
				return nil, err
			}
		}
	}
	return opts, nil
}

func (c *Core) Compile(g engine.Graph, device string) (engine.CompiledGraph, error) {
	og, ok := g.(*graph)
	if !ok {
		return nil, fmt.Errorf("graph %T was not produced by this engine", g)
	}
	if device != engine.DeviceCPU {
		return nil, fmt.Errorf("unsupported device %q", device)
	}
	for _, p := range og.outputs {
		for i, d := range p.Shape {
			if d < 0 && i != 0 {
				return nil, fmt.Errorf("output %q: only the leading dimension may be dynamic", p.Name)
			}
		}
	}
	opts, err := c.sessionOptions(device)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()
	inNames := make([]string, len(og.inputs))
	for i, p := range og.inputs {
		inNames[i] = p.Name
	}
	outNames := make([]string, len(og.outputs))
	for i, p := range og.outputs {
		outNames[i] = p.Name
	}
	sess, err := ort.NewDynamicAdvancedSession(og.path, inNames, outNames, opts)
	if err != nil {
		return nil, err
	}
	return &compiled{session: sess, inputs: og.inputs, outputs: og.outputs}, nil
}

func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return releaseEnv()
}

type compiled struct {
	session *ort.DynamicAdvancedSession
	inputs  []engine.Port
	outputs []engine.Port
}

func (c *compiled) Inputs() []engine.Port  { return c.inputs }
func (c *compiled) Outputs() []engine.Port { return c.outputs }
func (c *compiled) Close() error           { return c.session.Destroy() }

func (c *compiled) NewRequest() (engine.Request, error) {
	r := &request{graph: c, inputs: make(map[string]*tensor, len(c.inputs)), batch: 1}
	for _, p := range c.inputs {
		shape := p.Shape.Clone()
		for i := range shape {
			if shape[i] < 0 {
				shape[i] = 1
			}
		}
		t, err := newTensor(p.DataType, shape)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.inputs[p.Name] = t
	}
	return r, nil
}

type tensor struct {
	dt    engine.DataType
	value *ort.CustomDataTensor
}

func newTensor(dt engine.DataType, shape engine.Shape) (*tensor, error) {
	et, err := toElementType(dt)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, engine.ByteSize(dt, shape))
	v, err := ort.NewCustomDataTensor(ort.NewShape(shape...), buf, et)
	if err != nil {
		return nil, err
	}
	return &tensor{dt: dt, value: v}, nil
}

func (t *tensor) DataType() engine.DataType { return t.dt }
func (t *tensor) Shape() engine.Shape       { return engine.Shape(t.value.GetShape()).Clone() }
func (t *tensor) Bytes() []byte             { return t.value.GetData() }
func (t *tensor) destroy()                  { _ = t.value.Destroy() }

type request struct {
	graph   *compiled
	inputs  map[string]*tensor
	outputs map[string]*tensor
	batch   int
}

func (r *request) Tensor(p engine.Port) (engine.Tensor, error) {
	t, ok := r.inputs[p.Name]
	if !ok {
		return nil, fmt.Errorf("unknown input %q", p.Name)
	}
	return t, nil
}

func (r *request) Output(name string) (engine.Tensor, error) {
	t, ok := r.outputs[name]
	if !ok {
		return nil, fmt.Errorf("output %q not available", name)
	}
	return t, nil
}

func (r *request) SetBatch(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid batch size %d", n)
	}
	for _, p := range r.graph.inputs {
		if len(p.Shape) == 0 || p.Shape[0] >= 0 {
			continue
		}
		cur := r.inputs[p.Name]
		shape := cur.Shape()
		if shape[0] == int64(n) {
			continue
		}
		t, err := newTensor(p.DataType, shape.WithBatch(int64(n)))
		if err != nil {
			return err
		}
		cur.destroy()
		r.inputs[p.Name] = t
	}
	r.batch = n
	return nil
}

func (r *request) Infer() error {
	ins := make([]ort.Value, len(r.graph.inputs))
	for i, p := range r.graph.inputs {
		ins[i] = r.inputs[p.Name].value
	}
	r.dropOutputs()
	outs := make(map[string]*tensor, len(r.graph.outputs))
	vals := make([]ort.Value, len(r.graph.outputs))
	for i, p := range r.graph.outputs {
		shape := p.Shape.Clone()
		if len(shape) > 0 && shape[0] < 0 {
			shape[0] = int64(r.batch)
		}
		t, err := newTensor(p.DataType, shape)
		if err != nil {
			for _, o := range outs {
				o.destroy()
			}
			return err
		}
		outs[p.Name] = t
		vals[i] = t.value
	}
	r.outputs = outs
	return r.graph.session.Run(ins, vals)
}

func (r *request) dropOutputs() {
	for _, t := range r.outputs {
		t.destroy()
	}
	r.outputs = nil
}

func (r *request) Close() error {
	for _, t := range r.inputs {
		t.destroy()
	}
	r.inputs = nil
	r.dropOutputs()
	return nil
}

func toPort(info ort.InputOutputInfo, idx int) (engine.Port, error) {
	if info.OrtValueType != ort.ONNXTypeTensor {
		return engine.Port{}, fmt.Errorf("%q: only tensor inputs and outputs are supported", info.Name)
	}
	dt, err := fromElementType(info.DataType)
	if err != nil {
		return engine.Port{}, fmt.Errorf("%q: %w", info.Name, err)
	}
	return engine.Port{Name: info.Name, Index: idx, DataType: dt, Shape: engine.Shape(info.Dimensions).Clone()}, nil
}

var elementTypes = map[engine.DataType]ort.TensorElementDataType{
	engine.TypeBool:   ort.TensorElementDataTypeBool,
	engine.TypeUint8:  ort.TensorElementDataTypeUint8,
	engine.TypeUint16: ort.TensorElementDataTypeUint16,
	engine.TypeUint32: ort.TensorElementDataTypeUint32,
	engine.TypeUint64: ort.TensorElementDataTypeUint64,
	engine.TypeInt8:   ort.TensorElementDataTypeInt8,
	engine.TypeInt16:  ort.TensorElementDataTypeInt16,
	engine.TypeInt32:  ort.TensorElementDataTypeInt32,
	engine.TypeInt64:  ort.TensorElementDataTypeInt64,
	engine.TypeFP16:   ort.TensorElementDataTypeFloat16,
	engine.TypeBF16:   ort.TensorElementDataTypeBFloat16,
	engine.TypeFP32:   ort.TensorElementDataTypeFloat,
	engine.TypeFP64:   ort.TensorElementDataTypeDouble,
}

func toElementType(dt engine.DataType) (ort.TensorElementDataType, error) {
	et, ok := elementTypes[dt]
	if !ok {
		return 0, fmt.Errorf("unsupported datatype %s", dt)
	}
	return et, nil
}

func fromElementType(et ort.TensorElementDataType) (engine.DataType, error) {
	for dt, v := range elementTypes {
		if v == et {
			return dt, nil
		}
	}
	return engine.TypeInvalid, fmt.Errorf("unsupported element type %v", et)
}
