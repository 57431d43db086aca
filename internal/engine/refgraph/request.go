package refgraph

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"tensord/internal/engine"
)

type tensor struct {
	dt    engine.DataType
	shape engine.Shape
	data  []byte
}

func newTensor(dt engine.DataType, shape engine.Shape) *tensor {
	return &tensor{dt: dt, shape: shape, data: make([]byte, engine.ByteSize(dt, shape))}
}

func (t *tensor) DataType() engine.DataType { return t.dt }
func (t *tensor) Shape() engine.Shape       { return t.shape.Clone() }
func (t *tensor) Bytes() []byte             { return t.data }

func (t *tensor) float32s() []float32 {
	out := make([]float32, len(t.data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
	}
	return out
}

func fromFloat32s(shape engine.Shape, v []float32) *tensor {
	t := newTensor(engine.TypeFP32, shape)
	for i, f := range v {
		binary.LittleEndian.PutUint32(t.data[i*4:], math.Float32bits(f))
	}
	return t
}

type request struct {
	graph   *compiled
	inputs  map[string]*tensor
	outputs map[string]*tensor
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

// SetBatch reallocates every input whose declared leading dim is dynamic.
func (r *request) SetBatch(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid batch size %d", n)
	}
	for _, p := range r.graph.inputs {
		if len(p.Shape) == 0 || p.Shape[0] >= 0 {
			continue
		}
		cur := r.inputs[p.Name]
		if cur.shape[0] == int64(n) {
			continue
		}
		r.inputs[p.Name] = newTensor(p.DataType, cur.shape.WithBatch(int64(n)))
	}
	return nil
}

func (r *request) Infer() error {
	outs := make(map[string]*tensor, len(r.graph.outputs))
	for _, p := range r.graph.outputs {
		o := r.graph.ops[p.Name]
		src := r.inputs[o.from[0]]
		var (
			t   *tensor
			err error
		)
		switch o.kind {
		case OpIdentity:
			t = &tensor{dt: src.dt, shape: src.shape.Clone(), data: append([]byte(nil), src.data...)}
		case OpScale:
			v := src.float32s()
			for i := range v {
				v[i] *= o.factor
			}
			t = fromFloat32s(src.shape.Clone(), v)
		case OpAdd:
			rhs := r.inputs[o.from[1]]
			if !rhs.shape.Equal(src.shape) {
				return fmt.Errorf("add %q: operand shapes %v and %v differ", p.Name, src.shape, rhs.shape)
			}
			a, b := src.float32s(), rhs.float32s()
			for i := range a {
				a[i] += b[i]
			}
			t = fromFloat32s(src.shape.Clone(), a)
		case OpMatMul:
			t, err = matmul(src, o, r.graph.threads)
			if err != nil {
				return fmt.Errorf("matmul %q: %w", p.Name, err)
			}
		}
		outs[p.Name] = t
	}
	r.outputs = outs
	return nil
}

func (r *request) Close() error {
	r.inputs = nil
	r.outputs = nil
	return nil
}

// matmul multiplies the rows of src ([..., K]) by the [K, N] weights. Rows are
// split across up to threads goroutines.
func matmul(src *tensor, o op, threads int) (*tensor, error) {
	if len(src.shape) == 0 || src.shape[len(src.shape)-1] != int64(o.k) {
		return nil, fmt.Errorf("input shape %v does not end in %d", src.shape, o.k)
	}
	in := src.float32s()
	rows := len(in) / o.k
	out := make([]float32, rows*o.n)
	if threads < 1 {
		threads = 1
	}
	chunk := (rows + threads - 1) / threads
	if chunk == 0 {
		chunk = 1
	}
	var g errgroup.Group
	for start := 0; start < rows; start += chunk {
		lo, hi := start, min(start+chunk, rows)
		g.Go(func() error {
			for row := lo; row < hi; row++ {
				x := in[row*o.k : (row+1)*o.k]
				y := out[row*o.n : (row+1)*o.n]
				for j := 0; j < o.n; j++ {
					var acc float32
					for k := 0; k < o.k; k++ {
						acc += x[k] * o.weights[k*o.n+j]
					}
					y[j] = acc
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	shape := src.shape.Clone()
	shape[len(shape)-1] = int64(o.n)
	return fromFloat32s(shape, out), nil
}
