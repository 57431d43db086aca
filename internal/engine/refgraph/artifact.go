package refgraph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tensord/internal/engine"
)

// DefaultArtifact is the artifact filename used when a model names none.
const DefaultArtifact = "model.yaml"

// Supported ops. Each output is produced by exactly one op.
const (
	OpIdentity = "identity"
	OpScale    = "scale"
	OpAdd      = "add"
	OpMatMul   = "matmul"
)

type portSpec struct {
	Name     string  `yaml:"name"`
	DataType string  `yaml:"datatype"`
	Dims     []int64 `yaml:"dims"`
}

type outputSpec struct {
	portSpec `yaml:",inline"`
	Op       string    `yaml:"op"`
	From     []string  `yaml:"from"`
	Factor   float32   `yaml:"factor"`
	Weights  []float32 `yaml:"weights"`
}

type artifact struct {
	Inputs  []portSpec   `yaml:"inputs"`
	Outputs []outputSpec `yaml:"outputs"`
}

// op is a validated output definition.
type op struct {
	kind    string
	from    []string
	factor  float32
	weights []float32
	k, n    int
}

// Graph is a parsed reference artifact.
type Graph struct {
	inputs  []engine.Port
	outputs []engine.Port
	ops     map[string]op
}

// ParseFile reads and validates the artifact at path.
func ParseFile(path string) (*Graph, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse validates a YAML artifact.
func Parse(b []byte) (*Graph, error) {
	var a artifact
	if err := yaml.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(a.Inputs) == 0 || len(a.Outputs) == 0 {
		return nil, fmt.Errorf("artifact must declare at least one input and one output")
	}
	g := &Graph{ops: make(map[string]op, len(a.Outputs))}
	byName := make(map[string]engine.Port, len(a.Inputs))
	for i, in := range a.Inputs {
		p, err := toPort(in, i)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if _, dup := byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate input %q", p.Name)
		}
		byName[p.Name] = p
		g.inputs = append(g.inputs, p)
	}
	for i, out := range a.Outputs {
		p, err := toPort(out.portSpec, i)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if _, dup := g.ops[p.Name]; dup {
			return nil, fmt.Errorf("duplicate output %q", p.Name)
		}
		o, err := validateOp(out, p, byName)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", p.Name, err)
		}
		g.ops[p.Name] = o
		g.outputs = append(g.outputs, p)
	}
	return g, nil
}

func toPort(s portSpec, idx int) (engine.Port, error) {
	if s.Name == "" {
		return engine.Port{}, fmt.Errorf("missing name")
	}
	dt, err := engine.ParseDataType(s.DataType)
	if err != nil {
		return engine.Port{}, err
	}
	if len(s.Dims) == 0 {
		return engine.Port{}, fmt.Errorf("missing dims")
	}
	return engine.Port{Name: s.Name, Index: idx, DataType: dt, Shape: engine.Shape(s.Dims)}, nil
}

func validateOp(s outputSpec, out engine.Port, inputs map[string]engine.Port) (op, error) {
	o := op{kind: s.Op, from: s.From, factor: s.Factor, weights: s.Weights}
	want := 1
	if s.Op == OpAdd {
		want = 2
	}
	if len(s.From) != want {
		return op{}, fmt.Errorf("op %q takes %d input(s), got %d", s.Op, want, len(s.From))
	}
	srcs := make([]engine.Port, 0, len(s.From))
	for _, name := range s.From {
		p, ok := inputs[name]
		if !ok {
			return op{}, fmt.Errorf("unknown input %q", name)
		}
		srcs = append(srcs, p)
	}
	src := srcs[0]
	switch s.Op {
	case OpIdentity:
		if src.DataType != out.DataType {
			return op{}, fmt.Errorf("identity changes datatype %s -> %s", src.DataType, out.DataType)
		}
	case OpScale, OpAdd:
		for _, p := range srcs {
			if p.DataType != engine.TypeFP32 {
				return op{}, fmt.Errorf("op %q supports FP32 only", s.Op)
			}
		}
		if out.DataType != engine.TypeFP32 {
			return op{}, fmt.Errorf("op %q produces FP32", s.Op)
		}
		if s.Op == OpAdd && !srcs[0].Shape.Equal(srcs[1].Shape) {
			return op{}, fmt.Errorf("add operands differ in shape")
		}
	case OpMatMul:
		if src.DataType != engine.TypeFP32 || out.DataType != engine.TypeFP32 {
			return op{}, fmt.Errorf("matmul supports FP32 only")
		}
		k := src.Shape[len(src.Shape)-1]
		n := out.Shape[len(out.Shape)-1]
		if k <= 0 || n <= 0 {
			return op{}, fmt.Errorf("matmul needs static inner dims")
		}
		if int64(len(s.Weights)) != k*n {
			return op{}, fmt.Errorf("matmul weights: want %d values, got %d", k*n, len(s.Weights))
		}
		o.k, o.n = int(k), int(n)
	default:
		return op{}, fmt.Errorf("unknown op %q", s.Op)
	}
	return o, nil
}

func (g *Graph) Inputs() []engine.Port  { return clonePorts(g.inputs) }
func (g *Graph) Outputs() []engine.Port { return clonePorts(g.outputs) }

// Reshape overrides the declared shape of an input. The rank must not change.
func (g *Graph) Reshape(name string, shape engine.Shape) error {
	for i := range g.inputs {
		if g.inputs[i].Name != name {
			continue
		}
		if len(g.inputs[i].Shape) != len(shape) {
			return fmt.Errorf("reshape %q: rank %d -> %d", name, len(g.inputs[i].Shape), len(shape))
		}
		g.inputs[i].Shape = shape.Clone()
		return nil
	}
	return fmt.Errorf("reshape: unknown input %q", name)
}

func clonePorts(ps []engine.Port) []engine.Port {
	out := make([]engine.Port, len(ps))
	for i, p := range ps {
		p.Shape = p.Shape.Clone()
		out[i] = p
	}
	return out
}
