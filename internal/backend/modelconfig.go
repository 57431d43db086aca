package backend

import (
	"strings"

	"tensord/internal/engine"
)

// KindCPU is the only instance-group kind this backend runs.
const KindCPU = "KIND_CPU"

// TensorConfig declares one model input or output. Dims exclude the batch
// dimension when the model batches and describe the tensor as clients send
// and receive it. Reshape, when set, is the shape the graph works with.
type TensorConfig struct {
	Name     string         `json:"name" yaml:"name" toml:"name"`
	DataType string         `json:"data_type" yaml:"data_type" toml:"data_type"`
	Dims     []int64        `json:"dims" yaml:"dims" toml:"dims"`
	Reshape  *TensorReshape `json:"reshape,omitempty" yaml:"reshape,omitempty" toml:"reshape,omitempty"`
}

// TensorReshape is the graph-side shape of a tensor, without the batch dim.
// An empty shape is a scalar.
type TensorReshape struct {
	Shape []int64 `json:"shape" yaml:"shape" toml:"shape"`
}

// GraphDims returns the reshape shape if one is configured, else Dims.
func (t TensorConfig) GraphDims() []int64 {
	if t.Reshape != nil {
		return t.Reshape.Shape
	}
	return t.Dims
}

// Type returns the parsed datatype, or TypeInvalid.
func (t TensorConfig) Type() engine.DataType {
	dt, err := engine.ParseDataType(t.DataType)
	if err != nil {
		return engine.TypeInvalid
	}
	return dt
}

type InstanceGroup struct {
	Count int    `json:"count" yaml:"count" toml:"count"`
	Kind  string `json:"kind" yaml:"kind" toml:"kind"`
}

type DynamicBatching struct {
	MaxQueueDelayMicroseconds int64 `json:"max_queue_delay_microseconds" yaml:"max_queue_delay_microseconds" toml:"max_queue_delay_microseconds"`
}

// ModelConfig is the declared configuration of one model.
type ModelConfig struct {
	Name                 string            `json:"name" yaml:"name" toml:"name"`
	Version              int64             `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Platform             string            `json:"platform" yaml:"platform" toml:"platform"`
	MaxBatchSize         int               `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	DefaultModelFilename string            `json:"default_model_filename" yaml:"default_model_filename" toml:"default_model_filename"`
	Input                []TensorConfig    `json:"input" yaml:"input" toml:"input"`
	Output               []TensorConfig    `json:"output" yaml:"output" toml:"output"`
	Parameters           map[string]string `json:"parameters" yaml:"parameters" toml:"parameters"`
	InstanceGroup        []InstanceGroup   `json:"instance_group" yaml:"instance_group" toml:"instance_group"`
	DynamicBatching      *DynamicBatching  `json:"dynamic_batching,omitempty" yaml:"dynamic_batching,omitempty" toml:"dynamic_batching,omitempty"`
}

// Validate checks the declared configuration for internal consistency.
func (c *ModelConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return Errorf(KindInvalidConfig, "model name is required")
	}
	if c.Version < 0 {
		return Errorf(KindInvalidConfig, "%s: version must be > 0 when set, got %d", c.Name, c.Version)
	}
	if c.MaxBatchSize < 0 {
		return Errorf(KindInvalidConfig, "%s: max_batch_size must be >= 0, got %d", c.Name, c.MaxBatchSize)
	}
	if len(c.Input) == 0 {
		return Errorf(KindInvalidConfig, "%s: at least one input is required", c.Name)
	}
	if len(c.Output) == 0 {
		return Errorf(KindInvalidConfig, "%s: at least one output is required", c.Name)
	}
	seen := map[string]bool{}
	check := func(role string, ts []TensorConfig) error {
		for _, t := range ts {
			if t.Name == "" {
				return Errorf(KindInvalidConfig, "%s: %s without a name", c.Name, role)
			}
			if seen[t.Name] {
				return Errorf(KindInvalidConfig, "%s: duplicate tensor name %q", c.Name, t.Name)
			}
			seen[t.Name] = true
			if t.Type() == engine.TypeInvalid {
				return Errorf(KindInvalidConfig, "%s: %s %q has unsupported data_type %q", c.Name, role, t.Name, t.DataType)
			}
			for _, d := range t.Dims {
				if d < -1 || d == 0 {
					return Errorf(KindInvalidConfig, "%s: %s %q has invalid dim %d", c.Name, role, t.Name, d)
				}
			}
			if t.Reshape != nil {
				if err := c.checkReshape(role, t); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := check("input", c.Input); err != nil {
		return err
	}
	if err := check("output", c.Output); err != nil {
		return err
	}
	for _, g := range c.InstanceGroup {
		if g.Kind != "" && g.Kind != KindCPU {
			return Errorf(KindInvalidConfig, "%s: instance kind %s is not supported, only %s", c.Name, g.Kind, KindCPU)
		}
		if g.Count < 0 {
			return Errorf(KindInvalidConfig, "%s: instance count must be >= 0", c.Name)
		}
	}
	return nil
}

// checkReshape requires static dims on both sides with equal element counts,
// so a batch can be viewed either way without moving bytes.
func (c *ModelConfig) checkReshape(role string, t TensorConfig) error {
	for _, d := range t.Reshape.Shape {
		if d <= 0 {
			return Errorf(KindInvalidConfig, "%s: %s %q reshape has invalid dim %d", c.Name, role, t.Name, d)
		}
	}
	wire, graph := engine.Shape(t.Dims).NumElements(), engine.Shape(t.Reshape.Shape).NumElements()
	if wire < 0 {
		return Errorf(KindInvalidConfig, "%s: %s %q has dynamic dims %v, reshape needs static dims", c.Name, role, t.Name, t.Dims)
	}
	if wire != graph {
		return Errorf(KindInvalidConfig, "%s: %s %q reshape %v holds %d elements, dims %v hold %d", c.Name, role, t.Name, t.Reshape.Shape, graph, t.Dims, wire)
	}
	return nil
}

// InstanceCount is the total number of instances requested, at least one.
func (c *ModelConfig) InstanceCount() int {
	n := 0
	for _, g := range c.InstanceGroup {
		n += g.Count
	}
	if n <= 0 {
		return 1
	}
	return n
}

// FullShape is the graph-level shape of t: a leading batch dim of batch is
// prepended when the model batches.
func (c *ModelConfig) FullShape(t TensorConfig, batch int64) engine.Shape {
	dims := engine.Shape(t.Dims).Clone()
	if c.MaxBatchSize > 0 {
		return append(engine.Shape{batch}, dims...)
	}
	return dims
}

// GraphShape is FullShape over the graph-side dims of t.
func (c *ModelConfig) GraphShape(t TensorConfig, batch int64) engine.Shape {
	dims := engine.Shape(t.GraphDims()).Clone()
	if c.MaxBatchSize > 0 {
		return append(engine.Shape{batch}, dims...)
	}
	return dims
}
