// Package engine defines the boundary between the serving core and a native
// inference engine. An engine parses a model artifact into a raw graph,
// compiles it for a device, and hands out execution requests whose tensor
// storage it owns.
//
// Every engine is reached through an explicitly owned Core; there is no
// process-wide engine state. Callers that cannot trust an implementation to
// return errors instead of panicking wrap calls with Guard.
package engine

import (
	"fmt"
	"runtime/debug"
)

// DeviceCPU is the only compute-unit kind the serving core targets.
const DeviceCPU = "CPU"

// Core is the root context of an engine. One Core is owned by one model.
type Core interface {
	// ReadModel parses the artifact at path into a raw graph.
	ReadModel(path string) (Graph, error)
	// AddExtension loads a custom-operation library.
	AddExtension(path string) error
	// SetProperty applies device-scoped options before compilation.
	SetProperty(device string, options map[string]string) error
	// Compile produces the device-specific executable form of g.
	Compile(g Graph, device string) (CompiledGraph, error)
	// DefaultArtifact is the artifact filename used when a model does not name one.
	DefaultArtifact() string
	// Close releases engine resources.
	Close() error
}

// Describer is implemented by cores that can report how they see a device:
// its hardware features and the properties applied to it so far.
type Describer interface {
	Describe(device string) map[string]string
}

// Graph is a parsed, not yet compiled model.
type Graph interface {
	Inputs() []Port
	Outputs() []Port
}

// Reshaper is implemented by graphs whose input shapes can be overridden
// before compilation.
type Reshaper interface {
	Reshape(name string, shape Shape) error
}

// CompiledGraph is a graph compiled for one device.
type CompiledGraph interface {
	Inputs() []Port
	Outputs() []Port
	// NewRequest creates an execution request with its own bound tensors.
	NewRequest() (Request, error)
	Close() error
}

// Request is an execution-request handle. It is not safe for concurrent use.
type Request interface {
	// Tensor returns the bound storage of an input port.
	Tensor(p Port) (Tensor, error)
	// Output returns the storage of a named output after Infer.
	Output(name string) (Tensor, error)
	// SetBatch resizes the leading dimension of dynamic inputs.
	SetBatch(n int) error
	// Infer runs the graph synchronously.
	Infer() error
	Close() error
}

// Tensor is engine-owned storage. Bytes aliases the storage; callers borrow it.
type Tensor interface {
	DataType() DataType
	Shape() Shape
	Bytes() []byte
}

// PanicError is returned by Guard when the wrapped call panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("engine panic: %v", e.Value) }

// Guard runs fn and converts a panic into a *PanicError.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
