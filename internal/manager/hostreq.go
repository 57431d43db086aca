package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tensord/internal/backend"
	"tensord/internal/engine"
)

// hostOutput is one output delivered by the core.
type hostOutput struct {
	name  string
	dt    engine.DataType
	shape engine.Shape
	data  []byte
}

type hostResult struct {
	outputs []hostOutput
	err     error
}

// hostRequest is the backend.Request the manager hands to an instance. Its
// result is delivered exactly once, by Send or, failing that, by Release.
type hostRequest struct {
	ctx      context.Context
	id       string
	inputs   []*backend.Input
	byName   map[string]*backend.Input
	outputs  map[string]bool
	rows     int
	enqueued time.Time
	result   chan hostResult
	once     sync.Once
	onDone   func()
}

func newHostRequest(ctx context.Context, id string, inputs []*backend.Input, outputs map[string]bool, rows int) *hostRequest {
	r := &hostRequest{
		ctx:     ctx,
		id:      id,
		inputs:  inputs,
		byName:  make(map[string]*backend.Input, len(inputs)),
		outputs: outputs,
		rows:    rows,
		result:  make(chan hostResult, 1),
	}
	for _, in := range inputs {
		r.byName[in.Name] = in
	}
	return r
}

func (r *hostRequest) ID() string       { return r.id }
func (r *hostRequest) InputCount() int { return len(r.inputs) }

func (r *hostRequest) InputByIndex(i int) (*backend.Input, error) {
	if i < 0 || i >= len(r.inputs) {
		return nil, fmt.Errorf("request %s: no input at index %d", r.id, i)
	}
	return r.inputs[i], nil
}

func (r *hostRequest) Input(name string) (*backend.Input, error) {
	in, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("request %s: no input %q", r.id, name)
	}
	return in, nil
}

// OutputRequested is true for every output when the request named none.
func (r *hostRequest) OutputRequested(name string) bool {
	return r.outputs == nil || r.outputs[name]
}

func (r *hostRequest) NewResponse() (backend.Response, error) {
	return &hostResponse{req: r}, nil
}

func (r *hostRequest) Release() { r.finish(hostResult{err: errNoResponse}) }

// abandoned reports whether the caller stopped waiting.
func (r *hostRequest) abandoned() bool { return r.ctx != nil && r.ctx.Err() != nil }

func (r *hostRequest) finish(res hostResult) {
	r.once.Do(func() {
		r.result <- res
		if r.onDone != nil {
			r.onDone()
		}
	})
}

type hostResponse struct {
	req     *hostRequest
	outputs []hostOutput
}

func (p *hostResponse) NewOutput(name string, dt engine.DataType, shape engine.Shape) ([]byte, error) {
	n := engine.ByteSize(dt, shape)
	if n < 0 {
		return nil, fmt.Errorf("output %q: cannot allocate %s%v", name, dt, shape)
	}
	buf := make([]byte, n)
	p.outputs = append(p.outputs, hostOutput{name: name, dt: dt, shape: shape.Clone(), data: buf})
	return buf, nil
}

func (p *hostResponse) Send(err error) {
	if err != nil {
		p.req.finish(hostResult{err: err})
		return
	}
	p.req.finish(hostResult{outputs: p.outputs})
}
