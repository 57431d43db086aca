package manager

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tensord/internal/backend"
	"tensord/pkg/types"
)

// Infer runs one request against model. The model is loaded on first use.
// The request is validated against the model configuration before it is
// queued, joins a batch, and its outputs are returned once the batch ran.
func (m *Manager) Infer(ctx context.Context, model string, req types.InferRequest) (types.InferResponse, error) {
	if model == "" {
		return types.InferResponse{}, modelNotFoundError{id: "(unspecified)"}
	}
	if err := m.Load(ctx, model); err != nil {
		return types.InferResponse{}, err
	}
	m.mu.RLock()
	lm := m.models[model]
	var state State
	if lm != nil {
		state = lm.state
	}
	m.mu.RUnlock()
	if lm == nil {
		return types.InferResponse{}, ErrModelNotFound(model)
	}
	if state != StateReady {
		return types.InferResponse{}, tooBusyError{modelID: model}
	}

	hr, err := buildRequest(ctx, lm.cfg, req)
	if err != nil {
		return types.InferResponse{}, err
	}
	if err := lm.batcher.admit(ctx, hr, m.maxWait); err != nil {
		return types.InferResponse{}, err
	}

	var res hostResult
	select {
	case res = <-hr.result:
	case <-ctx.Done():
		// The request still runs with its batch; its result is dropped.
		return types.InferResponse{}, ctx.Err()
	}
	m.mu.Lock()
	lm.lastUsed = time.Now()
	m.mu.Unlock()
	if res.err != nil {
		return types.InferResponse{}, res.err
	}

	resp := types.InferResponse{
		ModelName:    model,
		ModelVersion: strconv.FormatInt(lm.version, 10),
		ID:           hr.id,
		Outputs:      make([]types.Tensor, 0, len(res.outputs)),
	}
	for _, o := range res.outputs {
		t, err := encodeTensor(o, req.Binary)
		if err != nil {
			return types.InferResponse{}, err
		}
		resp.Outputs = append(resp.Outputs, t)
	}
	return resp, nil
}

// buildRequest checks req against cfg and orders its inputs as configured,
// so the first input carries the batch rows the core aggregates on.
func buildRequest(ctx context.Context, cfg backend.ModelConfig, req types.InferRequest) (*hostRequest, error) {
	given := make(map[string]types.Tensor, len(req.Inputs))
	for _, t := range req.Inputs {
		if _, dup := given[t.Name]; dup {
			return nil, invalidInputError{msg: fmt.Sprintf("input %q given twice", t.Name)}
		}
		given[t.Name] = t
	}
	known := make(map[string]bool, len(cfg.Input))
	for _, tc := range cfg.Input {
		known[tc.Name] = true
	}
	for name := range given {
		if !known[name] {
			return nil, invalidInputError{msg: fmt.Sprintf("unknown input %q for model %s", name, cfg.Name)}
		}
	}

	inputs := make([]*backend.Input, 0, len(cfg.Input))
	rows := 1
	for i, tc := range cfg.Input {
		t, ok := given[tc.Name]
		if !ok {
			return nil, invalidInputError{msg: fmt.Sprintf("missing input %q for model %s", tc.Name, cfg.Name)}
		}
		in, err := decodeTensor(t)
		if err != nil {
			return nil, err
		}
		if in.DataType != tc.Type() {
			return nil, invalidInputError{msg: fmt.Sprintf("input %q is %s, model expects %s", tc.Name, in.DataType, tc.Type())}
		}
		if want := cfg.FullShape(tc, -1); !want.Compatible(in.Shape) {
			return nil, invalidInputError{msg: fmt.Sprintf("input %q has shape %v, model expects %v", tc.Name, in.Shape, want)}
		}
		if cfg.MaxBatchSize > 0 {
			n := int(in.Shape[0])
			if n < 1 || n > cfg.MaxBatchSize {
				return nil, invalidInputError{msg: fmt.Sprintf("input %q has batch %d, model accepts 1..%d", tc.Name, n, cfg.MaxBatchSize)}
			}
			if i == 0 {
				rows = n
			} else if n != rows {
				return nil, invalidInputError{msg: fmt.Sprintf("input %q has batch %d, input %q has %d", tc.Name, n, cfg.Input[0].Name, rows)}
			}
		}
		inputs = append(inputs, in)
	}

	var outputs map[string]bool
	if len(req.Outputs) > 0 {
		declared := make(map[string]bool, len(cfg.Output))
		for _, tc := range cfg.Output {
			declared[tc.Name] = true
		}
		outputs = make(map[string]bool, len(req.Outputs))
		for _, o := range req.Outputs {
			if !declared[o.Name] {
				return nil, invalidInputError{msg: fmt.Sprintf("unknown output %q for model %s", o.Name, cfg.Name)}
			}
			outputs[o.Name] = true
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return newHostRequest(ctx, id, inputs, outputs, rows), nil
}
