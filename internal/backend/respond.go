package backend

import (
	"tensord/internal/engine"
)

// readOutputs splits every configured output across the responses. A failure
// to allocate one response's output is recorded in reqErrs and only affects
// that request; everything else fails the call.
func (i *Instance) readOutputs(requests []Request, responses []Response, plan BatchPlan, reqErrs []error) error {
	batching := i.cfg.MaxBatchSize > 0
	for _, tc := range i.cfg.Output {
		var (
			dt    engine.DataType
			shape engine.Shape
			data  []byte
		)
		err := engine.Guard(func() error {
			out, err := i.req.Output(tc.Name)
			if err != nil {
				return err
			}
			dt, shape, data = out.DataType(), out.Shape(), out.Bytes()
			return nil
		})
		if err != nil {
			return wrapErr(KindInferenceExecution, err, "output %q", tc.Name)
		}
		if dt != tc.Type() {
			return Errorf(KindShapeMismatch, "output %q is %s, model declares %s", tc.Name, dt, tc.Type())
		}
		if batching {
			if expect := int64(i.cfg.MaxBatchSize - plan.Pad); len(shape) == 0 || shape[0] != expect {
				return Errorf(KindOutputBatchSizeMismatch, "output %q has shape %v, expected batch size %d", tc.Name, shape, expect)
			}
		}
		if n := engine.ByteSize(dt, shape); n < 0 || int64(len(data)) != n {
			return Errorf(KindSizeMismatch, "output %q holds %d bytes for %s%v", tc.Name, len(data), dt, shape)
		}
		if !batching {
			for r, req := range requests {
				if !wantsOutput(req, responses[r], plan.Entries[r], reqErrs[r], tc.Name) {
					continue
				}
				reqErrs[r] = copyOutput(responses[r], tc.Name, dt, i.wireShape(tc, shape, 0), data)
			}
			continue
		}
		row := len(data) / int(shape[0])
		for r, req := range requests {
			e := plan.Entries[r]
			if !wantsOutput(req, responses[r], e, reqErrs[r], tc.Name) {
				continue
			}
			lo, hi := e.Offset*row, (e.Offset+e.Size)*row
			reqErrs[r] = copyOutput(responses[r], tc.Name, dt, i.wireShape(tc, shape, int64(e.Size)), data[lo:hi])
		}
	}
	return nil
}

// wireShape is the shape a request receives for output tc: the engine's
// shape with the request's batch share, or the configured dims when the
// output is reshaped.
func (i *Instance) wireShape(tc TensorConfig, shape engine.Shape, batch int64) engine.Shape {
	if tc.Reshape != nil {
		return i.cfg.FullShape(tc, batch)
	}
	if i.cfg.MaxBatchSize > 0 {
		return shape.WithBatch(batch)
	}
	return shape
}

func wantsOutput(req Request, resp Response, e BatchEntry, reqErr error, name string) bool {
	return e.Valid && resp != nil && reqErr == nil && req.OutputRequested(name)
}

func copyOutput(resp Response, name string, dt engine.DataType, shape engine.Shape, src []byte) error {
	buf, err := resp.NewOutput(name, dt, shape)
	if err != nil {
		return wrapErr(KindInternal, err, "allocate output %q", name)
	}
	if len(buf) != len(src) {
		return Errorf(KindSizeMismatch, "output %q: response buffer holds %d bytes, need %d", name, len(buf), len(src))
	}
	copy(buf, src)
	return nil
}
