package backend

import (
	"tensord/internal/engine"
)

// tensorView is a typed, shaped view over a contiguous host buffer.
type tensorView struct {
	dt    engine.DataType
	shape engine.Shape
	data  []byte
}

// gatherInput concatenates every request's contribution to input tc into one
// host buffer shaped for the whole batch.
func (i *Instance) gatherInput(tc TensorConfig, requests []Request, plan BatchPlan) (tensorView, error) {
	dt := tc.Type()
	batching := i.cfg.MaxBatchSize > 0
	var (
		shape engine.Shape
		data  []byte
	)
	for r, req := range requests {
		in, err := req.Input(tc.Name)
		if err != nil {
			return tensorView{}, wrapErr(KindInternal, err, "request %s: input %q", req.ID(), tc.Name)
		}
		if in.DataType != dt {
			return tensorView{}, Errorf(KindShapeMismatch, "request %s: input %q is %s, model expects %s", req.ID(), tc.Name, in.DataType, dt)
		}
		if batching {
			if len(in.Shape) == 0 || in.Shape[0] != int64(plan.Entries[r].Size) {
				return tensorView{}, Errorf(KindSizeMismatch, "request %s: input %q has shape %v, expected batch %d", req.ID(), tc.Name, in.Shape, plan.Entries[r].Size)
			}
		}
		if r == 0 {
			shape = in.Shape.Clone()
			if batching {
				shape[0] = int64(plan.Total)
			}
			if want := i.cfg.FullShape(tc, -1); !want.Compatible(shape) {
				return tensorView{}, Errorf(KindShapeMismatch, "request %s: input %q has shape %v, model expects %v", req.ID(), tc.Name, in.Shape, want)
			}
			if n := engine.ByteSize(dt, shape); n >= 0 {
				data = make([]byte, 0, n)
			}
		} else if !sameRow(in.Shape, shape, batching) {
			return tensorView{}, Errorf(KindShapeMismatch, "request %s: input %q has shape %v, other requests carry %v", req.ID(), tc.Name, in.Shape, shape)
		}
		for _, b := range in.Buffers {
			if !b.Memory.HostAccessible() {
				return tensorView{}, Errorf(KindUnsupportedMemoryKind, "request %s: input %q is in %s memory (device %d)", req.ID(), tc.Name, b.Memory, b.DeviceID)
			}
			data = append(data, b.Data...)
		}
	}
	want := engine.ByteSize(dt, shape)
	if want < 0 || int64(len(data)) != want {
		return tensorView{}, Errorf(KindSizeMismatch, "input %q: gathered %d bytes, expected %d for %s%v", tc.Name, len(data), want, dt, shape)
	}
	return tensorView{dt: dt, shape: shape, data: data}, nil
}

// setInputs copies every configured input into the bound engine storage.
// Storage whose datatype, shape or size differs from the gathered view is a
// ShapeMismatch and nothing is copied for that input.
func (i *Instance) setInputs(requests []Request, plan BatchPlan) error {
	for _, tc := range i.cfg.Input {
		view, err := i.gatherInput(tc, requests, plan)
		if err != nil {
			return err
		}
		if tc.Reshape != nil {
			// Same bytes, graph-side shape.
			view.shape = i.cfg.GraphShape(tc, int64(plan.Total))
		}
		port, ok := i.nodes[tc.Name]
		if !ok {
			return Errorf(KindInternal, "input %q is not bound", tc.Name)
		}
		var dst engine.Tensor
		err = engine.Guard(func() error {
			var err error
			dst, err = i.req.Tensor(port)
			return err
		})
		if err != nil {
			return wrapErr(KindInternal, err, "input %q: bound storage", tc.Name)
		}
		err = engine.Guard(func() error {
			if dst.DataType() != view.dt || !dst.Shape().Equal(view.shape) {
				return Errorf(KindShapeMismatch, "input %q: storage is %s%v, view is %s%v", tc.Name, dst.DataType(), dst.Shape(), view.dt, view.shape)
			}
			buf := dst.Bytes()
			if len(buf) != len(view.data) {
				return Errorf(KindShapeMismatch, "input %q: storage holds %d bytes, view has %d", tc.Name, len(buf), len(view.data))
			}
			copy(buf, view.data)
			return nil
		})
		if err != nil {
			if KindOf(err) == "" {
				return wrapErr(KindInternal, err, "input %q: copy", tc.Name)
			}
			return err
		}
	}
	return nil
}

// sameRow compares shapes ignoring the batch dimension when batching.
func sameRow(a, b engine.Shape, batching bool) bool {
	if !batching {
		return a.Equal(b)
	}
	return len(a) == len(b) && len(a) > 0 && a[1:].Equal(b[1:])
}
