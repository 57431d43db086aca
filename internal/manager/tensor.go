package manager

import (
	"encoding/binary"
	"fmt"
	"math"

	"tensord/internal/backend"
	"tensord/internal/engine"
	"tensord/pkg/types"
)

// decodeTensor turns a wire tensor into a host input held in CPU memory.
func decodeTensor(t types.Tensor) (*backend.Input, error) {
	dt, err := engine.ParseDataType(t.Datatype)
	if err != nil {
		return nil, invalidInputError{msg: fmt.Sprintf("input %q: %v", t.Name, err)}
	}
	shape := engine.Shape(t.Shape).Clone()
	for _, d := range shape {
		if d < 0 {
			return nil, invalidInputError{msg: fmt.Sprintf("input %q: shape %v has a negative dimension", t.Name, shape)}
		}
	}
	n := shape.NumElements()
	if n < 0 || engine.ByteSize(dt, shape) < 0 {
		return nil, invalidInputError{msg: fmt.Sprintf("input %q: shape %v is too large", t.Name, shape)}
	}
	var data []byte
	switch {
	case t.RawData != nil && t.Data != nil:
		return nil, invalidInputError{msg: fmt.Sprintf("input %q: set either data or raw_data, not both", t.Name)}
	case t.RawData != nil:
		if want := engine.ByteSize(dt, shape); int64(len(t.RawData)) != want {
			return nil, invalidInputError{msg: fmt.Sprintf("input %q: raw_data has %d bytes, %s%v needs %d", t.Name, len(t.RawData), dt, shape, want)}
		}
		data = t.RawData
	default:
		if int64(len(t.Data)) != n {
			return nil, invalidInputError{msg: fmt.Sprintf("input %q: data has %d elements, shape %v needs %d", t.Name, len(t.Data), shape, n)}
		}
		data, err = encodeElements(dt, t.Data)
		if err != nil {
			return nil, invalidInputError{msg: fmt.Sprintf("input %q: %v", t.Name, err)}
		}
	}
	return &backend.Input{
		Name:     t.Name,
		DataType: dt,
		Shape:    shape,
		Buffers:  []backend.Buffer{{Data: data, Memory: backend.MemoryCPU}},
	}, nil
}

// encodeTensor turns a delivered output into a wire tensor. FP16 always
// travels as raw_data.
func encodeTensor(o hostOutput, raw bool) (types.Tensor, error) {
	t := types.Tensor{Name: o.name, Datatype: string(o.dt), Shape: o.shape.Clone()}
	if raw || o.dt == engine.TypeFP16 {
		t.RawData = o.data
		return t, nil
	}
	vals, err := decodeElements(o.dt, o.data)
	if err != nil {
		return types.Tensor{}, fmt.Errorf("output %q: %w", o.name, err)
	}
	t.Data = vals
	return t, nil
}

func encodeElements(dt engine.DataType, vals []float64) ([]byte, error) {
	size := dt.Size()
	out := make([]byte, len(vals)*size)
	le := binary.LittleEndian
	for i, v := range vals {
		b := out[i*size:]
		switch dt {
		case engine.TypeBool:
			if v != 0 {
				b[0] = 1
			}
		case engine.TypeUint8:
			b[0] = uint8(v)
		case engine.TypeInt8:
			b[0] = byte(int8(v))
		case engine.TypeUint16:
			le.PutUint16(b, uint16(v))
		case engine.TypeInt16:
			le.PutUint16(b, uint16(int16(v)))
		case engine.TypeUint32:
			le.PutUint32(b, uint32(v))
		case engine.TypeInt32:
			le.PutUint32(b, uint32(int32(v)))
		case engine.TypeUint64:
			le.PutUint64(b, uint64(v))
		case engine.TypeInt64:
			le.PutUint64(b, uint64(int64(v)))
		case engine.TypeBF16:
			le.PutUint16(b, uint16(math.Float32bits(float32(v))>>16))
		case engine.TypeFP32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case engine.TypeFP64:
			le.PutUint64(b, math.Float64bits(v))
		default:
			return nil, fmt.Errorf("%s must be sent as raw_data", dt)
		}
	}
	return out, nil
}

func decodeElements(dt engine.DataType, data []byte) ([]float64, error) {
	size := dt.Size()
	if size == 0 || len(data)%size != 0 {
		return nil, fmt.Errorf("%d bytes do not hold whole %s elements", len(data), dt)
	}
	out := make([]float64, len(data)/size)
	le := binary.LittleEndian
	for i := range out {
		b := data[i*size:]
		switch dt {
		case engine.TypeBool, engine.TypeUint8:
			out[i] = float64(b[0])
		case engine.TypeInt8:
			out[i] = float64(int8(b[0]))
		case engine.TypeUint16:
			out[i] = float64(le.Uint16(b))
		case engine.TypeInt16:
			out[i] = float64(int16(le.Uint16(b)))
		case engine.TypeUint32:
			out[i] = float64(le.Uint32(b))
		case engine.TypeInt32:
			out[i] = float64(int32(le.Uint32(b)))
		case engine.TypeUint64:
			out[i] = float64(le.Uint64(b))
		case engine.TypeInt64:
			out[i] = float64(int64(le.Uint64(b)))
		case engine.TypeBF16:
			out[i] = float64(math.Float32frombits(uint32(le.Uint16(b)) << 16))
		case engine.TypeFP32:
			out[i] = float64(math.Float32frombits(le.Uint32(b)))
		case engine.TypeFP64:
			out[i] = math.Float64frombits(le.Uint64(b))
		default:
			return nil, fmt.Errorf("%s has no JSON encoding", dt)
		}
	}
	return out, nil
}
