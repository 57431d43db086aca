package types

// Tensor is a named tensor on the wire. Exactly one of Data and RawData is
// set: Data carries the elements as JSON numbers in row-major order, RawData
// the little-endian bytes (base64 in JSON).
type Tensor struct {
	Name     string    `json:"name" example:"X"`
	Datatype string    `json:"datatype" example:"FP32"`
	Shape    []int64   `json:"shape" example:"1,10"`
	Data     []float64 `json:"data,omitempty"`
	RawData  []byte    `json:"raw_data,omitempty" swaggertype:"string" format:"base64"`
}

// TensorMetadata describes a model input or output.
type TensorMetadata struct {
	Name     string  `json:"name" example:"X"`
	Datatype string  `json:"datatype" example:"FP32"`
	Shape    []int64 `json:"shape" example:"-1,10"`
}

// RequestedOutput selects one output of an inference request.
type RequestedOutput struct {
	Name string `json:"name" example:"Y"`
}
