package types

// ModelSummary is one entry of the repository index.
type ModelSummary struct {
	// example: proj
	Name string `json:"name" example:"proj"`
	// Version that is (or would be) served.
	// example: 3
	Version int64 `json:"version" example:"3"`
	// unavailable when not loaded, otherwise the load state.
	// example: ready
	State string `json:"state" example:"ready"`
	// Reason for the state, e.g. a load error.
	Reason string `json:"reason,omitempty"`
}

// ModelMetadata is returned by GET /v2/models/{name}.
type ModelMetadata struct {
	// example: proj
	Name string `json:"name" example:"proj"`
	// Available versions, ascending.
	Versions []int64 `json:"versions"`
	// example: refgraph
	Platform string `json:"platform" example:"refgraph"`
	// Largest batch the model accepts; 0 disables batching.
	// example: 4
	MaxBatchSize int              `json:"max_batch_size" example:"4"`
	Inputs       []TensorMetadata `json:"inputs"`
	Outputs      []TensorMetadata `json:"outputs"`
	// example: ready
	State string `json:"state" example:"ready"`
}
