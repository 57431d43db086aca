package types

// InferRequest is the body of POST /v2/models/{name}/infer.
type InferRequest struct {
	// Optional client-supplied request id, echoed in the response.
	// example: req-1
	ID string `json:"id,omitempty" example:"req-1"`
	// Input tensors. With max_batch_size > 0 the leading dim is the number of
	// rows this request contributes to a batch.
	Inputs []Tensor `json:"inputs"`
	// Outputs to return. Empty means all outputs.
	Outputs []RequestedOutput `json:"outputs,omitempty"`
	// Return outputs as raw_data instead of data.
	// example: false
	Binary bool `json:"binary_data,omitempty" example:"false"`
}

// InferResponse is returned by a successful inference.
type InferResponse struct {
	// example: proj
	ModelName string `json:"model_name" example:"proj"`
	// example: 1
	ModelVersion string `json:"model_version" example:"1"`
	// Client id if one was given, otherwise a generated one.
	ID      string   `json:"id"`
	Outputs []Tensor `json:"outputs"`
}

// ModelsResponse wraps the list returned by GET /v2/models.
type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Backend error kind when the failure came from the execution core.
	// example: ShapeMismatch
	Kind string `json:"kind,omitempty" example:"ShapeMismatch"`
}

// InstanceStatus summarizes one execution instance for /status.
type InstanceStatus struct {
	// example: proj_0
	Name string `json:"name" example:"proj_0"`
	// example: CPU
	Device string `json:"device" example:"CPU"`
	// Whether an execution is currently running on this instance.
	Busy bool `json:"busy"`
	// Executions completed by this instance.
	// example: 42
	Executions uint64 `json:"executions" example:"42"`
	// Pad size of the most recent execution.
	// example: 0
	LastPad int `json:"last_pad" example:"0"`
}

// ExecutionRecord is one recorded batch execution.
type ExecutionRecord struct {
	Instance  string `json:"instance"`
	BatchSize int    `json:"batch_size"`
	// Start of the execution (unix milliseconds).
	StartedUnixMS int64 `json:"started_unix_ms"`
	ComputeUS     int64 `json:"compute_us"`
	ExecUS        int64 `json:"exec_us"`
}

// ModelStatus is the runtime status of a loaded (or failed) model.
type ModelStatus struct {
	// example: proj
	Name string `json:"name" example:"proj"`
	// example: 1
	Version int64 `json:"version" example:"1"`
	// loading, ready, draining or error.
	// example: ready
	State string `json:"state" example:"ready"`
	// Error of a failed load.
	Error string `json:"error,omitempty"`
	// Requests waiting to be batched.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Maximum queued requests before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// example: 4
	MaxBatchSize int              `json:"max_batch_size" example:"4"`
	Instances    []InstanceStatus `json:"instances"`
	// Last time the model served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
	// Most recent executions, newest first, when a statistics store is configured.
	Recent []ExecutionRecord `json:"recent,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Models []ModelStatus `json:"models"`
	// Engine backing new model loads.
	// example: refgraph
	Engine string `json:"engine" example:"refgraph"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total number of successful model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of models unloaded to stay within the loaded-model limit.
	// example: 1
	EvictionsTotal uint64 `json:"evictions_total" example:"1"`
	// Total number of batch executions.
	// example: 420
	ExecutionsTotal uint64 `json:"executions_total" example:"420"`
}
