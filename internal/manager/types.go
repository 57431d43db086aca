package manager

import (
	"sync/atomic"
	"time"

	"tensord/internal/backend"
	"tensord/internal/stats"
)

// State represents the lifecycle state of a model.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDraining State = "draining"
	StateError    State = "error"
)

// worker wraps one execution instance with the counters /status reports.
type worker struct {
	inst       *backend.Instance
	busy       atomic.Bool
	executions atomic.Uint64
	lastPad    atomic.Int64
}

// loadedModel is one served model version. Fields other than the atomics in
// worker are guarded by Manager.mu.
type loadedModel struct {
	name     string
	version  int64
	versions []int64
	cfg      backend.ModelConfig
	binder   *backend.Binder
	workers  []*worker
	batcher  *batcher
	prom     *stats.Prometheus
	state    State
	err      string
	loadErr  error
	lastUsed time.Time
	// loaded is closed once loading finished, successfully or not.
	loaded chan struct{}
}
