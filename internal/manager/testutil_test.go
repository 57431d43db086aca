package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tensord/internal/repository"
	"tensord/pkg/types"
)

const doubleArtifact = `
inputs:
  - {name: X, datatype: FP32, dims: [-1, 3]}
outputs:
  - {name: Y, datatype: FP32, dims: [-1, 3], op: scale, from: [X], factor: 2}
  - {name: Z, datatype: FP32, dims: [-1, 3], op: identity, from: [X]}
`

// doubleConfig batches up to four rows with padding over two instances.
const doubleConfig = `
max_batch_size: 4
input: [{name: X, data_type: TYPE_FP32, dims: [3]}]
output:
  - {name: Y, data_type: TYPE_FP32, dims: [3]}
  - {name: Z, data_type: TYPE_FP32, dims: [3]}
parameters: {ENABLE_BATCH_PADDING: "yes"}
instance_group: [{count: 2, kind: KIND_CPU}]
dynamic_batching: {max_queue_delay_microseconds: 200000}
`

// writeModel lays out root/name/config.yaml and root/name/1/model.yaml.
func writeModel(t *testing.T, root, name, config, artifact string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(dir, "1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "1", "model.yaml"), []byte(artifact), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}

// newTestManager scans a fresh repository holding the double model.
func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *MemoryPublisher) {
	t.Helper()
	root := t.TempDir()
	writeModel(t, root, "double", doubleConfig, doubleArtifact)
	models, err := repository.Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	cfg.Models = models
	cfg.Repository = root
	pub := NewMemoryPublisher()
	cfg.Publisher = pub
	m := NewWithConfig(cfg)
	t.Cleanup(func() { _ = m.Close() })
	return m, pub
}

func rowsRequest(rows int, vals ...float64) types.InferRequest {
	return types.InferRequest{Inputs: []types.Tensor{{
		Name:     "X",
		Datatype: "FP32",
		Shape:    []int64{int64(rows), 3},
		Data:     vals,
	}}}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func output(t *testing.T, resp types.InferResponse, name string) types.Tensor {
	t.Helper()
	for _, o := range resp.Outputs {
		if o.Name == name {
			return o
		}
	}
	t.Fatalf("output %s missing from %+v", name, resp.Outputs)
	return types.Tensor{}
}

func countEvents(pub *MemoryPublisher, name string) int {
	n := 0
	for _, e := range pub.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
