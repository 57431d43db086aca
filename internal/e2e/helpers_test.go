package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tensord/internal/httpapi"
	"tensord/internal/manager"
	"tensord/internal/repository"
)

const scaleArtifact = `
inputs:
  - {name: X, datatype: FP32, dims: [-1, 2]}
outputs:
  - {name: Y, datatype: FP32, dims: [-1, 2], op: scale, from: [X], factor: 3}
`

// scaleConfig pads short batches and holds the queue open briefly so
// concurrent requests share an execution.
const scaleConfig = `
max_batch_size: 4
input: [{name: X, data_type: TYPE_FP32, dims: [2]}]
output: [{name: Y, data_type: TYPE_FP32, dims: [2]}]
parameters: {ENABLE_BATCH_PADDING: "yes"}
instance_group: [{count: 1, kind: KIND_CPU}]
dynamic_batching: {max_queue_delay_microseconds: 100000}
`

// createRepository lays out one model per name under a temp root.
func createRepository(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		dir := filepath.Join(root, n)
		if err := os.MkdirAll(filepath.Join(dir, "1"), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(scaleConfig), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "1", "model.yaml"), []byte(scaleArtifact), 0o644); err != nil {
			t.Fatalf("write artifact: %v", err)
		}
	}
	return root
}

// newServer scans root and serves it the way tensord serve does.
func newServer(t *testing.T, root string, cfg manager.ManagerConfig) (*httptest.Server, *manager.Manager, *manager.Bus) {
	t.Helper()
	models, err := repository.Scan(root)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	bus := manager.NewBus()
	cfg.Models = models
	cfg.Repository = root
	cfg.Publisher = bus
	mgr := manager.NewWithConfig(cfg)
	httpapi.SetEventSource(bus)
	t.Cleanup(func() { httpapi.SetEventSource(nil) })
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr, bus
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// httpPostJSON is safe to call from several goroutines; failures are returned.
func httpPostJSON(url string, payload []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body, nil
}
