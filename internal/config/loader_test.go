package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "addr: :9999\nrepository: /tmp/models\nengine: refgraph\nmax_queue_depth: 12\nmax_loaded: 2\nload: [a, b]\nlog_level: debug\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.Repository != "/tmp/models" || cfg.Engine != "refgraph" || cfg.MaxQueueDepth != 12 || cfg.MaxLoaded != 2 || len(cfg.Load) != 2 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","repository":"/m","stats_db":"/m/stats.db","max_wait_ms":250,"cors_enabled":true,"cors_allowed_origins":["*"]}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Repository != "/m" || cfg.StatsDB != "/m/stats.db" || cfg.MaxWaitMS != 250 || !cfg.CORSEnabled || cfg.CORSAllowOrigins[0] != "*" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nrepository=\"/x\"\nengine=\"onnx\"\nonnx_library=\"/usr/lib/libonnxruntime.so\"\nmax_body_bytes=2048\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.Repository != "/x" || cfg.Engine != "onnx" || cfg.ONNXLibrary == "" || cfg.MaxBodyBytes != 2048 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}

func TestLoadIntoArbitraryStruct(t *testing.T) {
	type model struct {
		Name         string            `yaml:"name" json:"name" toml:"name"`
		MaxBatchSize int               `yaml:"max_batch_size" json:"max_batch_size" toml:"max_batch_size"`
		Parameters   map[string]string `yaml:"parameters" json:"parameters" toml:"parameters"`
	}
	d := t.TempDir()
	for name, body := range map[string]string{
		"config.yaml": "name: m\nmax_batch_size: 4\nparameters: {ENABLE_BATCH_PADDING: \"yes\"}\n",
		"config.json": `{"name":"m","max_batch_size":4,"parameters":{"ENABLE_BATCH_PADDING":"yes"}}`,
		"config.toml": "name = \"m\"\nmax_batch_size = 4\n[parameters]\nENABLE_BATCH_PADDING = \"yes\"\n",
	} {
		var m model
		if err := LoadInto(writeTempFile(t, d, name, body), &m); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if m.Name != "m" || m.MaxBatchSize != 4 || m.Parameters["ENABLE_BATCH_PADDING"] != "yes" {
			t.Fatalf("%s: %+v", name, m)
		}
	}
}
