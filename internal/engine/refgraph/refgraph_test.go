package refgraph

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"tensord/internal/engine"
)

const linearArtifact = `
inputs:
  - {name: X, datatype: FP32, dims: [-1, 2]}
outputs:
  - {name: Y, datatype: FP32, dims: [-1, 3], op: matmul, from: [X], weights: [1, 0, 2, 0, 1, 3]}
  - {name: Z, datatype: TYPE_FP32, dims: [-1, 2], op: scale, from: [X], factor: 0.5}
`

func putFloats(b []byte, v ...float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}

func floats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not yaml":       "inputs: [",
		"no outputs":     "inputs:\n  - {name: X, datatype: FP32, dims: [1]}\n",
		"bad op":         "inputs:\n  - {name: X, datatype: FP32, dims: [1]}\noutputs:\n  - {name: Y, datatype: FP32, dims: [1], op: conv, from: [X]}\n",
		"unknown source": "inputs:\n  - {name: X, datatype: FP32, dims: [1]}\noutputs:\n  - {name: Y, datatype: FP32, dims: [1], op: identity, from: [Q]}\n",
		"weights":        "inputs:\n  - {name: X, datatype: FP32, dims: [-1, 2]}\noutputs:\n  - {name: Y, datatype: FP32, dims: [-1, 2], op: matmul, from: [X], weights: [1]}\n",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestCompileAndInfer(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, DefaultArtifact)
	if err := os.WriteFile(p, []byte(linearArtifact), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c := New()
	g, err := c.ReadModel(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := c.SetProperty(engine.DeviceCPU, map[string]string{KeyThreads: "2"}); err != nil {
		t.Fatalf("set property: %v", err)
	}
	cg, err := c.Compile(g, engine.DeviceCPU)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	req, err := cg.NewRequest()
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	in, _ := req.Tensor(cg.Inputs()[0])
	if !in.Shape().Equal(engine.Shape{1, 2}) {
		t.Fatalf("initial bound shape %v", in.Shape())
	}
	if err := req.SetBatch(3); err != nil {
		t.Fatalf("set batch: %v", err)
	}
	in, _ = req.Tensor(cg.Inputs()[0])
	if !in.Shape().Equal(engine.Shape{3, 2}) {
		t.Fatalf("resized bound shape %v", in.Shape())
	}
	putFloats(in.Bytes(), 1, 2, 3, 4, 5, 6)
	if err := req.Infer(); err != nil {
		t.Fatalf("infer: %v", err)
	}
	y, err := req.Output("Y")
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if !y.Shape().Equal(engine.Shape{3, 3}) {
		t.Fatalf("Y shape %v", y.Shape())
	}
	want := []float32{1, 2, 8, 3, 4, 18, 5, 6, 28}
	for i, v := range floats(y.Bytes()) {
		if v != want[i] {
			t.Fatalf("Y[%d]=%v want %v", i, v, want[i])
		}
	}
	z, _ := req.Output("Z")
	if got := floats(z.Bytes()); got[5] != 3 {
		t.Fatalf("Z=%v", got)
	}
}

func TestSetPropertyValidation(t *testing.T) {
	c := New()
	if err := c.SetProperty("GPU", nil); err == nil {
		t.Fatalf("expected device error")
	}
	if err := c.SetProperty(engine.DeviceCPU, map[string]string{"BOGUS": "1"}); err == nil || !strings.Contains(err.Error(), "BOGUS") {
		t.Fatalf("expected unsupported property error, got %v", err)
	}
	if err := c.SetProperty(engine.DeviceCPU, map[string]string{KeyStreams: "CPU_THROUGHPUT_AUTO"}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if c.Properties(engine.DeviceCPU)[KeyStreams] != "CPU_THROUGHPUT_AUTO" {
		t.Fatalf("property not recorded")
	}
}

func TestStreamsCapMatmulSplit(t *testing.T) {
	g, err := Parse([]byte(linearArtifact))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		props map[string]string
		want  int
	}{
		{nil, 1},
		{map[string]string{KeyStreams: "3"}, 3},
		{map[string]string{KeyStreams: "CPU_THROUGHPUT_AUTO"}, runtime.NumCPU()},
		{map[string]string{KeyStreams: "3", KeyThreads: "2"}, 2},
		{map[string]string{KeyStreams: "0", KeyThreads: "0"}, 1},
	}
	for _, tc := range cases {
		c := New()
		if err := c.SetProperty(engine.DeviceCPU, tc.props); err != nil {
			t.Fatalf("%v: %v", tc.props, err)
		}
		cg, err := c.Compile(g, engine.DeviceCPU)
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		if got := cg.(*compiled).threads; got != tc.want {
			t.Fatalf("%v: threads=%d want %d", tc.props, got, tc.want)
		}
	}
	if err := New().SetProperty(engine.DeviceCPU, map[string]string{KeyStreams: "many"}); err == nil {
		t.Fatalf("expected invalid streams error")
	}
}

func TestReshape(t *testing.T) {
	g, err := Parse([]byte(linearArtifact))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := g.Reshape("X", engine.Shape{-1, 2}); err != nil {
		t.Fatalf("reshape: %v", err)
	}
	if err := g.Reshape("X", engine.Shape{2}); err == nil {
		t.Fatalf("expected rank error")
	}
	if err := g.Reshape("nope", engine.Shape{1, 2}); err == nil {
		t.Fatalf("expected unknown input error")
	}
}

func TestInfoReportsCPU(t *testing.T) {
	if info := Info(); info.Device != engine.DeviceCPU || info.LogicalCPU < 1 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestDescribeIncludesAppliedProperties(t *testing.T) {
	c := New()
	var _ engine.Describer = c
	if err := c.SetProperty(engine.DeviceCPU, map[string]string{KeyThreads: "2"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	d := c.Describe(engine.DeviceCPU)
	if d["device"] != engine.DeviceCPU || d["arch"] != runtime.GOARCH || d[KeyThreads] != "2" || d["logical_cpus"] == "" {
		t.Fatalf("describe %v", d)
	}
}
