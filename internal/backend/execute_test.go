package backend

import (
	"errors"
	"testing"

	"tensord/internal/engine"
)

func TestExecutePaddedBatch(t *testing.T) {
	b, core := newTestBinder(t, projectionConfig(4, map[string]string{ParamBatchPadding: "yes"}), projectionArtifact(10, 5))
	stats := &fakeStats{}
	inst := newTestInstance(t, b, stats)

	r1 := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	r2 := newFloatRequest("b", "X", engine.Shape{1, 10}, seq(100, 10)...)
	if err := inst.Execute([]Request{r1, r2}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if inst.Pad() != 2 {
		t.Fatalf("pad=%d want 2", inst.Pad())
	}
	if _, _, infers := core.counts(); infers != 1 {
		t.Fatalf("infers=%d want 1", infers)
	}
	for _, r := range []*fakeRequest{r1, r2} {
		if r.released != 1 || r.resp.sends != 1 || r.resp.err != nil {
			t.Fatalf("%s: released=%d sends=%d err=%v", r.id, r.released, r.resp.sends, r.resp.err)
		}
		if !r.resp.shapes["Y"].Equal(engine.Shape{1, 5}) {
			t.Fatalf("%s: Y shape %v", r.id, r.resp.shapes["Y"])
		}
	}
	if got := r1.resp.floats("Y"); got[0] != 1 || got[4] != 5 {
		t.Fatalf("first slice %v", got)
	}
	if got := r2.resp.floats("Y"); got[0] != 100 || got[4] != 104 {
		t.Fatalf("second slice %v", got)
	}
	if len(stats.batches) != 1 || stats.batches[0] != 2 {
		t.Fatalf("batch stats %v, want [2]", stats.batches)
	}
	if len(stats.requests) != 2 || !stats.requests[0].success || !stats.requests[1].success {
		t.Fatalf("request stats %+v", stats.requests)
	}
}

func TestExecuteShortBatchWithoutPaddingFails(t *testing.T) {
	b, core := newTestBinder(t, projectionConfig(4, nil), projectionArtifact(10, 5))
	stats := &fakeStats{}
	inst := newTestInstance(t, b, stats)

	r1 := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	r2 := newFloatRequest("b", "X", engine.Shape{2, 10}, seq(1, 20)...)
	err := inst.Execute([]Request{r1, r2})
	if !IsKind(err, KindBatchSizeMismatch) {
		t.Fatalf("expected BatchSizeMismatch, got %v", err)
	}
	if _, _, infers := core.counts(); infers != 0 {
		t.Fatalf("no inference may run, got %d", infers)
	}
	for _, r := range []*fakeRequest{r1, r2} {
		if !IsKind(r.resp.err, KindBatchSizeMismatch) || r.released != 1 || len(r.resp.outputs) != 0 {
			t.Fatalf("%s: err=%v released=%d outputs=%d", r.id, r.resp.err, r.released, len(r.resp.outputs))
		}
	}
	if len(stats.batches) != 0 {
		t.Fatalf("failed calls report no batch statistics")
	}
	if len(stats.requests) != 2 || stats.requests[0].success {
		t.Fatalf("request stats %+v", stats.requests)
	}

	// The instance stays usable.
	full := newFloatRequest("c", "X", engine.Shape{4, 10}, seq(0, 40)...)
	if err := inst.Execute([]Request{full}); err != nil {
		t.Fatalf("full batch after failure: %v", err)
	}
	if !full.resp.shapes["Y"].Equal(engine.Shape{4, 5}) {
		t.Fatalf("Y shape %v", full.resp.shapes["Y"])
	}
}

func TestExecuteShapeMismatchBeforeCopy(t *testing.T) {
	params := map[string]string{ParamBatchPadding: "yes", ParamSkipDynBatch: "yes"}
	b, core := newTestBinder(t, projectionConfig(4, params), projectionArtifact(10, 5))
	inst := newTestInstance(t, b, nil)

	r1 := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	r2 := newFloatRequest("b", "X", engine.Shape{1, 10}, seq(1, 10)...)
	err := inst.Execute([]Request{r1, r2})
	if !IsKind(err, KindShapeMismatch) {
		t.Fatalf("expected ShapeMismatch, got %v", err)
	}
	if _, _, infers := core.counts(); infers != 0 {
		t.Fatalf("no inference may run, got %d", infers)
	}
	dst, err := inst.req.Tensor(inst.nodes["X"])
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}
	for i, v := range dst.Bytes() {
		if v != 0 {
			t.Fatalf("bound storage was written at byte %d", i)
		}
	}
}

func TestExecuteWithoutBatching(t *testing.T) {
	cfg := projectionConfig(0, nil)
	cfg.Input[0].Dims = []int64{1, 10}
	cfg.Output[0].Dims = []int64{1, 5}
	b, _ := newTestBinder(t, cfg, projectionArtifact(10, 5))
	stats := &fakeStats{}
	inst := newTestInstance(t, b, stats)

	r := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(3, 10)...)
	if err := inst.Execute([]Request{r}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := r.resp.floats("Y"); len(got) != 5 || got[0] != 3 {
		t.Fatalf("Y=%v", got)
	}
	if inst.Pad() != 0 || len(stats.batches) != 1 || stats.batches[0] != 1 {
		t.Fatalf("pad=%d batches=%v", inst.Pad(), stats.batches)
	}

	r1 := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(3, 10)...)
	r2 := newFloatRequest("b", "X", engine.Shape{1, 10}, seq(3, 10)...)
	if err := inst.Execute([]Request{r1, r2}); !IsKind(err, KindBatchSizeExceeded) {
		t.Fatalf("expected BatchSizeExceeded, got %v", err)
	}
}

func TestExecuteNullRequest(t *testing.T) {
	b, core := newTestBinder(t, projectionConfig(4, nil), projectionArtifact(10, 5))
	stats := &fakeStats{}
	inst := newTestInstance(t, b, stats)

	r1 := newFloatRequest("a", "X", engine.Shape{2, 10}, seq(1, 20)...)
	r2 := newFloatRequest("b", "X", engine.Shape{2, 10}, seq(1, 20)...)
	err := inst.Execute([]Request{r1, nil, r2})
	if !IsKind(err, KindInternal) {
		t.Fatalf("expected InternalError, got %v", err)
	}
	for _, r := range []*fakeRequest{r1, r2} {
		if !IsKind(r.resp.err, KindInternal) || r.released != 1 || r.resp.sends != 1 {
			t.Fatalf("%s: err=%v released=%d sends=%d", r.id, r.resp.err, r.released, r.resp.sends)
		}
	}
	if _, _, infers := core.counts(); infers != 0 || len(stats.requests) != 0 || len(stats.batches) != 0 {
		t.Fatalf("null request must stop all processing")
	}
}

func TestExecuteResponseCreationFailureOnlyExcludesThatRequest(t *testing.T) {
	b, _ := newTestBinder(t, projectionConfig(2, nil), projectionArtifact(10, 5))
	stats := &fakeStats{}
	inst := newTestInstance(t, b, stats)

	r1 := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	r1.respErr = errors.New("host out of responses")
	r2 := newFloatRequest("b", "X", engine.Shape{1, 10}, seq(50, 10)...)
	if err := inst.Execute([]Request{r1, r2}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r1.released != 1 || r1.resp != nil {
		t.Fatalf("failed response request must still be released once")
	}
	if got := r2.resp.floats("Y"); got[0] != 50 {
		t.Fatalf("second request must get its own rows, got %v", got)
	}
	if stats.requests[0].success || !stats.requests[1].success {
		t.Fatalf("request stats %+v", stats.requests)
	}
	if len(stats.batches) != 1 || stats.batches[0] != 2 {
		t.Fatalf("batch stats %v", stats.batches)
	}
}

func TestExecuteSkipsUnrequestedOutputs(t *testing.T) {
	b, _ := newTestBinder(t, projectionConfig(2, nil), projectionArtifact(10, 5))
	inst := newTestInstance(t, b, nil)

	r1 := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	r1.requested = map[string]bool{}
	r2 := newFloatRequest("b", "X", engine.Shape{1, 10}, seq(9, 10)...)
	if err := inst.Execute([]Request{r1, r2}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(r1.resp.outputs) != 0 || r1.resp.sends != 1 {
		t.Fatalf("unrequested output was produced")
	}
	if got := r2.resp.floats("Y"); got[0] != 9 {
		t.Fatalf("offset not advanced past skipped request: %v", got)
	}
}

func TestExecuteRejectsDeviceMemory(t *testing.T) {
	b, core := newTestBinder(t, projectionConfig(1, nil), projectionArtifact(10, 5))
	inst := newTestInstance(t, b, nil)

	r := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	r.inputs[0].Buffers[0].Memory = MemoryGPU
	if err := inst.Execute([]Request{r}); !IsKind(err, KindUnsupportedMemoryKind) {
		t.Fatalf("expected UnsupportedMemoryKind, got %v", err)
	}
	if _, _, infers := core.counts(); infers != 0 {
		t.Fatalf("no inference may run")
	}
}

func TestExecuteSplitBuffersAndSizeMismatch(t *testing.T) {
	b, _ := newTestBinder(t, projectionConfig(1, nil), projectionArtifact(10, 5))
	inst := newTestInstance(t, b, nil)

	r := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	data := r.inputs[0].Buffers[0].Data
	r.inputs[0].Buffers = []Buffer{{Data: data[:12], Memory: MemoryCPUPinned}, {Data: data[12:], Memory: MemoryCPU}}
	if err := inst.Execute([]Request{r}); err != nil {
		t.Fatalf("split buffers: %v", err)
	}

	short := newFloatRequest("b", "X", engine.Shape{1, 10}, seq(1, 9)...)
	if err := inst.Execute([]Request{short}); !IsKind(err, KindSizeMismatch) {
		t.Fatalf("expected SizeMismatch, got %v", err)
	}
}

func TestExecuteOutputBatchSizeValidated(t *testing.T) {
	b, core := newTestBinder(t, projectionConfig(4, map[string]string{ParamBatchPadding: "yes"}), projectionArtifact(10, 5))
	inst := newTestInstance(t, b, nil)
	core.outputShape = engine.Shape{4, 5}

	r := newFloatRequest("a", "X", engine.Shape{2, 10}, seq(1, 20)...)
	if err := inst.Execute([]Request{r}); !IsKind(err, KindOutputBatchSizeMismatch) {
		t.Fatalf("expected OutputBatchSizeMismatch, got %v", err)
	}
	if !IsKind(r.resp.err, KindOutputBatchSizeMismatch) || r.released != 1 {
		t.Fatalf("response err=%v released=%d", r.resp.err, r.released)
	}
}

func TestExecuteEnginePanicIsInternalError(t *testing.T) {
	b, core := newTestBinder(t, projectionConfig(1, nil), projectionArtifact(10, 5))
	inst := newTestInstance(t, b, nil)
	core.panicOnInfer = true

	r := newFloatRequest("a", "X", engine.Shape{1, 10}, seq(1, 10)...)
	if err := inst.Execute([]Request{r}); !IsKind(err, KindInternal) {
		t.Fatalf("expected InternalError, got %v", err)
	}
	if r.released != 1 || !IsKind(r.resp.err, KindInternal) {
		t.Fatalf("released=%d err=%v", r.released, r.resp.err)
	}

	core.panicOnInfer = false
	ok := newFloatRequest("b", "X", engine.Shape{1, 10}, seq(1, 10)...)
	if err := inst.Execute([]Request{ok}); err != nil {
		t.Fatalf("instance must survive a native fault: %v", err)
	}
}

func TestExecuteEmptyBatchIsNoop(t *testing.T) {
	b, core := newTestBinder(t, projectionConfig(4, nil), projectionArtifact(10, 5))
	stats := &fakeStats{}
	inst := newTestInstance(t, b, stats)

	r := newFloatRequest("a", "X", engine.Shape{0, 10})
	if err := inst.Execute([]Request{r}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r.released != 1 || r.resp.sends != 0 {
		t.Fatalf("released=%d sends=%d", r.released, r.resp.sends)
	}
	if _, _, infers := core.counts(); infers != 0 || len(stats.requests) != 0 {
		t.Fatalf("empty batch must not run")
	}
}
