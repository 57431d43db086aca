package backend

import (
	"testing"

	"tensord/internal/engine"
)

func batchOf(sizes ...int64) []Request {
	reqs := make([]Request, len(sizes))
	for i, n := range sizes {
		reqs[i] = newFloatRequest("r", "X", engine.Shape{n, 10}, make([]float32, n*10)...)
	}
	return reqs
}

func TestAggregateNoBatchingCountsRequests(t *testing.T) {
	plan, err := Aggregate(batchOf(7), 0, false)
	if err != nil || plan.Total != 1 || plan.Pad != 0 {
		t.Fatalf("single request: plan=%+v err=%v", plan, err)
	}
	// Leading dims are ignored when batching is disabled.
	plan, err = Aggregate(batchOf(5, 5, 5), 0, true)
	if plan.Total != 3 || plan.Pad != 0 {
		t.Fatalf("total=%d pad=%d, want 3 and 0", plan.Total, plan.Pad)
	}
	if !IsKind(err, KindBatchSizeExceeded) {
		t.Fatalf("three requests without batching: %v", err)
	}
}

func TestAggregateShortBatch(t *testing.T) {
	if _, err := Aggregate(batchOf(1, 1), 4, false); !IsKind(err, KindBatchSizeMismatch) {
		t.Fatalf("expected BatchSizeMismatch, got %v", err)
	}
	plan, err := Aggregate(batchOf(1, 1), 4, true)
	if err != nil {
		t.Fatalf("padding: %v", err)
	}
	if plan.Total != 2 || plan.Pad != 2 {
		t.Fatalf("plan %+v", plan)
	}
	if plan.Entries[0].Offset != 0 || plan.Entries[1].Offset != 1 || plan.Entries[1].Size != 1 {
		t.Fatalf("entries %+v", plan.Entries)
	}
}

func TestAggregateFullAndExceeded(t *testing.T) {
	plan, err := Aggregate(batchOf(3, 1), 4, false)
	if err != nil || plan.Total != 4 || plan.Pad != 0 {
		t.Fatalf("full batch: %+v %v", plan, err)
	}
	if _, err := Aggregate(batchOf(3, 2), 4, true); !IsKind(err, KindBatchSizeExceeded) {
		t.Fatalf("expected BatchSizeExceeded, got %v", err)
	}
}

func TestAggregateEmptyBatchIsNoop(t *testing.T) {
	plan, err := Aggregate(batchOf(0, 0), 4, false)
	if err != nil || plan.Total != 0 {
		t.Fatalf("zero batch: %+v %v", plan, err)
	}
}
