package backend

// BatchEntry is one request's slice of the batch, in rows.
type BatchEntry struct {
	Offset int
	Size   int
	// Valid is false when the request takes no part in output distribution,
	// e.g. its response could not be created. It still occupies its rows.
	Valid bool
}

// BatchPlan is the per-call batch layout.
type BatchPlan struct {
	Entries []BatchEntry
	Total   int
	Pad     int
}

// Aggregate computes the batch layout for requests against maxBatch.
//
// With maxBatch == 0 each request contributes one element. Otherwise the
// leading dimension of every request's first input is summed. A total of 0
// yields an empty plan and no error. A short batch is accepted only with
// padding, in which case Pad records the shortfall; the batch itself is not
// grown. On error the returned plan still carries the computed Total.
func Aggregate(requests []Request, maxBatch int, padding bool) (BatchPlan, error) {
	plan := BatchPlan{Entries: make([]BatchEntry, len(requests))}
	for i, r := range requests {
		size := 1
		if maxBatch > 0 {
			in, err := r.InputByIndex(0)
			if err != nil {
				return BatchPlan{}, wrapErr(KindInternal, err, "request %s: read first input", r.ID())
			}
			if len(in.Shape) == 0 || in.Shape[0] < 0 {
				return BatchPlan{}, Errorf(KindBatchSizeMismatch, "request %s: input %q has no batch dimension (shape %v)", r.ID(), in.Name, in.Shape)
			}
			size = int(in.Shape[0])
		}
		plan.Entries[i] = BatchEntry{Offset: plan.Total, Size: size, Valid: true}
		plan.Total += size
	}
	if plan.Total == 0 {
		return plan, nil
	}
	if plan.Total != 1 && plan.Total > maxBatch {
		return plan, Errorf(KindBatchSizeExceeded, "batch size %d exceeds max allowed %d", plan.Total, maxBatch)
	}
	if maxBatch > 0 && plan.Total < maxBatch {
		if !padding {
			return plan, Errorf(KindBatchSizeMismatch,
				"expected requests with batch size %d, got %d; set %s to yes to accept short batches", maxBatch, plan.Total, ParamBatchPadding)
		}
		plan.Pad = maxBatch - plan.Total
	}
	return plan, nil
}
