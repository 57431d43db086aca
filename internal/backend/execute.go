package backend

import (
	"time"

	"tensord/internal/engine"
)

// Execute runs requests as one batch. It always consumes the requests: each
// non-nil request gets its response sent (when one could be created), is
// reported to the statistics facility and is released exactly once before
// Execute returns. The returned error is the call-level failure, if any,
// which has already been delivered to every response.
func (i *Instance) Execute(requests []Request) error {
	ts := Timestamps{ExecStart: time.Now()}
	i.pad = 0

	for _, r := range requests {
		if r == nil {
			err := Errorf(KindInternal, "null request given to model %s", i.binder.Name())
			i.respondAllAndRelease(requests, err)
			i.log.Error().Err(err).Int("requests", len(requests)).Msg("execute rejected")
			return err
		}
	}

	responses := make([]Response, len(requests))
	for r, req := range requests {
		resp, err := req.NewResponse()
		if err != nil {
			i.log.Error().Err(err).Str("request", req.ID()).Msg("failed to create response")
			continue
		}
		responses[r] = resp
	}

	reqErrs := make([]error, len(requests))
	plan, noop, callErr := i.run(requests, responses, reqErrs, &ts)
	if noop {
		for _, req := range requests {
			req.Release()
		}
		return nil
	}
	ts.ExecEnd = time.Now()
	if ts.ComputeStart.IsZero() {
		ts.ComputeStart = ts.ExecEnd
	}
	if ts.ComputeEnd.IsZero() {
		ts.ComputeEnd = ts.ExecEnd
	}

	for r, resp := range responses {
		if resp == nil {
			continue
		}
		err := callErr
		if err == nil {
			err = reqErrs[r]
		}
		resp.Send(err)
	}
	for r, req := range requests {
		ok := responses[r] != nil && callErr == nil && reqErrs[r] == nil
		i.stats.ReportRequest(i.name, req, ok, ts)
		req.Release()
	}
	if callErr != nil {
		i.log.Warn().Err(callErr).Int("requests", len(requests)).Int("batch_size", plan.Total).Msg("execute failed")
		return callErr
	}
	i.stats.ReportBatch(i.name, plan.Total, ts)
	i.log.Debug().Int("requests", len(requests)).Int("batch_size", plan.Total).Int("pad", plan.Pad).
		Dur("compute", ts.ComputeEnd.Sub(ts.ComputeStart)).Msg("execute done")
	return nil
}

// run performs aggregation, marshalling, inference and distribution. noop is
// true when the batch is empty and nothing should be sent.
func (i *Instance) run(requests []Request, responses []Response, reqErrs []error, ts *Timestamps) (plan BatchPlan, noop bool, err error) {
	plan, err = Aggregate(requests, i.cfg.MaxBatchSize, i.flags.BatchPadding)
	if err != nil {
		return plan, false, err
	}
	if plan.Total == 0 {
		return plan, true, nil
	}
	for r := range plan.Entries {
		plan.Entries[r].Valid = responses[r] != nil
	}
	i.pad = plan.Pad

	if !i.flags.SkipDynamicBatch && i.cfg.MaxBatchSize > 0 {
		if err := engine.Guard(func() error { return i.req.SetBatch(plan.Total) }); err != nil {
			return plan, false, wrapErr(KindInternal, err, "set batch size %d", plan.Total)
		}
	}
	if err := i.setInputs(requests, plan); err != nil {
		return plan, false, err
	}

	ts.ComputeStart = time.Now()
	err = engine.Guard(i.req.Infer)
	ts.ComputeEnd = time.Now()
	if err != nil {
		return plan, false, wrapErr(KindInferenceExecution, err, "infer")
	}

	return plan, false, i.readOutputs(requests, responses, plan, reqErrs)
}

// respondAllAndRelease fails every non-nil request with err and releases it.
func (i *Instance) respondAllAndRelease(requests []Request, err error) {
	for _, req := range requests {
		if req == nil {
			continue
		}
		if resp, rerr := req.NewResponse(); rerr == nil {
			resp.Send(err)
		} else {
			i.log.Error().Err(rerr).Str("request", req.ID()).Msg("failed to create response")
		}
		req.Release()
	}
}
