package manager

import (
	"context"
	"sort"
	"time"

	"tensord/pkg/types"
)

const recentExecutions = 10

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.RLock()
	resp := types.StatusResponse{
		Engine:          m.engineName,
		UptimeSeconds:   int64(time.Since(m.startTime) / time.Second),
		ServerTimeUnix:  time.Now().Unix(),
		LoadsTotal:      m.loadsTotal.Load(),
		EvictionsTotal:  m.evictionsTotal.Load(),
		ExecutionsTotal: m.executionsTotal.Load(),
		Models:          make([]types.ModelStatus, 0, len(m.models)),
	}
	for _, lm := range m.models {
		ms := types.ModelStatus{
			Name:          lm.name,
			Version:       lm.version,
			State:         string(lm.state),
			Error:         lm.err,
			MaxQueueDepth: m.maxQueueDepth,
			MaxBatchSize:  lm.cfg.MaxBatchSize,
			LastUsed:      lm.lastUsed.Unix(),
			Instances:     make([]types.InstanceStatus, 0, len(lm.workers)),
		}
		if lm.batcher != nil {
			ms.QueueLen = lm.batcher.queueLen()
		}
		for _, w := range lm.workers {
			ms.Instances = append(ms.Instances, types.InstanceStatus{
				Name:       w.inst.Name(),
				Device:     w.inst.Device(),
				Busy:       w.busy.Load(),
				Executions: w.executions.Load(),
				LastPad:    int(w.lastPad.Load()),
			})
		}
		resp.Models = append(resp.Models, ms)
	}
	m.mu.RUnlock()
	sort.Slice(resp.Models, func(i, j int) bool { return resp.Models[i].Name < resp.Models[j].Name })

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := range resp.Models {
			recent, err := m.store.Recent(ctx, resp.Models[i].Name, recentExecutions)
			if err != nil {
				m.log.Warn().Err(err).Str("model", resp.Models[i].Name).Msg("status: recent executions")
				continue
			}
			for _, e := range recent {
				resp.Models[i].Recent = append(resp.Models[i].Recent, types.ExecutionRecord{
					Instance:      e.Instance,
					BatchSize:     e.BatchSize,
					StartedUnixMS: e.Started.UnixMilli(),
					ComputeUS:     e.Compute.Microseconds(),
					ExecUS:        e.Exec.Microseconds(),
				})
			}
		}
	}
	return resp
}
