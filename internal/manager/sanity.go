package manager

import (
	"tensord/internal/common/fsutil"
	"tensord/internal/engine"
)

// SanityReport describes runtime checks for the engine and the repository.
type SanityReport struct {
	Engine          string `json:"engine"`
	EngineAvailable bool   `json:"engine_available"`
	Repository      string `json:"repository,omitempty"`
	RepositoryFound bool   `json:"repository_found"`
	Models          int    `json:"models"`
	Error           string `json:"error,omitempty"`
	// Device is what the engine reports about the CPU device, when it can.
	Device map[string]string `json:"device,omitempty"`
}

// SanityCheck validates that an engine core can be created and the
// repository exists. It does not mutate state and is safe to call at any time.
func (m *Manager) SanityCheck() SanityReport {
	m.mu.RLock()
	r := SanityReport{Engine: m.engineName, Repository: m.repoRoot, Models: len(m.repo)}
	m.mu.RUnlock()
	core, err := m.newCore()
	if err != nil {
		r.Error = err.Error()
	} else {
		r.EngineAvailable = true
		if d, ok := core.(engine.Describer); ok {
			r.Device = d.Describe(engine.DeviceCPU)
		}
		_ = core.Close()
	}
	if r.Repository != "" {
		if p, err := fsutil.ExpandHome(r.Repository); err == nil {
			r.RepositoryFound = fsutil.PathExists(p)
		}
	}
	return r
}
