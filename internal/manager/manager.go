package manager

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tensord/internal/repository"
	"tensord/internal/stats"
	"tensord/pkg/types"
)

type Manager struct {
	mu         sync.RWMutex
	models     map[string]*loadedModel
	repo       map[string]repository.Model
	repoRoot   string
	engineName string
	newCore    CoreFactory
	store      *stats.Store
	publisher  EventPublisher
	log        zerolog.Logger
	closed     bool

	// Queue config
	maxQueueDepth int
	maxWait       time.Duration
	drainTimeout  time.Duration
	maxLoaded     int

	startTime       time.Time
	loadsTotal      atomic.Uint64
	evictionsTotal  atomic.Uint64
	executionsTotal atomic.Uint64
}

// New builds a Manager over models with the reference engine and defaults.
func New(models []repository.Model) *Manager {
	return NewWithConfig(ManagerConfig{Models: models})
}

// SetEventPublisher replaces the event sink; nil restores the no-op publisher.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

// publish must not be called with mu held.
func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	p.Publish(e)
}

// Ready reports whether at least one model can serve requests.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	for _, lm := range m.models {
		if lm.state == StateReady {
			return true
		}
	}
	return false
}

// ListModels returns the repository index with the load state of each model.
func (m *Manager) ListModels() []types.ModelSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.ModelSummary, 0, len(m.repo))
	seen := make(map[string]bool, len(m.repo))
	for name, mdl := range m.repo {
		seen[name] = true
		s := types.ModelSummary{Name: name, Version: mdl.Served(), State: "unavailable"}
		if lm := m.models[name]; lm != nil {
			s.Version, s.State, s.Reason = lm.version, string(lm.state), lm.err
		}
		out = append(out, s)
	}
	for name, lm := range m.models {
		if !seen[name] {
			out = append(out, types.ModelSummary{Name: name, Version: lm.version, State: string(lm.state), Reason: lm.err})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Metadata describes a model from its configuration, loaded or not.
func (m *Manager) Metadata(name string) (types.ModelMetadata, error) {
	mdl, ok := m.lookupModel(name)
	if !ok {
		return types.ModelMetadata{}, ErrModelNotFound(name)
	}
	cfg := mdl.Config
	md := types.ModelMetadata{
		Name:         name,
		Versions:     append([]int64(nil), mdl.Versions...),
		Platform:     cfg.Platform,
		MaxBatchSize: cfg.MaxBatchSize,
		Inputs:       tensorMetadata(cfg, cfg.Input),
		Outputs:      tensorMetadata(cfg, cfg.Output),
		State:        "unavailable",
	}
	if md.Platform == "" {
		md.Platform = m.engineName
	}
	m.mu.RLock()
	if lm := m.models[name]; lm != nil {
		md.State = string(lm.state)
	}
	m.mu.RUnlock()
	return md, nil
}

// Engine names the engine used for new loads.
func (m *Manager) Engine() string { return m.engineName }
