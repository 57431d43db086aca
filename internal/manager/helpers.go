package manager

import (
	"path/filepath"
	"strings"

	"tensord/internal/backend"
	"tensord/internal/repository"
	"tensord/pkg/types"
)

// lookupModel finds name among the known models, falling back to the
// repository directory for models added after startup.
func (m *Manager) lookupModel(name string) (repository.Model, bool) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return repository.Model{}, false
	}
	m.mu.RLock()
	mdl, ok := m.repo[name]
	root := m.repoRoot
	m.mu.RUnlock()
	if ok || root == "" {
		return mdl, ok
	}
	mdl, err := repository.LoadModel(filepath.Join(root, name))
	if err != nil {
		m.log.Debug().Err(err).Str("model", name).Msg("model lookup")
		return repository.Model{}, false
	}
	m.mu.Lock()
	m.repo[name] = mdl
	m.mu.Unlock()
	return mdl, true
}

func tensorMetadata(cfg backend.ModelConfig, ts []backend.TensorConfig) []types.TensorMetadata {
	out := make([]types.TensorMetadata, len(ts))
	for i, t := range ts {
		out[i] = types.TensorMetadata{
			Name:     t.Name,
			Datatype: string(t.Type()),
			Shape:    cfg.FullShape(t, -1),
		}
	}
	return out
}

// instanceKinds expands the instance groups into one kind per instance.
func instanceKinds(cfg backend.ModelConfig) []string {
	var kinds []string
	for _, g := range cfg.InstanceGroup {
		for i := 0; i < g.Count; i++ {
			kinds = append(kinds, g.Kind)
		}
	}
	if len(kinds) == 0 {
		kinds = []string{backend.KindCPU}
	}
	return kinds
}
