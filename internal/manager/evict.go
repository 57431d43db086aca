package manager

// evictForLoad unloads least recently used idle models until one more model
// fits under MaxLoaded. Models with queued or running work are never evicted,
// so the cap is best effort.
func (m *Manager) evictForLoad(loading string) {
	if m.maxLoaded <= 0 {
		return
	}
	for {
		m.mu.RLock()
		count := 0
		var lru *loadedModel
		for _, lm := range m.models {
			if lm.state == StateError || lm.name == loading {
				continue
			}
			count++
			if lm.state != StateReady || lm.batcher.pending() > 0 {
				continue
			}
			if lru == nil || lm.lastUsed.Before(lru.lastUsed) {
				lru = lm
			}
		}
		m.mu.RUnlock()
		if count < m.maxLoaded || lru == nil {
			return
		}
		if err := m.Unload(lru.name); err != nil {
			m.log.Warn().Err(err).Str("model", lru.name).Msg("evict failed")
			return
		}
		m.evictionsTotal.Add(1)
		m.publish(Event{Name: "evict", ModelID: lru.name, Fields: map[string]any{"for": loading}})
	}
}
