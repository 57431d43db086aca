package manager

import (
	"errors"
	"sort"
	"time"
)

// Unload initiates a graceful drain of a model and removes it.
//   - Sets the model to draining to reject new requests.
//   - Waits up to drainTimeout for queued and running requests to finish.
//   - Stops the batcher, closes the instances and then the binder.
func (m *Manager) Unload(name string) error {
	if name == "" {
		return ErrModelNotFound("(unspecified)")
	}
	m.mu.Lock()
	lm := m.models[name]
	if lm == nil {
		m.mu.Unlock()
		return ErrModelNotFound(name)
	}
	switch lm.state {
	case StateLoading, StateDraining:
		m.mu.Unlock()
		return tooBusyError{modelID: name}
	case StateError:
		delete(m.models, name)
		m.mu.Unlock()
		m.publish(Event{Name: "unload_done", ModelID: name})
		return nil
	}
	lm.state = StateDraining
	m.mu.Unlock()
	m.publish(Event{Name: "unload_start", ModelID: name})

	deadline := time.Now().Add(m.drainTimeout)
	for {
		pending := lm.batcher.pending()
		if pending == 0 {
			break
		}
		if time.Now().After(deadline) {
			m.log.Warn().Str("model", name).Int64("pending", pending).Msg("unload drain timeout")
			m.publish(Event{Name: "unload_timeout", ModelID: name, Fields: map[string]any{"pending": pending}})
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	err := m.teardown(lm)

	m.mu.Lock()
	if m.models[name] == lm {
		delete(m.models, name)
	}
	m.mu.Unlock()
	if err != nil {
		m.log.Error().Err(err).Str("model", name).Msg("unload")
	} else {
		m.log.Info().Str("model", name).Msg("unloaded")
	}
	m.publish(Event{Name: "unload_done", ModelID: name})
	return err
}

func (m *Manager) teardown(lm *loadedModel) error {
	lm.batcher.stop()
	var errs []error
	for _, w := range lm.workers {
		errs = append(errs, w.inst.Close())
	}
	errs = append(errs, lm.binder.Close())
	lm.prom.Forget()
	return errors.Join(errs...)
}

// Close unloads every model and rejects further loads. Loads in progress are
// waited for first.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	names := make([]string, 0, len(m.models))
	waits := make([]chan struct{}, 0, len(m.models))
	for name, lm := range m.models {
		names = append(names, name)
		waits = append(waits, lm.loaded)
	}
	m.mu.Unlock()
	for _, ch := range waits {
		<-ch
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := m.Unload(name); err != nil && !IsModelNotFound(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
