package manager

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tensord/internal/backend"
	"tensord/internal/repository"
	"tensord/internal/stats"
)

// Load makes name ready to serve. It is a no-op for a ready model, waits for
// a load already in progress and retries a model whose last load failed.
func (m *Manager) Load(ctx context.Context, name string) error {
	if name == "" {
		return ErrModelNotFound("(unspecified)")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrDependencyUnavailable("manager is closed")
	}
	if lm := m.models[name]; lm != nil {
		switch lm.state {
		case StateReady:
			lm.lastUsed = time.Now()
			m.mu.Unlock()
			return nil
		case StateDraining:
			m.mu.Unlock()
			return tooBusyError{modelID: name}
		case StateLoading:
			ch := lm.loaded
			m.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			m.mu.RLock()
			err := lm.loadErr
			m.mu.RUnlock()
			return err
		}
	}
	m.mu.Unlock()

	mdl, ok := m.lookupModel(name)
	if !ok {
		m.log.Info().Str("model", name).Msg("load: model not found")
		m.publish(Event{Name: "load_error", ModelID: name, Fields: map[string]any{"error": "not found"}})
		return ErrModelNotFound(name)
	}
	m.evictForLoad(name)

	m.mu.Lock()
	if cur := m.models[name]; cur != nil && cur.state != StateError {
		// Someone else started meanwhile; go through the fast path again.
		m.mu.Unlock()
		return m.Load(ctx, name)
	}
	lm := &loadedModel{
		name:     name,
		version:  mdl.Served(),
		versions: append([]int64(nil), mdl.Versions...),
		cfg:      mdl.Config,
		state:    StateLoading,
		lastUsed: time.Now(),
		loaded:   make(chan struct{}),
	}
	m.models[name] = lm
	m.mu.Unlock()

	return m.loadModel(lm, mdl)
}

func (m *Manager) loadModel(lm *loadedModel, mdl repository.Model) error {
	start := time.Now()
	log := m.log.With().Str("model", lm.name).Int64("version", lm.version).Logger()
	log.Info().Msg("load start")
	m.publish(Event{Name: "load_start", ModelID: lm.name, Fields: map[string]any{"version": lm.version}})

	err := m.bringUp(lm, mdl)

	m.mu.Lock()
	if err != nil {
		lm.state = StateError
		lm.err = err.Error()
		lm.loadErr = err
	} else {
		lm.state = StateReady
		lm.lastUsed = time.Now()
	}
	close(lm.loaded)
	m.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("kind", string(backend.KindOf(err))).Msg("load failed")
		m.publish(Event{Name: "load_error", ModelID: lm.name, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	m.loadsTotal.Add(1)
	log.Info().Int("instances", len(lm.workers)).Dur("dur", time.Since(start)).Msg("load ready")
	m.publish(Event{Name: "load_ready", ModelID: lm.name, Fields: map[string]any{
		"version":   lm.version,
		"instances": len(lm.workers),
		"dur_ms":    int(time.Since(start) / time.Millisecond),
	}})
	return nil
}

// bringUp builds the binder, its instances and the batcher. Instances are
// created in parallel; the binder compiles once for all of them.
func (m *Manager) bringUp(lm *loadedModel, mdl repository.Model) (err error) {
	core, err := m.newCore()
	if err != nil {
		return ErrDependencyUnavailable(fmt.Sprintf("engine %s: %v", m.engineName, err))
	}
	binder, err := backend.NewBinder(backend.BinderConfig{
		Model:   mdl.Config,
		Dir:     mdl.Dir,
		Version: mdl.Served(),
		Core:    core,
		Logger:  m.log,
	})
	if err != nil {
		_ = core.Close()
		return err
	}
	defer func() {
		if err != nil {
			_ = binder.Close()
		}
	}()

	prom := stats.NewPrometheus(lm.name)
	sinks := stats.Multi{prom}
	if m.store != nil {
		sinks = append(sinks, m.store.Reporter(lm.name))
	}

	kinds := instanceKinds(mdl.Config)
	workers := make([]*worker, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			inst, err := backend.NewInstance(binder, backend.InstanceConfig{
				Name:   fmt.Sprintf("%s_%d", lm.name, i),
				Kind:   kind,
				Stats:  sinks,
				Logger: m.log,
			})
			if err != nil {
				return err
			}
			workers[i] = &worker{inst: inst}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				_ = w.inst.Close()
			}
		}
		prom.Forget()
		return err
	}

	b := newBatcher(lm.name, mdl.Config, workers, m.maxQueueDepth, m.onBatch(lm), m.log)
	m.mu.Lock()
	lm.binder, lm.workers, lm.batcher, lm.prom = binder, workers, b, prom
	m.mu.Unlock()
	return nil
}

// onBatch publishes one event per execution.
func (m *Manager) onBatch(lm *loadedModel) func(*worker, []*hostRequest, error) {
	return func(w *worker, batch []*hostRequest, err error) {
		m.executionsTotal.Add(1)
		rows := 0
		for _, r := range batch {
			rows += r.rows
		}
		fields := map[string]any{
			"instance":   w.inst.Name(),
			"requests":   len(batch),
			"batch_size": rows,
			"pad":        w.inst.Pad(),
		}
		if err != nil {
			fields["error"] = err.Error()
			fields["kind"] = string(backend.KindOf(err))
		}
		m.publish(Event{Name: "batch_executed", ModelID: lm.name, Fields: fields})
	}
}
