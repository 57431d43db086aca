package backend

import (
	"github.com/rs/zerolog"

	"tensord/internal/engine"
)

// InstanceConfig configures one execution unit of a model.
type InstanceConfig struct {
	Name   string
	Kind   string
	Stats  Statistics
	Logger zerolog.Logger
}

// Instance is one execution unit. It holds a single execution request reused
// across calls. Execute must not be called concurrently on one instance.
type Instance struct {
	name     string
	binder   *Binder
	device   string
	cfg      ModelConfig
	flags    ModelFlags
	compiled engine.CompiledGraph
	req      engine.Request
	nodes    map[string]engine.Port
	pad      int
	stats    Statistics
	log      zerolog.Logger
}

// NewInstance brings the binder to Loaded(CPU) if no earlier instance did and
// acquires an execution request.
func NewInstance(b *Binder, cfg InstanceConfig) (*Instance, error) {
	if cfg.Kind != "" && cfg.Kind != KindCPU {
		return nil, Errorf(KindInvalidConfig, "instance %s: kind %s is not supported, only %s", cfg.Name, cfg.Kind, KindCPU)
	}
	device := engine.DeviceCPU
	if err := b.EnsureLoaded(device); err != nil {
		return nil, err
	}
	cg, nodes, err := b.Compiled(device)
	if err != nil {
		return nil, err
	}
	var req engine.Request
	err = engine.Guard(func() error {
		var err error
		req, err = cg.NewRequest()
		return err
	})
	if err != nil {
		return nil, wrapErr(KindInternal, err, "instance %s: create execution request", cfg.Name)
	}
	if cfg.Stats == nil {
		cfg.Stats = nopStatistics{}
	}
	inst := &Instance{
		name:     cfg.Name,
		binder:   b,
		device:   device,
		cfg:      b.Config(),
		flags:    b.Flags(),
		compiled: cg,
		req:      req,
		nodes:    nodes,
		stats:    cfg.Stats,
		log:      cfg.Logger.With().Str("model", b.Name()).Str("instance", cfg.Name).Str("device", device).Logger(),
	}
	inst.log.Debug().Msg("instance ready")
	return inst, nil
}

func (i *Instance) Name() string   { return i.name }
func (i *Instance) Device() string { return i.device }

// Pad is the pad size of the most recent call.
func (i *Instance) Pad() int { return i.pad }

// Nodes returns a copy of the name-to-node map bound by this instance.
func (i *Instance) Nodes() map[string]engine.Port {
	out := make(map[string]engine.Port, len(i.nodes))
	for k, v := range i.nodes {
		out[k] = v
	}
	return out
}

// Close releases the execution request. The binder stays loaded.
func (i *Instance) Close() error {
	if i.req == nil {
		return nil
	}
	err := engine.Guard(i.req.Close)
	i.req = nil
	return wrapErr(KindInternal, err, "instance %s: release execution request", i.name)
}
