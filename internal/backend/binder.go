package backend

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"tensord/internal/engine"
)

// State is the lifecycle state of a Binder.
type State string

const (
	StateUnread    State = "unread"
	StateRead      State = "read"
	StateValidated State = "validated"
	StateLoaded    State = "loaded"
)

// BinderConfig describes one model version to bind.
type BinderConfig struct {
	Model ModelConfig
	// Dir is the model's repository directory; the artifact lives at
	// Dir/<Version>/<filename>.
	Dir     string
	Version int64
	// Core is owned by the binder from here on and closed by Close.
	Core   engine.Core
	Logger zerolog.Logger
}

// BinderStats counts expensive transitions.
type BinderStats struct {
	Reads    int
	Compiles int
}

// Binder owns the parsed graph, one compiled graph per device and the
// name-to-node map used to bind request tensors. All transitions run under mu.
type Binder struct {
	mu        sync.Mutex
	core      engine.Core
	cfg       ModelConfig
	flags     ModelFlags
	dir       string
	version   int64
	graph     engine.Graph
	read      bool
	validated bool
	compiled  map[string]engine.CompiledGraph
	options   map[string]DeviceOptions
	nodes     map[string]map[string]engine.Port
	stats     BinderStats
	closed    bool
	log       zerolog.Logger
}

// NewBinder validates the model configuration and returns an unread binder.
func NewBinder(cfg BinderConfig) (*Binder, error) {
	if cfg.Core == nil {
		return nil, Errorf(KindInternal, "binder requires an engine core")
	}
	if err := cfg.Model.Validate(); err != nil {
		return nil, err
	}
	b := &Binder{
		core:     cfg.Core,
		cfg:      cfg.Model,
		flags:    ParseModelFlags(cfg.Model.Parameters),
		dir:      cfg.Dir,
		version:  cfg.Version,
		compiled: make(map[string]engine.CompiledGraph),
		options:  make(map[string]DeviceOptions),
		nodes:    make(map[string]map[string]engine.Port),
		log:      cfg.Logger.With().Str("model", cfg.Model.Name).Int64("version", cfg.Version).Logger(),
	}
	b.log.Info().
		Int("max_batch_size", b.cfg.MaxBatchSize).
		Int("inputs", len(b.cfg.Input)).
		Int("outputs", len(b.cfg.Output)).
		Bool("batch_padding", b.flags.BatchPadding).
		Bool("skip_dynamic_batch", b.flags.SkipDynamicBatch).
		Bool("reshape_io", b.flags.ReshapeIO).
		Interface("parameters", b.cfg.Parameters).
		Msg("model configuration")
	return b, nil
}

func (b *Binder) Name() string        { return b.cfg.Name }
func (b *Binder) Config() ModelConfig { return b.cfg }
func (b *Binder) Flags() ModelFlags   { return b.flags }

// ArtifactPath is the file Read parses.
func (b *Binder) ArtifactPath() string {
	name := b.cfg.DefaultModelFilename
	if name == "" {
		name = b.core.DefaultArtifact()
	}
	return filepath.Join(b.dir, strconv.FormatInt(b.version, 10), name)
}

// State reports the furthest transition reached.
func (b *Binder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case len(b.compiled) > 0:
		return StateLoaded
	case b.validated:
		return StateValidated
	case b.read:
		return StateRead
	}
	return StateUnread
}

func (b *Binder) Stats() BinderStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Read loads the extension library, if any, and parses the artifact.
func (b *Binder) Read() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readLocked()
}

func (b *Binder) readLocked() error {
	if b.closed {
		return Errorf(KindInternal, "model %s is closed", b.cfg.Name)
	}
	if b.read {
		return Errorf(KindDoubleRead, "model %s has already been read", b.cfg.Name)
	}
	path := b.ArtifactPath()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Errorf(KindArtifactNotFound, "unable to find %s for model %s", path, b.cfg.Name)
		}
		return wrapErr(KindArtifactNotFound, err, "stat %s", path)
	}
	if b.flags.ExtensionPath != "" {
		if err := engine.Guard(func() error { return b.core.AddExtension(b.flags.ExtensionPath) }); err != nil {
			return wrapErr(KindEngineConfig, err, "load extension %s", b.flags.ExtensionPath)
		}
		b.log.Info().Str("extension", b.flags.ExtensionPath).Msg("extension loaded")
	}
	var g engine.Graph
	err := engine.Guard(func() error {
		var err error
		g, err = b.core.ReadModel(path)
		return err
	})
	if err != nil {
		return wrapErr(KindArtifactParse, err, "parse %s", path)
	}
	b.graph = g
	b.read = true
	b.stats.Reads++
	b.log.Debug().Str("artifact", path).Msg("artifact read")
	return nil
}

// Validate reconciles the declared configuration with the graph signature.
// Configured tensors must exist with the same datatype. Shapes are taken from
// a tensor's reshape when it has one, else from its dims. With
// RESHAPE_IO_LAYERS the graph inputs are reshaped to that shape, otherwise it
// must be compatible (-1 matches anything).
func (b *Binder) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.validateLocked()
}

func (b *Binder) validateLocked() error {
	if !b.read {
		return Errorf(KindInternal, "model %s validated before read", b.cfg.Name)
	}
	if b.validated {
		return nil
	}
	err := engine.Guard(func() error {
		ins := portsByName(b.graph.Inputs())
		for _, tc := range b.cfg.Input {
			p, ok := ins[tc.Name]
			if !ok {
				return Errorf(KindInvalidConfig, "model %s: configured input %q not found in graph", b.cfg.Name, tc.Name)
			}
			if p.DataType != tc.Type() {
				return Errorf(KindInvalidConfig, "model %s: input %q is %s in the graph, configured %s", b.cfg.Name, tc.Name, p.DataType, tc.Type())
			}
			want := b.cfg.GraphShape(tc, -1)
			if r, ok := b.graph.(engine.Reshaper); ok && b.flags.ReshapeIO {
				if err := r.Reshape(tc.Name, want); err != nil {
					return wrapErr(KindInvalidConfig, err, "model %s: reshape input %q to %v", b.cfg.Name, tc.Name, want)
				}
				continue
			}
			if !p.Shape.Compatible(want) {
				return Errorf(KindInvalidConfig, "model %s: input %q has shape %v in the graph, configured %v", b.cfg.Name, tc.Name, p.Shape, want)
			}
		}
		outs := portsByName(b.graph.Outputs())
		for _, tc := range b.cfg.Output {
			p, ok := outs[tc.Name]
			if !ok {
				return Errorf(KindInvalidConfig, "model %s: configured output %q not found in graph", b.cfg.Name, tc.Name)
			}
			if p.DataType != tc.Type() {
				return Errorf(KindInvalidConfig, "model %s: output %q is %s in the graph, configured %s", b.cfg.Name, tc.Name, p.DataType, tc.Type())
			}
			if want := b.cfg.GraphShape(tc, -1); !p.Shape.Compatible(want) {
				return Errorf(KindInvalidConfig, "model %s: output %q has shape %v in the graph, configured %v", b.cfg.Name, tc.Name, p.Shape, want)
			}
		}
		b.validated = true
		return nil
	})
	if err != nil && KindOf(err) == "" {
		return wrapErr(KindInternal, err, "validate model %s", b.cfg.Name)
	}
	return err
}

// Load applies the device options and compiles the graph for device.
func (b *Binder) Load(device string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadLocked(device)
}

func (b *Binder) loadLocked(device string) error {
	if !b.validated {
		return Errorf(KindInternal, "model %s loaded before validation", b.cfg.Name)
	}
	if _, ok := b.compiled[device]; ok {
		return Errorf(KindDoubleLoad, "model %s is already loaded on %s", b.cfg.Name, device)
	}
	opts, err := ParseDeviceOptions(device, b.cfg.Parameters)
	if err != nil {
		return err
	}
	if len(opts) > 0 {
		if err := engine.Guard(func() error { return b.core.SetProperty(device, opts) }); err != nil {
			return wrapErr(KindEngineConfig, err, "apply options on %s", device)
		}
	}
	b.options[device] = opts
	var cg engine.CompiledGraph
	err = engine.Guard(func() error {
		var err error
		cg, err = b.core.Compile(b.graph, device)
		return err
	})
	if err != nil {
		return wrapErr(KindCompilation, err, "compile model %s for %s", b.cfg.Name, device)
	}
	b.stats.Compiles++
	nodes := portsByName(cg.Inputs())
	for _, tc := range b.cfg.Input {
		if _, ok := nodes[tc.Name]; !ok {
			_ = cg.Close()
			return Errorf(KindCompilation, "model %s: compiled graph has no input %q", b.cfg.Name, tc.Name)
		}
	}
	b.compiled[device] = cg
	b.nodes[device] = nodes
	b.log.Info().Str("device", device).Interface("options", opts).Msg("model compiled")
	return nil
}

// EnsureLoaded drives the binder to Loaded(device), performing only the
// transitions that have not happened yet. Concurrent callers observe exactly
// one read and one compile.
func (b *Binder) EnsureLoaded(device string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.read {
		if err := b.readLocked(); err != nil {
			return err
		}
	}
	if !b.validated {
		if err := b.validateLocked(); err != nil {
			return err
		}
	}
	if _, ok := b.compiled[device]; ok {
		return nil
	}
	return b.loadLocked(device)
}

// Compiled returns the compiled graph for device and a copy of its
// name-to-node map.
func (b *Binder) Compiled(device string) (engine.CompiledGraph, map[string]engine.Port, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cg, ok := b.compiled[device]
	if !ok {
		return nil, nil, Errorf(KindInternal, "model %s is not loaded on %s", b.cfg.Name, device)
	}
	nodes := make(map[string]engine.Port, len(b.nodes[device]))
	for k, v := range b.nodes[device] {
		nodes[k] = v
	}
	return cg, nodes, nil
}

// Options returns the options applied for device.
func (b *Binder) Options(device string) DeviceOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := DeviceOptions{}
	for k, v := range b.options[device] {
		out[k] = v
	}
	return out
}

// Close releases compiled graphs and the engine core. Instances must be
// closed first.
func (b *Binder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	for device, cg := range b.compiled {
		if err := engine.Guard(cg.Close); err != nil {
			errs = append(errs, wrapErr(KindInternal, err, "release %s graph", device))
		}
		delete(b.compiled, device)
	}
	if err := engine.Guard(b.core.Close); err != nil {
		errs = append(errs, wrapErr(KindInternal, err, "release engine"))
	}
	return errors.Join(errs...)
}

func portsByName(ports []engine.Port) map[string]engine.Port {
	m := make(map[string]engine.Port, len(ports))
	for _, p := range ports {
		m[p.Name] = p
	}
	return m
}
