package manager

import (
	"time"

	"github.com/rs/zerolog"

	"tensord/internal/engine"
	"tensord/internal/engine/refgraph"
	"tensord/internal/repository"
	"tensord/internal/stats"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 10 * time.Second
	defaultEngine        = "refgraph"
)

// CoreFactory creates the engine core owned by one model.
type CoreFactory func() (engine.Core, error)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Models known up front, typically the result of repository.Scan.
	Models []repository.Model
	// Repository is consulted for models missing from Models.
	Repository string
	// Engine names what NewCore builds. Both default to the reference engine.
	Engine  string
	NewCore CoreFactory
	// Store, when set, records execution history next to the Prometheus metrics.
	Store *stats.Store
	// MaxQueueDepth bounds the requests queued per model.
	MaxQueueDepth int
	// MaxWait bounds how long a request waits for a queue slot.
	MaxWait time.Duration
	// DrainTimeout bounds how long Unload waits for queued work.
	DrainTimeout time.Duration
	// MaxLoaded caps loaded models; the least recently used idle model is
	// unloaded to make room. 0 means no cap.
	MaxLoaded int
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		models:     make(map[string]*loadedModel),
		repo:       make(map[string]repository.Model, len(cfg.Models)),
		repoRoot:   cfg.Repository,
		engineName: cfg.Engine,
		newCore:    cfg.NewCore,
		store:      cfg.Store,
		maxLoaded:  cfg.MaxLoaded,
		publisher:  cfg.Publisher,
		log:        cfg.Logger.With().Str("component", "manager").Logger(),
		startTime:  time.Now(),
	}
	for _, mdl := range cfg.Models {
		m.repo[mdl.Name] = mdl
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	if m.newCore == nil {
		m.newCore = func() (engine.Core, error) { return refgraph.New(), nil }
		if m.engineName == "" {
			m.engineName = defaultEngine
		}
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}
