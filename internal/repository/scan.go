// Package repository discovers models laid out as
//
//	<root>/<model>/config.{yaml,yml,json,toml}
//	<root>/<model>/<version>/<artifact>
//
// Version directories are positive integers. The highest one is served unless
// the config pins a version.
package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"

	"tensord/internal/backend"
	"tensord/internal/common/fsutil"
	"tensord/internal/config"
)

// Model is one discovered model directory.
type Model struct {
	Name       string
	Dir        string
	ConfigPath string
	Versions   []int64
	Config     backend.ModelConfig
}

// Latest is the highest version on disk.
func (m Model) Latest() int64 {
	if len(m.Versions) == 0 {
		return 0
	}
	return m.Versions[len(m.Versions)-1]
}

// Served is the version that gets loaded: the config's pinned version when
// it sets one, else Latest.
func (m Model) Served() int64 {
	if m.Config.Version > 0 {
		return m.Config.Version
	}
	return m.Latest()
}

// Scan lists every model under root, sorted by name. Directories without a
// config file are ignored; models that fail to load are left out and their
// errors joined into the returned error.
func Scan(root string) ([]Model, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var (
		models []Model
		errs   []error
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(abs, e.Name())
		if configPath(dir) == "" {
			continue
		}
		m, err := LoadModel(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, errors.Join(errs...)
}

// LoadModel reads one model directory.
func LoadModel(dir string) (Model, error) {
	name := filepath.Base(dir)
	p := configPath(dir)
	if p == "" {
		return Model{}, fmt.Errorf("model %s: no config file in %s", name, dir)
	}
	var cfg backend.ModelConfig
	if err := config.LoadInto(p, &cfg); err != nil {
		return Model{}, fmt.Errorf("model %s: %w", name, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if cfg.Name != name {
		return Model{}, fmt.Errorf("model %s: config names the model %q", name, cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return Model{}, err
	}
	versions, err := listVersions(dir)
	if err != nil {
		return Model{}, fmt.Errorf("model %s: %w", name, err)
	}
	if len(versions) == 0 {
		return Model{}, fmt.Errorf("model %s: no version directories", name)
	}
	if cfg.Version > 0 && !slices.Contains(versions, cfg.Version) {
		return Model{}, fmt.Errorf("model %s: pinned version %d not found in %v", name, cfg.Version, versions)
	}
	return Model{Name: name, Dir: dir, ConfigPath: p, Versions: versions, Config: cfg}, nil
}

func configPath(dir string) string {
	names := make([]string, len(config.Extensions))
	for i, ext := range config.Extensions {
		names[i] = "config" + ext
	}
	return fsutil.FirstFile(dir, names...)
}

func listVersions(dir string) ([]int64, error) {
	subs, err := fsutil.SubDirs(dir)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, name := range subs {
		v, err := strconv.ParseInt(name, 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
