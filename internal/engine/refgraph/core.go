// Package refgraph is a small pure-Go engine that executes YAML-described
// graphs on the CPU. It backs tests and smoke deployments where no native
// runtime is installed.
//
// An artifact declares inputs and, per output, one op:
//
//	inputs:
//	  - {name: X, datatype: FP32, dims: [-1, 2]}
//	outputs:
//	  - {name: Y, datatype: FP32, dims: [-1, 3], op: matmul, from: [X], weights: [1,0,0, 0,1,0]}
//
// Matmul rows are split across CPU_THREADS_NUM goroutines. When that is unset
// or 0, CPU_THROUGHPUT_STREAMS caps the split instead, and the AUTO and NUMA
// stream modes use every logical CPU. ENFORCE_BF16 and CPU_BIND_THREAD are
// validated and reported by Describe but change nothing: kernels always run
// in FP32 on unpinned goroutines.
package refgraph

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"

	"golang.org/x/sys/cpu"

	"tensord/internal/engine"
)

// Option keys understood by SetProperty.
const (
	KeyThreads    = "CPU_THREADS_NUM"
	KeyBF16       = "ENFORCE_BF16"
	KeyBindThread = "CPU_BIND_THREAD"
	KeyStreams    = "CPU_THROUGHPUT_STREAMS"
)

// Core is the refgraph engine root. It is safe for concurrent use.
type Core struct {
	mu         sync.Mutex
	props      map[string]map[string]string
	extensions []string
}

// New returns an empty engine core.
func New() *Core {
	return &Core{props: make(map[string]map[string]string)}
}

func (c *Core) DefaultArtifact() string { return DefaultArtifact }

func (c *Core) ReadModel(path string) (engine.Graph, error) {
	return ParseFile(path)
}

// AddExtension records a custom-op library. The reference engine has no
// loadable kernels, so only the file's presence is checked.
func (c *Core) AddExtension(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("extension: %w", err)
	}
	c.mu.Lock()
	c.extensions = append(c.extensions, path)
	c.mu.Unlock()
	return nil
}

func (c *Core) SetProperty(device string, options map[string]string) error {
	if device != engine.DeviceCPU {
		return fmt.Errorf("unsupported device %q", device)
	}
	for k, v := range options {
		switch k {
		case KeyThreads:
			if n, err := strconv.Atoi(v); err != nil || n < 0 {
				return fmt.Errorf("%s: invalid value %q", k, v)
			}
		case KeyStreams:
			if streamThreads(v) < 0 {
				return fmt.Errorf("%s: invalid value %q", k, v)
			}
		case KeyBF16, KeyBindThread:
		default:
			return fmt.Errorf("unsupported property %q", k)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dst := c.props[device]
	if dst == nil {
		dst = make(map[string]string)
		c.props[device] = dst
	}
	for k, v := range options {
		dst[k] = v
	}
	return nil
}

func (c *Core) Compile(g engine.Graph, device string) (engine.CompiledGraph, error) {
	if device != engine.DeviceCPU {
		return nil, fmt.Errorf("unsupported device %q", device)
	}
	rg, ok := g.(*Graph)
	if !ok {
		return nil, fmt.Errorf("graph %T was not produced by this engine", g)
	}
	c.mu.Lock()
	threads := 1
	if n, _ := strconv.Atoi(c.props[device][KeyThreads]); n > 0 {
		threads = n
	} else if n := streamThreads(c.props[device][KeyStreams]); n > 0 {
		threads = n
	}
	c.mu.Unlock()
	return &compiled{
		inputs:  rg.Inputs(),
		outputs: rg.Outputs(),
		ops:     rg.ops,
		threads: threads,
	}, nil
}

func (c *Core) Close() error { return nil }

// streamThreads maps a CPU_THROUGHPUT_STREAMS value to a goroutine count.
// It returns 0 for an empty value and -1 for an invalid one.
func streamThreads(v string) int {
	switch v {
	case "":
		return 0
	case "CPU_THROUGHPUT_AUTO", "CPU_THROUGHPUT_NUMA":
		return runtime.NumCPU()
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// Properties returns a copy of the options applied to device.
func (c *Core) Properties(device string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.props[device]))
	for k, v := range c.props[device] {
		out[k] = v
	}
	return out
}

// Describe merges Info with the properties applied to device.
func (c *Core) Describe(device string) map[string]string {
	info := Info()
	out := c.Properties(device)
	out["device"] = device
	out["arch"] = info.Arch
	out["logical_cpus"] = strconv.Itoa(info.LogicalCPU)
	out["avx2"] = strconv.FormatBool(info.AVX2)
	out["avx512f"] = strconv.FormatBool(info.AVX512F)
	out["bf16"] = strconv.FormatBool(info.BF16)
	out["asimd"] = strconv.FormatBool(info.ASIMD)
	c.mu.Lock()
	if n := len(c.extensions); n > 0 {
		out["extensions"] = strconv.Itoa(n)
	}
	c.mu.Unlock()
	return out
}

// DeviceInfo describes the host CPU as seen by the engine.
type DeviceInfo struct {
	Device     string `json:"device"`
	Arch       string `json:"arch"`
	LogicalCPU int    `json:"logical_cpus"`
	AVX2       bool   `json:"avx2"`
	AVX512F    bool   `json:"avx512f"`
	BF16       bool   `json:"bf16"`
	ASIMD      bool   `json:"asimd"`
}

// Info reports the CPU features of the current host.
func Info() DeviceInfo {
	return DeviceInfo{
		Device:     engine.DeviceCPU,
		Arch:       runtime.GOARCH,
		LogicalCPU: runtime.NumCPU(),
		AVX2:       cpu.X86.HasAVX2,
		AVX512F:    cpu.X86.HasAVX512F,
		BF16:       cpu.X86.HasAVX512BF16,
		ASIMD:      cpu.ARM64.HasASIMD,
	}
}

type compiled struct {
	inputs  []engine.Port
	outputs []engine.Port
	ops     map[string]op
	threads int
}

func (c *compiled) Inputs() []engine.Port  { return clonePorts(c.inputs) }
func (c *compiled) Outputs() []engine.Port { return clonePorts(c.outputs) }
func (c *compiled) Close() error           { return nil }

func (c *compiled) NewRequest() (engine.Request, error) {
	r := &request{
		graph:   c,
		inputs:  make(map[string]*tensor, len(c.inputs)),
		outputs: make(map[string]*tensor, len(c.outputs)),
	}
	for _, p := range c.inputs {
		shape := p.Shape.Clone()
		for i := range shape {
			if shape[i] < 0 {
				shape[i] = 1
			}
		}
		r.inputs[p.Name] = newTensor(p.DataType, shape)
	}
	return r, nil
}
