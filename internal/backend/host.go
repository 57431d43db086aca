package backend

import (
	"time"

	"tensord/internal/engine"
)

// MemoryKind is where a request buffer lives.
type MemoryKind int

const (
	MemoryCPU MemoryKind = iota
	MemoryCPUPinned
	MemoryGPU
)

func (k MemoryKind) String() string {
	switch k {
	case MemoryCPU:
		return "CPU"
	case MemoryCPUPinned:
		return "CPU_PINNED"
	case MemoryGPU:
		return "GPU"
	}
	return "UNKNOWN"
}

// HostAccessible reports whether the core can read the buffer directly.
func (k MemoryKind) HostAccessible() bool { return k == MemoryCPU || k == MemoryCPUPinned }

// Buffer is one contiguous piece of a request input.
type Buffer struct {
	Data     []byte
	Memory   MemoryKind
	DeviceID int64
}

// Input is a request input as supplied by the host. The data may be split
// across several buffers.
type Input struct {
	Name     string
	DataType engine.DataType
	Shape    engine.Shape
	Buffers  []Buffer
}

// ByteLen is the total length of all buffers.
func (in *Input) ByteLen() int {
	n := 0
	for _, b := range in.Buffers {
		n += len(b.Data)
	}
	return n
}

// Request is a host-owned inference request. Release hands it back to the
// host and must be called exactly once.
type Request interface {
	ID() string
	InputCount() int
	InputByIndex(i int) (*Input, error)
	Input(name string) (*Input, error)
	OutputRequested(name string) bool
	NewResponse() (Response, error)
	Release()
}

// Response collects outputs for one request. NewOutput returns a host buffer
// of exactly ByteSize(dt, shape) bytes for the core to fill.
type Response interface {
	NewOutput(name string, dt engine.DataType, shape engine.Shape) ([]byte, error)
	Send(err error)
}

// Timestamps brackets one execution call.
type Timestamps struct {
	ExecStart    time.Time
	ComputeStart time.Time
	ComputeEnd   time.Time
	ExecEnd      time.Time
}

// Statistics is the host's statistics facility for one model.
type Statistics interface {
	ReportRequest(instance string, req Request, success bool, ts Timestamps)
	ReportBatch(instance string, batchSize int, ts Timestamps)
}

type nopStatistics struct{}

func (nopStatistics) ReportRequest(string, Request, bool, Timestamps) {}
func (nopStatistics) ReportBatch(string, int, Timestamps)             {}
