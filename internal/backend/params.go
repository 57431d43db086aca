package backend

import (
	"sort"
	"strconv"
	"strings"

	"tensord/internal/engine"
)

// Device option keys understood by the CPU device.
const (
	ParamThreads       = "CPU_THREADS_NUM"
	ParamEnforceBF16   = "ENFORCE_BF16"
	ParamBindThread    = "CPU_BIND_THREAD"
	ParamStreams       = "CPU_THROUGHPUT_STREAMS"
	ParamSkipDynBatch  = "SKIP_DYNAMIC_BATCHSIZE"
	ParamBatchPadding  = "ENABLE_BATCH_PADDING"
	ParamReshapeIO     = "RESHAPE_IO_LAYERS"
	ParamExtensionPath = "CPU_EXTENSION_PATH"
)

// Engine-side spellings of enumerated option values.
const (
	ValueYes            = "YES"
	ValueNo             = "NO"
	ValueNUMA           = "NUMA"
	ValueThroughputAuto = "CPU_THROUGHPUT_AUTO"
	ValueThroughputNUMA = "CPU_THROUGHPUT_NUMA"
)

// DeviceOptions is a validated, engine-ready option map for one device.
type DeviceOptions map[string]string

// ModelFlags are the model-level switches carried in the same parameter block.
type ModelFlags struct {
	SkipDynamicBatch bool
	BatchPadding     bool
	ReshapeIO        bool
	ExtensionPath    string
}

func isModelKey(k string) bool {
	switch k {
	case ParamSkipDynBatch, ParamBatchPadding, ParamReshapeIO, ParamExtensionPath:
		return true
	}
	return false
}

// ParseDeviceOptions turns free-form parameters into options for device.
// Keys and values are case-insensitive; empty values are ignored. Devices other
// than CPU take no options.
func ParseDeviceOptions(device string, params map[string]string) (DeviceOptions, error) {
	out := DeviceOptions{}
	if device != engine.DeviceCPU {
		return out, nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, raw := range keys {
		key := strings.ToUpper(strings.TrimSpace(raw))
		val := strings.ToLower(strings.TrimSpace(params[raw]))
		if isModelKey(key) {
			continue
		}
		if val == "" {
			continue
		}
		switch key {
		case ParamThreads:
			if !isNonNegativeInt(val) {
				return nil, Errorf(KindInvalidConfig, "%s: expected a non-negative integer, got %q", key, params[raw])
			}
			out[key] = val
		case ParamEnforceBF16:
			switch val {
			case "yes":
				out[key] = ValueYes
			case "no":
				out[key] = ValueNo
			default:
				return nil, Errorf(KindInvalidConfig, "%s: expected one of {yes, no}, got %q", key, params[raw])
			}
		case ParamBindThread:
			switch val {
			case "yes":
				out[key] = ValueYes
			case "numa":
				out[key] = ValueNUMA
			case "no":
				out[key] = ValueNo
			default:
				return nil, Errorf(KindInvalidConfig, "%s: expected one of {yes, numa, no}, got %q", key, params[raw])
			}
		case ParamStreams:
			switch {
			case val == "auto":
				out[key] = ValueThroughputAuto
			case val == "numa":
				out[key] = ValueThroughputNUMA
			case isNonNegativeInt(val):
				out[key] = val
			default:
				return nil, Errorf(KindInvalidConfig, "%s: expected a non-negative integer or one of {auto, numa}, got %q", key, params[raw])
			}
		default:
			return nil, Errorf(KindUnsupportedParameter, "parameter %q is not supported on %s", raw, device)
		}
	}
	return out, nil
}

// ParseModelFlags reads the model-level switches; a flag is on only for "yes".
func ParseModelFlags(params map[string]string) ModelFlags {
	var f ModelFlags
	for raw, v := range params {
		key := strings.ToUpper(strings.TrimSpace(raw))
		yes := strings.EqualFold(strings.TrimSpace(v), "yes")
		switch key {
		case ParamSkipDynBatch:
			f.SkipDynamicBatch = yes
		case ParamBatchPadding:
			f.BatchPadding = yes
		case ParamReshapeIO:
			f.ReshapeIO = yes
		case ParamExtensionPath:
			f.ExtensionPath = strings.TrimSpace(v)
		}
	}
	return f
}

func isNonNegativeInt(s string) bool {
	_, err := strconv.ParseUint(s, 10, 63)
	return err == nil
}
