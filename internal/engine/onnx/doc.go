// Package onnx adapts ONNX Runtime to the engine boundary.
//
// The real implementation is compiled with `-tags=onnx` and links the ONNX
// Runtime shared library through github.com/yalue/onnxruntime_go. Default
// builds get a stub whose constructor fails, keeping CI free of CGO.
package onnx

import "errors"

// DefaultArtifact is the artifact filename used when a model names none.
const DefaultArtifact = "model.onnx"

// ErrUnavailable is returned when the binary was built without ONNX Runtime.
var ErrUnavailable = errors.New("onnx runtime support not built (missing 'onnx' build tag)")
