//go:build !onnx

package onnx

import "tensord/internal/engine"

// Built reports whether this binary links ONNX Runtime.
const Built = false

// New fails fast: ONNX Runtime is not available in this build.
func New(libraryPath string) (engine.Core, error) {
	return nil, ErrUnavailable
}
