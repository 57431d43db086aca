package backend

import (
	"errors"
	"fmt"

	"tensord/internal/engine"
)

// Kind classifies a backend failure.
type Kind string

const (
	KindArtifactNotFound        Kind = "ArtifactNotFound"
	KindArtifactParse           Kind = "ArtifactParseError"
	KindDoubleRead              Kind = "DoubleReadError"
	KindInvalidConfig           Kind = "InvalidConfig"
	KindUnsupportedParameter    Kind = "UnsupportedParameter"
	KindEngineConfig            Kind = "EngineConfigError"
	KindCompilation             Kind = "CompilationError"
	KindDoubleLoad              Kind = "DoubleLoadError"
	KindBatchSizeMismatch       Kind = "BatchSizeMismatch"
	KindBatchSizeExceeded       Kind = "BatchSizeExceeded"
	KindUnsupportedMemoryKind   Kind = "UnsupportedMemoryKind"
	KindSizeMismatch            Kind = "SizeMismatch"
	KindShapeMismatch           Kind = "ShapeMismatch"
	KindInferenceExecution      Kind = "InferenceExecutionError"
	KindOutputBatchSizeMismatch Kind = "OutputBatchSizeMismatch"
	KindInternal                Kind = "InternalError"
)

// Error is the single error type returned by this package.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrapErr attaches kind and context to a collaborator failure. Engine panics
// always become InternalError regardless of the requested kind.
func wrapErr(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var pe *engine.PanicError
	if errors.As(err, &pe) {
		kind = KindInternal
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" when err is not a backend error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// IsConstruction reports whether err belongs to model or instance construction,
// which is fatal for the model rather than scoped to one call.
func IsConstruction(err error) bool {
	switch KindOf(err) {
	case KindArtifactNotFound, KindArtifactParse, KindDoubleRead, KindInvalidConfig,
		KindUnsupportedParameter, KindEngineConfig, KindCompilation, KindDoubleLoad:
		return true
	}
	return false
}
