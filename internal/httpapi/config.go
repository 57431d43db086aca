package httpapi

import "time"

// DefaultMaxBodyBytes bounds an /infer body when no limit is configured.
// JSON spends roughly ten bytes per FP32 element, so 64 MiB carries a few
// million elements; raw_data halves that cost.
const DefaultMaxBodyBytes int64 = 64 << 20

var maxBodyBytes = DefaultMaxBodyBytes

// SetMaxBodyBytes sets the /infer body limit. Non-positive values restore
// DefaultMaxBodyBytes.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = DefaultMaxBodyBytes
	}
	maxBodyBytes = n
}

// inferTimeout caps a single inference on top of the client's context.
// Zero disables it.
var inferTimeout time.Duration

// SetInferTimeoutSeconds sets inferTimeout; negative values disable it.
func SetInferTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	inferTimeout = time.Duration(sec) * time.Second
}

// CORS is opt-in. Empty method or header lists fall back to what the
// v2 routes need.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

var (
	defaultCORSMethods = []string{"GET", "POST", "OPTIONS"}
	defaultCORSHeaders = []string{"Content-Type", "X-Request-ID", "X-Log-Level"}
)

// SetCORSOptions configures the CORS middleware and the /events origin check.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	if len(headers) == 0 {
		headers = defaultCORSHeaders
	}
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
