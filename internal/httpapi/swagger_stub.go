//go:build !swagger

package httpapi

import "github.com/go-chi/chi/v5"

// SwaggerEnabled reports whether the binary serves /swagger/.
const SwaggerEnabled = false

// MountSwagger does nothing without the swagger build tag.
func MountSwagger(chi.Router) {}
