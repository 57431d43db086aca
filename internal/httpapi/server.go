package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tensord/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.ModelSummary
	Metadata(name string) (types.ModelMetadata, error)
	Load(ctx context.Context, name string) error
	Unload(name string) error
	Infer(ctx context.Context, model string, req types.InferRequest) (types.InferResponse, error)
	Status() types.StatusResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	// Metrics run inline on the matched route so the pattern label is known.
	r.Group(func(r chi.Router) {
		r.Use(MetricsMiddleware)

		r.Get("/v2/health/live", live)
		r.Get("/v2/health/ready", ready(svc))
		r.Get("/healthz", live)
		r.Get("/readyz", ready(svc))

		r.Get("/v2/models", listModels(svc))
		r.Route("/v2/models/{name}", func(r chi.Router) {
			r.Get("/", modelMetadata(svc))
			r.Post("/load", loadModel(svc))
			r.Post("/unload", unloadModel(svc))
			r.Post("/infer", infer(svc))
		})

		r.Get("/status", status(svc))
	})

	if eventSource != nil {
		r.Get("/v2/events", serveEvents(eventSource))
	}

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func ready(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	}
}

// listModels godoc
// @Summary      List repository models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /v2/models [get]
func listModels(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	}
}

// modelMetadata godoc
// @Summary      Model metadata
// @Tags         models
// @Produce      json
// @Param        name  path      string  true  "model name"
// @Success      200   {object}  types.ModelMetadata
// @Failure      404   {object}  types.ErrorResponse
// @Router       /v2/models/{name} [get]
func modelMetadata(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md, err := svc.Metadata(chi.URLParam(r, "name"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, md)
	}
}

// loadModel godoc
// @Summary      Load a model
// @Tags         models
// @Produce      json
// @Param        name  path      string  true  "model name"
// @Success      200   {object}  types.ModelMetadata
// @Failure      404   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Failure      500   {object}  types.ErrorResponse
// @Router       /v2/models/{name}/load [post]
func loadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		start := time.Now()
		lvl := requestLogLevel(r)
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := svc.Load(joinedCtx, name); err != nil {
			logRequestEnd(r, lvl, name, writeServiceError(w, err), start, err)
			return
		}
		md, err := svc.Metadata(name)
		if err != nil {
			logRequestEnd(r, lvl, name, writeServiceError(w, err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, md)
		logRequestEnd(r, lvl, name, http.StatusOK, start, nil)
	}
}

// unloadModel godoc
// @Summary      Unload a model
// @Tags         models
// @Produce      json
// @Param        name  path      string  true  "model name"
// @Success      200   {object}  types.ModelSummary
// @Failure      404   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Router       /v2/models/{name}/unload [post]
func unloadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		start := time.Now()
		lvl := requestLogLevel(r)
		if err := svc.Unload(name); err != nil {
			logRequestEnd(r, lvl, name, writeServiceError(w, err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelSummary{Name: name, State: "unavailable"})
		logRequestEnd(r, lvl, name, http.StatusOK, start, nil)
	}
}

// infer godoc
// @Summary      Run inference
// @Description  Requests to the same model are batched together up to the model's max_batch_size.
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        name  path      string              true  "model name"
// @Param        body  body      types.InferRequest  true  "input tensors"
// @Success      200   {object}  types.InferResponse
// @Failure      400   {object}  types.ErrorResponse
// @Failure      404   {object}  types.ErrorResponse
// @Failure      413   {object}  types.ErrorResponse
// @Failure      429   {object}  types.ErrorResponse
// @Failure      503   {object}  types.ErrorResponse
// @Router       /v2/models/{name}/infer [post]
func infer(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := chi.URLParam(r, "name")
		// Content-Type check
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		if r.ContentLength > maxBodyBytes {
			writeBodyTooLarge(w)
			return
		}
		// Chunked bodies have no length; the reader enforces the limit.
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.InferRequest
		if err := decodeJSON(r.Body, &req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeBodyTooLarge(w)
				return
			}
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.Inputs) == 0 {
			writeJSONError(w, http.StatusBadRequest, "inputs are required")
			return
		}
		observeInferBody(model, r.ContentLength)

		start := time.Now()
		lvl := requestLogLevel(r)
		if lvl >= LevelDebug && zlog != nil {
			z := zlog.Debug().Str("model", model).Int("inputs", len(req.Inputs))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("infer start")
		}

		// Join server base context with request context so shutdown cancels work too.
		joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		ctx := joinedCtx
		if inferTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(joinedCtx, inferTimeout)
			defer tcancel()
		}

		resp, err := svc.Infer(ctx, model, req)
		if err != nil {
			// If context was canceled (client disconnect or shutdown), just return.
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				logRequestEnd(r, lvl, model, 499, start, err)
				return
			}
			logRequestEnd(r, lvl, model, writeServiceError(w, err), start, err)
			return
		}
		body := writeJSON(w, http.StatusOK, resp)
		if lvl >= LevelDebug && body != nil {
			_, _ = (&loggingLineWriter{}).Write(body)
		}
		logRequestEnd(r, lvl, model, http.StatusOK, start, nil)
	}
}

func writeBodyTooLarge(w http.ResponseWriter) {
	IncrementBackpressure("body_size")
	writeJSONError(w, http.StatusRequestEntityTooLarge,
		"request body exceeds "+strconv.FormatInt(maxBodyBytes, 10)+" bytes")
}

// status godoc
// @Summary      Runtime status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func status(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}
