package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/api/handlers"
	"github.com/clipforge/clipforge/pkg/cleanup"
	"github.com/clipforge/clipforge/pkg/diskspace"
	"github.com/clipforge/clipforge/pkg/governor"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/pushbus"
	"github.com/clipforge/clipforge/pkg/session"
	"github.com/clipforge/clipforge/pkg/store"
	"github.com/clipforge/clipforge/pkg/task"
)

// Deps bundles everything the REST surface needs. Optional fields may be
// nil; the routes that need them are simply not mounted.
type Deps struct {
	Sessions *session.Manager
	Tasks    *task.Engine
	Disk     *diskspace.Manager
	Cleanup  *cleanup.Engine
	Governor *governor.Governor
	Store    *store.GORMStore
	Metrics  *metrics.Metrics
	Hub      *pushbus.Hub
	Resolver *pushbus.Resolver

	// Version is reported by the health endpoint.
	Version string

	// MaxChunkBody caps a single chunk request body.
	MaxChunkBody int64
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	upload := handlers.NewUploadHandler(deps.Sessions, deps.Tasks, deps.Disk, deps.Resolver, deps.Metrics, deps.Governor, deps.MaxChunkBody)
	conversion := handlers.NewConversionHandler(deps.Tasks, deps.Cleanup, deps.Governor)
	tasks := handlers.NewTaskHandler(deps.Tasks)
	disk := handlers.NewDiskSpaceHandler(deps.Disk, deps.Store)
	health := handlers.NewHealthHandler(deps.Store, deps.Version)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", health.Check)

		r.Route("/upload/chunked", func(r chi.Router) {
			r.Post("/init", upload.Init)
			r.Post("/chunk", upload.Chunk)
			r.Get("/status/{uploadId}", upload.Status)
			r.Post("/complete/{uploadId}", upload.Complete)
		})

		r.Route("/conversion", func(r chi.Router) {
			r.Get("/status/{taskId}", conversion.Status)
			r.Post("/cancel/{taskId}", conversion.Cancel)
			r.Get("/download/{taskId}", conversion.Download)
		})

		r.Route("/task", func(r chi.Router) {
			r.Get("/list", tasks.List)
			r.Delete("/{taskId}", tasks.Delete)
		})

		r.Route("/diskspace", func(r chi.Router) {
			r.Post("/check-space", disk.CheckSpace)
			r.Get("/config", disk.GetConfig)
			r.Post("/config", disk.SetConfig)
			r.Get("/usage", disk.Usage)
		})

		if deps.Cleanup != nil {
			cl := handlers.NewCleanupHandler(deps.Cleanup)
			r.Route("/cleanup", func(r chi.Router) {
				r.Post("/cleanup/{type}", cl.Trigger)
				r.Post("/retention/{taskId}/extend", cl.ExtendRetention)
			})
		}

		if deps.Governor != nil {
			settings := handlers.NewSettingsHandler(deps.Governor)
			r.Route("/settings", func(r chi.Router) {
				r.Get("/concurrency", settings.GetConcurrency)
				r.Post("/concurrency", settings.SetConcurrency)
			})
		}
	})

	if deps.Hub != nil {
		ws := pushbus.NewWSHandler(deps.Hub, deps.Resolver, deps.Tasks)
		r.Handle("/conversionHub", ws)
	}

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	return r
}

// requestLogger logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}

// metricsMiddleware records per-route request counts and latency.
// Routes are labeled by chi pattern, not raw path, to keep cardinality
// bounded.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}
