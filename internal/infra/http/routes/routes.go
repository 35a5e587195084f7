// Package routes registers the API's HTTP routes.
package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	infrahttp "github.com/vexscan/api/internal/infra/http"
	"github.com/vexscan/api/internal/infra/http/handler"
	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/pkg/logger"
)

// Middleware is an alias to the http package's Middleware type.
type Middleware = infrahttp.Middleware

// Router is an alias to the http package's Router interface.
type Router = infrahttp.Router

// Handlers holds the HTTP handlers to mount.
type Handlers struct {
	Health   *handler.HealthHandler
	Finding  *handler.FindingHandler
	Evidence *handler.EvidenceHandler
}

// Dependencies are the cross-cutting pieces routes are wrapped with.
type Dependencies struct {
	// Auth authenticates the bearer token.
	Auth Middleware
	// Access resolves per-request access decisions.
	Access middleware.Decider
	// UploadLimit throttles uploads per user. Optional.
	UploadLimit Middleware
	// Timeout bounds JSON endpoints. Optional.
	Timeout Middleware
	Logger  *logger.Logger
}

// Register mounts every route.
func Register(router Router, h Handlers, deps Dependencies) {
	if deps.UploadLimit == nil {
		deps.UploadLimit = passthrough
	}
	if deps.Timeout == nil {
		deps.Timeout = passthrough
	}

	registerHealthRoutes(router, h.Health)

	router.Group("/api/v1", func(r Router) {
		registerFindingRoutes(r, h.Finding, deps)
		registerEvidenceRoutes(r, h.Evidence, deps)
	}, deps.Auth)
}

func passthrough(next http.Handler) http.Handler { return next }

func registerHealthRoutes(router Router, h *handler.HealthHandler) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.Handle("/metrics", promhttp.Handler())
}

// registerFindingRoutes mounts /findings. Every route decides access once,
// through the workspace of the finding in the path.
func registerFindingRoutes(r Router, h *handler.FindingHandler, deps Dependencies) {
	finding := Middleware(middleware.RequireFindingAccess(deps.Access, "id", deps.Logger))

	r.GET("/findings", h.List, deps.Timeout,
		middleware.RequireWorkspaceAccess(deps.Access, "workspace_id", deps.Logger))

	r.Group("/findings/{id}", func(r Router) {
		r.GET("/", h.Get, deps.Timeout)
		r.PATCH("/", h.Update, deps.Timeout)
		r.PUT("/status", h.ChangeStatus, deps.Timeout)
		r.GET("/status-history", h.History, deps.Timeout)
		r.GET("/history", h.Timeline, deps.Timeout)
		r.POST("/comments", h.AddComment, deps.Timeout)
		r.POST("/complete-with-evidence", h.CompleteWithEvidence, deps.UploadLimit)
	}, finding)
}

// registerEvidenceRoutes mounts /evidence. Routes under findings/{id} decide
// through the finding; the rest through the bundle.
func registerEvidenceRoutes(r Router, h *handler.EvidenceHandler, deps Dependencies) {
	finding := Middleware(middleware.RequireFindingAccess(deps.Access, "id", deps.Logger))
	bundle := Middleware(middleware.RequireEvidenceAccess(deps.Access, "evidence_id", deps.Logger))

	r.Group("/evidence", func(r Router) {
		r.GET("/formats", h.Formats)

		r.Group("/findings/{id}", func(r Router) {
			r.GET("/", h.ListForFinding, deps.Timeout)
			r.GET("/grouped", h.ListGrouped, deps.Timeout)
			r.POST("/upload", h.Upload, deps.UploadLimit)
			r.DELETE("/{evidence_id}", h.Delete, deps.Timeout)
		}, finding)

		r.Group("/{evidence_id}", func(r Router) {
			r.GET("/", h.Get, deps.Timeout)
			r.PATCH("/", h.Update, deps.Timeout)
			r.GET("/attachments/{file_hash}/download", h.Download)
			r.DELETE("/attachments/{file_hash}", h.RemoveFile, deps.Timeout)
		}, bundle)
	})
}
