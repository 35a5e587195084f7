package main

import (
	"github.com/vexscan/api/internal/infra/http/handler"
	"github.com/vexscan/api/internal/infra/http/routes"
	"github.com/vexscan/api/internal/infra/postgres"
	"github.com/vexscan/api/internal/infra/redis"
	"github.com/vexscan/api/internal/infra/storage"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/validator"
)

// HandlerDeps contains dependencies needed to create handlers.
type HandlerDeps struct {
	Log         *logger.Logger
	Validator   *validator.Validator
	DB          *postgres.DB
	RedisClient *redis.Client
	Blobs       *storage.S3Store
	Services    *Services
}

// NewHandlers creates all HTTP handlers.
func NewHandlers(deps *HandlerDeps) routes.Handlers {
	svc := deps.Services
	return routes.Handlers{
		Health: handler.NewHealthHandler(
			handler.WithDatabase(deps.DB),
			handler.WithRedis(deps.RedisClient),
			handler.WithStorage(deps.Blobs),
		),
		Finding:  handler.NewFindingHandler(svc.Finding, svc.FindingStatus, deps.Validator, deps.Log),
		Evidence: handler.NewEvidenceHandler(svc.Evidence, deps.Validator, deps.Log),
	}
}
