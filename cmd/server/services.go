package main

import (
	"fmt"

	"github.com/vexscan/api/internal/app"
	"github.com/vexscan/api/internal/config"
	"github.com/vexscan/api/internal/infra/postgres"
	"github.com/vexscan/api/internal/infra/redis"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/logger"
)

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config      *config.Config
	Log         *logger.Logger
	DB          *postgres.DB
	Repos       *Repositories
	RedisClient *redis.Client
	Blobs       app.BlobStore
	Purge       app.PurgeQueue
}

// Services holds the application services.
type Services struct {
	Authorization *app.AuthorizationService
	Finding       *app.FindingService
	FindingStatus *app.FindingStatusService
	Evidence      *app.EvidenceService
}

// NewServices creates all services.
func NewServices(deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	membershipCache, err := redis.NewMembershipCache(deps.RedisClient, cfg.Cache.MembershipTTL)
	if err != nil {
		return nil, fmt.Errorf("membership cache: %w", err)
	}

	settings := app.EvidenceSettings{
		Policy:            evidencePolicy(&cfg.Evidence),
		UploadConcurrency: cfg.Evidence.UploadConcurrency,
	}

	return &Services{
		Authorization: app.NewAuthorizationService(repos.Access, repos.Finding, repos.Evidence, membershipCache, log),
		Finding:       app.NewFindingService(repos.Finding, repos.StatusChange, repos.Comment, repos.Evidence, log),
		FindingStatus: app.NewFindingStatusService(deps.DB, repos.Finding, repos.StatusChange, repos.Evidence, deps.Blobs, settings, log),
		Evidence:      app.NewEvidenceService(deps.DB, repos.Finding, repos.StatusChange, repos.Evidence, deps.Blobs, deps.Purge, settings, log),
	}, nil
}

// evidencePolicy overlays configured limits on the built-in policy. Blocked
// extensions always apply.
func evidencePolicy(cfg *config.EvidenceConfig) evidence.Policy {
	p := evidence.DefaultPolicy()
	if cfg.MaxFilesPerUpload > 0 {
		p.MaxFiles = cfg.MaxFilesPerUpload
	}
	if cfg.MaxFileSize > 0 {
		p.MaxFileSize = cfg.MaxFileSize
	}
	if len(cfg.AllowedExtensions) > 0 {
		p.AllowedExtensions = evidence.NormalizeExtensions(cfg.AllowedExtensions)
	}
	if len(cfg.AllowedMIMETypes) > 0 {
		p.AllowedMIMETypes = evidence.NormalizeMIMETypes(cfg.AllowedMIMETypes)
	}
	return p
}
