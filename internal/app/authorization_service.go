package app

import (
	"context"
	"errors"

	"github.com/vexscan/api/internal/metrics"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
)

// AuthorizationService computes the per-request access decision for a
// workspace. Membership lookups go through the cache when one is set.
type AuthorizationService struct {
	accessRepo   access.Repository
	findingRepo  finding.Repository
	evidenceRepo evidence.Repository
	cache        MembershipCache
	logger       *logger.Logger
}

// NewAuthorizationService creates a new AuthorizationService. cache may be nil.
func NewAuthorizationService(
	accessRepo access.Repository,
	findingRepo finding.Repository,
	evidenceRepo evidence.Repository,
	cache MembershipCache,
	log *logger.Logger,
) *AuthorizationService {
	return &AuthorizationService{
		accessRepo:   accessRepo,
		findingRepo:  findingRepo,
		evidenceRepo: evidenceRepo,
		cache:        cache,
		logger:       log.With("service", "authorization"),
	}
}

// Decide evaluates whether principal may act inside workspaceID. A denied
// decision is returned without error; callers check Decision.Permits.
func (s *AuthorizationService) Decide(ctx context.Context, principal access.Principal, workspaceID shared.ID) (access.Decision, error) {
	user, err := s.accessRepo.GetUser(ctx, principal.UserID)
	if err != nil {
		return access.Decision{}, err
	}

	ws, err := s.accessRepo.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return access.Decision{}, err
	}

	var membership *access.Membership
	if !(user.Active && user.SuperAdmin) {
		membership, err = s.membership(ctx, ws.OrganizationID, user.ID)
		if err != nil {
			return access.Decision{}, err
		}
	}

	d := access.Decide(*user, *ws, membership)
	if d.Allowed {
		metrics.AuthzDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.AuthzDecisionsTotal.WithLabelValues("denied").Inc()
		s.logger.Debug("access denied",
			"user_id", user.ID.String(),
			"workspace_id", workspaceID.String(),
			"user_active", user.Active,
		)
	}
	return d, nil
}

// DecideForFinding resolves the finding's workspace and decides on it.
func (s *AuthorizationService) DecideForFinding(ctx context.Context, principal access.Principal, findingID shared.ID) (access.Decision, error) {
	wsID, err := s.findingRepo.WorkspaceOf(ctx, findingID)
	if err != nil {
		return access.Decision{}, err
	}
	return s.Decide(ctx, principal, wsID)
}

// DecideForEvidence resolves evidence to finding to workspace and decides on
// it. Soft-deleted evidence is reported as not found.
func (s *AuthorizationService) DecideForEvidence(ctx context.Context, principal access.Principal, evidenceID shared.ID) (access.Decision, error) {
	findingID, err := s.evidenceRepo.FindingOf(ctx, evidenceID)
	if err != nil {
		return access.Decision{}, err
	}
	return s.DecideForFinding(ctx, principal, findingID)
}

func (s *AuthorizationService) membership(ctx context.Context, orgID, userID shared.ID) (*access.Membership, error) {
	load := func(ctx context.Context) (*access.Membership, error) {
		m, err := s.accessRepo.GetMembership(ctx, orgID, userID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return m, err
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.GetOrLoad(ctx, orgID, userID, load)
}

// RequirePermits returns access.ErrDenied unless d grants workspaceID.
func RequirePermits(d access.Decision, workspaceID shared.ID) error {
	if !d.Permits(workspaceID) {
		return access.ErrDenied
	}
	return nil
}
