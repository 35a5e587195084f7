package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/shared"
)

// AccessRepository reads users, workspaces and organization memberships.
type AccessRepository struct {
	db *DB
}

// NewAccessRepository creates a new AccessRepository.
func NewAccessRepository(db *DB) *AccessRepository {
	return &AccessRepository{db: db}
}

var _ access.Repository = (*AccessRepository)(nil)

// GetUser returns the platform account of a user.
func (r *AccessRepository) GetUser(ctx context.Context, id shared.ID) (*access.User, error) {
	u := access.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, display_name, is_super_admin, is_active FROM users WHERE id = $1`, id.String(),
	).Scan(&u.ID, &u.DisplayName, &u.SuperAdmin, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.Wrapf(access.ErrUserNotFound, "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetWorkspace returns a workspace with its owning organization.
func (r *AccessRepository) GetWorkspace(ctx context.Context, id shared.ID) (*access.Workspace, error) {
	ws := access.Workspace{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name FROM workspaces WHERE id = $1`, id.String(),
	).Scan(&ws.ID, &ws.OrganizationID, &ws.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.Wrapf(access.ErrWorkspaceAbsent, "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

// GetMembership returns a user's membership in an organization, or an error
// wrapping shared.ErrNotFound.
func (r *AccessRepository) GetMembership(ctx context.Context, organizationID, userID shared.ID) (*access.Membership, error) {
	m := access.Membership{}
	var role string
	err := r.db.QueryRowContext(ctx, `
		SELECT organization_id, user_id, role, is_active
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2`,
		organizationID.String(), userID.String(),
	).Scan(&m.OrganizationID, &m.UserID, &role, &m.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: membership", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	m.Role = access.Role(role)
	return &m, nil
}
