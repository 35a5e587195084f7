package access

import (
	"context"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Repository reads the identity and membership data used for decisions.
type Repository interface {
	// GetUser returns the platform account of a user.
	GetUser(ctx context.Context, id shared.ID) (*User, error)

	// GetWorkspace returns a workspace with its owning organization.
	GetWorkspace(ctx context.Context, id shared.ID) (*Workspace, error)

	// GetMembership returns the membership of a user in an organization, or
	// shared.ErrNotFound.
	GetMembership(ctx context.Context, organizationID, userID shared.ID) (*Membership, error)
}
