package finding

import (
	"fmt"
	"time"

	"github.com/vexscan/api/pkg/domain/shared"
)

// StatusChange is one immutable entry in a finding's status history.
// FromStatus is nil for the first transition recorded on a finding.
type StatusChange struct {
	id            shared.ID
	findingID     shared.ID
	fromStatus    *Status
	toStatus      Status
	comment       string
	changedBy     shared.ID
	changedByName string
	createdAt     time.Time
}

// NewStatusChange creates a history entry. Callers normally obtain one from
// Finding.ChangeStatus, which applies the transition rules first.
func NewStatusChange(
	findingID shared.ID,
	from *Status,
	to Status,
	comment string,
	changedBy shared.ID,
	at time.Time,
) (*StatusChange, error) {
	if findingID.IsZero() {
		return nil, fmt.Errorf("%w: finding ID is required", shared.ErrValidation)
	}
	if changedBy.IsZero() {
		return nil, fmt.Errorf("%w: acting user is required", shared.ErrValidation)
	}
	if from != nil && !from.IsValid() {
		return nil, fmt.Errorf("%w: invalid from status", shared.ErrValidation)
	}
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: invalid to status", shared.ErrValidation)
	}

	return &StatusChange{
		id:         shared.NewID(),
		findingID:  findingID,
		fromStatus: from,
		toStatus:   to,
		comment:    comment,
		changedBy:  changedBy,
		createdAt:  at.UTC(),
	}, nil
}

// ReconstituteStatusChange recreates a StatusChange from persistence.
func ReconstituteStatusChange(
	id shared.ID,
	findingID shared.ID,
	from *Status,
	to Status,
	comment string,
	changedBy shared.ID,
	changedByName string,
	createdAt time.Time,
) *StatusChange {
	return &StatusChange{
		id:            id,
		findingID:     findingID,
		fromStatus:    from,
		toStatus:      to,
		comment:       comment,
		changedBy:     changedBy,
		changedByName: changedByName,
		createdAt:     createdAt,
	}
}

// ID returns the history entry ID.
func (c *StatusChange) ID() shared.ID {
	return c.id
}

// FindingID returns the owning finding.
func (c *StatusChange) FindingID() shared.ID {
	return c.findingID
}

// FromStatus returns the status before the change, or nil for the first entry.
func (c *StatusChange) FromStatus() *Status {
	if c.fromStatus == nil {
		return nil
	}
	s := *c.fromStatus
	return &s
}

// ToStatus returns the status after the change.
func (c *StatusChange) ToStatus() Status {
	return c.toStatus
}

// Comment returns the justification text.
func (c *StatusChange) Comment() string {
	return c.comment
}

// ChangedBy returns the acting user.
func (c *StatusChange) ChangedBy() shared.ID {
	return c.changedBy
}

// ChangedByName returns the acting user's display name when loaded from storage.
func (c *StatusChange) ChangedByName() string {
	return c.changedByName
}

// CreatedAt returns when the change happened.
func (c *StatusChange) CreatedAt() time.Time {
	return c.createdAt
}

// BelongsTo reports whether the entry records a transition of the given finding.
func (c *StatusChange) BelongsTo(findingID shared.ID) bool {
	return c.findingID.Equals(findingID)
}
