package finding

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Finding is a tracked vulnerability instance inside one workspace.
type Finding struct {
	id                  shared.ID
	workspaceID         shared.ID
	title               string
	description         string
	severity            Severity
	status              Status
	firstSeenAt         time.Time
	lastSeenAt          time.Time
	statusChangedAt     *time.Time
	mitigatedAt         *time.Time
	timeToMitigateHours *float64
	createdAt           time.Time
	updatedAt           time.Time
}

// NewFinding creates an Open finding first seen at firstSeenAt.
func NewFinding(workspaceID shared.ID, title string, severity Severity, firstSeenAt time.Time) (*Finding, error) {
	if workspaceID.IsZero() {
		return nil, fmt.Errorf("%w: workspace ID is required", shared.ErrValidation)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", shared.ErrValidation)
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: invalid severity", shared.ErrValidation)
	}

	now := time.Now().UTC()
	if firstSeenAt.IsZero() {
		firstSeenAt = now
	}
	return &Finding{
		id:          shared.NewID(),
		workspaceID: workspaceID,
		title:       title,
		severity:    severity,
		status:      StatusOpen,
		firstSeenAt: firstSeenAt.UTC(),
		lastSeenAt:  firstSeenAt.UTC(),
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Reconstitute recreates a Finding from persistence.
func Reconstitute(
	id, workspaceID shared.ID,
	title, description string,
	severity Severity,
	status Status,
	firstSeenAt, lastSeenAt time.Time,
	statusChangedAt, mitigatedAt *time.Time,
	timeToMitigateHours *float64,
	createdAt, updatedAt time.Time,
) *Finding {
	return &Finding{
		id:                  id,
		workspaceID:         workspaceID,
		title:               title,
		description:         description,
		severity:            severity,
		status:              status,
		firstSeenAt:         firstSeenAt,
		lastSeenAt:          lastSeenAt,
		statusChangedAt:     statusChangedAt,
		mitigatedAt:         mitigatedAt,
		timeToMitigateHours: timeToMitigateHours,
		createdAt:           createdAt,
		updatedAt:           updatedAt,
	}
}

func (f *Finding) ID() shared.ID                 { return f.id }
func (f *Finding) WorkspaceID() shared.ID        { return f.workspaceID }
func (f *Finding) Title() string                 { return f.title }
func (f *Finding) Description() string           { return f.description }
func (f *Finding) Severity() Severity            { return f.severity }
func (f *Finding) Status() Status                { return f.status }
func (f *Finding) FirstSeenAt() time.Time        { return f.firstSeenAt }
func (f *Finding) LastSeenAt() time.Time         { return f.lastSeenAt }
func (f *Finding) StatusChangedAt() *time.Time   { return f.statusChangedAt }
func (f *Finding) MitigatedAt() *time.Time       { return f.mitigatedAt }
func (f *Finding) TimeToMitigateHours() *float64 { return f.timeToMitigateHours }
func (f *Finding) CreatedAt() time.Time          { return f.createdAt }
func (f *Finding) UpdatedAt() time.Time          { return f.updatedAt }

// InitialStatusChange records the status a finding was created with. It is
// the only history entry without a from status.
func (f *Finding) InitialStatusChange(actor shared.ID) (*StatusChange, error) {
	return NewStatusChange(f.id, nil, f.status, "", actor, f.createdAt)
}

// ChangeStatus applies a transition to the finding and returns the history
// entry to persist with it. activeEvidence is the number of active evidence
// bundles currently attached to the finding, linked or not.
//
// The finding is left untouched when an error is returned.
func (f *Finding) ChangeStatus(to Status, comment string, actor shared.ID, activeEvidence int, now time.Time) (*StatusChange, error) {
	if !to.IsValid() {
		return nil, shared.Wrapf(ErrInvalidStatus, "%q", to)
	}
	if to == f.status {
		return nil, shared.Wrapf(ErrNoOpTransition, "%s", to)
	}

	comment = strings.TrimSpace(comment)
	if to.RequiresJustification() && utf8.RuneCountInString(comment) < MinJustificationLength {
		return nil, ErrCommentRequired
	}
	if to.RequiresEvidence() && activeEvidence < 1 {
		return nil, ErrEvidenceRequired
	}

	from := f.status
	change, err := NewStatusChange(f.id, &from, to, comment, actor, now)
	if err != nil {
		return nil, err
	}

	now = change.CreatedAt()
	f.status = to
	f.statusChangedAt = &now
	f.updatedAt = now

	switch {
	case to == StatusMitigated:
		hours := mitigationHours(f.firstSeenAt, now)
		f.mitigatedAt = &now
		f.timeToMitigateHours = &hours
	case !to.IsClosed():
		// Reopened: the last measured time to mitigate stays for reporting.
		f.mitigatedAt = nil
	}

	return change, nil
}

// UpdateDetails edits the descriptive attributes. Empty title is rejected.
func (f *Finding) UpdateDetails(title, description *string, severity *Severity) error {
	if title != nil {
		t := strings.TrimSpace(*title)
		if t == "" {
			return fmt.Errorf("%w: title cannot be empty", shared.ErrValidation)
		}
		f.title = t
	}
	if description != nil {
		f.description = *description
	}
	if severity != nil {
		if !severity.IsValid() {
			return fmt.Errorf("%w: invalid severity", shared.ErrValidation)
		}
		f.severity = *severity
	}
	f.updatedAt = time.Now().UTC()
	return nil
}

func mitigationHours(firstSeen, now time.Time) float64 {
	h := now.Sub(firstSeen).Hours()
	if h < 0 {
		h = 0
	}
	return math.Round(h*100) / 100
}
