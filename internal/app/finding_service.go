package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/pagination"
)

// FindingService handles finding reads, descriptive edits, comments and the
// activity timeline. Status changes go through FindingStatusService.
type FindingService struct {
	repo         finding.Repository
	historyRepo  finding.StatusChangeRepository
	commentRepo  finding.CommentRepository
	evidenceRepo evidence.Repository
	logger       *logger.Logger
	nowFunc      func() time.Time
}

// NewFindingService creates a new FindingService.
func NewFindingService(
	repo finding.Repository,
	historyRepo finding.StatusChangeRepository,
	commentRepo finding.CommentRepository,
	evidenceRepo evidence.Repository,
	log *logger.Logger,
) *FindingService {
	return &FindingService{
		repo:         repo,
		historyRepo:  historyRepo,
		commentRepo:  commentRepo,
		evidenceRepo: evidenceRepo,
		logger:       log.With("service", "finding"),
		nowFunc:      time.Now,
	}
}

// ListFindingsInput represents the filters of a finding listing.
type ListFindingsInput struct {
	WorkspaceID string   `validate:"required,uuid"`
	Statuses    []string `validate:"dive,finding_status"`
	Severities  []string `validate:"dive,finding_severity"`
	Search      string   `validate:"max=255"`
	Sort        string   `validate:"max=100"`
	Page        int      `validate:"gte=0"`
	PerPage     int      `validate:"gte=0"`
}

// List returns a page of the workspace's findings. d must be the decision
// for the requested workspace.
func (s *FindingService) List(ctx context.Context, d access.Decision, input ListFindingsInput) (pagination.Result[*finding.Finding], error) {
	wsID, err := shared.IDFromString(input.WorkspaceID)
	if err != nil {
		return pagination.Result[*finding.Finding]{}, fmt.Errorf("%w: invalid workspace id format", shared.ErrValidation)
	}
	if err := RequirePermits(d, wsID); err != nil {
		return pagination.Result[*finding.Finding]{}, err
	}

	filter := finding.Filter{WorkspaceID: wsID, Search: input.Search}
	for _, raw := range input.Statuses {
		st, err := parseStatus(raw)
		if err != nil {
			return pagination.Result[*finding.Finding]{}, err
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	for _, raw := range input.Severities {
		sev, err := finding.ParseSeverity(raw)
		if err != nil {
			return pagination.Result[*finding.Finding]{}, err
		}
		filter.Severities = append(filter.Severities, sev)
	}
	if input.Sort != "" {
		filter.Sort = pagination.NewSortOption(finding.SortFields).Parse(input.Sort)
	}

	return s.repo.List(ctx, filter, pagination.New(input.Page, input.PerPage))
}

// Get returns one finding.
func (s *FindingService) Get(ctx context.Context, d access.Decision, findingID string) (*finding.Finding, error) {
	id, err := shared.IDFromString(findingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid finding id format", shared.ErrValidation)
	}
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := RequirePermits(d, f.WorkspaceID()); err != nil {
		return nil, err
	}
	return f, nil
}

// UpdateFindingInput lists the editable attributes; nil fields are unchanged.
type UpdateFindingInput struct {
	Title       *string `validate:"omitempty,min=1,max=500"`
	Description *string `validate:"omitempty,max=20000"`
	Severity    *string `validate:"omitempty,finding_severity"`
}

// UpdateDetails edits title, description and severity.
func (s *FindingService) UpdateDetails(ctx context.Context, d access.Decision, findingID string, input UpdateFindingInput) (*finding.Finding, error) {
	f, err := s.Get(ctx, d, findingID)
	if err != nil {
		return nil, err
	}

	var severity *finding.Severity
	if input.Severity != nil {
		sev, err := finding.ParseSeverity(*input.Severity)
		if err != nil {
			return nil, err
		}
		severity = &sev
	}

	if err := f.UpdateDetails(input.Title, input.Description, severity); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to update finding: %w", err)
	}

	s.logger.Info("finding updated", "finding_id", f.ID().String(), "by", d.UserID.String())
	return f, nil
}
