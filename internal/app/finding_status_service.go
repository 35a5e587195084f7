package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vexscan/api/internal/metrics"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/pagination"
)

// FindingStatusService moves findings through their status lifecycle and
// serves the status history with its evidence.
type FindingStatusService struct {
	tx           Transactor
	findingRepo  finding.Repository
	historyRepo  finding.StatusChangeRepository
	evidenceRepo evidence.Repository
	uploader     *evidenceUploader
	logger       *logger.Logger
	nowFunc      func() time.Time
}

// NewFindingStatusService creates a new FindingStatusService.
func NewFindingStatusService(
	tx Transactor,
	findingRepo finding.Repository,
	historyRepo finding.StatusChangeRepository,
	evidenceRepo evidence.Repository,
	blobs BlobStore,
	cfg EvidenceSettings,
	log *logger.Logger,
) *FindingStatusService {
	log = log.With("service", "finding_status")
	return &FindingStatusService{
		tx:           tx,
		findingRepo:  findingRepo,
		historyRepo:  historyRepo,
		evidenceRepo: evidenceRepo,
		uploader:     newEvidenceUploader(blobs, cfg.Policy, cfg.UploadConcurrency, log),
		logger:       log,
		nowFunc:      time.Now,
	}
}

// ChangeStatusInput represents the input for a status transition.
type ChangeStatusInput struct {
	FindingID string `validate:"required,uuid"`
	Status    string `validate:"required"`
	Comment   string `validate:"max=5000"`
}

// StatusChangeResult describes a committed transition.
type StatusChangeResult struct {
	FindingID           shared.ID
	FromStatus          finding.Status
	ToStatus            finding.Status
	StatusChangeID      shared.ID
	Comment             string
	ChangedBy           shared.ID
	ChangedAt           time.Time
	TimeToMitigateHours *float64
}

func newStatusChangeResult(f *finding.Finding, c *finding.StatusChange) *StatusChangeResult {
	r := &StatusChangeResult{
		FindingID:      f.ID(),
		ToStatus:       c.ToStatus(),
		StatusChangeID: c.ID(),
		Comment:        c.Comment(),
		ChangedBy:      c.ChangedBy(),
		ChangedAt:      c.CreatedAt(),
	}
	if from := c.FromStatus(); from != nil {
		r.FromStatus = *from
	}
	if c.ToStatus() == finding.StatusMitigated {
		r.TimeToMitigateHours = f.TimeToMitigateHours()
	}
	return r
}

// ChangeStatus applies a transition. The finding row is locked while the
// active evidence is counted, the history entry inserted and the finding
// updated, so history and current status never disagree.
func (s *FindingStatusService) ChangeStatus(ctx context.Context, d access.Decision, input ChangeStatusInput) (result *StatusChangeResult, err error) {
	findingID, err := shared.IDFromString(input.FindingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid finding id format", shared.ErrValidation)
	}
	to, err := parseStatus(input.Status)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "FindingStatusService.ChangeStatus", trace.WithAttributes(
		attribute.String("finding.id", findingID.String()),
		attribute.String("finding.to_status", string(to)),
	))
	defer func() { endSpan(span, err) }()

	err = s.tx.Transaction(ctx, func(tx *sql.Tx) error {
		f, change, err := s.transitionInTx(ctx, tx, d, findingID, to, input.Comment)
		if err != nil {
			return err
		}
		result = newStatusChangeResult(f, change)
		return nil
	})
	if err != nil {
		if code := shared.CodeOf(err); code != "" && code != "NOT_FOUND" {
			metrics.StatusTransitionsRejected.WithLabelValues(code).Inc()
		}
		return nil, err
	}

	s.recordTransition(result)
	return result, nil
}

// transitionInTx locks the finding, checks access, applies the rule and
// persists the history entry. Bundles inserted earlier in tx are counted.
func (s *FindingStatusService) transitionInTx(
	ctx context.Context,
	tx *sql.Tx,
	d access.Decision,
	findingID shared.ID,
	to finding.Status,
	comment string,
) (*finding.Finding, *finding.StatusChange, error) {
	f, err := s.findingRepo.GetForUpdateInTx(ctx, tx, findingID)
	if err != nil {
		return nil, nil, err
	}
	if err := RequirePermits(d, f.WorkspaceID()); err != nil {
		return nil, nil, err
	}

	active, err := s.evidenceRepo.CountActiveByFindingInTx(ctx, tx, findingID)
	if err != nil {
		return nil, nil, fmt.Errorf("count evidence: %w", err)
	}

	change, err := f.ChangeStatus(to, comment, d.UserID, active, s.nowFunc())
	if err != nil {
		return nil, nil, err
	}
	if err := s.historyRepo.CreateInTx(ctx, tx, change); err != nil {
		return nil, nil, fmt.Errorf("failed to record status change: %w", err)
	}
	if err := s.findingRepo.UpdateInTx(ctx, tx, f); err != nil {
		return nil, nil, fmt.Errorf("failed to update finding: %w", err)
	}
	return f, change, nil
}

func (s *FindingStatusService) recordTransition(r *StatusChangeResult) {
	metrics.StatusTransitionsTotal.WithLabelValues(string(r.ToStatus)).Inc()
	if r.TimeToMitigateHours != nil {
		metrics.TimeToMitigateHours.Observe(*r.TimeToMitigateHours)
	}
	s.logger.Info("finding status changed",
		"finding_id", r.FindingID.String(),
		"from_status", string(r.FromStatus),
		"to_status", string(r.ToStatus),
		"status_change_id", r.StatusChangeID.String(),
		"changed_by", r.ChangedBy.String(),
	)
}

// HistoryEntry is one status change with the evidence linked to it.
type HistoryEntry struct {
	Change   *finding.StatusChange
	Evidence []*evidence.Bundle
}

// History returns a page of the finding's status history, newest first. Each
// entry carries the active evidence bundles linked to it; unlinked evidence
// never appears here.
func (s *FindingStatusService) History(ctx context.Context, d access.Decision, findingID string, page pagination.Pagination) (pagination.Result[HistoryEntry], error) {
	id, err := shared.IDFromString(findingID)
	if err != nil {
		return pagination.Result[HistoryEntry]{}, fmt.Errorf("%w: invalid finding id format", shared.ErrValidation)
	}

	f, err := s.findingRepo.GetByID(ctx, id)
	if err != nil {
		return pagination.Result[HistoryEntry]{}, err
	}
	if err := RequirePermits(d, f.WorkspaceID()); err != nil {
		return pagination.Result[HistoryEntry]{}, err
	}

	changes, err := s.historyRepo.ListByFinding(ctx, id, page)
	if err != nil {
		return pagination.Result[HistoryEntry]{}, fmt.Errorf("failed to list status history: %w", err)
	}

	ids := make([]shared.ID, 0, len(changes.Data))
	for _, c := range changes.Data {
		ids = append(ids, c.ID())
	}

	linked := map[shared.ID][]*evidence.Bundle{}
	if len(ids) > 0 {
		linked, err = s.evidenceRepo.ListActiveByStatusChanges(ctx, ids)
		if err != nil {
			return pagination.Result[HistoryEntry]{}, fmt.Errorf("failed to list linked evidence: %w", err)
		}
	}

	return pagination.Map(changes, func(c *finding.StatusChange) HistoryEntry {
		bundles := linked[c.ID()]
		if bundles == nil {
			bundles = []*evidence.Bundle{}
		}
		return HistoryEntry{Change: c, Evidence: bundles}
	}), nil
}

// CompleteWithEvidenceInput closes a finding and attaches proof in one step.
type CompleteWithEvidenceInput struct {
	FindingID    string `validate:"required,uuid"`
	Status       string `validate:"required"`
	Comment      string `validate:"max=5000"`
	Description  string `validate:"max=5000"`
	EvidenceType string `validate:"max=100"`
	Labels       []evidence.Label
	Files        []UploadFile
}

// CompleteWithEvidenceResult is the transition plus the bundle, if files
// were sent.
type CompleteWithEvidenceResult struct {
	Transition *StatusChangeResult
	Evidence   *evidence.Bundle
}

// CompleteWithEvidence uploads the files, then in one transaction inserts
// the bundle, applies the transition (which counts the new bundle) and links
// the bundle to the new status change. Stored blobs are removed on failure.
func (s *FindingStatusService) CompleteWithEvidence(ctx context.Context, d access.Decision, input CompleteWithEvidenceInput) (result *CompleteWithEvidenceResult, err error) {
	findingID, err := shared.IDFromString(input.FindingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid finding id format", shared.ErrValidation)
	}
	to, err := parseStatus(input.Status)
	if err != nil {
		return nil, err
	}
	if !to.IsClosed() {
		return nil, shared.Wrapf(finding.ErrInvalidStatus, "%s does not complete a finding", to)
	}
	if strings.TrimSpace(input.Comment) == "" {
		return nil, finding.ErrCommentRequired
	}
	if to.RequiresEvidence() && len(input.Files) == 0 {
		return nil, finding.ErrEvidenceRequired
	}
	labels, err := evidence.ValidateLabels(input.Labels)
	if err != nil {
		return nil, err
	}

	ctx, span := startSpan(ctx, "FindingStatusService.CompleteWithEvidence", trace.WithAttributes(
		attribute.String("finding.id", findingID.String()),
		attribute.String("finding.to_status", string(to)),
		attribute.Int("evidence.files", len(input.Files)),
	))
	defer func() { endSpan(span, err) }()

	f, err := s.findingRepo.GetByID(ctx, findingID)
	if err != nil {
		return nil, err
	}
	if err := RequirePermits(d, f.WorkspaceID()); err != nil {
		return nil, err
	}

	var (
		refs    []evidence.FileRef
		cleanup = func() {}
	)
	if len(input.Files) > 0 {
		refs, cleanup, err = s.uploader.upload(ctx, f.WorkspaceID(), findingID, input.Files)
		if err != nil {
			metrics.EvidenceUploadsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
	}

	result = &CompleteWithEvidenceResult{}
	err = s.tx.Transaction(ctx, func(tx *sql.Tx) error {
		var bundle *evidence.Bundle
		if len(refs) > 0 {
			b, err := evidence.NewBundle(evidence.NewBundleParams{
				FindingID:    findingID,
				Files:        refs,
				Description:  input.Description,
				Comments:     input.Comment,
				EvidenceType: input.EvidenceType,
				Labels:       labels,
				UploadedBy:   d.UserID,
			})
			if err != nil {
				return err
			}
			if err := s.evidenceRepo.CreateInTx(ctx, tx, b); err != nil {
				return fmt.Errorf("failed to create evidence: %w", err)
			}
			bundle = b
		}

		f, change, err := s.transitionInTx(ctx, tx, d, findingID, to, input.Comment)
		if err != nil {
			return err
		}

		if bundle != nil {
			if err := bundle.LinkTo(change); err != nil {
				return err
			}
			if err := s.evidenceRepo.UpdateInTx(ctx, tx, bundle); err != nil {
				return fmt.Errorf("failed to link evidence: %w", err)
			}
		}

		result.Transition = newStatusChangeResult(f, change)
		result.Evidence = bundle
		return nil
	})
	if err != nil {
		cleanup()
		if len(refs) > 0 {
			metrics.EvidenceUploadsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	if result.Evidence != nil {
		metrics.EvidenceUploadsTotal.WithLabelValues("stored").Inc()
	}
	s.recordTransition(result.Transition)
	return result, nil
}

// parseStatus maps unknown values to finding.ErrInvalidStatus.
func parseStatus(raw string) (finding.Status, error) {
	st, err := finding.ParseStatus(raw)
	if err != nil {
		return "", shared.Wrapf(finding.ErrInvalidStatus, "%q", raw)
	}
	return st, nil
}
