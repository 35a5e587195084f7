package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
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
)

// EvidenceSettings carries the upload limits from configuration.
type EvidenceSettings struct {
	Policy            evidence.Policy
	UploadConcurrency int
}

// EvidenceService handles evidence bundles: upload, listing, metadata edits,
// soft delete, single file removal and download.
type EvidenceService struct {
	tx           Transactor
	findingRepo  finding.Repository
	historyRepo  finding.StatusChangeRepository
	evidenceRepo evidence.Repository
	blobs        BlobStore
	purge        PurgeQueue
	uploader     *evidenceUploader
	policy       evidence.Policy
	logger       *logger.Logger
	nowFunc      func() time.Time
}

// NewEvidenceService creates a new EvidenceService.
func NewEvidenceService(
	tx Transactor,
	findingRepo finding.Repository,
	historyRepo finding.StatusChangeRepository,
	evidenceRepo evidence.Repository,
	blobs BlobStore,
	purge PurgeQueue,
	cfg EvidenceSettings,
	log *logger.Logger,
) *EvidenceService {
	log = log.With("service", "evidence")
	return &EvidenceService{
		tx:           tx,
		findingRepo:  findingRepo,
		historyRepo:  historyRepo,
		evidenceRepo: evidenceRepo,
		blobs:        blobs,
		purge:        purge,
		uploader:     newEvidenceUploader(blobs, cfg.Policy, cfg.UploadConcurrency, log),
		policy:       cfg.Policy,
		logger:       log,
		nowFunc:      time.Now,
	}
}

// UploadEvidenceInput represents one multipart evidence upload.
type UploadEvidenceInput struct {
	FindingID             string `validate:"required,uuid"`
	Description           string `validate:"max=5000"`
	Comments              string `validate:"max=10000"`
	EvidenceType          string `validate:"max=100"`
	Labels                []evidence.Label
	RelatedStatusChangeID string `validate:"omitempty,uuid"`
	Files                 []UploadFile
}

// UploadResult is the stored bundle. DuplicateHashes lists hashes that other
// active bundles of the finding already hold; duplicates are accepted.
type UploadResult struct {
	Bundle          *evidence.Bundle
	DuplicateHashes []string
}

// Upload stores the files and records them as one bundle, optionally linked
// to a status change of the same finding.
func (s *EvidenceService) Upload(ctx context.Context, d access.Decision, input UploadEvidenceInput) (result *UploadResult, err error) {
	findingID, err := shared.IDFromString(input.FindingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid finding id format", shared.ErrValidation)
	}

	ctx, span := startSpan(ctx, "EvidenceService.Upload", trace.WithAttributes(
		attribute.String("finding.id", findingID.String()),
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

	if err := s.uploader.check(input.Files); err != nil {
		metrics.EvidenceUploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	labels, err := evidence.ValidateLabels(input.Labels)
	if err != nil {
		return nil, err
	}

	var change *finding.StatusChange
	if input.RelatedStatusChangeID != "" {
		changeID, err := shared.IDFromString(input.RelatedStatusChangeID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid related_status_change_id format", shared.ErrValidation)
		}
		change, err = s.historyRepo.GetByID(ctx, changeID)
		if err != nil {
			return nil, err
		}
		if !change.BelongsTo(findingID) {
			return nil, shared.Wrapf(evidence.ErrMismatch, "status change %s", changeID)
		}
	}

	refs, cleanup, err := s.uploader.upload(ctx, f.WorkspaceID(), findingID, input.Files)
	if err != nil {
		metrics.EvidenceUploadsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	bundle, err := evidence.NewBundle(evidence.NewBundleParams{
		FindingID:    findingID,
		Files:        refs,
		Description:  input.Description,
		Comments:     input.Comments,
		EvidenceType: input.EvidenceType,
		Labels:       labels,
		StatusChange: change,
		UploadedBy:   d.UserID,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	dups, err := s.evidenceRepo.FindActiveHashes(ctx, findingID, bundle.Hashes())
	if err != nil {
		s.logger.Warn("duplicate lookup failed", "finding_id", findingID.String(), "error", err)
		dups = nil
	}

	if err := s.evidenceRepo.Create(ctx, bundle); err != nil {
		cleanup()
		metrics.EvidenceUploadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to create evidence: %w", err)
	}

	metrics.EvidenceUploadsTotal.WithLabelValues("stored").Inc()
	s.logger.Info("evidence uploaded",
		"evidence_id", bundle.ID().String(),
		"finding_id", findingID.String(),
		"file_count", bundle.FileCount(),
		"linked", change != nil,
		"duplicates", len(dups),
	)

	// Reload for the joined uploader name.
	if stored, err := s.evidenceRepo.GetByID(ctx, bundle.ID()); err == nil {
		bundle = stored
	}
	if dups == nil {
		dups = []string{}
	}
	return &UploadResult{Bundle: bundle, DuplicateHashes: dups}, nil
}

// ListForFinding returns the active bundles of a finding, newest first.
func (s *EvidenceService) ListForFinding(ctx context.Context, d access.Decision, findingID string) ([]*evidence.Bundle, error) {
	id, err := s.authorizeFinding(ctx, d, findingID)
	if err != nil {
		return nil, err
	}
	bundles, err := s.evidenceRepo.ListActiveByFinding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	return bundles, nil
}

// EvidenceGroup is the bundles sharing a first label.
type EvidenceGroup struct {
	Key      string
	Evidence []*evidence.Bundle
}

// ListGroupedForFinding groups active bundles by their first label. Groups
// are ordered by key with the untagged group last.
func (s *EvidenceService) ListGroupedForFinding(ctx context.Context, d access.Decision, findingID string) ([]EvidenceGroup, error) {
	bundles, err := s.ListForFinding(ctx, d, findingID)
	if err != nil {
		return nil, err
	}
	return GroupByFirstLabel(bundles), nil
}

// GroupByFirstLabel groups bundles by GroupKey, keeping input order inside
// each group.
func GroupByFirstLabel(bundles []*evidence.Bundle) []EvidenceGroup {
	index := map[string]int{}
	groups := make([]EvidenceGroup, 0)
	for _, b := range bundles {
		key := b.GroupKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, EvidenceGroup{Key: key})
		}
		groups[i].Evidence = append(groups[i].Evidence, b)
	}
	slices.SortStableFunc(groups, func(a, b EvidenceGroup) int {
		switch {
		case a.Key == b.Key:
			return 0
		case a.Key == evidence.UntaggedGroup:
			return 1
		case b.Key == evidence.UntaggedGroup:
			return -1
		}
		return strings.Compare(strings.ToLower(a.Key), strings.ToLower(b.Key))
	})
	return groups
}

// Get returns one active bundle.
func (s *EvidenceService) Get(ctx context.Context, d access.Decision, evidenceID string) (*evidence.Bundle, error) {
	id, err := shared.IDFromString(evidenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid evidence id format", shared.ErrValidation)
	}
	b, err := s.evidenceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive() {
		return nil, evidence.ErrEvidenceNotFound
	}
	if err := s.authorizeBundle(ctx, d, b); err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateEvidenceInput lists the editable metadata; nil fields are unchanged.
type UpdateEvidenceInput struct {
	Description  *string `validate:"omitempty,max=5000"`
	Comments     *string `validate:"omitempty,max=10000"`
	EvidenceType *string `validate:"omitempty,max=100"`
	Labels       *[]evidence.Label
}

// UpdateMetadata edits description, comments, type and labels. Only the
// uploader or an administrator may edit.
func (s *EvidenceService) UpdateMetadata(ctx context.Context, d access.Decision, evidenceID string, input UpdateEvidenceInput) (*evidence.Bundle, error) {
	id, err := shared.IDFromString(evidenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid evidence id format", shared.ErrValidation)
	}

	var updated *evidence.Bundle
	err = s.tx.Transaction(ctx, func(tx *sql.Tx) error {
		b, err := s.lockForModification(ctx, tx, d, id)
		if err != nil {
			return err
		}
		if err := b.UpdateMetadata(evidence.MetadataUpdate{
			Description:  input.Description,
			Comments:     input.Comments,
			EvidenceType: input.EvidenceType,
			Labels:       input.Labels,
		}); err != nil {
			return err
		}
		if err := s.evidenceRepo.UpdateInTx(ctx, tx, b); err != nil {
			return fmt.Errorf("failed to update evidence: %w", err)
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("evidence updated", "evidence_id", evidenceID, "by", d.UserID.String())
	return updated, nil
}

// Delete soft deletes a bundle of findingID and queues removal of its
// blobs. The row is kept for audit. It returns the files that were attached.
func (s *EvidenceService) Delete(ctx context.Context, d access.Decision, findingID, evidenceID string) ([]evidence.FileRef, error) {
	fid, err := shared.IDFromString(findingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid finding id format", shared.ErrValidation)
	}
	id, err := shared.IDFromString(evidenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid evidence id format", shared.ErrValidation)
	}

	var files []evidence.FileRef
	err = s.tx.Transaction(ctx, func(tx *sql.Tx) error {
		b, err := s.lockForModification(ctx, tx, d, id)
		if err != nil {
			return err
		}
		if !b.FindingID().Equals(fid) {
			return evidence.ErrEvidenceNotFound
		}
		files, err = b.SoftDelete(d.UserID, s.nowFunc())
		if err != nil {
			return err
		}
		if err := s.evidenceRepo.UpdateInTx(ctx, tx, b); err != nil {
			return fmt.Errorf("failed to delete evidence: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EvidenceRemovalsTotal.WithLabelValues("bundle").Inc()
	s.logger.Info("evidence deleted",
		"evidence_id", evidenceID,
		"finding_id", findingID,
		"file_count", len(files),
		"by", d.UserID.String(),
	)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	s.enqueuePurge(ctx, id, paths, true)
	return files, nil
}

// RemoveFile drops one file, matched by hash, from a bundle and queues its
// blob for removal. The last file cannot be removed.
func (s *EvidenceService) RemoveFile(ctx context.Context, d access.Decision, evidenceID, fileHash string) (*evidence.Bundle, error) {
	id, err := shared.IDFromString(evidenceID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid evidence id format", shared.ErrValidation)
	}

	var (
		updated *evidence.Bundle
		removed evidence.FileRef
	)
	err = s.tx.Transaction(ctx, func(tx *sql.Tx) error {
		b, err := s.lockForModification(ctx, tx, d, id)
		if err != nil {
			return err
		}
		removed, err = b.RemoveFile(fileHash)
		if err != nil {
			return err
		}
		if err := s.evidenceRepo.UpdateInTx(ctx, tx, b); err != nil {
			return fmt.Errorf("failed to update evidence: %w", err)
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EvidenceRemovalsTotal.WithLabelValues("file").Inc()
	s.logger.Info("evidence file removed",
		"evidence_id", evidenceID,
		"file_hash", removed.Hash,
		"by", d.UserID.String(),
	)

	s.enqueuePurge(ctx, id, []string{removed.Path}, false)
	return updated, nil
}

// Download is an open evidence file. The caller closes Body.
type Download struct {
	File evidence.FileRef
	Body io.ReadCloser
}

// Download opens the file with fileHash from an active bundle.
func (s *EvidenceService) Download(ctx context.Context, d access.Decision, evidenceID, fileHash string) (*Download, error) {
	b, err := s.Get(ctx, d, evidenceID)
	if err != nil {
		return nil, err
	}
	file, ok := b.FindFile(fileHash)
	if !ok {
		return nil, shared.Wrapf(evidence.ErrFileNotFound, "hash %s", fileHash)
	}

	body, err := s.blobs.Get(ctx, file.Path)
	if err != nil {
		if errors.Is(err, evidence.ErrBlobMissing) {
			s.logger.Error("evidence blob missing", "evidence_id", evidenceID, "path", file.Path)
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", shared.ErrStorage, err)
	}
	return &Download{File: file, Body: body}, nil
}

// FormatsInfo describes what uploads accept.
type FormatsInfo struct {
	Formats     []evidence.Format
	MIMETypes   []string
	MaxFiles    int
	MaxFileSize int64
}

// Formats returns the upload policy.
func (s *EvidenceService) Formats() FormatsInfo {
	return FormatsInfo{
		Formats:     s.policy.Formats(),
		MIMETypes:   slices.Clone(s.policy.AllowedMIMETypes),
		MaxFiles:    s.policy.MaxFiles,
		MaxFileSize: s.policy.MaxFileSize,
	}
}

// lockForModification loads an active bundle FOR UPDATE and checks that the
// caller may modify it.
func (s *EvidenceService) lockForModification(ctx context.Context, tx *sql.Tx, d access.Decision, id shared.ID) (*evidence.Bundle, error) {
	b, err := s.evidenceRepo.GetForUpdateInTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !b.IsActive() {
		return nil, evidence.ErrEvidenceNotFound
	}
	if err := s.authorizeBundle(ctx, d, b); err != nil {
		return nil, err
	}
	if !d.CanModifyEvidence(b.UploadedBy()) {
		return nil, evidence.ErrNotAuthor
	}
	return b, nil
}

func (s *EvidenceService) authorizeFinding(ctx context.Context, d access.Decision, findingID string) (shared.ID, error) {
	id, err := shared.IDFromString(findingID)
	if err != nil {
		return shared.ID{}, fmt.Errorf("%w: invalid finding id format", shared.ErrValidation)
	}
	wsID, err := s.findingRepo.WorkspaceOf(ctx, id)
	if err != nil {
		return shared.ID{}, err
	}
	return id, RequirePermits(d, wsID)
}

func (s *EvidenceService) authorizeBundle(ctx context.Context, d access.Decision, b *evidence.Bundle) error {
	wsID, err := s.findingRepo.WorkspaceOf(ctx, b.FindingID())
	if err != nil {
		return err
	}
	return RequirePermits(d, wsID)
}

// enqueuePurge hands blob removal to the worker. A failure is left for the
// sweeper, which finds soft-deleted bundles that were never purged.
func (s *EvidenceService) enqueuePurge(ctx context.Context, id shared.ID, paths []string, wholeBundle bool) {
	if s.purge == nil {
		return
	}
	if err := s.purge.EnqueueBlobPurge(context.WithoutCancel(ctx), id, paths, wholeBundle); err != nil {
		metrics.BlobCleanupFailures.WithLabelValues("enqueue").Inc()
		s.logger.Error("failed to enqueue blob purge",
			"evidence_id", id.String(),
			"paths", len(paths),
			"error", err,
		)
	}
}
