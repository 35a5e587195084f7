package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
)

// AddCommentInput represents a new discussion comment.
type AddCommentInput struct {
	FindingID string `validate:"required,uuid"`
	Content   string `validate:"required,max=10000"`
	Internal  bool
}

// AddComment posts a comment on a finding.
func (s *FindingService) AddComment(ctx context.Context, d access.Decision, input AddCommentInput) (*finding.Comment, error) {
	f, err := s.Get(ctx, d, input.FindingID)
	if err != nil {
		return nil, err
	}

	c, err := finding.NewComment(f.ID(), d.UserID, input.Content, input.Internal, s.nowFunc())
	if err != nil {
		return nil, err
	}
	if err := s.commentRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("comment added",
		"finding_id", f.ID().String(),
		"comment_id", c.ID().String(),
		"internal", c.IsInternal(),
		"by", d.UserID.String(),
	)
	return c, nil
}

// ActivityKind tells which record an ActivityEntry carries.
type ActivityKind string

const (
	ActivityStatusChange ActivityKind = "status_change"
	ActivityComment      ActivityKind = "comment"
	ActivityEvidence     ActivityKind = "evidence"
)

// ActivityEntry is one event of a finding's timeline. Exactly one of
// StatusChange, Comment and Evidence is set, as named by Kind.
type ActivityEntry struct {
	Kind         ActivityKind
	At           time.Time
	ActorID      shared.ID
	ActorName    string
	StatusChange *finding.StatusChange
	Comment      *finding.Comment
	Evidence     *evidence.Bundle
}

// Timeline merges status changes, comments and active evidence uploads of a
// finding into one list, newest first. Events at the same instant keep that
// order.
func (s *FindingService) Timeline(ctx context.Context, d access.Decision, findingID string) (_ []ActivityEntry, err error) {
	ctx, span := startSpan(ctx, "FindingService.Timeline", trace.WithAttributes(attribute.String("finding.id", findingID)))
	defer func() { endSpan(span, err) }()

	f, err := s.Get(ctx, d, findingID)
	if err != nil {
		return nil, err
	}

	var (
		changes  []*finding.StatusChange
		comments []*finding.Comment
		bundles  []*evidence.Bundle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if changes, err = s.historyRepo.ListAllByFinding(gctx, f.ID()); err != nil {
			return fmt.Errorf("failed to list status history: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if comments, err = s.commentRepo.ListByFinding(gctx, f.ID()); err != nil {
			return fmt.Errorf("failed to list comments: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if bundles, err = s.evidenceRepo.ListActiveByFinding(gctx, f.ID()); err != nil {
			return fmt.Errorf("failed to list evidence: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ActivityEntry, 0, len(changes)+len(comments)+len(bundles))
	for _, c := range changes {
		out = append(out, ActivityEntry{
			Kind: ActivityStatusChange, At: c.CreatedAt(),
			ActorID: c.ChangedBy(), ActorName: c.ChangedByName(),
			StatusChange: c,
		})
	}
	for _, c := range comments {
		out = append(out, ActivityEntry{
			Kind: ActivityComment, At: c.CreatedAt(),
			ActorID: c.AuthorID(), ActorName: c.AuthorName(),
			Comment: c,
		})
	}
	for _, b := range bundles {
		out = append(out, ActivityEntry{
			Kind: ActivityEvidence, At: b.CreatedAt(),
			ActorID: b.UploadedBy(), ActorName: b.UploadedByName(),
			Evidence: b,
		})
	}
	slices.SortStableFunc(out, func(a, b ActivityEntry) int { return b.At.Compare(a.At) })

	span.SetAttributes(attribute.Int("timeline.entries", len(out)))
	return out, nil
}
