package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
)

// CommentRepository persists finding comments.
type CommentRepository struct {
	db *DB
}

// NewCommentRepository creates a new CommentRepository.
func NewCommentRepository(db *DB) *CommentRepository {
	return &CommentRepository{db: db}
}

var _ finding.CommentRepository = (*CommentRepository)(nil)

// Create inserts a comment.
func (r *CommentRepository) Create(ctx context.Context, c *finding.Comment) error {
	query := `
		INSERT INTO finding_comments (id, finding_id, content, is_internal, author_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID().String(),
		c.FindingID().String(),
		c.Content(),
		c.IsInternal(),
		c.AuthorID().String(),
		c.CreatedAt(),
	)
	if err != nil {
		if isConstraintViolation(err, "finding_comments_finding_id_fkey") {
			return finding.NewFindingNotFoundError(c.FindingID())
		}
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

// ListByFinding returns a finding's comments, newest first.
func (r *CommentRepository) ListByFinding(ctx context.Context, findingID shared.ID) ([]*finding.Comment, error) {
	query := `
		SELECT c.id, c.finding_id, c.content, c.is_internal, c.author_id,
			COALESCE(u.display_name, '') AS author_name, c.created_at
		FROM finding_comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.finding_id = $1
		ORDER BY c.created_at DESC, c.id DESC
	`
	rows, err := r.db.QueryContext(ctx, query, findingID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	comments := []*finding.Comment{}
	for rows.Next() {
		var (
			id, fID, authorID   shared.ID
			content, authorName string
			internal            bool
			createdAt           time.Time
		)
		if err := rows.Scan(&id, &fID, &content, &internal, &authorID, &authorName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, finding.ReconstituteComment(id, fID, content, internal, authorID, authorName, createdAt))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate comments: %w", err)
	}
	return comments, nil
}
