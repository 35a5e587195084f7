package finding

import (
	"context"
	"database/sql"

	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/pagination"
)

// Repository defines finding persistence.
type Repository interface {
	// Create persists a new finding together with its initial history entry.
	Create(ctx context.Context, f *Finding, initial *StatusChange) error

	// GetByID retrieves a finding.
	GetByID(ctx context.Context, id shared.ID) (*Finding, error)

	// GetForUpdateInTx loads a finding and locks its row until tx ends.
	GetForUpdateInTx(ctx context.Context, tx *sql.Tx, id shared.ID) (*Finding, error)

	// UpdateInTx writes the mutable columns of a finding within tx.
	UpdateInTx(ctx context.Context, tx *sql.Tx, f *Finding) error

	// Update writes the mutable columns of a finding.
	Update(ctx context.Context, f *Finding) error

	// WorkspaceOf returns the workspace a finding belongs to.
	WorkspaceOf(ctx context.Context, id shared.ID) (shared.ID, error)

	// List returns findings matching filter, newest first.
	List(ctx context.Context, filter Filter, page pagination.Pagination) (pagination.Result[*Finding], error)
}

// StatusChangeRepository defines status history persistence. Entries are
// insert-only.
type StatusChangeRepository interface {
	// CreateInTx inserts a history entry within tx.
	CreateInTx(ctx context.Context, tx *sql.Tx, c *StatusChange) error

	// GetByID retrieves a history entry.
	GetByID(ctx context.Context, id shared.ID) (*StatusChange, error)

	// ListByFinding returns a page of history, newest first.
	ListByFinding(ctx context.Context, findingID shared.ID, page pagination.Pagination) (pagination.Result[*StatusChange], error)

	// ListAllByFinding returns the whole history, newest first.
	ListAllByFinding(ctx context.Context, findingID shared.ID) ([]*StatusChange, error)
}

// CommentRepository defines comment persistence.
type CommentRepository interface {
	// Create inserts a comment.
	Create(ctx context.Context, c *Comment) error

	// ListByFinding returns a finding's comments, newest first.
	ListByFinding(ctx context.Context, findingID shared.ID) ([]*Comment, error)
}

// Filter narrows finding listings.
type Filter struct {
	WorkspaceID shared.ID
	Statuses    []Status
	Severities  []Severity
	Search      string
	// Sort is applied when set, otherwise newest first.
	Sort *pagination.SortOption
}

// SortFields maps accepted sort keys to columns.
var SortFields = map[string]string{
	"created_at": "f.created_at",
	"updated_at": "f.updated_at",
	"severity":   "CASE f.severity WHEN 'Critical' THEN 5 WHEN 'High' THEN 4 WHEN 'Medium' THEN 3 WHEN 'Low' THEN 2 ELSE 1 END",
	"status":     "f.status",
	"title":      "f.title",
}
