package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/pagination"
)

// StatusChangeRepository persists the append-only status history.
type StatusChangeRepository struct {
	db *DB
}

// NewStatusChangeRepository creates a new StatusChangeRepository.
func NewStatusChangeRepository(db *DB) *StatusChangeRepository {
	return &StatusChangeRepository{db: db}
}

var _ finding.StatusChangeRepository = (*StatusChangeRepository)(nil)

const statusChangeSelect = `
	SELECT h.id, h.finding_id, h.from_status, h.to_status, h.comment,
		h.changed_by, COALESCE(u.display_name, '') AS changed_by_name, h.created_at
	FROM finding_status_history h
	LEFT JOIN users u ON u.id = h.changed_by
`

// CreateInTx inserts a history entry within tx.
func (r *StatusChangeRepository) CreateInTx(ctx context.Context, tx *sql.Tx, c *finding.StatusChange) error {
	query := `
		INSERT INTO finding_status_history (id, finding_id, from_status, to_status, comment, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var from sql.NullString
	if s := c.FromStatus(); s != nil {
		from = sql.NullString{String: s.String(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, query,
		c.ID().String(),
		c.FindingID().String(),
		from,
		c.ToStatus().String(),
		c.Comment(),
		c.ChangedBy().String(),
		c.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert status change: %w", err)
	}
	return nil
}

// GetByID retrieves a history entry.
func (r *StatusChangeRepository) GetByID(ctx context.Context, id shared.ID) (*finding.StatusChange, error) {
	row := r.db.QueryRowContext(ctx, statusChangeSelect+" WHERE h.id = $1", id.String())
	c, err := scanStatusChange(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, finding.NewStatusChangeNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan status change: %w", err)
	}
	return c, nil
}

// ListByFinding returns a page of a finding's history, newest first.
func (r *StatusChangeRepository) ListByFinding(ctx context.Context, findingID shared.ID, page pagination.Pagination) (pagination.Result[*finding.StatusChange], error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM finding_status_history WHERE finding_id = $1`, findingID.String(),
	).Scan(&total)
	if err != nil {
		return pagination.Result[*finding.StatusChange]{}, fmt.Errorf("failed to count status history: %w", err)
	}

	query := statusChangeSelect + ` WHERE h.finding_id = $1 ORDER BY h.created_at DESC, h.id DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, findingID.String(), page.Limit(), page.Offset())
	if err != nil {
		return pagination.Result[*finding.StatusChange]{}, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var changes []*finding.StatusChange
	for rows.Next() {
		c, err := scanStatusChange(rows.Scan)
		if err != nil {
			return pagination.Result[*finding.StatusChange]{}, fmt.Errorf("failed to scan status change: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return pagination.Result[*finding.StatusChange]{}, fmt.Errorf("failed to iterate status history: %w", err)
	}

	return pagination.NewResult(changes, total, page), nil
}

// ListAllByFinding returns a finding's whole history, newest first.
func (r *StatusChangeRepository) ListAllByFinding(ctx context.Context, findingID shared.ID) ([]*finding.StatusChange, error) {
	query := statusChangeSelect + ` WHERE h.finding_id = $1 ORDER BY h.created_at DESC, h.id DESC`
	rows, err := r.db.QueryContext(ctx, query, findingID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	changes := []*finding.StatusChange{}
	for rows.Next() {
		c, err := scanStatusChange(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status history: %w", err)
	}
	return changes, nil
}

func scanStatusChange(scan func(dest ...any) error) (*finding.StatusChange, error) {
	var (
		id, findingID, changedBy shared.ID
		from                     sql.NullString
		to, comment, changerName string
		createdAt                time.Time
	)
	if err := scan(&id, &findingID, &from, &to, &comment, &changedBy, &changerName, &createdAt); err != nil {
		return nil, err
	}

	var fromStatus *finding.Status
	if from.Valid {
		s := finding.Status(from.String)
		fromStatus = &s
	}
	return finding.ReconstituteStatusChange(id, findingID, fromStatus, finding.Status(to), comment, changedBy, changerName, createdAt), nil
}
