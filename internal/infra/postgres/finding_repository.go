package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/pagination"
)

// FindingRepository handles finding persistence.
type FindingRepository struct {
	db      *DB
	history *StatusChangeRepository
}

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(db *DB, history *StatusChangeRepository) *FindingRepository {
	return &FindingRepository{db: db, history: history}
}

var _ finding.Repository = (*FindingRepository)(nil)

const findingColumns = `
	f.id, f.workspace_id, f.title, f.description, f.severity, f.status,
	f.first_seen_at, f.last_seen_at, f.status_changed_at, f.mitigated_at,
	f.time_to_mitigate_hours, f.created_at, f.updated_at`

// Create inserts a finding and its initial history entry atomically.
func (r *FindingRepository) Create(ctx context.Context, f *finding.Finding, initial *finding.StatusChange) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO findings (
				id, workspace_id, title, description, severity, status,
				first_seen_at, last_seen_at, status_changed_at, mitigated_at,
				time_to_mitigate_hours, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		_, err := tx.ExecContext(ctx, query,
			f.ID().String(),
			f.WorkspaceID().String(),
			f.Title(),
			f.Description(),
			f.Severity().String(),
			f.Status().String(),
			f.FirstSeenAt(),
			f.LastSeenAt(),
			nullTime(f.StatusChangedAt()),
			nullTime(f.MitigatedAt()),
			nullFloat(f.TimeToMitigateHours()),
			f.CreatedAt(),
			f.UpdatedAt(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: finding %s", shared.ErrAlreadyExists, f.ID())
			}
			return fmt.Errorf("failed to create finding: %w", err)
		}
		if initial == nil {
			return nil
		}
		return r.history.CreateInTx(ctx, tx, initial)
	})
}

// GetByID retrieves a finding.
func (r *FindingRepository) GetByID(ctx context.Context, id shared.ID) (*finding.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings f WHERE f.id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id.String()), id)
}

// GetForUpdateInTx loads a finding and locks the row until tx ends.
func (r *FindingRepository) GetForUpdateInTx(ctx context.Context, tx *sql.Tx, id shared.ID) (*finding.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings f WHERE f.id = $1 FOR UPDATE`
	return r.scanOne(tx.QueryRowContext(ctx, query, id.String()), id)
}

// UpdateInTx writes the mutable columns within tx.
func (r *FindingRepository) UpdateInTx(ctx context.Context, tx *sql.Tx, f *finding.Finding) error {
	return r.update(ctx, tx, f)
}

// Update writes the mutable columns.
func (r *FindingRepository) Update(ctx context.Context, f *finding.Finding) error {
	return r.update(ctx, r.db, f)
}

func (r *FindingRepository) update(ctx context.Context, q querier, f *finding.Finding) error {
	query := `
		UPDATE findings SET
			title = $2, description = $3, severity = $4, status = $5,
			last_seen_at = $6, status_changed_at = $7, mitigated_at = $8,
			time_to_mitigate_hours = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query,
		f.ID().String(),
		f.Title(),
		f.Description(),
		f.Severity().String(),
		f.Status().String(),
		f.LastSeenAt(),
		nullTime(f.StatusChangedAt()),
		nullTime(f.MitigatedAt()),
		nullFloat(f.TimeToMitigateHours()),
		f.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update finding: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return finding.NewFindingNotFoundError(f.ID())
	}
	return nil
}

// WorkspaceOf returns the workspace of a finding.
func (r *FindingRepository) WorkspaceOf(ctx context.Context, id shared.ID) (shared.ID, error) {
	var ws shared.ID
	err := r.db.QueryRowContext(ctx, `SELECT workspace_id FROM findings WHERE id = $1`, id.String()).Scan(&ws)
	if errors.Is(err, sql.ErrNoRows) {
		return shared.ID{}, finding.NewFindingNotFoundError(id)
	}
	if err != nil {
		return shared.ID{}, fmt.Errorf("failed to resolve finding workspace: %w", err)
	}
	return ws, nil
}

// List returns a page of findings matching filter.
func (r *FindingRepository) List(ctx context.Context, filter finding.Filter, page pagination.Pagination) (pagination.Result[*finding.Finding], error) {
	where, args := buildFindingWhere(filter)

	var total int64
	countQuery := `SELECT COUNT(*) FROM findings f WHERE ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return pagination.Result[*finding.Finding]{}, fmt.Errorf("failed to count findings: %w", err)
	}

	orderBy := defaultFindingOrder
	if filter.Sort != nil && !filter.Sort.IsEmpty() {
		orderBy = filter.Sort.SQLWithDefault(defaultFindingOrder)
	}
	query := `SELECT ` + findingColumns + ` FROM findings f WHERE ` + where +
		` ORDER BY ` + orderBy +
		fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit(), page.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return pagination.Result[*finding.Finding]{}, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []*finding.Finding
	for rows.Next() {
		f, err := scanFinding(rows.Scan)
		if err != nil {
			return pagination.Result[*finding.Finding]{}, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return pagination.Result[*finding.Finding]{}, fmt.Errorf("failed to iterate findings: %w", err)
	}

	return pagination.NewResult(findings, total, page), nil
}

func buildFindingWhere(filter finding.Filter) (string, []any) {
	conditions := []string{"f.workspace_id = $1"}
	args := []any{filter.WorkspaceID.String()}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = s.String()
		}
		args = append(args, pq.Array(statuses))
		conditions = append(conditions, fmt.Sprintf("f.status = ANY($%d)", len(args)))
	}
	if len(filter.Severities) > 0 {
		severities := make([]string, len(filter.Severities))
		for i, s := range filter.Severities {
			severities[i] = s.String()
		}
		args = append(args, pq.Array(severities))
		conditions = append(conditions, fmt.Sprintf("f.severity = ANY($%d)", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, wrapLikePattern(search))
		conditions = append(conditions, fmt.Sprintf("f.title ILIKE $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

func (r *FindingRepository) scanOne(row *sql.Row, id shared.ID) (*finding.Finding, error) {
	f, err := scanFinding(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, finding.NewFindingNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan finding: %w", err)
	}
	return f, nil
}

func scanFinding(scan func(dest ...any) error) (*finding.Finding, error) {
	var (
		id, workspaceID         shared.ID
		title, description      string
		severity, status        string
		firstSeenAt, lastSeenAt time.Time
		statusChangedAt         sql.NullTime
		mitigatedAt             sql.NullTime
		timeToMitigate          sql.NullFloat64
		createdAt, updatedAt    time.Time
	)
	err := scan(
		&id, &workspaceID, &title, &description, &severity, &status,
		&firstSeenAt, &lastSeenAt, &statusChangedAt, &mitigatedAt,
		&timeToMitigate, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	return finding.Reconstitute(
		id, workspaceID,
		title, description,
		finding.Severity(severity),
		finding.Status(status),
		firstSeenAt, lastSeenAt,
		nullTimeValue(statusChangedAt), nullTimeValue(mitigatedAt),
		nullFloatValue(timeToMitigate),
		createdAt, updatedAt,
	), nil
}
