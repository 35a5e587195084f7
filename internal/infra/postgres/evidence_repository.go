package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/shared"
)

// EvidenceRepository persists evidence bundles in finding_evidence.
type EvidenceRepository struct {
	db *DB
}

// NewEvidenceRepository creates a new EvidenceRepository.
func NewEvidenceRepository(db *DB) *EvidenceRepository {
	return &EvidenceRepository{db: db}
}

var _ evidence.Repository = (*EvidenceRepository)(nil)

const evidenceSelect = `
	SELECT e.id, e.finding_id, e.files, e.description, e.comments, e.evidence_type,
		e.tags, e.related_status_change_id, e.uploaded_by,
		COALESCE(u.display_name, '') AS uploaded_by_name,
		e.is_active, e.created_at, e.updated_at, e.deleted_at, e.deleted_by, e.purged_at
	FROM finding_evidence e
	LEFT JOIN users u ON u.id = e.uploaded_by
`

// Create persists a new bundle.
func (r *EvidenceRepository) Create(ctx context.Context, b *evidence.Bundle) error {
	return r.create(ctx, r.db, b)
}

// CreateInTx persists a new bundle within tx.
func (r *EvidenceRepository) CreateInTx(ctx context.Context, tx *sql.Tx, b *evidence.Bundle) error {
	return r.create(ctx, tx, b)
}

func (r *EvidenceRepository) create(ctx context.Context, q querier, b *evidence.Bundle) error {
	files, err := toJSONB(b.Files())
	if err != nil {
		return fmt.Errorf("failed to encode evidence files: %w", err)
	}
	tags, err := toJSONB(b.Labels())
	if err != nil {
		return fmt.Errorf("failed to encode evidence tags: %w", err)
	}

	query := `
		INSERT INTO finding_evidence (
			id, finding_id, files, description, comments, evidence_type, tags,
			related_status_change_id, uploaded_by, is_active, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = q.ExecContext(ctx, query,
		b.ID().String(),
		b.FindingID().String(),
		files,
		b.Description(),
		b.Comments(),
		b.EvidenceType(),
		tags,
		nullID(b.RelatedStatusChangeID()),
		b.UploadedBy().String(),
		b.IsActive(),
		b.CreatedAt(),
		b.UpdatedAt(),
	)
	if err != nil {
		return translateEvidenceError(err)
	}
	return nil
}

// GetByID returns a bundle whether active or not.
func (r *EvidenceRepository) GetByID(ctx context.Context, id shared.ID) (*evidence.Bundle, error) {
	return r.getOne(r.db.QueryRowContext(ctx, evidenceSelect+" WHERE e.id = $1", id.String()), id)
}

// GetForUpdateInTx returns a bundle and locks its row until tx ends.
func (r *EvidenceRepository) GetForUpdateInTx(ctx context.Context, tx *sql.Tx, id shared.ID) (*evidence.Bundle, error) {
	query := evidenceSelect + " WHERE e.id = $1 FOR UPDATE OF e"
	return r.getOne(tx.QueryRowContext(ctx, query, id.String()), id)
}

// UpdateInTx writes the mutable columns within tx.
func (r *EvidenceRepository) UpdateInTx(ctx context.Context, tx *sql.Tx, b *evidence.Bundle) error {
	files, err := toJSONB(b.Files())
	if err != nil {
		return fmt.Errorf("failed to encode evidence files: %w", err)
	}
	tags, err := toJSONB(b.Labels())
	if err != nil {
		return fmt.Errorf("failed to encode evidence tags: %w", err)
	}

	query := `
		UPDATE finding_evidence SET
			files = $2, description = $3, comments = $4, evidence_type = $5, tags = $6,
			related_status_change_id = $7, is_active = $8, updated_at = $9,
			deleted_at = $10, deleted_by = $11, purged_at = $12
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query,
		b.ID().String(),
		files,
		b.Description(),
		b.Comments(),
		b.EvidenceType(),
		tags,
		nullID(b.RelatedStatusChangeID()),
		b.IsActive(),
		b.UpdatedAt(),
		nullTime(b.DeletedAt()),
		nullID(b.DeletedBy()),
		nullTime(b.PurgedAt()),
	)
	if err != nil {
		return translateEvidenceError(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return shared.Wrapf(evidence.ErrEvidenceNotFound, "%s", b.ID())
	}
	return nil
}

// FindingOf returns the finding of an active bundle.
func (r *EvidenceRepository) FindingOf(ctx context.Context, id shared.ID) (shared.ID, error) {
	var findingID shared.ID
	err := r.db.QueryRowContext(ctx,
		`SELECT finding_id FROM finding_evidence WHERE id = $1 AND is_active`, id.String(),
	).Scan(&findingID)
	if errors.Is(err, sql.ErrNoRows) {
		return shared.ID{}, shared.Wrapf(evidence.ErrEvidenceNotFound, "%s", id)
	}
	if err != nil {
		return shared.ID{}, fmt.Errorf("failed to resolve evidence finding: %w", err)
	}
	return findingID, nil
}

// ListActiveByFinding returns the active bundles of a finding, newest first.
func (r *EvidenceRepository) ListActiveByFinding(ctx context.Context, findingID shared.ID) ([]*evidence.Bundle, error) {
	query := evidenceSelect + ` WHERE e.finding_id = $1 AND e.is_active ORDER BY e.created_at DESC, e.id DESC`
	return r.list(ctx, query, findingID.String())
}

// ListActiveByStatusChanges returns active bundles linked to the given
// status changes, keyed by status change id.
func (r *EvidenceRepository) ListActiveByStatusChanges(ctx context.Context, statusChangeIDs []shared.ID) (map[shared.ID][]*evidence.Bundle, error) {
	out := make(map[shared.ID][]*evidence.Bundle, len(statusChangeIDs))
	if len(statusChangeIDs) == 0 {
		return out, nil
	}

	query := evidenceSelect + ` WHERE e.related_status_change_id = ANY($1::uuid[]) AND e.is_active ORDER BY e.created_at DESC, e.id DESC`
	bundles, err := r.list(ctx, query, pq.Array(idStrings(statusChangeIDs)))
	if err != nil {
		return nil, err
	}
	for _, b := range bundles {
		key := *b.RelatedStatusChangeID()
		out[key] = append(out[key], b)
	}
	return out, nil
}

// CountActiveByFindingInTx counts active bundles of a finding within tx.
func (r *EvidenceRepository) CountActiveByFindingInTx(ctx context.Context, tx *sql.Tx, findingID shared.ID) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM finding_evidence WHERE finding_id = $1 AND is_active`, findingID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count evidence: %w", err)
	}
	return count, nil
}

// FindActiveHashes returns which of hashes already appear in active bundles
// of the finding.
func (r *EvidenceRepository) FindActiveHashes(ctx context.Context, findingID shared.ID, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(hashes))
	for i, h := range hashes {
		lowered[i] = strings.ToLower(h)
	}

	query := `
		SELECT DISTINCT lower(f->>'file_hash')
		FROM finding_evidence e, jsonb_array_elements(e.files) AS f
		WHERE e.finding_id = $1 AND e.is_active AND lower(f->>'file_hash') = ANY($2)
		ORDER BY 1
	`
	rows, err := r.db.QueryContext(ctx, query, findingID.String(), pq.Array(lowered))
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence hashes: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan evidence hash: %w", err)
		}
		found = append(found, h)
	}
	return found, rows.Err()
}

// ListPendingPurge returns soft-deleted bundles whose blobs are still stored.
func (r *EvidenceRepository) ListPendingPurge(ctx context.Context, cutoff time.Time, limit int) ([]*evidence.Bundle, error) {
	query := evidenceSelect + `
		WHERE NOT e.is_active AND e.purged_at IS NULL AND e.deleted_at < $1
		ORDER BY e.deleted_at ASC
		LIMIT $2`
	return r.list(ctx, query, cutoff, limit)
}

// MarkPurged records blob removal for a soft-deleted bundle.
func (r *EvidenceRepository) MarkPurged(ctx context.Context, id shared.ID, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE finding_evidence SET purged_at = $2 WHERE id = $1 AND NOT is_active AND purged_at IS NULL`,
		id.String(), at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark evidence purged: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return shared.Wrapf(evidence.ErrEvidenceNotFound, "%s is not pending purge", id)
	}
	return nil
}

func (r *EvidenceRepository) list(ctx context.Context, query string, args ...any) ([]*evidence.Bundle, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	bundles := make([]*evidence.Bundle, 0)
	for rows.Next() {
		b, err := scanBundle(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evidence: %w", err)
	}
	return bundles, nil
}

func (r *EvidenceRepository) getOne(row *sql.Row, id shared.ID) (*evidence.Bundle, error) {
	b, err := scanBundle(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.Wrapf(evidence.ErrEvidenceNotFound, "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan evidence: %w", err)
	}
	return b, nil
}

func scanBundle(scan func(dest ...any) error) (*evidence.Bundle, error) {
	var (
		p                  evidence.ReconstituteParams
		filesRaw, tagsRaw  []byte
		relatedID          sql.NullString
		deletedAt, purgeAt sql.NullTime
		deletedBy          sql.NullString
	)
	err := scan(
		&p.ID, &p.FindingID, &filesRaw, &p.Description, &p.Comments, &p.EvidenceType,
		&tagsRaw, &relatedID, &p.UploadedBy, &p.UploadedByName,
		&p.Active, &p.CreatedAt, &p.UpdatedAt, &deletedAt, &deletedBy, &purgeAt,
	)
	if err != nil {
		return nil, err
	}
	if err := fromJSONB(filesRaw, &p.Files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	if err := fromJSONB(tagsRaw, &p.Labels); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	p.RelatedStatusChangeID = parseNullID(relatedID)
	p.DeletedAt = nullTimeValue(deletedAt)
	p.DeletedBy = parseNullID(deletedBy)
	p.PurgedAt = nullTimeValue(purgeAt)

	return evidence.Reconstitute(p), nil
}

// translateEvidenceError maps constraint violations to domain errors.
func translateEvidenceError(err error) error {
	switch {
	case isConstraintViolation(err, "fk_evidence_status_change"):
		return shared.Wrapf(evidence.ErrMismatch, "related status change is not part of this finding")
	case isConstraintViolation(err, "chk_evidence_files_not_empty"):
		return evidence.ErrNoFiles
	default:
		return fmt.Errorf("failed to write evidence: %w", err)
	}
}
