package evidence

import (
	"context"
	"database/sql"
	"time"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Repository defines evidence bundle persistence. Bundles are never
// physically deleted.
type Repository interface {
	// Create persists a new bundle.
	Create(ctx context.Context, b *Bundle) error

	// CreateInTx persists a new bundle within tx.
	CreateInTx(ctx context.Context, tx *sql.Tx, b *Bundle) error

	// GetByID returns a bundle whether active or not.
	GetByID(ctx context.Context, id shared.ID) (*Bundle, error)

	// GetForUpdateInTx returns a bundle and locks its row until tx ends.
	GetForUpdateInTx(ctx context.Context, tx *sql.Tx, id shared.ID) (*Bundle, error)

	// UpdateInTx writes the mutable columns within tx.
	UpdateInTx(ctx context.Context, tx *sql.Tx, b *Bundle) error

	// FindingOf returns the finding a bundle belongs to.
	FindingOf(ctx context.Context, id shared.ID) (shared.ID, error)

	// ListActiveByFinding returns the active bundles of a finding, newest first.
	ListActiveByFinding(ctx context.Context, findingID shared.ID) ([]*Bundle, error)

	// ListActiveByStatusChanges returns active bundles linked to any of the
	// given status changes, keyed by status change.
	ListActiveByStatusChanges(ctx context.Context, statusChangeIDs []shared.ID) (map[shared.ID][]*Bundle, error)

	// CountActiveByFindingInTx counts active bundles of a finding within tx.
	CountActiveByFindingInTx(ctx context.Context, tx *sql.Tx, findingID shared.ID) (int, error)

	// FindActiveHashes returns which of hashes already appear in active
	// bundles of the finding.
	FindActiveHashes(ctx context.Context, findingID shared.ID, hashes []string) ([]string, error)

	// ListPendingPurge returns soft-deleted bundles deleted before cutoff whose
	// blobs have not been purged yet.
	ListPendingPurge(ctx context.Context, cutoff time.Time, limit int) ([]*Bundle, error)

	// MarkPurged records blob removal for a soft-deleted bundle.
	MarkPurged(ctx context.Context, id shared.ID, at time.Time) error
}
