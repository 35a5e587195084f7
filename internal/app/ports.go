package app

import (
	"context"
	"database/sql"
	"io"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/shared"
)

// Transactor runs fn in one database transaction, committing when fn
// returns nil.
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// BlobStore keeps evidence file content. Delete treats missing keys as
// deleted; Get returns evidence.ErrBlobMissing for them.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, keys ...string) error
}

// PurgeQueue schedules asynchronous blob deletion.
type PurgeQueue interface {
	EnqueueBlobPurge(ctx context.Context, evidenceID shared.ID, paths []string, wholeBundle bool) error
}

// MembershipCache fronts membership lookups. A nil membership means the user
// is not a member.
type MembershipCache interface {
	GetOrLoad(ctx context.Context, orgID, userID shared.ID, load func(ctx context.Context) (*access.Membership, error)) (*access.Membership, error)
}
