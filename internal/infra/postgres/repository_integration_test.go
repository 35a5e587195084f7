//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vexscan/api/internal/infra/postgres"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/migrations"
	"github.com/vexscan/api/pkg/pagination"
)

var testDB *postgres.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("vexscan"),
		tcpostgres.WithUsername("vexscan"),
		tcpostgres.WithPassword("vexscan"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %s", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("failed to build connection string: %s", err)
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %s", err)
	}
	if err := migrations.NewRunner(sqlDB, logger.NewNop()).Up(ctx); err != nil {
		log.Fatalf("failed to run migrations: %s", err)
	}
	testDB = postgres.Wrap(sqlDB)

	code := m.Run()

	_ = sqlDB.Close()
	if err := testcontainers.TerminateContainer(container); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

type fixture struct {
	orgID, workspaceID   shared.ID
	memberID, strangerID shared.ID
}

func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		orgID:       shared.NewID(),
		workspaceID: shared.NewID(),
		memberID:    shared.NewID(),
		strangerID:  shared.NewID(),
	}
	stmts := []struct {
		q    string
		args []any
	}{
		{`INSERT INTO organizations (id, name) VALUES ($1, 'Acme')`, []any{f.orgID.String()}},
		{`INSERT INTO workspaces (id, organization_id, name) VALUES ($1, $2, 'prod')`, []any{f.workspaceID.String(), f.orgID.String()}},
		{`INSERT INTO users (id, email, display_name) VALUES ($1, $2, 'Ana Member')`, []any{f.memberID.String(), f.memberID.String() + "@example.com"}},
		{`INSERT INTO users (id, email, display_name) VALUES ($1, $2, 'Sam Stranger')`, []any{f.strangerID.String(), f.strangerID.String() + "@example.com"}},
		{`INSERT INTO organization_members (organization_id, user_id, role) VALUES ($1, $2, 'member')`, []any{f.orgID.String(), f.memberID.String()}},
	}
	for _, s := range stmts {
		_, err := testDB.ExecContext(ctx, s.q, s.args...)
		require.NoError(t, err, s.q)
	}
	return f
}

func newRepos() (*postgres.FindingRepository, *postgres.StatusChangeRepository, *postgres.EvidenceRepository) {
	history := postgres.NewStatusChangeRepository(testDB)
	return postgres.NewFindingRepository(testDB, history), history, postgres.NewEvidenceRepository(testDB)
}

func createFinding(t *testing.T, fx fixture) *finding.Finding {
	t.Helper()
	findings, _, _ := newRepos()
	f, err := finding.NewFinding(fx.workspaceID, "SQL injection in /login", finding.SeverityHigh, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	initial, err := f.InitialStatusChange(fx.memberID)
	require.NoError(t, err)
	require.NoError(t, findings.Create(context.Background(), f, initial))
	return f
}

func testFile(name string) evidence.FileRef {
	return evidence.FileRef{
		Name: name,
		Path: "ws/finding/" + name,
		Size: 42,
		Type: "text/plain",
		Hash: strings.Repeat("ab", 32),
	}
}

func TestAccessRepository(t *testing.T) {
	fx := seed(t)
	repo := postgres.NewAccessRepository(testDB)
	ctx := context.Background()

	ws, err := repo.GetWorkspace(ctx, fx.workspaceID)
	require.NoError(t, err)
	assert.Equal(t, fx.orgID, ws.OrganizationID)

	u, err := repo.GetUser(ctx, fx.memberID)
	require.NoError(t, err)
	assert.True(t, u.Active)
	assert.Equal(t, "Ana Member", u.DisplayName)

	m, err := repo.GetMembership(ctx, fx.orgID, fx.memberID)
	require.NoError(t, err)
	assert.Equal(t, access.RoleMember, m.Role)

	_, err = repo.GetMembership(ctx, fx.orgID, fx.strangerID)
	assert.True(t, shared.IsNotFound(err))

	_, err = repo.GetWorkspace(ctx, shared.NewID())
	assert.True(t, shared.IsNotFound(err))
}

func TestStatusTransitionPersistence(t *testing.T) {
	fx := seed(t)
	findings, history, bundles := newRepos()
	ctx := context.Background()
	f := createFinding(t, fx)

	b, err := evidence.NewBundle(evidence.NewBundleParams{
		FindingID:  f.ID(),
		Files:      []evidence.FileRef{testFile("poc.txt")},
		UploadedBy: fx.memberID,
	})
	require.NoError(t, err)
	require.NoError(t, bundles.Create(ctx, b))

	var change *finding.StatusChange
	err = testDB.Transaction(ctx, func(tx *sql.Tx) error {
		locked, err := findings.GetForUpdateInTx(ctx, tx, f.ID())
		if err != nil {
			return err
		}
		n, err := bundles.CountActiveByFindingInTx(ctx, tx, f.ID())
		if err != nil {
			return err
		}
		change, err = locked.ChangeStatus(finding.StatusMitigated, "patched in release 4.2", fx.memberID, n, time.Now())
		if err != nil {
			return err
		}
		if err := history.CreateInTx(ctx, tx, change); err != nil {
			return err
		}
		return findings.UpdateInTx(ctx, tx, locked)
	})
	require.NoError(t, err)

	got, err := findings.GetByID(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, finding.StatusMitigated, got.Status())
	require.NotNil(t, got.TimeToMitigateHours())

	page, err := history.ListByFinding(ctx, f.ID(), pagination.New(1, 20))
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, change.ID(), page.Data[0].ID())
	assert.Equal(t, finding.StatusOpen, *page.Data[0].FromStatus())
	assert.Nil(t, page.Data[1].FromStatus())
	assert.Equal(t, "Ana Member", page.Data[0].ChangedByName())

	all, err := history.ListAllByFinding(ctx, f.ID())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, change.ID(), all[0].ID())

	t.Run("history rows are append-only", func(t *testing.T) {
		_, err := testDB.ExecContext(ctx, `UPDATE finding_status_history SET comment = 'x' WHERE id = $1`, change.ID().String())
		assert.Error(t, err)
		_, err = testDB.ExecContext(ctx, `DELETE FROM finding_status_history WHERE id = $1`, change.ID().String())
		assert.Error(t, err)
	})
}

func TestCommentPersistence(t *testing.T) {
	fx := seed(t)
	repo := postgres.NewCommentRepository(testDB)
	ctx := context.Background()
	f := createFinding(t, fx)

	first, err := finding.NewComment(f.ID(), fx.memberID, "vendor contacted", false, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, first))
	second, err := finding.NewComment(f.ID(), fx.memberID, "patch ETA next sprint", true, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, second))

	got, err := repo.ListByFinding(ctx, f.ID())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, second.ID(), got[0].ID())
	assert.True(t, got[0].IsInternal())
	assert.Equal(t, "Ana Member", got[0].AuthorName())
	assert.Equal(t, "vendor contacted", got[1].Content())

	orphan, err := finding.NewComment(shared.NewID(), fx.memberID, "lost", false, time.Now())
	require.NoError(t, err)
	assert.True(t, finding.IsFindingNotFound(repo.Create(ctx, orphan)))

	none, err := repo.ListByFinding(ctx, shared.NewID())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestEvidenceLinkageConstraints(t *testing.T) {
	fx := seed(t)
	_, history, bundles := newRepos()
	ctx := context.Background()

	f1 := createFinding(t, fx)
	f2 := createFinding(t, fx)

	other, err := history.ListByFinding(ctx, f2.ID(), pagination.New(1, 1))
	require.NoError(t, err)
	require.Len(t, other.Data, 1)

	t.Run("cross finding link rejected by the schema", func(t *testing.T) {
		now := time.Now()
		b := evidence.Reconstitute(evidence.ReconstituteParams{
			ID:                    shared.NewID(),
			FindingID:             f1.ID(),
			Files:                 []evidence.FileRef{testFile("a.txt")},
			RelatedStatusChangeID: other.Data[0].ID().Ptr(),
			UploadedBy:            fx.memberID,
			Active:                true,
			CreatedAt:             now,
			UpdatedAt:             now,
		})
		err := bundles.Create(ctx, b)
		assert.ErrorIs(t, err, evidence.ErrMismatch)
	})

	t.Run("empty file list rejected by the schema", func(t *testing.T) {
		now := time.Now()
		b := evidence.Reconstitute(evidence.ReconstituteParams{
			ID:         shared.NewID(),
			FindingID:  f1.ID(),
			Files:      []evidence.FileRef{},
			UploadedBy: fx.memberID,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		err := bundles.Create(ctx, b)
		assert.ErrorIs(t, err, evidence.ErrNoFiles)
	})

	t.Run("nested lookup and dedup hashes", func(t *testing.T) {
		own, err := history.ListByFinding(ctx, f1.ID(), pagination.New(1, 1))
		require.NoError(t, err)
		change := own.Data[0]

		for i := 0; i < 3; i++ {
			b, err := evidence.NewBundle(evidence.NewBundleParams{
				FindingID:    f1.ID(),
				Files:        []evidence.FileRef{testFile("shot.png")},
				StatusChange: change,
				UploadedBy:   fx.memberID,
			})
			require.NoError(t, err)
			require.NoError(t, bundles.Create(ctx, b))
		}

		nested, err := bundles.ListActiveByStatusChanges(ctx, []shared.ID{change.ID()})
		require.NoError(t, err)
		assert.Len(t, nested[change.ID()], 3)

		found, err := bundles.FindActiveHashes(ctx, f1.ID(), []string{strings.Repeat("AB", 32), strings.Repeat("cd", 32)})
		require.NoError(t, err)
		assert.Equal(t, []string{strings.Repeat("ab", 32)}, found)
	})
}

func TestEvidenceSoftDeleteAndPurge(t *testing.T) {
	fx := seed(t)
	_, _, bundles := newRepos()
	ctx := context.Background()
	f := createFinding(t, fx)

	b, err := evidence.NewBundle(evidence.NewBundleParams{
		FindingID:  f.ID(),
		Files:      []evidence.FileRef{testFile("one.txt"), testFile("two.txt")},
		UploadedBy: fx.memberID,
	})
	require.NoError(t, err)
	require.NoError(t, bundles.Create(ctx, b))

	deletedAt := time.Now().Add(-time.Hour)
	err = testDB.Transaction(ctx, func(tx *sql.Tx) error {
		locked, err := bundles.GetForUpdateInTx(ctx, tx, b.ID())
		if err != nil {
			return err
		}
		if _, err := locked.SoftDelete(fx.memberID, deletedAt); err != nil {
			return err
		}
		return bundles.UpdateInTx(ctx, tx, locked)
	})
	require.NoError(t, err)

	active, err := bundles.ListActiveByFinding(ctx, f.ID())
	require.NoError(t, err)
	assert.Empty(t, active)

	stored, err := bundles.GetByID(ctx, b.ID())
	require.NoError(t, err, "row is kept after soft delete")
	assert.False(t, stored.IsActive())
	assert.Len(t, stored.Files(), 2)

	_, err = bundles.FindingOf(ctx, b.ID())
	assert.True(t, evidence.IsEvidenceNotFound(err))

	pending, err := bundles.ListPendingPurge(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	ids := make([]shared.ID, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID())
	}
	assert.Contains(t, ids, b.ID())

	require.NoError(t, bundles.MarkPurged(ctx, b.ID(), time.Now()))
	assert.Error(t, bundles.MarkPurged(ctx, b.ID(), time.Now()), "second purge mark is rejected")
}
