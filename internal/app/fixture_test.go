package app

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *memStore
	access *memAccess
	blobs  *memBlobs
	queue  *memQueue

	status   *FindingStatusService
	evidence *EvidenceService
	findings *FindingService
	authz    *AuthorizationService

	orgID     shared.ID
	workspace access.Workspace

	member   access.User
	member2  access.User
	admin    access.User
	outsider access.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	env := &testEnv{
		store:  store,
		access: &memAccess{memStore: store},
		blobs:  newMemBlobs(),
		queue:  &memQueue{},
		orgID:  shared.NewID(),
	}
	env.workspace = access.Workspace{ID: shared.NewID(), OrganizationID: env.orgID, Name: "prod"}
	store.workspaces[env.workspace.ID] = &env.workspace

	env.member = env.addUser("Mia Member", access.RoleMember)
	env.member2 = env.addUser("Max Member", access.RoleMember)
	env.admin = env.addUser("Ada Admin", access.RoleAdmin)
	env.outsider = access.User{ID: shared.NewID(), DisplayName: "Otto Outsider", Active: true}
	store.users[env.outsider.ID] = &env.outsider

	policy := evidence.DefaultPolicy()
	policy.MaxFileSize = 1024
	settings := EvidenceSettings{Policy: policy, UploadConcurrency: 2}
	log := logger.NewNop()

	findings := memFindings{store}
	history := memHistory{store}
	bundles := memEvidence{store}

	env.status = NewFindingStatusService(store, findings, history, bundles, env.blobs, settings, log)
	env.status.nowFunc = func() time.Time { return fixedNow }
	env.evidence = NewEvidenceService(store, findings, history, bundles, env.blobs, env.queue, settings, log)
	env.evidence.nowFunc = func() time.Time { return fixedNow }
	env.findings = NewFindingService(findings, history, memComments{store}, bundles, log)
	env.findings.nowFunc = func() time.Time { return fixedNow }
	env.authz = NewAuthorizationService(env.access, findings, bundles, nil, log)
	return env
}

func (e *testEnv) addUser(name string, role access.Role) access.User {
	u := access.User{ID: shared.NewID(), DisplayName: name, Active: true}
	e.store.users[u.ID] = &u
	e.store.members[[2]shared.ID{e.orgID, u.ID}] = &access.Membership{
		OrganizationID: e.orgID, UserID: u.ID, Role: role, Active: true,
	}
	return u
}

func (e *testEnv) decide(t *testing.T, u access.User) access.Decision {
	t.Helper()
	d, err := e.authz.Decide(context.Background(), access.Principal{UserID: u.ID}, e.workspace.ID)
	require.NoError(t, err)
	return d
}

// newFinding stores an Open finding first seen 48 hours before fixedNow.
func (e *testEnv) newFinding(t *testing.T, title string) *finding.Finding {
	t.Helper()
	f, err := finding.NewFinding(e.workspace.ID, title, finding.SeverityHigh, fixedNow.Add(-48*time.Hour))
	require.NoError(t, err)
	initial, err := f.InitialStatusChange(e.member.ID)
	require.NoError(t, err)
	require.NoError(t, memFindings{e.store}.Create(context.Background(), f, initial))
	return f
}

func (e *testEnv) statusOf(t *testing.T, id shared.ID) finding.Status {
	t.Helper()
	f, err := memFindings{e.store}.GetByID(context.Background(), id)
	require.NoError(t, err)
	return f.Status()
}

func textFile(name, content string) UploadFile {
	return UploadFile{
		Name:        name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Content:     bytes.NewReader([]byte(content)),
	}
}

func (e *testEnv) upload(t *testing.T, d access.Decision, f *finding.Finding, related string, files ...UploadFile) *evidence.Bundle {
	t.Helper()
	res, err := e.evidence.Upload(context.Background(), d, UploadEvidenceInput{
		FindingID:             f.ID().String(),
		Description:           "proof",
		RelatedStatusChangeID: related,
		Files:                 files,
	})
	require.NoError(t, err)
	return res.Bundle
}
