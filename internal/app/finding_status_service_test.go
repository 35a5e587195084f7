package app

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/pagination"
)

func TestChangeStatus_ClosingStatusesNeedTenCharacters(t *testing.T) {
	for _, to := range []finding.Status{
		finding.StatusAcceptedRisk,
		finding.StatusFalsePositive,
		finding.StatusNotObserved,
		finding.StatusMitigated,
	} {
		t.Run(string(to), func(t *testing.T) {
			env := newTestEnv(t)
			f := env.newFinding(t, "open port")
			d := env.decide(t, env.member)
			ctx := context.Background()
			if to == finding.StatusMitigated {
				env.upload(t, d, f, "", textFile("patch.txt", "patched"))
			}

			_, err := env.status.ChangeStatus(ctx, d, ChangeStatusInput{
				FindingID: f.ID().String(), Status: string(to), Comment: "123456789",
			})
			require.ErrorIs(t, err, finding.ErrCommentRequired)
			assert.Equal(t, finding.StatusOpen, env.statusOf(t, f.ID()))

			_, err = env.status.ChangeStatus(ctx, d, ChangeStatusInput{
				FindingID: f.ID().String(), Status: string(to), Comment: "   123456789   ",
			})
			require.ErrorIs(t, err, finding.ErrCommentRequired, "surrounding whitespace does not count")

			res, err := env.status.ChangeStatus(ctx, d, ChangeStatusInput{
				FindingID: f.ID().String(), Status: string(to), Comment: "1234567890",
			})
			require.NoError(t, err)
			assert.Equal(t, to, res.ToStatus)
			assert.Equal(t, to, env.statusOf(t, f.ID()))
		})
	}
}

func TestChangeStatus_MitigatedNeedsEvidence(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "sqli")
	d := env.decide(t, env.member)
	ctx := context.Background()
	input := ChangeStatusInput{FindingID: f.ID().String(), Status: "Mitigated", Comment: "patched in release 4.2"}

	_, err := env.status.ChangeStatus(ctx, d, input)
	require.ErrorIs(t, err, finding.ErrEvidenceRequired)
	assert.Equal(t, "EVIDENCE_REQUIRED", shared.CodeOf(err))

	env.upload(t, d, f, "", textFile("scan.txt", "clean rescan"))

	res, err := env.status.ChangeStatus(ctx, d, input)
	require.NoError(t, err)
	assert.Equal(t, finding.StatusOpen, res.FromStatus)
	require.NotNil(t, res.TimeToMitigateHours)
	assert.InDelta(t, 48.0, *res.TimeToMitigateHours, 0.01)
	assert.Equal(t, fixedNow, res.ChangedAt)
}

func TestChangeStatus_SoftDeletedEvidenceDoesNotCount(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "xss")
	d := env.decide(t, env.member)
	ctx := context.Background()

	b := env.upload(t, d, f, "", textFile("proof.txt", "proof"))
	_, err := env.evidence.Delete(ctx, d, f.ID().String(), b.ID().String())
	require.NoError(t, err)

	_, err = env.status.ChangeStatus(ctx, d, ChangeStatusInput{
		FindingID: f.ID().String(), Status: "Mitigated", Comment: "patched in release 4.2",
	})
	require.ErrorIs(t, err, finding.ErrEvidenceRequired)
}

func TestChangeStatus_RejectsNoOp(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "weak tls")
	d := env.decide(t, env.member)

	_, err := env.status.ChangeStatus(context.Background(), d, ChangeStatusInput{
		FindingID: f.ID().String(), Status: "Open",
	})
	require.ErrorIs(t, err, finding.ErrNoOpTransition)
	assert.Len(t, env.store.history, 1)
}

func TestChangeStatus_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "weak tls")
	d := env.decide(t, env.member)

	_, err := env.status.ChangeStatus(context.Background(), d, ChangeStatusInput{
		FindingID: f.ID().String(), Status: "Closed",
	})
	require.ErrorIs(t, err, finding.ErrInvalidStatus)
	assert.Equal(t, "INVALID_STATUS", shared.CodeOf(err))
}

func TestChangeStatus_RecordsFromStatusAndReopen(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "rce")
	d := env.decide(t, env.member)
	ctx := context.Background()
	env.upload(t, d, f, "", textFile("fix.txt", "fix"))

	steps := []struct {
		to      string
		comment string
		from    finding.Status
	}{
		{"In Progress", "", finding.StatusOpen},
		{"Mitigated", "hotfix deployed to prod", finding.StatusInProgress},
		{"Open", "regressed", finding.StatusMitigated},
	}
	for _, s := range steps {
		res, err := env.status.ChangeStatus(ctx, d, ChangeStatusInput{FindingID: f.ID().String(), Status: s.to, Comment: s.comment})
		require.NoError(t, err, s.to)
		assert.Equal(t, s.from, res.FromStatus, s.to)
	}

	stored, err := memFindings{env.store}.GetByID(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, finding.StatusOpen, stored.Status())
	assert.Nil(t, stored.MitigatedAt(), "reopening clears mitigated_at")
	require.NotNil(t, stored.TimeToMitigateHours(), "time to mitigate is kept for reporting")

	page, err := env.status.History(ctx, d, f.ID().String(), pagination.New(1, 20))
	require.NoError(t, err)
	require.Len(t, page.Data, 4)
	assert.Equal(t, finding.StatusOpen, page.Data[0].Change.ToStatus())
	assert.Equal(t, finding.StatusMitigated, *page.Data[0].Change.FromStatus())
	assert.Nil(t, page.Data[3].Change.FromStatus(), "initial entry has no from status")
}

func TestChangeStatus_FailedHistoryInsertRollsBack(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "ssrf")
	d := env.decide(t, env.member)
	env.store.failHistoryInsert = errBoom

	_, err := env.status.ChangeStatus(context.Background(), d, ChangeStatusInput{
		FindingID: f.ID().String(), Status: "In Progress",
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, finding.StatusOpen, env.statusOf(t, f.ID()))
}

func TestChangeStatus_Authorization(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "idor")
	ctx := context.Background()
	input := ChangeStatusInput{FindingID: f.ID().String(), Status: "In Progress"}

	_, err := env.status.ChangeStatus(ctx, env.decide(t, env.outsider), input)
	require.ErrorIs(t, err, access.ErrDenied)

	// A decision for another workspace never carries over.
	other := access.Decision{UserID: env.member.ID, WorkspaceID: shared.NewID(), Role: access.RoleOwner, Allowed: true}
	_, err = env.status.ChangeStatus(ctx, other, input)
	require.ErrorIs(t, err, access.ErrDenied)

	_, err = env.status.ChangeStatus(ctx, env.decide(t, env.member), ChangeStatusInput{
		FindingID: shared.NewID().String(), Status: "In Progress",
	})
	require.ErrorIs(t, err, finding.ErrFindingNotFound)
	assert.Equal(t, finding.StatusOpen, env.statusOf(t, f.ID()))
}

func TestHistory_NestsLinkedEvidence(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "csrf")
	d := env.decide(t, env.member)
	ctx := context.Background()

	res, err := env.status.ChangeStatus(ctx, d, ChangeStatusInput{
		FindingID: f.ID().String(), Status: "False Positive", Comment: "token is validated upstream",
	})
	require.NoError(t, err)

	for i := range 3 {
		env.upload(t, d, f, res.StatusChangeID.String(), textFile(fmt.Sprintf("shot-%d.png", i), fmt.Sprintf("png-%d", i)))
	}
	unlinked := env.upload(t, d, f, "", textFile("notes.txt", "unlinked"))

	page, err := env.status.History(ctx, d, f.ID().String(), pagination.New(1, 20))
	require.NoError(t, err)
	require.Len(t, page.Data, 2)

	latest := page.Data[0]
	assert.Equal(t, res.StatusChangeID, latest.Change.ID())
	require.Len(t, latest.Evidence, 3)
	for _, b := range latest.Evidence {
		assert.NotEqual(t, unlinked.ID(), b.ID())
		assert.Equal(t, "Mia Member", b.UploadedByName())
	}
	assert.NotNil(t, page.Data[1].Evidence)
	assert.Empty(t, page.Data[1].Evidence)
}

func TestHistory_Pagination(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "flapping")
	d := env.decide(t, env.member)
	ctx := context.Background()

	// 44 transitions plus the initial entry.
	for i := range 44 {
		to := "In Progress"
		if i%2 == 1 {
			to = "Open"
		}
		_, err := env.status.ChangeStatus(ctx, d, ChangeStatusInput{FindingID: f.ID().String(), Status: to})
		require.NoError(t, err)
	}

	page, err := env.status.History(ctx, d, f.ID().String(), pagination.New(3, 20))
	require.NoError(t, err)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, int64(45), page.Total)
	assert.Equal(t, 3, page.TotalPages)

	page, err = env.status.History(ctx, d, f.ID().String(), pagination.New(10, 20))
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Equal(t, int64(45), page.Total)
	assert.Equal(t, 3, page.TotalPages)
}

func TestCompleteWithEvidence(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "open redirect")
	d := env.decide(t, env.member)
	ctx := context.Background()

	res, err := env.status.CompleteWithEvidence(ctx, d, CompleteWithEvidenceInput{
		FindingID:   f.ID().String(),
		Status:      "Mitigated",
		Comment:     "allow list enforced",
		Description: "retest",
		Labels:      []evidence.Label{{Text: "retest", Color: "#00AA00"}},
		Files:       []UploadFile{textFile("before.txt", "302"), textFile("after.txt", "400")},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Evidence)

	assert.Equal(t, finding.StatusMitigated, res.Transition.ToStatus)
	assert.True(t, res.Evidence.IsLinkedTo(res.Transition.StatusChangeID))
	assert.Equal(t, 2, res.Evidence.FileCount())
	assert.Equal(t, 2, env.blobs.count())
	for _, file := range res.Evidence.Files() {
		assert.True(t, strings.HasPrefix(file.Path, env.workspace.ID.String()+"/"+f.ID().String()+"/"))
		assert.Len(t, file.Hash, 64)
	}

	page, err := env.status.History(ctx, d, f.ID().String(), pagination.New(1, 20))
	require.NoError(t, err)
	require.Len(t, page.Data[0].Evidence, 1)
	assert.Equal(t, res.Evidence.ID(), page.Data[0].Evidence[0].ID())
}

func TestCompleteWithEvidence_Validation(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "clickjacking")
	d := env.decide(t, env.member)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CompleteWithEvidenceInput
		want  error
	}{
		{"not a closing status", CompleteWithEvidenceInput{Status: "In Progress", Comment: "working on it now"}, finding.ErrInvalidStatus},
		{"blank comment", CompleteWithEvidenceInput{Status: "Accepted Risk", Comment: "  "}, finding.ErrCommentRequired},
		{"short comment", CompleteWithEvidenceInput{Status: "Accepted Risk", Comment: "too short"}, finding.ErrCommentRequired},
		{"mitigated without files", CompleteWithEvidenceInput{Status: "Mitigated", Comment: "deployed the fix"}, finding.ErrEvidenceRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.FindingID = f.ID().String()
			_, err := env.status.CompleteWithEvidence(ctx, d, tt.input)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, finding.StatusOpen, env.statusOf(t, f.ID()))
		})
	}

	res, err := env.status.CompleteWithEvidence(ctx, d, CompleteWithEvidenceInput{
		FindingID: f.ID().String(), Status: "Accepted Risk", Comment: "internal tool only",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Evidence)
	assert.Equal(t, finding.StatusAcceptedRisk, res.Transition.ToStatus)
}

func TestCompleteWithEvidence_FailureRemovesBlobs(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "path traversal")
	d := env.decide(t, env.member)
	env.store.failHistoryInsert = errBoom

	_, err := env.status.CompleteWithEvidence(context.Background(), d, CompleteWithEvidenceInput{
		FindingID: f.ID().String(),
		Status:    "Mitigated",
		Comment:   "input normalized",
		Files:     []UploadFile{textFile("a.txt", "a"), textFile("b.txt", "b")},
	})
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, env.blobs.count())
	assert.Empty(t, env.store.bundles, "bundle insert rolled back")
	assert.Equal(t, finding.StatusOpen, env.statusOf(t, f.ID()))
}

func TestCompleteWithEvidence_Denied(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "xxe")

	_, err := env.status.CompleteWithEvidence(context.Background(), env.decide(t, env.outsider), CompleteWithEvidenceInput{
		FindingID: f.ID().String(),
		Status:    "Mitigated",
		Comment:   "parser hardened",
		Files:     []UploadFile{textFile("a.txt", "a")},
	})
	require.ErrorIs(t, err, access.ErrDenied)
	assert.Equal(t, 0, env.blobs.count(), "nothing is stored before the access check")
}
