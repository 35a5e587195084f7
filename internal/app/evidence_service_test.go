package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/shared"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestUpload_RejectsEmptyUpload(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)

	_, err := env.evidence.Upload(context.Background(), d, UploadEvidenceInput{FindingID: f.ID().String()})
	require.ErrorIs(t, err, evidence.ErrNoFiles)
	assert.Empty(t, env.store.bundles)
}

func TestUpload_SingleFile(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)

	res, err := env.evidence.Upload(context.Background(), d, UploadEvidenceInput{
		FindingID:    f.ID().String(),
		Description:  "  curl output  ",
		EvidenceType: "screenshot",
		Labels:       []evidence.Label{{Text: "retest", Color: "#FF5733"}},
		Files:        []UploadFile{textFile("../../etc/curl out.txt", "HTTP/1.1 404")},
	})
	require.NoError(t, err)

	b := res.Bundle
	assert.Equal(t, 1, b.FileCount())
	assert.Equal(t, "curl output", b.Description())
	assert.Equal(t, "Mia Member", b.UploadedByName())
	assert.Equal(t, "retest", b.GroupKey())
	assert.Empty(t, res.DuplicateHashes)
	assert.NotNil(t, res.DuplicateHashes)

	file := b.Files()[0]
	assert.Equal(t, sha("HTTP/1.1 404"), file.Hash)
	assert.Equal(t, int64(len("HTTP/1.1 404")), file.Size)
	assert.NotContains(t, file.Name, "/")
	assert.Equal(t, 2, strings.Count(file.Path, "/"), "name stays one path segment")
	assert.Equal(t, 1, env.blobs.count())
}

func TestUpload_Policy(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()

	_, err := env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID: f.ID().String(),
		Files:     []UploadFile{textFile("run.exe", "MZ")},
	})
	require.ErrorIs(t, err, evidence.ErrFileType)

	big := strings.Repeat("x", 2048)
	_, err = env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID: f.ID().String(),
		Files:     []UploadFile{textFile("big.log", big)},
	})
	require.ErrorIs(t, err, evidence.ErrTooLarge)

	// Unknown client size is enforced while reading.
	unsized := textFile("big.log", big)
	unsized.Size = 0
	_, err = env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID: f.ID().String(),
		Files:     []UploadFile{textFile("ok.txt", "fine"), unsized},
	})
	require.ErrorIs(t, err, evidence.ErrTooLarge)
	assert.Equal(t, 0, env.blobs.count(), "stored siblings are removed")

	_, err = env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID: f.ID().String(),
		Files:     []UploadFile{textFile("empty.txt", "")},
	})
	require.ErrorIs(t, err, evidence.ErrBadFile)

	_, err = env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID: f.ID().String(),
		Labels:    []evidence.Label{{Text: "x", Color: "red"}},
		Files:     []UploadFile{textFile("ok.txt", "fine")},
	})
	require.ErrorIs(t, err, evidence.ErrBadLabel)
	assert.Empty(t, env.store.bundles)
}

func TestUpload_ContentType(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()

	t.Run("declared type outside the allow list", func(t *testing.T) {
		notes := textFile("notes.txt", "plain words")
		notes.ContentType = "application/x-msdownload"
		_, err := env.evidence.Upload(ctx, d, UploadEvidenceInput{
			FindingID: f.ID().String(),
			Files:     []UploadFile{notes},
		})
		require.ErrorIs(t, err, evidence.ErrFileType)
		assert.Equal(t, 0, env.blobs.count())
	})

	t.Run("executable renamed to an allowed extension", func(t *testing.T) {
		exe := textFile("report.pdf", "MZ\x90\x00\x03\x00\x00\x00\x04\x00\x00\x00\xff\xff\x00\x00")
		exe.ContentType = "application/pdf"
		_, err := env.evidence.Upload(ctx, d, UploadEvidenceInput{
			FindingID: f.ID().String(),
			Files:     []UploadFile{textFile("ok.txt", "fine"), exe},
		})
		require.ErrorIs(t, err, evidence.ErrFileType)
		assert.Equal(t, 0, env.blobs.count(), "stored siblings are removed")
	})

	t.Run("stored type comes from the content", func(t *testing.T) {
		notes := textFile("notes.txt", "plain words")
		notes.ContentType = ""
		res, err := env.evidence.Upload(ctx, d, UploadEvidenceInput{
			FindingID: f.ID().String(),
			Files:     []UploadFile{notes},
		})
		require.NoError(t, err)
		assert.Equal(t, "text/plain", res.Bundle.Files()[0].Type)
	})
	assert.Len(t, env.store.bundles, 1)
}

func TestUpload_StorageFailureCleansUp(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	env.blobs.failPut = func(key string) error {
		if strings.HasSuffix(key, "b.txt") {
			return errBoom
		}
		return nil
	}

	_, err := env.evidence.Upload(context.Background(), d, UploadEvidenceInput{
		FindingID: f.ID().String(),
		Files:     []UploadFile{textFile("a.txt", "a"), textFile("b.txt", "b"), textFile("c.txt", "c")},
	})
	require.ErrorIs(t, err, shared.ErrStorage)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, env.blobs.count())
	assert.Empty(t, env.store.bundles)
}

func TestUpload_CrossFindingLinkRejected(t *testing.T) {
	env := newTestEnv(t)
	a := env.newFinding(t, "finding a")
	b := env.newFinding(t, "finding b")
	d := env.decide(t, env.member)
	ctx := context.Background()

	res, err := env.status.ChangeStatus(ctx, d, ChangeStatusInput{FindingID: b.ID().String(), Status: "In Progress"})
	require.NoError(t, err)

	_, err = env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID:             a.ID().String(),
		RelatedStatusChangeID: res.StatusChangeID.String(),
		Files:                 []UploadFile{textFile("x.txt", "x")},
	})
	require.ErrorIs(t, err, evidence.ErrMismatch)
	assert.Equal(t, "STATUS_CHANGE_MISMATCH", shared.CodeOf(err))
	assert.Equal(t, 0, env.blobs.count())

	_, err = env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID:             a.ID().String(),
		RelatedStatusChangeID: shared.NewID().String(),
		Files:                 []UploadFile{textFile("x.txt", "x")},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpload_ReportsDuplicateHashes(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()

	env.upload(t, d, f, "", textFile("one.txt", "same bytes"))
	res, err := env.evidence.Upload(ctx, d, UploadEvidenceInput{
		FindingID: f.ID().String(),
		Files:     []UploadFile{textFile("two.txt", "same bytes"), textFile("three.txt", "new")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{sha("same bytes")}, res.DuplicateHashes)
	assert.Equal(t, 2, res.Bundle.FileCount(), "duplicates are still stored")
}

func TestUpload_Denied(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")

	_, err := env.evidence.Upload(context.Background(), env.decide(t, env.outsider), UploadEvidenceInput{
		FindingID: f.ID().String(),
		Files:     []UploadFile{textFile("x.txt", "x")},
	})
	require.ErrorIs(t, err, access.ErrDenied)
	assert.Equal(t, 0, env.blobs.count())
}

func TestRemoveFile(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()

	single := env.upload(t, d, f, "", textFile("only.txt", "only"))
	_, err := env.evidence.RemoveFile(ctx, d, single.ID().String(), sha("only"))
	require.ErrorIs(t, err, evidence.ErrLastFile)
	stored, err := env.evidence.Get(ctx, d, single.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FileCount(), "record unchanged")
	assert.Empty(t, env.queue.calls)

	pair := env.upload(t, d, f, "", textFile("a.txt", "aaa"), textFile("b.txt", "bbb"))
	removedPath := pair.Files()[0].Path
	updated, err := env.evidence.RemoveFile(ctx, d, pair.ID().String(), strings.ToUpper(sha("aaa")))
	require.NoError(t, err)
	assert.Equal(t, 1, updated.FileCount())
	assert.Equal(t, "b.txt", updated.Files()[0].Name)

	require.Len(t, env.queue.calls, 1)
	assert.Equal(t, purgeCall{id: pair.ID(), paths: []string{removedPath}, whole: false}, env.queue.calls[0])

	_, err = env.evidence.RemoveFile(ctx, d, pair.ID().String(), sha("missing"))
	require.ErrorIs(t, err, evidence.ErrFileNotFound)
}

func TestDelete_SoftDeleteHidesBundle(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()

	keep := env.upload(t, d, f, "", textFile("keep.txt", "keep"))
	gone := env.upload(t, d, f, "", textFile("gone.txt", "gone"), textFile("gone2.txt", "gone2"))

	files, err := env.evidence.Delete(ctx, d, f.ID().String(), gone.ID().String())
	require.NoError(t, err)
	assert.Len(t, files, 2)

	list, err := env.evidence.ListForFinding(ctx, d, f.ID().String())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID(), list[0].ID())

	_, err = env.evidence.Get(ctx, d, gone.ID().String())
	require.ErrorIs(t, err, evidence.ErrEvidenceNotFound)

	raw := env.store.bundles[gone.ID()]
	assert.False(t, raw.IsActive(), "row kept for audit")
	require.NotNil(t, raw.DeletedBy())
	assert.Equal(t, env.member.ID, *raw.DeletedBy())

	require.Len(t, env.queue.calls, 1)
	assert.True(t, env.queue.calls[0].whole)
	assert.ElementsMatch(t, gone.Paths(), env.queue.calls[0].paths)

	_, err = env.evidence.Delete(ctx, d, f.ID().String(), gone.ID().String())
	require.ErrorIs(t, err, evidence.ErrEvidenceNotFound)
}

func TestDelete_WrongFindingIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	other := env.newFinding(t, "other")
	d := env.decide(t, env.member)

	b := env.upload(t, d, f, "", textFile("x.txt", "x"))
	_, err := env.evidence.Delete(context.Background(), d, other.ID().String(), b.ID().String())
	require.ErrorIs(t, err, evidence.ErrEvidenceNotFound)
	assert.True(t, env.store.bundles[b.ID()].IsActive())
}

func TestDelete_EnqueueFailureStillDeletes(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	env.queue.err = errBoom

	b := env.upload(t, d, f, "", textFile("x.txt", "x"))
	_, err := env.evidence.Delete(context.Background(), d, f.ID().String(), b.ID().String())
	require.NoError(t, err)
	assert.False(t, env.store.bundles[b.ID()].IsActive())
}

func TestModifyEvidence_UploaderOrAdministrator(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	ctx := context.Background()
	uploader := env.decide(t, env.member)
	peer := env.decide(t, env.member2)
	admin := env.decide(t, env.admin)

	b := env.upload(t, uploader, f, "", textFile("x.txt", "x"), textFile("y.txt", "y"))

	desc := "edited"
	_, err := env.evidence.UpdateMetadata(ctx, peer, b.ID().String(), UpdateEvidenceInput{Description: &desc})
	require.ErrorIs(t, err, evidence.ErrNotAuthor)
	_, err = env.evidence.RemoveFile(ctx, peer, b.ID().String(), sha("x"))
	require.ErrorIs(t, err, evidence.ErrNotAuthor)
	_, err = env.evidence.Delete(ctx, peer, f.ID().String(), b.ID().String())
	require.ErrorIs(t, err, evidence.ErrNotAuthor)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	updated, err := env.evidence.UpdateMetadata(ctx, uploader, b.ID().String(), UpdateEvidenceInput{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Description())

	_, err = env.evidence.Delete(ctx, admin, f.ID().String(), b.ID().String())
	require.NoError(t, err)
}

func TestUpdateMetadata_Labels(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()
	b := env.upload(t, d, f, "", textFile("x.txt", "x"))

	bad := []evidence.Label{{Text: "", Color: "#FFFFFF"}}
	_, err := env.evidence.UpdateMetadata(ctx, d, b.ID().String(), UpdateEvidenceInput{Labels: &bad})
	require.ErrorIs(t, err, evidence.ErrBadLabel)

	labels := []evidence.Label{{Text: "network", Color: "#3B82F6"}}
	updated, err := env.evidence.UpdateMetadata(ctx, d, b.ID().String(), UpdateEvidenceInput{Labels: &labels})
	require.NoError(t, err)
	assert.Equal(t, labels, updated.Labels())
	assert.Equal(t, "proof", updated.Description(), "untouched fields are kept")
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()
	b := env.upload(t, d, f, "", textFile("x.txt", "payload"))

	dl, err := env.evidence.Download(ctx, d, b.ID().String(), sha("payload"))
	require.NoError(t, err)
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "text/plain", dl.File.Type)

	_, err = env.evidence.Download(ctx, d, b.ID().String(), sha("other"))
	require.ErrorIs(t, err, evidence.ErrFileNotFound)

	require.NoError(t, env.blobs.Delete(ctx, b.Paths()...))
	_, err = env.evidence.Download(ctx, d, b.ID().String(), sha("payload"))
	require.ErrorIs(t, err, evidence.ErrBlobMissing)

	_, err = env.evidence.Download(ctx, env.decide(t, env.outsider), b.ID().String(), sha("payload"))
	require.ErrorIs(t, err, access.ErrDenied)
}

func TestGroupByFirstLabel(t *testing.T) {
	env := newTestEnv(t)
	f := env.newFinding(t, "debug endpoint")
	d := env.decide(t, env.member)
	ctx := context.Background()

	upload := func(content string, labels ...evidence.Label) {
		_, err := env.evidence.Upload(ctx, d, UploadEvidenceInput{
			FindingID: f.ID().String(),
			Labels:    labels,
			Files:     []UploadFile{textFile(content+".txt", content)},
		})
		require.NoError(t, err)
	}
	upload("a", evidence.Label{Text: "web", Color: "#000000"})
	upload("b")
	upload("c", evidence.Label{Text: "API", Color: "#000000"}, evidence.Label{Text: "web", Color: "#000000"})
	upload("d", evidence.Label{Text: "web", Color: "#000000"})

	groups, err := env.evidence.ListGroupedForFinding(ctx, d, f.ID().String())
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.Equal(t, "API", groups[0].Key)
	assert.Equal(t, "web", groups[1].Key)
	assert.Len(t, groups[1].Evidence, 2)
	assert.Equal(t, evidence.UntaggedGroup, groups[2].Key)
}

func TestFormats(t *testing.T) {
	env := newTestEnv(t)
	info := env.evidence.Formats()
	assert.Equal(t, int64(1024), info.MaxFileSize)
	assert.Equal(t, evidence.DefaultMaxFilesPerUpload, info.MaxFiles)
	assert.NotEmpty(t, info.Formats)
	assert.Contains(t, info.MIMETypes, "text/*")
}
