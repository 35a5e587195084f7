package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vexscan/api/internal/metrics"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
)

// UploadFile is one file of a multipart upload. Content is read twice: once
// to hash it and once to store it.
type UploadFile struct {
	Name        string
	ContentType string
	// Size is the client reported size; 0 means unknown.
	Size    int64
	Content io.ReadSeeker
}

// evidenceUploader validates, hashes and stores evidence files.
type evidenceUploader struct {
	blobs       BlobStore
	policy      evidence.Policy
	concurrency int
	logger      *logger.Logger
}

func newEvidenceUploader(blobs BlobStore, policy evidence.Policy, concurrency int, log *logger.Logger) *evidenceUploader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &evidenceUploader{blobs: blobs, policy: policy, concurrency: concurrency, logger: log}
}

// check validates the upload shape before any byte is stored.
func (u *evidenceUploader) check(files []UploadFile) error {
	if err := u.policy.CheckCount(len(files)); err != nil {
		return err
	}
	for _, f := range files {
		if err := u.policy.CheckFile(evidence.SanitizeFileName(f.Name), f.Size); err != nil {
			return err
		}
	}
	return nil
}

// upload stores files in parallel under {workspace}/{finding}/. On error every
// object already written is removed before returning. On success the
// returned cleanup removes them, for failures after the upload.
func (u *evidenceUploader) upload(ctx context.Context, workspaceID, findingID shared.ID, files []UploadFile) ([]evidence.FileRef, func(), error) {
	if err := u.check(files); err != nil {
		return nil, nil, err
	}

	var (
		mu     sync.Mutex
		stored []string
	)
	refs := make([]evidence.FileRef, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for i, f := range files {
		g.Go(func() error {
			ref, err := u.store(gctx, workspaceID, findingID, f)
			if err != nil {
				return err
			}
			mu.Lock()
			stored = append(stored, ref.Path)
			mu.Unlock()
			refs[i] = ref
			return nil
		})
	}

	cleanup := func() { u.remove(context.WithoutCancel(ctx), stored) }
	if err := g.Wait(); err != nil {
		cleanup()
		return nil, nil, err
	}
	return refs, cleanup, nil
}

func (u *evidenceUploader) store(ctx context.Context, workspaceID, findingID shared.ID, f UploadFile) (evidence.FileRef, error) {
	name := evidence.SanitizeFileName(f.Name)

	hasher := sha256.New()
	limit := u.policy.MaxFileSize
	var src io.Reader = f.Content
	if limit > 0 {
		src = io.LimitReader(f.Content, limit+1)
	}
	head := &headBuffer{limit: sniffLen}
	n, err := io.Copy(io.MultiWriter(hasher, head), src)
	if err != nil {
		return evidence.FileRef{}, fmt.Errorf("read %q: %w", name, err)
	}
	if limit > 0 && n > limit {
		return evidence.FileRef{}, shared.Wrapf(evidence.ErrTooLarge, "%q is larger than %d bytes", name, limit)
	}
	if n == 0 {
		return evidence.FileRef{}, shared.Wrapf(evidence.ErrBadFile, "%q is empty", name)
	}
	if _, err := f.Content.Seek(0, io.SeekStart); err != nil {
		return evidence.FileRef{}, fmt.Errorf("rewind %q: %w", name, err)
	}

	detected := sniffContentType(head.buf)
	if err := u.policy.CheckContentType(name, f.ContentType, detected); err != nil {
		return evidence.FileRef{}, err
	}
	// The sniffed type is stored and later served on download; the client's
	// header is only checked.
	contentType, _, _ := strings.Cut(detected[0], ";")

	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	key := evidence.StoragePath(workspaceID, findingID, nonce, name)
	if err := u.blobs.Put(ctx, key, f.Content, n, contentType); err != nil {
		return evidence.FileRef{}, fmt.Errorf("%w: %w", shared.ErrStorage, err)
	}
	metrics.EvidenceFileBytes.Observe(float64(n))

	return evidence.NewFileRef(name, key, n, contentType, hex.EncodeToString(hasher.Sum(nil)))
}

// sniffLen is how much of a file the content type detection looks at.
const sniffLen = 3072

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	buf   []byte
	limit int
}

func (h *headBuffer) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		h.buf = append(h.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}

// sniffContentType returns the detected type followed by its parents, most
// specific first. The generic root type is only listed when nothing more
// specific was recognized.
func sniffContentType(head []byte) []string {
	var out []string
	for m := mimetype.Detect(head); m != nil; m = m.Parent() {
		if m.Is(evidence.DefaultMIMEType) && len(out) > 0 {
			break
		}
		out = append(out, m.String())
	}
	return out
}

// remove deletes blobs best effort; leftovers are logged.
func (u *evidenceUploader) remove(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := u.blobs.Delete(ctx, keys...); err != nil {
		metrics.BlobCleanupFailures.WithLabelValues("upload_rollback").Inc()
		u.logger.Error("failed to remove uploaded blobs", "count", len(keys), "error", err)
	}
}
