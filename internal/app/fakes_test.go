package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/pagination"
)

// memStore is an in-memory database. Transactions snapshot it and restore
// the snapshot when fn fails, so rollbacks are observable.
type memStore struct {
	findings    map[shared.ID]*finding.Finding
	history     []*finding.StatusChange
	comments    []*finding.Comment
	bundles     map[shared.ID]*evidence.Bundle
	bundleOrder []shared.ID
	users       map[shared.ID]*access.User
	workspaces  map[shared.ID]*access.Workspace
	members     map[[2]shared.ID]*access.Membership

	failHistoryInsert error
}

func newMemStore() *memStore {
	return &memStore{
		findings:   map[shared.ID]*finding.Finding{},
		bundles:    map[shared.ID]*evidence.Bundle{},
		users:      map[shared.ID]*access.User{},
		workspaces: map[shared.ID]*access.Workspace{},
		members:    map[[2]shared.ID]*access.Membership{},
	}
}

func (m *memStore) Transaction(_ context.Context, fn func(tx *sql.Tx) error) error {
	findings := maps.Clone(m.findings)
	history := slices.Clone(m.history)
	bundles := maps.Clone(m.bundles)
	order := slices.Clone(m.bundleOrder)

	if err := fn(nil); err != nil {
		m.findings, m.history, m.bundles, m.bundleOrder = findings, history, bundles, order
		return err
	}
	return nil
}

func cloneFinding(f *finding.Finding) *finding.Finding {
	return finding.Reconstitute(f.ID(), f.WorkspaceID(), f.Title(), f.Description(), f.Severity(), f.Status(),
		f.FirstSeenAt(), f.LastSeenAt(), f.StatusChangedAt(), f.MitigatedAt(), f.TimeToMitigateHours(),
		f.CreatedAt(), f.UpdatedAt())
}

func cloneBundle(b *evidence.Bundle, uploaderName string) *evidence.Bundle {
	name := b.UploadedByName()
	if name == "" {
		name = uploaderName
	}
	return evidence.Reconstitute(evidence.ReconstituteParams{
		ID:                    b.ID(),
		FindingID:             b.FindingID(),
		Files:                 b.Files(),
		Description:           b.Description(),
		Comments:              b.Comments(),
		EvidenceType:          b.EvidenceType(),
		Labels:                b.Labels(),
		RelatedStatusChangeID: b.RelatedStatusChangeID(),
		UploadedBy:            b.UploadedBy(),
		UploadedByName:        name,
		Active:                b.IsActive(),
		CreatedAt:             b.CreatedAt(),
		UpdatedAt:             b.UpdatedAt(),
		DeletedAt:             b.DeletedAt(),
		DeletedBy:             b.DeletedBy(),
		PurgedAt:              b.PurgedAt(),
	})
}

// --- findings ---

type memFindings struct{ *memStore }

func (r memFindings) Create(_ context.Context, f *finding.Finding, initial *finding.StatusChange) error {
	r.findings[f.ID()] = cloneFinding(f)
	r.history = append(r.history, initial)
	return nil
}

func (r memFindings) GetByID(_ context.Context, id shared.ID) (*finding.Finding, error) {
	f, ok := r.findings[id]
	if !ok {
		return nil, finding.NewFindingNotFoundError(id)
	}
	return cloneFinding(f), nil
}

func (r memFindings) GetForUpdateInTx(ctx context.Context, _ *sql.Tx, id shared.ID) (*finding.Finding, error) {
	return r.GetByID(ctx, id)
}

func (r memFindings) UpdateInTx(ctx context.Context, _ *sql.Tx, f *finding.Finding) error {
	return r.Update(ctx, f)
}

func (r memFindings) Update(_ context.Context, f *finding.Finding) error {
	if _, ok := r.findings[f.ID()]; !ok {
		return finding.NewFindingNotFoundError(f.ID())
	}
	r.findings[f.ID()] = cloneFinding(f)
	return nil
}

func (r memFindings) WorkspaceOf(_ context.Context, id shared.ID) (shared.ID, error) {
	f, ok := r.findings[id]
	if !ok {
		return shared.ID{}, finding.NewFindingNotFoundError(id)
	}
	return f.WorkspaceID(), nil
}

func (r memFindings) List(_ context.Context, filter finding.Filter, page pagination.Pagination) (pagination.Result[*finding.Finding], error) {
	var all []*finding.Finding
	for _, f := range r.findings {
		if !f.WorkspaceID().Equals(filter.WorkspaceID) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, f.Status()) {
			continue
		}
		if len(filter.Severities) > 0 && !slices.Contains(filter.Severities, f.Severity()) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(f.Title()), strings.ToLower(filter.Search)) {
			continue
		}
		all = append(all, cloneFinding(f))
	}
	slices.SortFunc(all, func(a, b *finding.Finding) int { return b.CreatedAt().Compare(a.CreatedAt()) })
	start, end := page.Window(len(all))
	return pagination.NewResult(all[start:end], int64(len(all)), page), nil
}

// --- history ---

type memHistory struct{ *memStore }

func (r memHistory) CreateInTx(_ context.Context, _ *sql.Tx, c *finding.StatusChange) error {
	if r.failHistoryInsert != nil {
		return r.failHistoryInsert
	}
	r.history = append(r.history, c)
	return nil
}

func (r memHistory) GetByID(_ context.Context, id shared.ID) (*finding.StatusChange, error) {
	for _, c := range r.history {
		if c.ID().Equals(id) {
			return c, nil
		}
	}
	return nil, finding.NewStatusChangeNotFoundError(id)
}

func (r memHistory) ListByFinding(_ context.Context, findingID shared.ID, page pagination.Pagination) (pagination.Result[*finding.StatusChange], error) {
	var all []*finding.StatusChange
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].BelongsTo(findingID) {
			all = append(all, r.history[i])
		}
	}
	start, end := page.Window(len(all))
	return pagination.NewResult(all[start:end], int64(len(all)), page), nil
}

func (r memHistory) ListAllByFinding(_ context.Context, findingID shared.ID) ([]*finding.StatusChange, error) {
	all := []*finding.StatusChange{}
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].BelongsTo(findingID) {
			all = append(all, r.history[i])
		}
	}
	return all, nil
}

// --- comments ---

type memComments struct{ *memStore }

func (r memComments) Create(_ context.Context, c *finding.Comment) error {
	if _, ok := r.findings[c.FindingID()]; !ok {
		return finding.NewFindingNotFoundError(c.FindingID())
	}
	r.comments = append(r.comments, c)
	return nil
}

func (r memComments) ListByFinding(_ context.Context, findingID shared.ID) ([]*finding.Comment, error) {
	out := []*finding.Comment{}
	for i := len(r.comments) - 1; i >= 0; i-- {
		c := r.comments[i]
		if !c.FindingID().Equals(findingID) {
			continue
		}
		var name string
		if u, ok := r.users[c.AuthorID()]; ok {
			name = u.DisplayName
		}
		out = append(out, finding.ReconstituteComment(c.ID(), c.FindingID(), c.Content(), c.IsInternal(), c.AuthorID(), name, c.CreatedAt()))
	}
	return out, nil
}

// --- evidence ---

type memEvidence struct{ *memStore }

func (r memEvidence) uploaderName(id shared.ID) string {
	if u, ok := r.users[id]; ok {
		return u.DisplayName
	}
	return ""
}

func (r memEvidence) Create(_ context.Context, b *evidence.Bundle) error {
	if rel := b.RelatedStatusChangeID(); rel != nil {
		ok := slices.ContainsFunc(r.history, func(c *finding.StatusChange) bool {
			return c.ID().Equals(*rel) && c.BelongsTo(b.FindingID())
		})
		if !ok {
			return evidence.ErrMismatch
		}
	}
	r.bundles[b.ID()] = cloneBundle(b, "")
	r.bundleOrder = append(r.bundleOrder, b.ID())
	return nil
}

func (r memEvidence) CreateInTx(ctx context.Context, _ *sql.Tx, b *evidence.Bundle) error {
	return r.Create(ctx, b)
}

func (r memEvidence) GetByID(_ context.Context, id shared.ID) (*evidence.Bundle, error) {
	b, ok := r.bundles[id]
	if !ok {
		return nil, shared.Wrapf(evidence.ErrEvidenceNotFound, "%s", id)
	}
	return cloneBundle(b, r.uploaderName(b.UploadedBy())), nil
}

func (r memEvidence) GetForUpdateInTx(ctx context.Context, _ *sql.Tx, id shared.ID) (*evidence.Bundle, error) {
	return r.GetByID(ctx, id)
}

func (r memEvidence) UpdateInTx(_ context.Context, _ *sql.Tx, b *evidence.Bundle) error {
	if _, ok := r.bundles[b.ID()]; !ok {
		return evidence.ErrEvidenceNotFound
	}
	r.bundles[b.ID()] = cloneBundle(b, "")
	return nil
}

func (r memEvidence) FindingOf(_ context.Context, id shared.ID) (shared.ID, error) {
	b, ok := r.bundles[id]
	if !ok || !b.IsActive() {
		return shared.ID{}, evidence.ErrEvidenceNotFound
	}
	return b.FindingID(), nil
}

func (r memEvidence) active(match func(*evidence.Bundle) bool) []*evidence.Bundle {
	out := []*evidence.Bundle{}
	for i := len(r.bundleOrder) - 1; i >= 0; i-- {
		b := r.bundles[r.bundleOrder[i]]
		if b.IsActive() && match(b) {
			out = append(out, cloneBundle(b, r.uploaderName(b.UploadedBy())))
		}
	}
	return out
}

func (r memEvidence) ListActiveByFinding(_ context.Context, findingID shared.ID) ([]*evidence.Bundle, error) {
	return r.active(func(b *evidence.Bundle) bool { return b.FindingID().Equals(findingID) }), nil
}

func (r memEvidence) ListActiveByStatusChanges(_ context.Context, ids []shared.ID) (map[shared.ID][]*evidence.Bundle, error) {
	out := map[shared.ID][]*evidence.Bundle{}
	for _, id := range ids {
		if got := r.active(func(b *evidence.Bundle) bool { return b.IsLinkedTo(id) }); len(got) > 0 {
			out[id] = got
		}
	}
	return out, nil
}

func (r memEvidence) CountActiveByFindingInTx(ctx context.Context, _ *sql.Tx, findingID shared.ID) (int, error) {
	got, _ := r.ListActiveByFinding(ctx, findingID)
	return len(got), nil
}

func (r memEvidence) FindActiveHashes(ctx context.Context, findingID shared.ID, hashes []string) ([]string, error) {
	got, _ := r.ListActiveByFinding(ctx, findingID)
	out := []string{}
	for _, h := range hashes {
		if slices.ContainsFunc(got, func(b *evidence.Bundle) bool { _, ok := b.FindFile(h); return ok }) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r memEvidence) ListPendingPurge(_ context.Context, cutoff time.Time, limit int) ([]*evidence.Bundle, error) {
	var out []*evidence.Bundle
	for _, id := range r.bundleOrder {
		b := r.bundles[id]
		if !b.IsActive() && b.PurgedAt() == nil && b.DeletedAt() != nil && b.DeletedAt().Before(cutoff) {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memEvidence) MarkPurged(_ context.Context, id shared.ID, at time.Time) error {
	b, ok := r.bundles[id]
	if !ok || b.IsActive() || b.PurgedAt() != nil {
		return evidence.ErrEvidenceNotFound
	}
	b.MarkPurged(at)
	return nil
}

// --- access ---

type memAccess struct {
	*memStore
	membershipLookups int
}

func (r *memAccess) GetUser(_ context.Context, id shared.ID) (*access.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, access.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *memAccess) GetWorkspace(_ context.Context, id shared.ID) (*access.Workspace, error) {
	w, ok := r.workspaces[id]
	if !ok {
		return nil, access.ErrWorkspaceAbsent
	}
	c := *w
	return &c, nil
}

func (r *memAccess) GetMembership(_ context.Context, orgID, userID shared.ID) (*access.Membership, error) {
	r.membershipLookups++
	m, ok := r.members[[2]shared.ID{orgID, userID}]
	if !ok {
		return nil, fmt.Errorf("%w: membership", shared.ErrNotFound)
	}
	c := *m
	return &c, nil
}

// --- blobs and queue ---

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut func(key string) error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *memBlobs) Put(_ context.Context, key string, body io.ReadSeeker, size int64, contentType string) error {
	if b.failPut != nil {
		if err := b.failPut(key); err != nil {
			return err
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: %d != %d", len(data), size)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, evidence.ErrBlobMissing
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type purgeCall struct {
	id    shared.ID
	paths []string
	whole bool
}

type memQueue struct {
	calls []purgeCall
	err   error
}

func (q *memQueue) EnqueueBlobPurge(_ context.Context, id shared.ID, paths []string, whole bool) error {
	if q.err != nil {
		return q.err
	}
	q.calls = append(q.calls, purgeCall{id, paths, whole})
	return nil
}

var errBoom = errors.New("boom")
