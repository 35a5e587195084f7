package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vexscan/api/internal/app"
	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/pagination"
	"github.com/vexscan/api/pkg/validator"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type stubFindings struct {
	list     func(app.ListFindingsInput) (pagination.Result[*finding.Finding], error)
	get      func(id string) (*finding.Finding, error)
	update   func(id string, in app.UpdateFindingInput) (*finding.Finding, error)
	comment  func(app.AddCommentInput) (*finding.Comment, error)
	timeline func(id string) ([]app.ActivityEntry, error)
}

func (s *stubFindings) List(_ context.Context, _ access.Decision, in app.ListFindingsInput) (pagination.Result[*finding.Finding], error) {
	return s.list(in)
}

func (s *stubFindings) Get(_ context.Context, _ access.Decision, id string) (*finding.Finding, error) {
	return s.get(id)
}

func (s *stubFindings) UpdateDetails(_ context.Context, _ access.Decision, id string, in app.UpdateFindingInput) (*finding.Finding, error) {
	return s.update(id, in)
}

func (s *stubFindings) AddComment(_ context.Context, _ access.Decision, in app.AddCommentInput) (*finding.Comment, error) {
	return s.comment(in)
}

func (s *stubFindings) Timeline(_ context.Context, _ access.Decision, id string) ([]app.ActivityEntry, error) {
	return s.timeline(id)
}

type stubStatus struct {
	change   func(app.ChangeStatusInput) (*app.StatusChangeResult, error)
	history  func(id string, p pagination.Pagination) (pagination.Result[app.HistoryEntry], error)
	complete func(app.CompleteWithEvidenceInput) (*app.CompleteWithEvidenceResult, error)
}

func (s *stubStatus) ChangeStatus(_ context.Context, _ access.Decision, in app.ChangeStatusInput) (*app.StatusChangeResult, error) {
	return s.change(in)
}

func (s *stubStatus) History(_ context.Context, _ access.Decision, id string, p pagination.Pagination) (pagination.Result[app.HistoryEntry], error) {
	return s.history(id, p)
}

func (s *stubStatus) CompleteWithEvidence(_ context.Context, _ access.Decision, in app.CompleteWithEvidenceInput) (*app.CompleteWithEvidenceResult, error) {
	return s.complete(in)
}

// stubEvidence implements EvidenceManager; unset funcs panic so a test only
// stubs what it exercises.
type stubEvidence struct {
	upload     func(app.UploadEvidenceInput) (*app.UploadResult, error)
	list       func(findingID string) ([]*evidence.Bundle, error)
	grouped    func(findingID string) ([]app.EvidenceGroup, error)
	get        func(id string) (*evidence.Bundle, error)
	update     func(id string, in app.UpdateEvidenceInput) (*evidence.Bundle, error)
	del        func(findingID, id string) ([]evidence.FileRef, error)
	removeFile func(id, hash string) (*evidence.Bundle, error)
	download   func(id, hash string) (*app.Download, error)
	formats    app.FormatsInfo
}

func (s *stubEvidence) Upload(_ context.Context, _ access.Decision, in app.UploadEvidenceInput) (*app.UploadResult, error) {
	return s.upload(in)
}

func (s *stubEvidence) ListForFinding(_ context.Context, _ access.Decision, id string) ([]*evidence.Bundle, error) {
	return s.list(id)
}

func (s *stubEvidence) ListGroupedForFinding(_ context.Context, _ access.Decision, id string) ([]app.EvidenceGroup, error) {
	return s.grouped(id)
}

func (s *stubEvidence) Get(_ context.Context, _ access.Decision, id string) (*evidence.Bundle, error) {
	return s.get(id)
}

func (s *stubEvidence) UpdateMetadata(_ context.Context, _ access.Decision, id string, in app.UpdateEvidenceInput) (*evidence.Bundle, error) {
	return s.update(id, in)
}

func (s *stubEvidence) Delete(_ context.Context, _ access.Decision, findingID, id string) ([]evidence.FileRef, error) {
	return s.del(findingID, id)
}

func (s *stubEvidence) RemoveFile(_ context.Context, _ access.Decision, id, hash string) (*evidence.Bundle, error) {
	return s.removeFile(id, hash)
}

func (s *stubEvidence) Download(_ context.Context, _ access.Decision, id, hash string) (*app.Download, error) {
	return s.download(id, hash)
}

func (s *stubEvidence) Formats() app.FormatsInfo { return s.formats }

// withDecision stands in for the access middleware.
func withDecision(d access.Decision) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithDecision(r.Context(), d)))
		})
	}
}

var allowed = access.Decision{UserID: shared.NewID(), WorkspaceID: shared.NewID(), Allowed: true, Role: access.RoleMember}

func findingRouter(f *stubFindings, s *stubStatus) http.Handler {
	h := NewFindingHandler(f, s, validator.New(), logger.NewNop())
	r := chi.NewRouter()
	r.Use(withDecision(allowed))
	r.Get("/findings", h.List)
	r.Get("/findings/{id}", h.Get)
	r.Patch("/findings/{id}", h.Update)
	r.Put("/findings/{id}/status", h.ChangeStatus)
	r.Get("/findings/{id}/status-history", h.History)
	r.Post("/findings/{id}/complete-with-evidence", h.CompleteWithEvidence)
	r.Post("/findings/{id}/comments", h.AddComment)
	r.Get("/findings/{id}/history", h.Timeline)
	return r
}

func evidenceRouter(e *stubEvidence) http.Handler {
	h := NewEvidenceHandler(e, validator.New(), logger.NewNop())
	r := chi.NewRouter()
	r.Use(withDecision(allowed))
	r.Get("/evidence/formats", h.Formats)
	r.Post("/evidence/findings/{id}/upload", h.Upload)
	r.Get("/evidence/findings/{id}", h.ListForFinding)
	r.Get("/evidence/findings/{id}/grouped", h.ListGrouped)
	r.Delete("/evidence/findings/{id}/{evidence_id}", h.Delete)
	r.Get("/evidence/{evidence_id}", h.Get)
	r.Patch("/evidence/{evidence_id}", h.Update)
	r.Get("/evidence/{evidence_id}/attachments/{file_hash}/download", h.Download)
	r.Delete("/evidence/{evidence_id}/attachments/{file_hash}", h.RemoveFile)
	return r
}

func sampleFinding(status finding.Status) *finding.Finding {
	return finding.Reconstitute(shared.NewID(), allowed.WorkspaceID, "SQL injection in login", "",
		finding.SeverityHigh, status, testNow.Add(-48*time.Hour), testNow, nil, nil, nil,
		testNow.Add(-48*time.Hour), testNow)
}

const sampleHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func sampleBundle(findingID shared.ID, change *shared.ID) *evidence.Bundle {
	return evidence.Reconstitute(evidence.ReconstituteParams{
		ID:        shared.NewID(),
		FindingID: findingID,
		Files: []evidence.FileRef{{
			Name: "scan.txt", Path: findingID.String() + "/x/scan.txt", Size: 4, Type: "text/plain", Hash: sampleHash,
		}},
		Description:           "retest output",
		Labels:                []evidence.Label{{Text: "retest", Color: "#FF5733"}},
		RelatedStatusChangeID: change,
		UploadedBy:            allowed.UserID,
		UploadedByName:        "Dana",
		Active:                true,
		CreatedAt:             testNow,
		UpdatedAt:             testNow,
	})
}
