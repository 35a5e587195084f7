package handler

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/vexscan/api/internal/app"
	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/validator"
)

// EvidenceManager is the evidence use case surface the handler needs.
type EvidenceManager interface {
	Upload(ctx context.Context, d access.Decision, input app.UploadEvidenceInput) (*app.UploadResult, error)
	ListForFinding(ctx context.Context, d access.Decision, findingID string) ([]*evidence.Bundle, error)
	ListGroupedForFinding(ctx context.Context, d access.Decision, findingID string) ([]app.EvidenceGroup, error)
	Get(ctx context.Context, d access.Decision, evidenceID string) (*evidence.Bundle, error)
	UpdateMetadata(ctx context.Context, d access.Decision, evidenceID string, input app.UpdateEvidenceInput) (*evidence.Bundle, error)
	Delete(ctx context.Context, d access.Decision, findingID, evidenceID string) ([]evidence.FileRef, error)
	RemoveFile(ctx context.Context, d access.Decision, evidenceID, fileHash string) (*evidence.Bundle, error)
	Download(ctx context.Context, d access.Decision, evidenceID, fileHash string) (*app.Download, error)
	Formats() app.FormatsInfo
}

// EvidenceHandler handles evidence endpoints.
type EvidenceHandler struct {
	service   EvidenceManager
	validator *validator.Validator
	logger    *logger.Logger
	errs      errorWriter
}

// NewEvidenceHandler creates a new EvidenceHandler.
func NewEvidenceHandler(svc EvidenceManager, v *validator.Validator, log *logger.Logger) *EvidenceHandler {
	log = log.With("handler", "evidence")
	return &EvidenceHandler{
		service:   svc,
		validator: v,
		logger:    log,
		errs:      errorWriter{logger: log},
	}
}

// Formats handles GET /api/v1/evidence/formats
// @Summary      Allowed evidence formats
// @Tags         Evidence
// @Produce      json
// @Success      200  {object}  DataResponse[FormatsResponse]
// @Security     BearerAuth
// @Router       /evidence/formats [get]
func (h *EvidenceHandler) Formats(w http.ResponseWriter, _ *http.Request) {
	info := h.service.Formats()
	mimeTypes := info.MIMETypes
	if mimeTypes == nil {
		mimeTypes = []string{}
	}
	writeData(w, http.StatusOK, FormatsResponse{
		Formats:     info.Formats,
		MIMETypes:   mimeTypes,
		MaxFiles:    info.MaxFiles,
		MaxFileSize: info.MaxFileSize,
	})
}

// Upload handles POST /api/v1/evidence/findings/{id}/upload
// @Summary      Upload evidence
// @Description  Stores the files as one bundle. Duplicate content is accepted and reported in duplicate_hashes.
// @Tags         Evidence
// @Accept       mpfd
// @Produce      json
// @Param        id                        path      string  true   "Finding ID"
// @Param        files                     formData  file    true   "Evidence files"
// @Param        description               formData  string  false  "Description"
// @Param        comments                  formData  string  false  "Comments"
// @Param        evidence_type             formData  string  false  "Evidence type"
// @Param        labels                    formData  string  false  "JSON array of {tag, color}"
// @Param        tags                      formData  string  false  "Tag names"
// @Param        related_status_change_id  formData  string  false  "Status change to link"
// @Success      201  {object}  DataResponse[UploadResponse]
// @Failure      413  {object}  apierror.Response
// @Failure      422  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /evidence/findings/{id}/upload [post]
func (h *EvidenceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}

	form, apiErr := parseUploadForm(r)
	if apiErr != nil {
		apiErr.WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return
	}
	defer form.Close()

	input := app.UploadEvidenceInput{
		FindingID:             middleware.URLParam(r, "id"),
		Description:           form.value("description"),
		Comments:              form.value("comments"),
		EvidenceType:          form.value("evidence_type"),
		Labels:                form.Labels,
		RelatedStatusChangeID: form.value("related_status_change_id"),
		Files:                 form.Files,
	}
	if err := h.validator.Validate(input); err != nil {
		h.errs.validation(w, r, err)
		return
	}

	result, err := h.service.Upload(r.Context(), d, input)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	dups := result.DuplicateHashes
	if dups == nil {
		dups = []string{}
	}
	writeData(w, http.StatusCreated, UploadResponse{
		EvidenceResponse: toEvidenceResponse(result.Bundle),
		DuplicateHashes:  dups,
	})
}

// ListForFinding handles GET /api/v1/evidence/findings/{id}
// @Summary      List evidence of a finding
// @Description  Active bundles, newest first.
// @Tags         Evidence
// @Produce      json
// @Param        id   path      string  true  "Finding ID"
// @Success      200  {object}  DataResponse[[]EvidenceResponse]
// @Security     BearerAuth
// @Router       /evidence/findings/{id} [get]
func (h *EvidenceHandler) ListForFinding(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	bundles, err := h.service.ListForFinding(r.Context(), d, middleware.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toEvidenceResponses(bundles))
}

// ListGrouped handles GET /api/v1/evidence/findings/{id}/grouped
// @Summary      Evidence grouped by first label
// @Tags         Evidence
// @Produce      json
// @Param        id   path      string  true  "Finding ID"
// @Success      200  {object}  DataResponse[[]EvidenceGroupResponse]
// @Security     BearerAuth
// @Router       /evidence/findings/{id}/grouped [get]
func (h *EvidenceHandler) ListGrouped(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	groups, err := h.service.ListGroupedForFinding(r.Context(), d, middleware.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]EvidenceGroupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, EvidenceGroupResponse{
			Group:    g.Key,
			Count:    len(g.Evidence),
			Evidence: toEvidenceResponses(g.Evidence),
		})
	}
	writeData(w, http.StatusOK, out)
}

// Delete handles DELETE /api/v1/evidence/findings/{id}/{evidence_id}
// @Summary      Delete evidence
// @Description  Soft deletes the bundle; blobs are purged in the background.
// @Tags         Evidence
// @Produce      json
// @Param        id           path  string  true  "Finding ID"
// @Param        evidence_id  path  string  true  "Evidence ID"
// @Success      200  {object}  DataResponse[DeleteEvidenceResponse]
// @Failure      403  {object}  apierror.Response
// @Failure      404  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /evidence/findings/{id}/{evidence_id} [delete]
func (h *EvidenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	evidenceID := middleware.URLParam(r, "evidence_id")
	files, err := h.service.Delete(r.Context(), d, middleware.URLParam(r, "id"), evidenceID)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	if files == nil {
		files = []evidence.FileRef{}
	}
	id, _ := shared.IDFromString(evidenceID)
	writeData(w, http.StatusOK, DeleteEvidenceResponse{ID: id, DeletedFiles: files})
}

// Get handles GET /api/v1/evidence/{evidence_id}
// @Summary      Get evidence
// @Tags         Evidence
// @Produce      json
// @Param        evidence_id  path      string  true  "Evidence ID"
// @Success      200  {object}  DataResponse[EvidenceResponse]
// @Failure      404  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /evidence/{evidence_id} [get]
func (h *EvidenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	b, err := h.service.Get(r.Context(), d, middleware.URLParam(r, "evidence_id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toEvidenceResponse(b))
}

// Update handles PATCH /api/v1/evidence/{evidence_id}
// @Summary      Update evidence metadata
// @Tags         Evidence
// @Accept       json
// @Produce      json
// @Param        evidence_id  path      string                 true  "Evidence ID"
// @Param        body         body      UpdateEvidenceRequest  true  "Changes"
// @Success      200  {object}  DataResponse[EvidenceResponse]
// @Failure      403  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /evidence/{evidence_id} [patch]
func (h *EvidenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}

	var req UpdateEvidenceRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.errs.validation(w, r, err)
		return
	}

	b, err := h.service.UpdateMetadata(r.Context(), d, middleware.URLParam(r, "evidence_id"), app.UpdateEvidenceInput{
		Description:  req.Description,
		Comments:     req.Comments,
		EvidenceType: req.EvidenceType,
		Labels:       req.Labels,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toEvidenceResponse(b))
}

// Download handles GET /api/v1/evidence/{evidence_id}/attachments/{file_hash}/download
// @Summary      Download an evidence file
// @Tags         Evidence
// @Produce      octet-stream
// @Param        evidence_id  path  string  true  "Evidence ID"
// @Param        file_hash    path  string  true  "sha256 of the file"
// @Success      200
// @Failure      404  {object}  apierror.Response
// @Failure      502  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /evidence/{evidence_id}/attachments/{file_hash}/download [get]
func (h *EvidenceHandler) Download(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	dl, err := h.service.Download(r.Context(), d, middleware.URLParam(r, "evidence_id"), middleware.URLParam(r, "file_hash"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	defer dl.Body.Close()

	contentType := dl.File.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", contentDisposition(dl.File.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(dl.File.Size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dl.Body); err != nil {
		h.logger.Warn("evidence download interrupted",
			"evidence_id", middleware.URLParam(r, "evidence_id"),
			"error", err,
			"request_id", middleware.GetRequestID(r.Context()),
		)
	}
}

// RemoveFile handles DELETE /api/v1/evidence/{evidence_id}/attachments/{file_hash}
// @Summary      Remove one file from a bundle
// @Description  The last file cannot be removed; delete the bundle instead.
// @Tags         Evidence
// @Produce      json
// @Param        evidence_id  path  string  true  "Evidence ID"
// @Param        file_hash    path  string  true  "sha256 of the file"
// @Success      200  {object}  DataResponse[EvidenceResponse]
// @Failure      422  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /evidence/{evidence_id}/attachments/{file_hash} [delete]
func (h *EvidenceHandler) RemoveFile(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	b, err := h.service.RemoveFile(r.Context(), d, middleware.URLParam(r, "evidence_id"), middleware.URLParam(r, "file_hash"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toEvidenceResponse(b))
}

// contentDisposition quotes ASCII names directly and falls back to the
// RFC 2231 form for anything else.
func contentDisposition(name string) string {
	ascii := true
	for _, c := range name {
		if c < 0x20 || c > 0x7e {
			ascii = false
			break
		}
	}
	if ascii {
		return `attachment; filename="` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(name) + `"`
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}
