package handler

import (
	"context"
	"net/http"

	"github.com/vexscan/api/internal/app"
	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/pagination"
	"github.com/vexscan/api/pkg/validator"
)

// FindingReader lists, reads, edits and discusses findings.
type FindingReader interface {
	List(ctx context.Context, d access.Decision, input app.ListFindingsInput) (pagination.Result[*finding.Finding], error)
	Get(ctx context.Context, d access.Decision, findingID string) (*finding.Finding, error)
	UpdateDetails(ctx context.Context, d access.Decision, findingID string, input app.UpdateFindingInput) (*finding.Finding, error)
	AddComment(ctx context.Context, d access.Decision, input app.AddCommentInput) (*finding.Comment, error)
	Timeline(ctx context.Context, d access.Decision, findingID string) ([]app.ActivityEntry, error)
}

// StatusChanger runs status transitions and reads their history.
type StatusChanger interface {
	ChangeStatus(ctx context.Context, d access.Decision, input app.ChangeStatusInput) (*app.StatusChangeResult, error)
	History(ctx context.Context, d access.Decision, findingID string, page pagination.Pagination) (pagination.Result[app.HistoryEntry], error)
	CompleteWithEvidence(ctx context.Context, d access.Decision, input app.CompleteWithEvidenceInput) (*app.CompleteWithEvidenceResult, error)
}

// FindingHandler handles finding endpoints, including status transitions.
type FindingHandler struct {
	findings  FindingReader
	status    StatusChanger
	validator *validator.Validator
	errs      errorWriter
}

// NewFindingHandler creates a new FindingHandler.
func NewFindingHandler(findings FindingReader, status StatusChanger, v *validator.Validator, log *logger.Logger) *FindingHandler {
	return &FindingHandler{
		findings:  findings,
		status:    status,
		validator: v,
		errs:      errorWriter{logger: log.With("handler", "finding")},
	}
}

// List handles GET /api/v1/findings
// @Summary      List findings
// @Description  Paginated findings of one workspace
// @Tags         Findings
// @Produce      json
// @Param        workspace_id  query  string  true   "Workspace ID"
// @Param        status        query  string  false  "Statuses (comma-separated)"
// @Param        severity      query  string  false  "Severities (comma-separated)"
// @Param        search        query  string  false  "Title search"
// @Param        sort          query  string  false  "Sort fields, prefix - for descending"
// @Param        page          query  int     false  "Page number" default(1)
// @Param        per_page      query  int     false  "Items per page" default(20)
// @Success      200  {object}  ListResponse[FindingResponse]
// @Failure      400  {object}  apierror.Response
// @Failure      403  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /findings [get]
func (h *FindingHandler) List(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page := pageFromQuery(r)

	result, err := h.findings.List(r.Context(), d, app.ListFindingsInput{
		WorkspaceID: q.Get("workspace_id"),
		Statuses:    parseQueryArray(q["status"]),
		Severities:  parseQueryArray(q["severity"]),
		Search:      q.Get("search"),
		Sort:        q.Get("sort"),
		Page:        page.Page,
		PerPage:     page.PerPage,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeList(w, result, toFindingResponse)
}

// Get handles GET /api/v1/findings/{id}
// @Summary      Get finding
// @Tags         Findings
// @Produce      json
// @Param        id   path      string  true  "Finding ID"
// @Success      200  {object}  DataResponse[FindingResponse]
// @Failure      404  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /findings/{id} [get]
func (h *FindingHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	f, err := h.findings.Get(r.Context(), d, middleware.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toFindingResponse(f))
}

// Update handles PATCH /api/v1/findings/{id}
// @Summary      Update finding details
// @Description  Edit title, description and severity. Status is changed through PUT /findings/{id}/status.
// @Tags         Findings
// @Accept       json
// @Produce      json
// @Param        id    path      string                true  "Finding ID"
// @Param        body  body      UpdateFindingRequest  true  "Changes"
// @Success      200   {object}  DataResponse[FindingResponse]
// @Failure      422   {object}  apierror.Response
// @Security     BearerAuth
// @Router       /findings/{id} [patch]
func (h *FindingHandler) Update(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}

	var req UpdateFindingRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.errs.validation(w, r, err)
		return
	}

	f, err := h.findings.UpdateDetails(r.Context(), d, middleware.URLParam(r, "id"), app.UpdateFindingInput{
		Title:       req.Title,
		Description: req.Description,
		Severity:    req.Severity,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toFindingResponse(f))
}

// ChangeStatus handles PUT /api/v1/findings/{id}/status
// @Summary      Change finding status
// @Description  Records a StatusChange and updates the finding atomically. Closing statuses need a comment of at least 10 characters; Mitigated also needs active evidence.
// @Tags         Findings
// @Accept       json
// @Produce      json
// @Param        id    path      string               true  "Finding ID"
// @Param        body  body      ChangeStatusRequest  true  "Target status"
// @Success      200   {object}  DataResponse[StatusChangeResponse]
// @Failure      400   {object}  apierror.Response
// @Failure      422   {object}  apierror.Response
// @Security     BearerAuth
// @Router       /findings/{id}/status [put]
func (h *FindingHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}

	var req ChangeStatusRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.errs.validation(w, r, err)
		return
	}

	result, err := h.status.ChangeStatus(r.Context(), d, app.ChangeStatusInput{
		FindingID: middleware.URLParam(r, "id"),
		Status:    req.Status,
		Comment:   req.Comment,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusOK, toStatusChangeResponse(result))
}

// History handles GET /api/v1/findings/{id}/status-history
// @Summary      Status history
// @Description  Status changes newest first, each with its linked active evidence.
// @Tags         Findings
// @Produce      json
// @Param        id        path   string  true   "Finding ID"
// @Param        page      query  int     false  "Page number" default(1)
// @Param        per_page  query  int     false  "Items per page" default(20)
// @Success      200  {object}  ListResponse[HistoryEntryResponse]
// @Security     BearerAuth
// @Router       /findings/{id}/status-history [get]
func (h *FindingHandler) History(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	result, err := h.status.History(r.Context(), d, middleware.URLParam(r, "id"), pageFromQuery(r))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeList(w, result, toHistoryEntryResponse)
}

// AddComment handles POST /api/v1/findings/{id}/comments
// @Summary      Comment on a finding
// @Tags         Findings
// @Accept       json
// @Produce      json
// @Param        id    path      string             true  "Finding ID"
// @Param        body  body      AddCommentRequest  true  "Comment"
// @Success      201   {object}  DataResponse[CommentResponse]
// @Failure      404   {object}  apierror.Response
// @Failure      422   {object}  apierror.Response
// @Security     BearerAuth
// @Router       /findings/{id}/comments [post]
func (h *FindingHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}

	var req AddCommentRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
		return
	}
	if err := h.validator.Validate(req); err != nil {
		h.errs.validation(w, r, err)
		return
	}

	c, err := h.findings.AddComment(r.Context(), d, app.AddCommentInput{
		FindingID: middleware.URLParam(r, "id"),
		Content:   req.Content,
		Internal:  req.IsInternal,
	})
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, toCommentResponse(c))
}

// Timeline handles GET /api/v1/findings/{id}/history
// @Summary      Finding timeline
// @Description  Status changes, comments and active evidence uploads merged newest first.
// @Tags         Findings
// @Produce      json
// @Param        id   path      string  true  "Finding ID"
// @Success      200  {object}  DataResponse[[]ActivityResponse]
// @Failure      404  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /findings/{id}/history [get]
func (h *FindingHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	d, ok := decisionFrom(w, r)
	if !ok {
		return
	}
	entries, err := h.findings.Timeline(r.Context(), d, middleware.URLParam(r, "id"))
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toActivityResponse(e))
	}
	writeData(w, http.StatusOK, out)
}

// CompleteWithEvidence handles POST /api/v1/findings/{id}/complete-with-evidence
// @Summary      Close a finding with evidence
// @Description  Multipart: status, comment, description, evidence_type, labels or tags, and files. The bundle is linked to the new status change.
// @Tags         Findings
// @Accept       mpfd
// @Produce      json
// @Param        id      path      string  true   "Finding ID"
// @Param        status  formData  string  true   "Closing status"
// @Param        comment formData  string  true   "Justification"
// @Param        files   formData  file    false  "Evidence files"
// @Success      201  {object}  DataResponse[CompleteWithEvidenceResponse]
// @Failure      400  {object}  apierror.Response
// @Failure      422  {object}  apierror.Response
// @Security     BearerAuth
// @Router       /findings/{id}/complete-with-evidence [post]
func (h *FindingHandler) CompleteWithEvidence(w http.ResponseWriter, r *http.Request) {
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

	input := app.CompleteWithEvidenceInput{
		FindingID:    middleware.URLParam(r, "id"),
		Status:       form.value("status"),
		Comment:      form.value("comment"),
		Description:  form.value("description"),
		EvidenceType: form.value("evidence_type"),
		Labels:       form.Labels,
		Files:        form.Files,
	}
	if err := h.validator.Validate(input); err != nil {
		h.errs.validation(w, r, err)
		return
	}

	result, err := h.status.CompleteWithEvidence(r.Context(), d, input)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, CompleteWithEvidenceResponse{
		StatusChange: toStatusChangeResponse(result.Transition),
		Evidence:     toEvidenceResponse(result.Evidence),
	})
}
