package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexscan/api/internal/app"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/evidence"
	"github.com/vexscan/api/pkg/domain/finding"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/pagination"
)

type errorBody struct {
	Success   bool            `json:"success"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"error_code"`
	Details   json.RawMessage `json:"details"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	assert.False(t, body.Success)
	return body
}

func do(h http.Handler, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChangeStatus_Success(t *testing.T) {
	f := sampleFinding(finding.StatusOpen)
	changeID := shared.NewID()
	var got app.ChangeStatusInput

	h := findingRouter(nil, &stubStatus{change: func(in app.ChangeStatusInput) (*app.StatusChangeResult, error) {
		got = in
		return &app.StatusChangeResult{
			FindingID:      f.ID(),
			FromStatus:     finding.StatusOpen,
			ToStatus:       finding.StatusInProgress,
			StatusChangeID: changeID,
			Comment:        in.Comment,
			ChangedBy:      allowed.UserID,
			ChangedAt:      testNow,
		}, nil
	}})

	rec := do(h, http.MethodPut, "/findings/"+f.ID().String()+"/status",
		[]byte(`{"status":"In Progress","comment":"looking into it"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, app.ChangeStatusInput{FindingID: f.ID().String(), Status: "In Progress", Comment: "looking into it"}, got)

	var body struct {
		Success bool                 `json:"success"`
		Data    StatusChangeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Open", body.Data.FromStatus)
	assert.Equal(t, "In Progress", body.Data.ToStatus)
	assert.Equal(t, changeID, body.Data.StatusChangeID)
	assert.Nil(t, body.Data.TimeToMitigateHours)
}

func TestChangeStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"comment required", finding.ErrCommentRequired, http.StatusUnprocessableEntity, "COMMENT_REQUIRED"},
		{"evidence required", finding.ErrEvidenceRequired, http.StatusUnprocessableEntity, "EVIDENCE_REQUIRED"},
		{"no-op", finding.ErrNoOpTransition, http.StatusUnprocessableEntity, "NO_OP_TRANSITION"},
		{"invalid status", shared.Wrapf(finding.ErrInvalidStatus, "%q", "Closed"), http.StatusBadRequest, "INVALID_STATUS"},
		{"plain validation", fmt.Errorf("%w: invalid finding id format", shared.ErrValidation), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"not found", finding.ErrFindingNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"denied", access.ErrDenied, http.StatusForbidden, "PERMISSION_DENIED"},
		{"storage", fmt.Errorf("%w: %w", shared.ErrStorage, errors.New("s3 down")), http.StatusBadGateway, "STORAGE_ERROR"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := findingRouter(nil, &stubStatus{change: func(app.ChangeStatusInput) (*app.StatusChangeResult, error) {
				return nil, tt.err
			}})
			rec := do(h, http.MethodPut, "/findings/"+shared.NewID().String()+"/status",
				[]byte(`{"status":"Accepted Risk","comment":"short"}`), "application/json")
			assert.Equal(t, tt.wantCode, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantErr, body.ErrorCode)
			if tt.wantCode == http.StatusInternalServerError {
				assert.NotContains(t, body.Error, "connection reset")
			}
		})
	}
}

func TestChangeStatus_BadBodies(t *testing.T) {
	h := findingRouter(nil, &stubStatus{change: func(app.ChangeStatusInput) (*app.StatusChangeResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})
	target := "/findings/" + shared.NewID().String() + "/status"

	rec := do(h, http.MethodPut, target, []byte(`{"status":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decodeError(t, rec).ErrorCode)

	rec = do(h, http.MethodPut, target, []byte(`{"comment":"no status"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.ErrorCode)
	assert.Contains(t, string(body.Details), `"field":"status"`)
}

func TestHistory_Envelope(t *testing.T) {
	f := sampleFinding(finding.StatusMitigated)
	open := finding.StatusOpen
	change := finding.ReconstituteStatusChange(shared.NewID(), f.ID(), &open, finding.StatusMitigated,
		"patched and verified in prod", allowed.UserID, "Dana", testNow)
	linked := change.ID()
	bundles := []*evidence.Bundle{sampleBundle(f.ID(), &linked), sampleBundle(f.ID(), &linked), sampleBundle(f.ID(), &linked)}

	var gotPage pagination.Pagination
	h := findingRouter(nil, &stubStatus{history: func(id string, p pagination.Pagination) (pagination.Result[app.HistoryEntry], error) {
		gotPage = p
		return pagination.NewResult([]app.HistoryEntry{{Change: change, Evidence: bundles}}, 41, p), nil
	}})

	rec := do(h, http.MethodGet, "/findings/"+f.ID().String()+"/status-history?page=3&per_page=20", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pagination.New(3, 20), gotPage)

	var body ListResponse[HistoryEntryResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, pagination.Meta{Page: 3, PerPage: 20, Total: 41, TotalPages: 3}, body.Pagination)
	require.Len(t, body.Data, 1)
	entry := body.Data[0]
	assert.Equal(t, 3, entry.EvidenceCount)
	assert.Len(t, entry.Evidence, 3)
	require.NotNil(t, entry.FromStatus)
	assert.Equal(t, "Open", *entry.FromStatus)
	assert.Equal(t, "Dana", entry.ChangedByName)
}

func TestHistory_EmptyPageIsArray(t *testing.T) {
	h := findingRouter(nil, &stubStatus{history: func(_ string, p pagination.Pagination) (pagination.Result[app.HistoryEntry], error) {
		return pagination.NewResult[app.HistoryEntry](nil, 45, p), nil
	}})
	rec := do(h, http.MethodGet, "/findings/"+shared.NewID().String()+"/status-history?page=10", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
	assert.Contains(t, rec.Body.String(), `"total_pages":3`)
}

func TestListFindings_QueryParsing(t *testing.T) {
	var got app.ListFindingsInput
	h := findingRouter(&stubFindings{list: func(in app.ListFindingsInput) (pagination.Result[*finding.Finding], error) {
		got = in
		return pagination.NewResult([]*finding.Finding{sampleFinding(finding.StatusOpen)}, 1, pagination.New(in.Page, in.PerPage)), nil
	}}, nil)

	ws := allowed.WorkspaceID.String()
	rec := do(h, http.MethodGet, "/findings?workspace_id="+ws+"&status=Open,In%20Progress&status=Waiting&severity=High&search=sql&page=2&per_page=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ws, got.WorkspaceID)
	assert.Equal(t, []string{"Open", "In Progress", "Waiting"}, got.Statuses)
	assert.Equal(t, []string{"High"}, got.Severities)
	assert.Equal(t, "sql", got.Search)
	assert.Equal(t, 2, got.Page)
	assert.Equal(t, 5, got.PerPage)

	var body ListResponse[FindingResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "High", body.Data[0].Severity)
}

func TestUpdateFinding_ValidatesSeverity(t *testing.T) {
	h := findingRouter(&stubFindings{update: func(string, app.UpdateFindingInput) (*finding.Finding, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}, nil)
	rec := do(h, http.MethodPatch, "/findings/"+shared.NewID().String(), []byte(`{"severity":"Catastrophic"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateFinding_Success(t *testing.T) {
	var got app.UpdateFindingInput
	h := findingRouter(&stubFindings{update: func(_ string, in app.UpdateFindingInput) (*finding.Finding, error) {
		got = in
		return sampleFinding(finding.StatusOpen), nil
	}}, nil)
	rec := do(h, http.MethodPatch, "/findings/"+shared.NewID().String(), []byte(`{"title":"Renamed"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got.Title)
	assert.Equal(t, "Renamed", *got.Title)
	assert.Nil(t, got.Severity)
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte(content))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestCompleteWithEvidence(t *testing.T) {
	f := sampleFinding(finding.StatusInProgress)
	var got app.CompleteWithEvidenceInput
	h := findingRouter(nil, &stubStatus{complete: func(in app.CompleteWithEvidenceInput) (*app.CompleteWithEvidenceResult, error) {
		got = in
		changeID := shared.NewID()
		ttm := 48.0
		return &app.CompleteWithEvidenceResult{
			Transition: &app.StatusChangeResult{
				FindingID: f.ID(), FromStatus: finding.StatusInProgress, ToStatus: finding.StatusMitigated,
				StatusChangeID: changeID, ChangedBy: allowed.UserID, ChangedAt: testNow, TimeToMitigateHours: &ttm,
			},
			Evidence: sampleBundle(f.ID(), &changeID),
		}, nil
	}})

	body, ct := multipartBody(t, map[string]string{
		"status":  "Mitigated",
		"comment": "patched and verified",
		"tags":    "retest, prod",
	}, map[string]string{"scan.txt": "done"})
	rec := do(h, http.MethodPost, "/findings/"+f.ID().String()+"/complete-with-evidence", body.Bytes(), ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, "Mitigated", got.Status)
	assert.Equal(t, "patched and verified", got.Comment)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "scan.txt", got.Files[0].Name)
	require.Len(t, got.Labels, 2)
	assert.Equal(t, "prod", got.Labels[1].Text)

	var resp DataResponse[CompleteWithEvidenceResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Mitigated", resp.Data.StatusChange.ToStatus)
	require.NotNil(t, resp.Data.StatusChange.TimeToMitigateHours)
	assert.InDelta(t, 48.0, *resp.Data.StatusChange.TimeToMitigateHours, 0.001)
	assert.Equal(t, &resp.Data.StatusChange.StatusChangeID, resp.Data.Evidence.RelatedStatusChangeID)
}

func TestCompleteWithEvidence_ValidatesForm(t *testing.T) {
	h := findingRouter(nil, &stubStatus{complete: func(app.CompleteWithEvidenceInput) (*app.CompleteWithEvidenceResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})
	target := "/findings/" + shared.NewID().String() + "/complete-with-evidence"

	body, ct := multipartBody(t, map[string]string{
		"status":  "Mitigated",
		"comment": strings.Repeat("a", 5001),
	}, map[string]string{"scan.txt": "done"})
	rec := do(h, http.MethodPost, target, body.Bytes(), ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).ErrorCode)

	body, ct = multipartBody(t, map[string]string{"comment": "no status"}, nil)
	rec = do(h, http.MethodPost, target, body.Bytes(), ct)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCompleteWithEvidence_NotMultipart(t *testing.T) {
	h := findingRouter(nil, &stubStatus{})
	rec := do(h, http.MethodPost, "/findings/"+shared.NewID().String()+"/complete-with-evidence",
		[]byte(`{"status":"Mitigated"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(decodeError(t, rec).Error, "multipart"))
}

func TestAddComment(t *testing.T) {
	findingID := shared.NewID()
	var got app.AddCommentInput
	h := findingRouter(&stubFindings{comment: func(in app.AddCommentInput) (*finding.Comment, error) {
		got = in
		return finding.ReconstituteComment(shared.NewID(), findingID, in.Content, in.Internal, allowed.UserID, "", testNow), nil
	}}, nil)

	rec := do(h, http.MethodPost, "/findings/"+findingID.String()+"/comments",
		[]byte(`{"content":"vendor contacted","is_internal":true}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, findingID.String(), got.FindingID)
	assert.True(t, got.Internal)

	var resp DataResponse[CommentResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "vendor contacted", resp.Data.Content)
	assert.True(t, resp.Data.IsInternal)
	assert.Equal(t, allowed.UserID, resp.Data.AuthorID)
}

func TestAddComment_Validation(t *testing.T) {
	h := findingRouter(&stubFindings{comment: func(app.AddCommentInput) (*finding.Comment, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}, nil)
	target := "/findings/" + shared.NewID().String() + "/comments"

	rec := do(h, http.MethodPost, target, []byte(`{"is_internal":true}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).ErrorCode)

	rec = do(h, http.MethodPost, target, []byte(`{"content":"`+strings.Repeat("a", 10001)+`"}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAddComment_BlankContentFromService(t *testing.T) {
	h := findingRouter(&stubFindings{comment: func(app.AddCommentInput) (*finding.Comment, error) {
		return nil, finding.ErrCommentEmpty
	}}, nil)
	rec := do(h, http.MethodPost, "/findings/"+shared.NewID().String()+"/comments", []byte(`{"content":"   "}`), "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "COMMENT_REQUIRED", decodeError(t, rec).ErrorCode)
}

func TestTimeline_Envelope(t *testing.T) {
	f := sampleFinding(finding.StatusInProgress)
	open := finding.StatusOpen
	change := finding.ReconstituteStatusChange(shared.NewID(), f.ID(), &open, finding.StatusInProgress, "triaged",
		allowed.UserID, "Dana", testNow.Add(-time.Hour))
	comment := finding.ReconstituteComment(shared.NewID(), f.ID(), "vendor contacted", true, allowed.UserID, "Dana", testNow)
	bundle := sampleBundle(f.ID(), nil)

	h := findingRouter(&stubFindings{timeline: func(id string) ([]app.ActivityEntry, error) {
		assert.Equal(t, f.ID().String(), id)
		return []app.ActivityEntry{
			{Kind: app.ActivityComment, At: testNow, ActorID: allowed.UserID, ActorName: "Dana", Comment: comment},
			{Kind: app.ActivityEvidence, At: testNow, ActorID: allowed.UserID, ActorName: "Dana", Evidence: bundle},
			{Kind: app.ActivityStatusChange, At: testNow.Add(-time.Hour), ActorID: allowed.UserID, ActorName: "Dana", StatusChange: change},
		}, nil
	}}, nil)

	rec := do(h, http.MethodGet, "/findings/"+f.ID().String()+"/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp DataResponse[[]ActivityResponse]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 3)

	assert.Equal(t, "comment", resp.Data[0].Type)
	require.NotNil(t, resp.Data[0].Comment)
	assert.True(t, resp.Data[0].Comment.IsInternal)
	assert.Nil(t, resp.Data[0].Evidence)
	assert.Nil(t, resp.Data[0].StatusChange)

	assert.Equal(t, "evidence", resp.Data[1].Type)
	require.NotNil(t, resp.Data[1].Evidence)
	assert.Equal(t, bundle.ID(), resp.Data[1].Evidence.ID)

	assert.Equal(t, "status_change", resp.Data[2].Type)
	require.NotNil(t, resp.Data[2].StatusChange)
	assert.Equal(t, "Open", *resp.Data[2].StatusChange.FromStatus)
	assert.Equal(t, "In Progress", resp.Data[2].StatusChange.ToStatus)
	assert.Equal(t, "Dana", resp.Data[2].ActorName)
}

func TestTimeline_EmptyIsArray(t *testing.T) {
	h := findingRouter(&stubFindings{timeline: func(string) ([]app.ActivityEntry, error) { return nil, nil }}, nil)
	rec := do(h, http.MethodGet, "/findings/"+shared.NewID().String()+"/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, rec.Body.String())
}
