package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client is the API HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	verbose    bool
}

// NewClient creates a new API client.
func NewClient(baseURL, token string, verbose bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		verbose: verbose,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.verbose {
		fmt.Fprintf(os.Stderr, ">>> %s %s\n", method, url)
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if c.verbose {
		fmt.Fprintf(os.Stderr, "<<< %d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return resp, nil
}

// Do performs a JSON request and returns the response body.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var (
		reqBody     io.Reader
		contentType string
	)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, reqBody, contentType)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a JSON POST request.
func (c *Client) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body any) ([]byte, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) ([]byte, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// Upload posts a multipart form with fields and the named files under
// "files". The body is streamed so large evidence is not held in memory.
func (c *Client) Upload(ctx context.Context, path string, fields map[string]string, files []string) ([]byte, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, files))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, path, pr, mw.FormDataContentType())
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, files []string) error {
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, path := range files {
		if err := copyFilePart(mw, path); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Download streams the response body of path into w.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.send(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// APIError is an error envelope returned by the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("API error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if len(e.Details) > 0 && string(e.Details) != "null" {
		msg += " " + string(e.Details)
	}
	return msg
}

func parseAPIError(statusCode int, body []byte) error {
	apiErr := &APIError{StatusCode: statusCode}

	var parsed struct {
		Error     string          `json:"error"`
		ErrorCode string          `json:"error_code"`
		Details   json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = parsed.ErrorCode
		apiErr.Message = parsed.Error
		apiErr.Details = parsed.Details
	}

	if apiErr.Message == "" {
		switch statusCode {
		case http.StatusUnauthorized:
			apiErr.Message = "unauthorized: invalid or missing token"
		case http.StatusForbidden:
			apiErr.Message = "forbidden: not a member of the workspace's organization"
		case http.StatusNotFound:
			apiErr.Message = "resource not found"
		}
	}
	return apiErr
}

// Response types matching the server's JSON.

type dataEnvelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

type listEnvelope[T any] struct {
	Data       []T        `json:"data"`
	Pagination pageHeader `json:"pagination"`
}

type pageHeader struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type FindingResponse struct {
	ID                  string   `json:"id" yaml:"id"`
	WorkspaceID         string   `json:"workspace_id" yaml:"workspace_id"`
	Title               string   `json:"title" yaml:"title"`
	Severity            string   `json:"severity" yaml:"severity"`
	Status              string   `json:"status" yaml:"status"`
	StatusChangedAt     *string  `json:"status_changed_at,omitempty" yaml:"status_changed_at,omitempty"`
	MitigatedAt         *string  `json:"mitigated_at,omitempty" yaml:"mitigated_at,omitempty"`
	TimeToMitigateHours *float64 `json:"time_to_mitigate_hours,omitempty" yaml:"time_to_mitigate_hours,omitempty"`
	CreatedAt           string   `json:"created_at" yaml:"created_at"`
}

type StatusChangeResponse struct {
	FindingID           string   `json:"finding_id" yaml:"finding_id"`
	FromStatus          string   `json:"from_status" yaml:"from_status"`
	ToStatus            string   `json:"to_status" yaml:"to_status"`
	StatusChangeID      string   `json:"status_change_id" yaml:"status_change_id"`
	Comment             string   `json:"comment" yaml:"comment"`
	ChangedAt           string   `json:"changed_at" yaml:"changed_at"`
	TimeToMitigateHours *float64 `json:"time_to_mitigate_hours,omitempty" yaml:"time_to_mitigate_hours,omitempty"`
}

type FileRef struct {
	Name string `json:"file_name" yaml:"file_name"`
	Size int64  `json:"file_size" yaml:"file_size"`
	Type string `json:"file_type" yaml:"file_type"`
	Hash string `json:"file_hash" yaml:"file_hash"`
}

type Label struct {
	Text  string `json:"tag" yaml:"tag"`
	Color string `json:"color" yaml:"color"`
}

type EvidenceResponse struct {
	ID                    string    `json:"id" yaml:"id"`
	FindingID             string    `json:"finding_id" yaml:"finding_id"`
	Files                 []FileRef `json:"files" yaml:"files"`
	FileCount             int       `json:"file_count" yaml:"file_count"`
	Description           string    `json:"description" yaml:"description"`
	Labels                []Label   `json:"labels" yaml:"labels"`
	RelatedStatusChangeID *string   `json:"related_status_change_id" yaml:"related_status_change_id"`
	UploadedByName        string    `json:"uploaded_by_name,omitempty" yaml:"uploaded_by_name,omitempty"`
	CreatedAt             string    `json:"created_at" yaml:"created_at"`
	DuplicateHashes       []string  `json:"duplicate_hashes,omitempty" yaml:"duplicate_hashes,omitempty"`
}

type HistoryEntryResponse struct {
	ID            string             `json:"id" yaml:"id"`
	FromStatus    *string            `json:"from_status" yaml:"from_status"`
	ToStatus      string             `json:"to_status" yaml:"to_status"`
	Comment       string             `json:"comment" yaml:"comment"`
	ChangedByName string             `json:"changed_by_name,omitempty" yaml:"changed_by_name,omitempty"`
	CreatedAt     string             `json:"created_at" yaml:"created_at"`
	Evidence      []EvidenceResponse `json:"evidence" yaml:"evidence"`
	EvidenceCount int                `json:"evidence_count" yaml:"evidence_count"`
}

type CommentResponse struct {
	ID         string `json:"id" yaml:"id"`
	Content    string `json:"content" yaml:"content"`
	IsInternal bool   `json:"is_internal" yaml:"is_internal"`
	AuthorName string `json:"author_name,omitempty" yaml:"author_name,omitempty"`
	CreatedAt  string `json:"created_at" yaml:"created_at"`
}

type TimelineStatusChange struct {
	ID         string  `json:"id" yaml:"id"`
	FromStatus *string `json:"from_status" yaml:"from_status"`
	ToStatus   string  `json:"to_status" yaml:"to_status"`
	Comment    string  `json:"comment" yaml:"comment"`
}

type ActivityResponse struct {
	Type         string                `json:"type" yaml:"type"`
	CreatedAt    string                `json:"created_at" yaml:"created_at"`
	ActorName    string                `json:"actor_name,omitempty" yaml:"actor_name,omitempty"`
	StatusChange *TimelineStatusChange `json:"status_change,omitempty" yaml:"status_change,omitempty"`
	Comment      *CommentResponse      `json:"comment,omitempty" yaml:"comment,omitempty"`
	Evidence     *EvidenceResponse     `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Summary is a one-line description of the event for table output.
func (a ActivityResponse) Summary() string {
	switch {
	case a.StatusChange != nil:
		s := ptrStr(a.StatusChange.FromStatus) + " -> " + a.StatusChange.ToStatus
		if a.StatusChange.Comment != "" {
			s += ": " + a.StatusChange.Comment
		}
		return s
	case a.Comment != nil:
		if a.Comment.IsInternal {
			return "[internal] " + a.Comment.Content
		}
		return a.Comment.Content
	case a.Evidence != nil:
		return fmt.Sprintf("%d file(s): %s", a.Evidence.FileCount, a.Evidence.Description)
	}
	return ""
}

type DeleteEvidenceResponse struct {
	ID           string    `json:"id" yaml:"id"`
	DeletedFiles []FileRef `json:"deleted_files" yaml:"deleted_files"`
}

type CompleteResponse struct {
	StatusChange StatusChangeResponse `json:"status_change" yaml:"status_change"`
	Evidence     EvidenceResponse     `json:"evidence" yaml:"evidence"`
}
