package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/pkg/apierror"
	"github.com/vexscan/api/pkg/domain/access"
	"github.com/vexscan/api/pkg/domain/shared"
	"github.com/vexscan/api/pkg/logger"
	"github.com/vexscan/api/pkg/pagination"
	"github.com/vexscan/api/pkg/validator"
)

// DataResponse is the envelope of single-object responses.
type DataResponse[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// ListResponse is the envelope of paginated responses.
type ListResponse[T any] struct {
	Data       []T             `json:"data"`
	Pagination pagination.Meta `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData[T any](w http.ResponseWriter, status int, data T) {
	writeJSON(w, status, DataResponse[T]{Success: true, Data: data})
}

func writeList[T, U any](w http.ResponseWriter, page pagination.Result[T], convert func(T) U) {
	mapped := pagination.Map(page, convert)
	writeJSON(w, http.StatusOK, ListResponse[U]{Data: mapped.Data, Pagination: mapped.Meta()})
}

// decodeJSON reads a JSON body. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) *apierror.Error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || errors.Is(err, middleware.ErrDecompressedTooLarge) {
		return apierror.PayloadTooLarge("Request body too large")
	}
	return apierror.BadRequest("Invalid request body")
}

// decisionFrom returns the decision stored by the access middleware. Routes
// are always registered behind it, so a missing decision is a wiring bug and
// answered as forbidden.
func decisionFrom(w http.ResponseWriter, r *http.Request) (access.Decision, bool) {
	d, ok := middleware.GetDecision(r.Context())
	if !ok {
		apierror.Forbidden("").WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
	}
	return d, ok
}

// pageFromQuery reads page and per_page.
func pageFromQuery(r *http.Request) pagination.Pagination {
	q := r.URL.Query()
	return pagination.New(parseQueryInt(q.Get("page"), 1), parseQueryInt(q.Get("per_page"), 0))
}

// parseQueryArray parses a comma-separated query parameter, dropping blanks.
// Repeated parameters are merged.
func parseQueryArray(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseQueryInt returns defaultVal for empty or malformed input.
func parseQueryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return val
}

// errorWriter maps service errors to API errors for one handler.
type errorWriter struct {
	logger *logger.Logger
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		e.logger.Error("request failed",
			"error", err,
			"error_code", string(apiErr.Code),
			"path", r.URL.Path,
			"request_id", reqID,
		)
	}
	apiErr.WriteJSONWithRequestID(w, reqID)
}

func (e errorWriter) validation(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetRequestID(r.Context())
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apierror.Validation("Validation failed", verrs).WriteJSONWithRequestID(w, reqID)
		return
	}
	apierror.BadRequest(err.Error()).WriteJSONWithRequestID(w, reqID)
}

// toAPIError classifies err. Domain errors keep their specific code; the
// wrapped shared sentinel picks the HTTP status.
func toAPIError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	code := shared.CodeOf(err)
	msg := clientMessage(err)

	switch {
	case code == string(apierror.CodeInvalidStatus):
		return apierror.InvalidStatus(msg)
	case errors.Is(err, shared.ErrValidation):
		if code == "" || code == "VALIDATION" {
			code = string(apierror.CodeValidation)
		}
		return apierror.ValidationWithCode(apierror.Code(code), msg, nil)
	case errors.Is(err, shared.ErrNotFound):
		return apierror.New(http.StatusNotFound, apierror.CodeNotFound, msg)
	case errors.Is(err, shared.ErrForbidden):
		return apierror.Forbidden(msg)
	case errors.Is(err, shared.ErrUnauthorized):
		return apierror.Unauthorized(msg)
	case errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrConflict):
		return apierror.Duplicate(msg)
	case errors.Is(err, shared.ErrStorage):
		return apierror.Storage(err)
	default:
		return apierror.InternalError(err)
	}
}

// clientMessage strips sentinel prefixes such as "validation error: " from
// error text shown to clients.
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{shared.ErrValidation, shared.ErrNotFound, shared.ErrForbidden, shared.ErrConflict, shared.ErrAlreadyExists} {
		msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
	}
	if msg == "" {
		return "Request failed"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
