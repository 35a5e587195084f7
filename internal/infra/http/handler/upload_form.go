package handler

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/vexscan/api/internal/app"
	"github.com/vexscan/api/internal/infra/http/middleware"
	"github.com/vexscan/api/pkg/apierror"
	"github.com/vexscan/api/pkg/domain/evidence"
)

// multipartMemory is kept in memory per request; larger parts spill to
// temporary files.
const multipartMemory = 8 << 20

// uploadForm is a parsed evidence upload.
type uploadForm struct {
	form  *multipart.Form
	files []multipart.File

	Files  []app.UploadFile
	Labels []evidence.Label
}

func (f *uploadForm) value(key string) string {
	if v := f.form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// Close releases the opened parts and any temporary files.
func (f *uploadForm) Close() {
	for _, file := range f.files {
		_ = file.Close()
	}
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}

// parseUploadForm reads a multipart evidence upload. Files come from the
// "files" part, or "files[]" as sent by browser form libraries. Labels are a
// JSON array under "labels"; "tags" accepts plain strings, JSON or comma
// separated.
func parseUploadForm(r *http.Request) (*uploadForm, *apierror.Error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, middleware.ErrDecompressedTooLarge) {
			return nil, apierror.PayloadTooLarge("Upload exceeds the maximum request size")
		}
		return nil, apierror.BadRequest("Invalid multipart form")
	}

	f := &uploadForm{form: r.MultipartForm}

	headers := slices.Concat(f.form.File["files"], f.form.File["files[]"])
	for _, fh := range headers {
		file, err := fh.Open()
		if err != nil {
			f.Close()
			return nil, apierror.BadRequest("Unreadable file part: " + fh.Filename)
		}
		f.files = append(f.files, file)
		f.Files = append(f.Files, app.UploadFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Content:     file,
		})
	}

	labels, apiErr := parseLabels(f.value("labels"), f.value("tags"))
	if apiErr != nil {
		f.Close()
		return nil, apiErr
	}
	f.Labels = labels
	return f, nil
}

func parseLabels(labelsRaw, tagsRaw string) ([]evidence.Label, *apierror.Error) {
	var labels []evidence.Label

	if labelsRaw != "" {
		if err := json.Unmarshal([]byte(labelsRaw), &labels); err != nil {
			var texts []string
			if err := json.Unmarshal([]byte(labelsRaw), &texts); err != nil {
				return nil, apierror.BadRequest("labels must be a JSON array")
			}
			labels = evidence.LabelsFromText(texts)
		}
	}

	if tagsRaw != "" {
		var tags []string
		if strings.HasPrefix(tagsRaw, "[") {
			if err := json.Unmarshal([]byte(tagsRaw), &tags); err != nil {
				return nil, apierror.BadRequest("tags must be a JSON array of strings")
			}
		} else {
			tags = strings.Split(tagsRaw, ",")
		}
		labels = append(labels, evidence.LabelsFromText(tags)...)
	}
	return labels, nil
}
