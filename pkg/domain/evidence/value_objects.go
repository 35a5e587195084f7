package evidence

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vexscan/api/pkg/domain/shared"
)

// DefaultMIMEType is recorded for files uploaded without a content type.
const DefaultMIMEType = "application/octet-stream"

var (
	hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}([0-9A-Fa-f]{2})?$`)
	sha256Pattern   = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// FileRef describes one stored file inside an evidence bundle.
type FileRef struct {
	Name string `json:"file_name"`
	Path string `json:"file_path"`
	Size int64  `json:"file_size"`
	Type string `json:"file_type"`
	Hash string `json:"file_hash"`
}

// NewFileRef validates and normalizes a file descriptor. Name, path and a
// positive size are required; the hash, when present, must be sha256 hex.
func NewFileRef(name, path string, size int64, mimeType, hash string) (FileRef, error) {
	name = strings.TrimSpace(name)
	path = strings.TrimSpace(path)
	if name == "" {
		return FileRef{}, shared.Wrapf(ErrBadFile, "file_name is required")
	}
	if path == "" {
		return FileRef{}, shared.Wrapf(ErrBadFile, "file_path is required for %q", name)
	}
	if size <= 0 {
		return FileRef{}, shared.Wrapf(ErrBadFile, "file_size must be positive for %q", name)
	}
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash != "" && !sha256Pattern.MatchString(hash) {
		return FileRef{}, shared.Wrapf(ErrBadFile, "file_hash must be sha256 hex for %q", name)
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = DefaultMIMEType
	}
	return FileRef{Name: name, Path: path, Size: size, Type: mimeType, Hash: hash}, nil
}

// MatchesHash compares the stored hash case-insensitively.
func (f FileRef) MatchesHash(hash string) bool {
	return f.Hash != "" && strings.EqualFold(f.Hash, strings.TrimSpace(hash))
}

// Label is a colored tag attached to a bundle.
type Label struct {
	Text  string `json:"tag"`
	Color string `json:"color"`
}

// UnmarshalJSON accepts the label text under either "tag" or "text".
func (l *Label) UnmarshalJSON(data []byte) error {
	var raw struct {
		Tag   string `json:"tag"`
		Text  string `json:"text"`
		Color string `json:"color"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.Text = raw.Tag
	if l.Text == "" {
		l.Text = raw.Text
	}
	l.Color = raw.Color
	return nil
}

// NewLabel validates a label. Text must be non-blank and color a #RRGGBB or
// #RRGGBBAA hex value.
func NewLabel(text, color string) (Label, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Label{}, shared.Wrapf(ErrBadLabel, "tag text is required")
	}
	color = strings.TrimSpace(color)
	if !hexColorPattern.MatchString(color) {
		return Label{}, shared.Wrapf(ErrBadLabel, "color %q must be a hex value like #FF5733 or #FF5733FF", color)
	}
	return Label{Text: text, Color: color}, nil
}

// ValidateLabels checks every label and returns normalized copies.
func ValidateLabels(labels []Label) ([]Label, error) {
	out := make([]Label, 0, len(labels))
	for i, l := range labels {
		v, err := NewLabel(l.Text, l.Color)
		if err != nil {
			return nil, fmt.Errorf("labels[%d]: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DefaultLabelColors is the palette assigned to labels submitted as plain text.
var DefaultLabelColors = []string{"#3B82F6", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6"}

// LabelsFromText turns plain tag names into labels using DefaultLabelColors.
func LabelsFromText(tags []string) []Label {
	out := make([]Label, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, Label{Text: t, Color: DefaultLabelColors[len(out)%len(DefaultLabelColors)]})
	}
	return out
}

// UntaggedGroup is the group key for bundles without labels.
const UntaggedGroup = "untagged"
