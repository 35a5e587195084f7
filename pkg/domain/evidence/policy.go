package evidence

import (
	"slices"
	"strings"

	"github.com/vexscan/api/pkg/domain/shared"
)

// Default upload limits.
const (
	DefaultMaxFilesPerUpload       = 20
	DefaultMaxFileSize       int64 = 50 * 1024 * 1024
)

// DefaultAllowedExtensions are accepted when no list is configured.
var DefaultAllowedExtensions = []string{
	"png", "jpg", "jpeg", "gif", "webp", "bmp",
	"pdf", "txt", "log", "csv", "json", "xml", "yaml", "yml", "md", "html",
	"doc", "docx", "xls", "xlsx", "ppt", "pptx", "odt",
	"zip", "gz", "tar", "7z",
	"har", "pcap", "pcapng", "mp4", "webm",
}

// DefaultBlockedExtensions are rejected regardless of the allow list.
var DefaultBlockedExtensions = []string{
	"exe", "dll", "bat", "cmd", "com", "msi", "scr", "ps1", "vbs", "sh", "jar",
}

// DefaultAllowedMIMETypes are matched against both the declared and the
// detected content type. A trailing "*" matches by prefix.
var DefaultAllowedMIMETypes = []string{
	"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp",
	"text/*",
	"application/pdf", "application/json", "application/xml",
	"application/yaml", "application/x-yaml",
	"application/msword", "application/vnd.ms-excel", "application/vnd.ms-powerpoint",
	"application/x-ole-storage",
	"application/vnd.openxmlformats-officedocument.*",
	"application/vnd.oasis.opendocument.*",
	"application/zip", "application/x-zip-compressed",
	"application/gzip", "application/x-gzip", "application/x-tar", "application/x-7z-compressed",
	"application/vnd.tcpdump.pcap", "application/x-pcapng",
	"video/mp4", "video/webm",
	DefaultMIMEType,
}

// Format describes how one extension is treated by the upload policy.
type Format struct {
	Extension string `json:"extension"`
	Allowed   bool   `json:"is_allowed"`
	MaxSize   int64  `json:"max_size"`
}

// Policy bounds what a single upload may contain.
type Policy struct {
	MaxFiles          int
	MaxFileSize       int64
	AllowedExtensions []string
	BlockedExtensions []string
	// AllowedMIMETypes is empty to accept any content type.
	AllowedMIMETypes []string
}

// DefaultPolicy returns the built-in limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxFiles:          DefaultMaxFilesPerUpload,
		MaxFileSize:       DefaultMaxFileSize,
		AllowedExtensions: DefaultAllowedExtensions,
		BlockedExtensions: DefaultBlockedExtensions,
		AllowedMIMETypes:  DefaultAllowedMIMETypes,
	}
}

// CheckCount validates the number of files in one upload.
func (p Policy) CheckCount(n int) error {
	if n == 0 {
		return ErrNoFiles
	}
	if p.MaxFiles > 0 && n > p.MaxFiles {
		return shared.Wrapf(ErrTooMany, "got %d, maximum is %d", n, p.MaxFiles)
	}
	return nil
}

// CheckFile validates one file by name and size. A size of -1 means unknown
// and skips the size check; the caller must enforce it while reading.
func (p Policy) CheckFile(name string, size int64) error {
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return shared.Wrapf(ErrTooLarge, "%q is larger than %d bytes", name, p.MaxFileSize)
	}
	ext := Extension(name)
	if slices.Contains(p.BlockedExtensions, ext) {
		return shared.Wrapf(ErrFileType, "%q", name)
	}
	if len(p.AllowedExtensions) > 0 && !slices.Contains(p.AllowedExtensions, ext) {
		return shared.Wrapf(ErrFileType, "%q", name)
	}
	return nil
}

// CheckContentType validates a file's content types. declared is the type
// the client sent; it is skipped when empty or generic. detected lists the
// type sniffed from the content followed by its parent types (a .docx is
// also a zip); one of them must be allowed.
func (p Policy) CheckContentType(name, declared string, detected []string) error {
	if len(p.AllowedMIMETypes) == 0 {
		return nil
	}
	if d := baseMIMEType(declared); d != "" && d != DefaultMIMEType && !p.allowsMIME(d) {
		return shared.Wrapf(ErrFileType, "%q declared as %s", name, d)
	}
	for _, t := range detected {
		if p.allowsMIME(baseMIMEType(t)) {
			return nil
		}
	}
	if len(detected) == 0 {
		return shared.Wrapf(ErrFileType, "%q has an unknown content type", name)
	}
	return shared.Wrapf(ErrFileType, "%q content is %s", name, baseMIMEType(detected[0]))
}

func (p Policy) allowsMIME(t string) bool {
	if t == "" {
		return false
	}
	for _, allowed := range p.AllowedMIMETypes {
		if prefix, ok := strings.CutSuffix(allowed, "*"); ok {
			if strings.HasPrefix(t, prefix) {
				return true
			}
		} else if t == allowed {
			return true
		}
	}
	return false
}

// baseMIMEType drops parameters: "text/plain; charset=utf-8" is text/plain.
func baseMIMEType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.ToLower(strings.TrimSpace(t))
}

// NormalizeMIMETypes lower-cases configured types and drops blanks and
// repeats.
func NormalizeMIMETypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = baseMIMEType(t)
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// Formats lists every known extension with its verdict.
func (p Policy) Formats() []Format {
	out := make([]Format, 0, len(p.AllowedExtensions)+len(p.BlockedExtensions))
	for _, ext := range p.AllowedExtensions {
		if slices.Contains(p.BlockedExtensions, ext) {
			continue
		}
		out = append(out, Format{Extension: ext, Allowed: true, MaxSize: p.MaxFileSize})
	}
	for _, ext := range p.BlockedExtensions {
		out = append(out, Format{Extension: ext, Allowed: false})
	}
	slices.SortStableFunc(out, func(a, b Format) int {
		return strings.Compare(a.Extension, b.Extension)
	})
	return out
}

// NormalizeExtensions lower-cases configured extensions and drops leading
// dots, blanks and repeats: [".PDF", "pdf", " png"] becomes [pdf png].
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" && !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}
