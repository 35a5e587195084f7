package evidence

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vexscan/api/pkg/domain/shared"
)

const (
	maxFileNameBytes = 200
	fallbackFileName = "evidence"
)

// SanitizeFileName turns a client supplied file name into a single safe path
// segment: NFKC normalized, no control or format characters, no separators.
func SanitizeFileName(name string) string {
	t := transform.Chain(
		norm.NFKC,
		runes.Remove(runes.In(unicode.Cc)),
		runes.Remove(runes.In(unicode.Cf)),
		runes.Map(func(r rune) rune {
			switch r {
			case '/', '\\', ':':
				return '_'
			}
			return r
		}),
	)
	clean, _, err := transform.String(t, name)
	if err != nil {
		return fallbackFileName
	}

	clean = strings.TrimSpace(clean)
	clean = strings.Trim(clean, ".")
	if clean == "" {
		return fallbackFileName
	}

	if len(clean) > maxFileNameBytes {
		ext := path.Ext(clean)
		if len(ext) > 16 {
			ext = ""
		}
		clean = truncateUTF8(clean[:len(clean)-len(ext)], maxFileNameBytes-len(ext)) + ext
	}
	return clean
}

// Extension returns the lower-case extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// StoragePath builds the object key for an uploaded file:
// {workspace}/{finding}/{nonce}_{name}.
func StoragePath(workspaceID, findingID shared.ID, nonce, name string) string {
	return fmt.Sprintf("%s/%s/%s_%s", workspaceID, findingID, nonce, name)
}

func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
