package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxSafeName is the longest spool title kept, in bytes.
const maxSafeName = 255

var formatExtensions = map[string]string{
	"image/jpeg":             "jpg",
	"image/png":              "png",
	"image/pwg-raster":       "pwg",
	"image/urf":              "urf",
	"application/pdf":        "pdf",
	"application/postscript": "ps",
}

// CreateFile creates a new spool file for the job in directory. The name is
// "<printer>-<id>-<title>.<ext>". When ext is empty it is picked from the job
// format. The file is created exclusively: an existing file or symlink at the
// path is an error.
func (j *Job) CreateFile(directory, ext string) (*os.File, string, error) {
	if j == nil {
		return nil, "", ErrInvalidJob
	}

	j.mu.RLock()
	title := j.name
	format := j.format
	j.mu.RUnlock()

	printer := ""
	if j.printer != nil {
		printer = j.printer.name
	}

	if ext == "" {
		ext = extensionFor(format)
	}

	path := filepath.Join(directory, fmt.Sprintf("%s-%d-%s.%s", printer, j.id, SafeName(title), ext))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, "", fmt.Errorf("create spool file: %w", err)
	}
	return f, path, nil
}

func extensionFor(format string) string {
	if ext, ok := formatExtensions[strings.ToLower(format)]; ok {
		return ext
	}
	return "prn"
}

// SafeName lower-cases title and collapses every run of characters other
// than ASCII letters, digits and '-' into a single '_'.
func SafeName(title string) string {
	if title == "" {
		title = "untitled"
	}

	var b strings.Builder
	lastUnderscore := false
	for i := 0; i < len(title) && b.Len() < maxSafeName; i++ {
		c := title[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
			lastUnderscore = false
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return b.String()
}
