// Package selection turns user-chosen files into an ordered batch of media
// items. Files are staged on local disk for the lifetime of a capture session
// and exposed through signed preview handles.
package selection

import (
	"errors"
	"io"
	"strings"

	"github.com/ArmandoV15/wedding-photo-gallery/internal/model"
)

var (
	// ErrSelectionEmpty is returned for an empty pick. Callers treat it as a no-op.
	ErrSelectionEmpty  = errors.New("no files selected")
	ErrSessionNotFound = errors.New("capture session not found")
	ErrItemNotFound    = errors.New("media item not found")
	ErrFileTooLarge    = errors.New("file exceeds limit")
	ErrEmptyFile       = errors.New("empty file")
)

// Source is one user-chosen file before it is staged.
type Source struct {
	Name string
	// ContentType is the type declared by the picker (multipart header, CLI
	// extension lookup). It may be empty, in which case the bytes are sniffed.
	ContentType string
	Reader      io.Reader
}

// Classify maps a declared content type onto the coarse media type.
func Classify(contentType string) model.FileType {
	return model.ClassifyContentType(contentType)
}

// declaredType prefers the picker's type and falls back to the sniffed one
// when the picker sent nothing useful.
func declaredType(declared, sniffed string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" || declared == "application/octet-stream" {
		return sniffed
	}
	return declared
}
