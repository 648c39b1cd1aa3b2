// Package export renders boards as PDF or Markdown documents and optionally
// publishes them to object storage.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatMarkdown Format = "md"
)

// Board is the board snapshot handed to the renderer.
type Board struct {
	Title      string
	Slug       string
	Public     bool
	ExportedBy string
	ExportedAt time.Time
	Lists      []List
}

type List struct {
	Title string
	Cards []Card
}

// Card description is Markdown source.
type Card struct {
	Title       string
	Description string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrStorageUnavailable indicates no object store is configured for publishing.
	ErrStorageUnavailable = errors.New("export storage unavailable")
)
