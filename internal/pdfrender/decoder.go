package pdfrender

import (
	"context"
	"image"
)

// Document is an opened, decodable document. A Document is owned by exactly one
// conversion job and must be closed when the job ends.
type Document interface {
	// PageCount returns the number of pages, zero or more.
	PageCount() int
	// Locked reports whether the document is password protected. Locked documents
	// must never be rendered.
	Locked() bool
	// RenderPage rasterizes the 0-based page index at dpi in both directions.
	// It must be safe for concurrent use.
	RenderPage(ctx context.Context, index, dpi int) (image.Image, error)
	// Close releases the decoder resources held by the document.
	Close() error
}

// Decoder opens documents from a source path.
type Decoder interface {
	Open(ctx context.Context, source string) (Document, error)
}
