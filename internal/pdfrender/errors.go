// Package pdfrender converts PDF documents into one raster image per page.
package pdfrender

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInputPathRequired is returned when no input document or directory is provided.
	ErrInputPathRequired = errors.New("input path is required")
	// ErrOutputPathRequired is returned when output path is not provided.
	ErrOutputPathRequired = errors.New("output path is required")
	// ErrBaseNameRequired is returned when a request has no base name for its files.
	ErrBaseNameRequired = errors.New("base name is required")
	// ErrInvalidDPI is returned for a non-positive resolution.
	ErrInvalidDPI = errors.New("resolution must be a positive number of dots per inch")
	// ErrInvalidFormat is returned for an image format outside the supported set.
	ErrInvalidFormat = errors.New("unsupported image format")
	// ErrInvalidQuality is returned for an encoder quality outside 1..100.
	ErrInvalidQuality = errors.New("quality must be between 1 and 100")
	// ErrInvalidStrategy is returned for an unknown scheduling strategy name.
	ErrInvalidStrategy = errors.New("unknown scheduling strategy")

	// ErrLoadFailure means the document could not be opened. It is fatal to that
	// document only.
	ErrLoadFailure = errors.New("document could not be loaded")
	// ErrDocumentLocked means the document is password protected. No page of a locked
	// document is ever rendered.
	ErrDocumentLocked = errors.New("document is password protected")
	// ErrRenderFailure means the decoder failed to rasterize a page.
	ErrRenderFailure = errors.New("page render failed")
	// ErrRenderTimeout means a page render exceeded the configured per-task timeout.
	ErrRenderTimeout = errors.New("page render timed out")
	// ErrWriteFailure covers both encoding and filesystem failures for a page image.
	ErrWriteFailure = errors.New("page image could not be written")
	// ErrDirectoryCreate means the output directory could not be created. It aborts
	// the whole run.
	ErrDirectoryCreate = errors.New("output directory could not be created")
)

// pageErrorKinds lists the sentinels a PageFailure can be classified as, in
// precedence order.
var pageErrorKinds = []error{
	ErrRenderTimeout,
	ErrRenderFailure,
	ErrWriteFailure,
	context.Canceled,
	context.DeadlineExceeded,
}

// PageFailure records why a single page could not be converted.
type PageFailure struct {
	Err   error
	Index int
}

// Error reports the failure with the 1-based page number users see in file names.
func (failure PageFailure) Error() string {
	return fmt.Sprintf("page %d: %v", failure.Index+1, failure.Err)
}

func (failure PageFailure) Unwrap() error { return failure.Err }

// Kind returns the sentinel error the failure is classified as, or nil when the
// underlying error matches none of them.
func (failure PageFailure) Kind() error {
	for _, kind := range pageErrorKinds {
		if errors.Is(failure.Err, kind) {
			return kind
		}
	}

	return nil
}

// IsCanceled reports whether err stems from the caller's context, canceled or past
// its deadline, rather than from the page itself. A per-page render timeout is a page
// failure, not a cancellation.
func IsCanceled(err error) bool {
	if errors.Is(err, ErrRenderTimeout) || errors.Is(err, ErrRenderFailure) || errors.Is(err, ErrWriteFailure) {
		return false
	}

	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
