// Package decoder provides pdfrender.Decoder implementations.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

// errDocumentClosed is returned when a render is attempted after Close.
var errDocumentClosed = errors.New("document is closed")

// Fitz opens documents with MuPDF through go-fitz.
type Fitz struct {
	// maxIdle caps the number of parsed handles kept for reuse per document.
	maxIdle int
}

// NewFitz returns a go-fitz decoder keeping up to maxIdle parsed handles per
// document. It is usually the core limit, so every worker can keep its own handle.
// A non-positive maxIdle keeps one handle per CPU core.
func NewFitz(maxIdle int) *Fitz {
	if maxIdle <= 0 {
		maxIdle = runtime.NumCPU()
	}

	return &Fitz{maxIdle: maxIdle}
}

// Open reads source into memory and parses it. Password protected documents open
// as locked documents without any render capability.
func (decoder *Fitz) Open(ctx context.Context, source string) (pdfrender.Document, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("open %s: %w", source, ctx.Err())
	}

	data, readErr := os.ReadFile(source)
	if readErr != nil {
		return nil, fmt.Errorf("%w: %w", pdfrender.ErrLoadFailure, readErr)
	}

	doc, openErr := fitz.NewFromMemory(data)
	if errors.Is(openErr, fitz.ErrNeedsPassword) {
		return lockedDocument{}, nil
	}

	if openErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", pdfrender.ErrLoadFailure, source, openErr)
	}

	return &fitzDocument{
		data:    data,
		idle:    []*fitz.Document{doc},
		pages:   doc.NumPage(),
		maxIdle: decoder.maxIdle,
		mu:      sync.Mutex{},
		closed:  false,
	}, nil
}

// fitzDocument renders through a pool of fitz handles parsed from the same bytes.
// A single fitz handle serializes its calls, so concurrent renders each borrow their
// own handle.
type fitzDocument struct {
	data    []byte
	idle    []*fitz.Document
	pages   int
	maxIdle int
	mu      sync.Mutex
	closed  bool
}

func (doc *fitzDocument) PageCount() int { return doc.pages }

func (doc *fitzDocument) Locked() bool { return false }

func (doc *fitzDocument) RenderPage(ctx context.Context, index, dpi int) (image.Image, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	handle, acquireErr := doc.acquire()
	if acquireErr != nil {
		return nil, acquireErr
	}
	defer doc.release(handle)

	img, renderErr := handle.ImageDPI(index, float64(dpi))
	if renderErr != nil {
		return nil, fmt.Errorf("fitz page %d: %w", index+1, renderErr)
	}

	return img, nil
}

// Close closes idle handles now; handles still rendering are closed on release.
func (doc *fitzDocument) Close() error {
	doc.mu.Lock()
	defer doc.mu.Unlock()

	doc.closed = true

	var closeErrs []error

	for _, handle := range doc.idle {
		closeErr := handle.Close()
		if closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
	}

	doc.idle = nil

	return errors.Join(closeErrs...)
}

func (doc *fitzDocument) acquire() (*fitz.Document, error) {
	doc.mu.Lock()

	if doc.closed {
		doc.mu.Unlock()

		return nil, errDocumentClosed
	}

	if last := len(doc.idle) - 1; last >= 0 {
		handle := doc.idle[last]
		doc.idle = doc.idle[:last]
		doc.mu.Unlock()

		return handle, nil
	}

	doc.mu.Unlock()

	handle, openErr := fitz.NewFromMemory(doc.data)
	if openErr != nil {
		return nil, fmt.Errorf("open render handle: %w", openErr)
	}

	return handle, nil
}

func (doc *fitzDocument) release(handle *fitz.Document) {
	doc.mu.Lock()
	defer doc.mu.Unlock()

	if doc.closed || len(doc.idle) >= doc.maxIdle {
		_ = handle.Close()

		return
	}

	doc.idle = append(doc.idle, handle)
}

// lockedDocument stands in for a password protected document. It has no pages that
// can be rendered.
type lockedDocument struct{}

func (lockedDocument) PageCount() int { return 0 }

func (lockedDocument) Locked() bool { return true }

func (lockedDocument) RenderPage(context.Context, int, int) (image.Image, error) {
	return nil, pdfrender.ErrDocumentLocked
}

func (lockedDocument) Close() error { return nil }
