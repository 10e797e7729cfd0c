package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// PageRenderer renders single pages and writes them to disk.
type PageRenderer struct {
	// timeout bounds a single render call; zero disables it.
	timeout time.Duration
}

// NewPageRenderer returns a renderer with the given per-page render timeout.
func NewPageRenderer(timeout time.Duration) *PageRenderer {
	return &PageRenderer{timeout: timeout}
}

// RenderOne renders page index of doc and writes it under the name derived from
// request. It returns the written path. Exactly one file is written on success and
// none on failure.
func (renderer *PageRenderer) RenderOne(
	ctx context.Context,
	doc Document,
	index int,
	request Request,
) (string, error) {
	return renderer.renderOne(ctx, doc, index, request, func() {})
}

// renderOne is RenderOne with release called exactly once, when the decoder call
// has returned. After a timeout that happens after renderOne itself has returned.
func (renderer *PageRenderer) renderOne(
	ctx context.Context,
	doc Document,
	index int,
	request Request,
	release func(),
) (string, error) {
	if ctx.Err() != nil {
		release()

		return "", fmt.Errorf("page %d not rendered: %w", index+1, ctx.Err())
	}

	img, renderErr := renderer.render(ctx, doc, index, request.DPI, release)
	if renderErr != nil {
		return "", renderErr
	}

	if img == nil {
		return "", fmt.Errorf("%w: decoder returned no image for page %d", ErrRenderFailure, index+1)
	}

	outputPath := request.OutputPath(doc.PageCount(), index)

	writeErr := writeImageFile(outputPath, img, request.Format, request.Quality)
	if writeErr != nil {
		return "", writeErr
	}

	return outputPath, nil
}

type renderOutcome struct {
	img image.Image
	err error
}

// render calls the decoder, enforcing the timeout when one is configured. A render
// that times out is reported at once; its goroutine finishes in the background and
// calls release when the decoder returns.
func (renderer *PageRenderer) render(
	ctx context.Context,
	doc Document,
	index, dpi int,
	release func(),
) (image.Image, error) {
	if renderer.timeout <= 0 {
		img, err := doc.RenderPage(ctx, index, dpi)
		release()

		return img, classifyRenderError(ctx, err, 0)
	}

	taskCtx, cancel := context.WithTimeout(ctx, renderer.timeout)
	defer cancel()

	outcomes := make(chan renderOutcome, 1)

	go func() {
		defer release()

		img, err := doc.RenderPage(taskCtx, index, dpi)
		outcomes <- renderOutcome{img: img, err: err}
	}()

	select {
	case outcome := <-outcomes:
		return outcome.img, classifyRenderError(ctx, outcome.err, renderer.timeout)
	case <-taskCtx.Done():
		return nil, classifyRenderError(ctx, taskCtx.Err(), renderer.timeout)
	}
}

// classifyRenderError maps a decoder error to ErrRenderTimeout, a context error of
// the caller, or ErrRenderFailure.
func classifyRenderError(ctx context.Context, err error, timeout time.Duration) error {
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("render interrupted: %w", ctx.Err())
	}

	if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrRenderTimeout, timeout)
	}

	if errors.Is(err, ErrRenderFailure) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrRenderFailure, err)
}
