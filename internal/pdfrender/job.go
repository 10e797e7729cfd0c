package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// JobStatus is the terminal state of one document's conversion.
type JobStatus string

const (
	// JobCompleted means every page was written.
	JobCompleted JobStatus = "completed"
	// JobPartiallyFailed means at least one page failed; the rest were still written.
	JobPartiallyFailed JobStatus = "partially_failed"
	// JobFailed means the document could not be opened or is locked.
	JobFailed JobStatus = "failed"
	// JobCanceled means the caller's context was canceled or expired before every
	// page was dispatched.
	JobCanceled JobStatus = "canceled"
)

// PageOutput is a successfully written page image.
type PageOutput struct {
	Path  string
	Index int
}

// JobResult reports the outcome of converting one document.
type JobResult struct {
	Err       error
	Source    string
	BaseName  string
	Status    JobStatus
	Outputs   []PageOutput
	Failures  []PageFailure
	PageCount int
}

// FailedPages returns the 0-based indices of the pages that failed.
func (result JobResult) FailedPages() []int {
	indices := make([]int, 0, len(result.Failures))
	for _, failure := range result.Failures {
		indices = append(indices, failure.Index)
	}

	return indices
}

// ConvertDocument runs a single conversion job: it opens source, refuses locked
// documents, schedules every page and reports the aggregated outcome. Page progress
// is sent to the processor's sink; no terminal event is emitted.
func (processor *Processor) ConvertDocument(
	ctx context.Context,
	source string,
	request Request,
) JobResult {
	tracker := newProgressTracker(processor.sink, 1)
	tracker.startDocument(0)

	return processor.convertDocument(ctx, source, request, tracker)
}

func (processor *Processor) convertDocument(
	ctx context.Context,
	source string,
	request Request,
	tracker *progressTracker,
) JobResult {
	result := JobResult{
		Err:       nil,
		Source:    source,
		BaseName:  request.BaseName,
		Status:    JobCompleted,
		Outputs:   nil,
		Failures:  nil,
		PageCount: 0,
	}

	doc, openErr := processor.decoder.Open(ctx, source)
	if openErr != nil {
		result.Status = JobFailed
		if ctx.Err() != nil && IsCanceled(openErr) {
			result.Status = JobCanceled
		}

		result.Err = asLoadFailure(openErr)

		return result
	}

	defer processor.closeDocument(doc, source)

	result.PageCount = doc.PageCount()

	if doc.Locked() {
		result.Status = JobFailed
		result.Err = fmt.Errorf("%s: %w", filepath.Base(source), ErrDocumentLocked)

		return result
	}

	if result.PageCount == 0 {
		processor.log.Warn("%s has no pages; nothing to write", filepath.Base(source))

		return result
	}

	processor.log.Info(
		"Rendering %d pages of %s into %s (%s, %d dpi)",
		result.PageCount,
		filepath.Base(source),
		request.OutputDir,
		request.Format,
		request.DPI,
	)

	indices := make([]int, result.PageCount)
	for index := range indices {
		indices[index] = index
	}

	tracker.startPages(result.PageCount)

	pageResults := processor.scheduler.Run(ctx, doc, indices, request, func(PageResult) {
		tracker.pageDone()
	})

	collectPageResults(&result, pageResults)

	return result
}

// collectPageResults folds page outcomes into the job result and settles its status.
func collectPageResults(result *JobResult, pageResults []PageResult) {
	var canceledBy error

	for _, page := range pageResults {
		if page.Err == nil {
			result.Outputs = append(result.Outputs, PageOutput{Path: page.Path, Index: page.Index})

			continue
		}

		if canceledBy == nil && IsCanceled(page.Err) {
			canceledBy = contextCause(page.Err)
		}

		result.Failures = append(result.Failures, PageFailure{Err: page.Err, Index: page.Index})
	}

	switch {
	case canceledBy != nil:
		result.Status = JobCanceled
		result.Err = canceledBy
	case len(result.Failures) > 0:
		result.Status = JobPartiallyFailed
		result.Err = fmt.Errorf(
			"%d of %d pages failed: %w",
			len(result.Failures),
			len(pageResults),
			errors.Join(failureErrors(result.Failures)...),
		)
	default:
		result.Status = JobCompleted
	}
}

// contextCause returns the context error err wraps.
func contextCause(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}

	return context.Canceled
}

func failureErrors(failures []PageFailure) []error {
	errs := make([]error, 0, len(failures))
	for _, failure := range failures {
		errs = append(errs, failure)
	}

	return errs
}

func asLoadFailure(err error) error {
	if errors.Is(err, ErrLoadFailure) || errors.Is(err, ErrDocumentLocked) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrLoadFailure, err)
}

func (processor *Processor) closeDocument(doc Document, source string) {
	closeErr := doc.Close()
	if closeErr != nil {
		processor.log.Warn("Failed to close %s: %v", filepath.Base(source), closeErr)
	}
}
