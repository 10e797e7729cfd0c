package pdfrender

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Options holds all configurable parameters for a Processor.
// This struct is used to initialize a new Processor with user-defined settings.
type Options struct {
	// InputPaths are PDF files or directories holding PDF files.
	InputPaths []string
	// OutputPath is the directory every page image is written to.
	OutputPath string
	// Format is the output image format. Defaults to PNG.
	Format Format
	// DPI is the render resolution, applied horizontally and vertically. Defaults to 300.
	DPI int
	// Quality is the JPG/WEBP encoder quality. Defaults to 85.
	Quality int
	// Workers is the core limit: the most page renders in flight for one document.
	// Defaults to the number of available CPU cores, sampled once here.
	Workers int
	// RenderTimeout bounds each page render. Zero disables the timeout.
	RenderTimeout time.Duration
	// Strategy selects the scheduling strategy. Defaults to StrategyPool.
	Strategy Strategy
}

// Processor converts batches of documents, one document at a time.
type Processor struct {
	decoder   Decoder
	sink      ProgressSink
	log       *logger.Logger
	scheduler *Scheduler
	config    Options
}

// NewProcessor creates and initializes a new Processor with the given options and logger.
// It sets sensible defaults for any zero-value fields in the Options struct. A nil
// sink discards progress.
func NewProcessor(
	opts *Options,
	decoder Decoder,
	sink ProgressSink,
	log *logger.Logger,
) *Processor {
	applyDefaultOptions(opts)

	if sink == nil {
		sink = SinkFuncs{OnProgress: nil, OnDone: nil}
	}

	return &Processor{
		decoder: decoder,
		sink:    sink,
		log:     log,
		scheduler: NewScheduler(
			NewPageRenderer(opts.RenderTimeout),
			opts.Strategy,
			opts.Workers,
		),
		config: *opts,
	}
}

// applyDefaultOptions fills zero-value fields in Options with sensible defaults.
func applyDefaultOptions(opts *Options) {
	opts.DPI = defaultIntNonPositive(opts.DPI, DefaultDPI)
	opts.Quality = defaultIntNonPositive(opts.Quality, DefaultQuality)
	opts.Workers = defaultIntNonPositive(opts.Workers, runtime.NumCPU())

	if opts.Format == "" {
		opts.Format = DefaultFormat
	}
}

func defaultIntNonPositive(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}

// RequestTemplate returns the request every document of a Process run shares. The
// base name is filled in per document.
func (processor *Processor) RequestTemplate() Request {
	return Request{
		OutputDir: processor.config.OutputPath,
		BaseName:  "",
		Format:    processor.config.Format,
		DPI:       processor.config.DPI,
		Quality:   processor.config.Quality,
	}
}

// Process is the main entry point for a configured batch run. It validates the
// options, discovers the input documents and converts them in order.
func (processor *Processor) Process(ctx context.Context) (BatchResult, error) {
	// Step 1: Validate the configuration before starting any work.
	err := processor.validateConfig()
	if err != nil {
		return BatchResult{RunID: "", Jobs: nil}, err
	}

	// Step 2: Resolve files and directories into a list of documents.
	sources, err := processor.discoverInputPDFs()
	if err != nil {
		return BatchResult{RunID: "", Jobs: nil}, err
	}

	// Step 3: Convert each document.
	processor.log.Info("Found %d PDF(s) to process.", len(sources))

	return processor.ConvertAll(ctx, sources, processor.RequestTemplate())
}

// validateConfig checks if the essential configuration options have been provided.
func (processor *Processor) validateConfig() error {
	if len(processor.config.InputPaths) == 0 {
		return ErrInputPathRequired
	}

	if processor.config.OutputPath == "" {
		return ErrOutputPathRequired
	}

	return nil
}

// discoverInputPDFs resolves input paths and validates non-empty result.
func (processor *Processor) discoverInputPDFs() ([]string, error) {
	sources, err := ResolveInputs(processor.config.InputPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to discover PDFs: %w", err)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf(
			"no PDF files found in %v: %w",
			processor.config.InputPaths,
			os.ErrNotExist,
		)
	}

	return sources, nil
}

// ConvertAll converts sources strictly one after another. Only a failure to create
// the output directory aborts the run; per-document failures are collected in the
// result. One terminal Done event is emitted once the last document has finished,
// or once cancellation stops the run.
func (processor *Processor) ConvertAll(
	ctx context.Context,
	sources []string,
	template Request,
) (BatchResult, error) {
	result := BatchResult{RunID: uuid.NewString(), Jobs: make([]JobResult, 0, len(sources))}

	validationErr := template.ForDocument("-").Validate()
	if validationErr != nil {
		return result, fmt.Errorf("invalid conversion request: %w", validationErr)
	}

	dirErr := ensureOutputDirectory(template.OutputDir)
	if dirErr != nil {
		return result, dirErr
	}

	tracker := newProgressTracker(processor.sink, len(sources))

	for position, source := range sources {
		if ctx.Err() != nil {
			break
		}

		tracker.startDocument(position)
		processor.log.Info("Starting processing for: %s", filepath.Base(source))

		job := processor.convertDocument(ctx, source, template.ForDocument(BaseName(source)), tracker)
		processor.logJobResult(job)

		result.Jobs = append(result.Jobs, job)

		tracker.documentDone()
	}

	tracker.done(result)

	if ctx.Err() != nil {
		return result, fmt.Errorf("conversion interrupted: %w", ctx.Err())
	}

	return result, nil
}

func (processor *Processor) logJobResult(job JobResult) {
	name := filepath.Base(job.Source)

	switch job.Status {
	case JobCompleted:
		processor.log.Success("Successfully processed %s (%d pages)", name, len(job.Outputs))
	case JobPartiallyFailed:
		processor.log.Warn(
			"Processed %s with %d failed page(s): %v",
			name,
			len(job.Failures),
			job.Err,
		)
	case JobFailed, JobCanceled:
		processor.log.Error("Failed to process %s: %v", name, job.Err)
	}
}

// BatchResult aggregates the job results of one batch run.
type BatchResult struct {
	RunID string
	Jobs  []JobResult
}

// Success reports whether every document was converted without a page failure.
func (result BatchResult) Success() bool {
	for _, job := range result.Jobs {
		if job.Status != JobCompleted {
			return false
		}
	}

	return true
}

// FailedJobs returns the jobs that did not complete cleanly.
func (result BatchResult) FailedJobs() []JobResult {
	var failed []JobResult

	for _, job := range result.Jobs {
		if job.Status != JobCompleted {
			failed = append(failed, job)
		}
	}

	return failed
}

// PagesWritten counts the page images written across all jobs.
func (result BatchResult) PagesWritten() int {
	written := 0
	for _, job := range result.Jobs {
		written += len(job.Outputs)
	}

	return written
}
