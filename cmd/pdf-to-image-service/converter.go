package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/pdf-to-image-service/internal/decoder"
	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

// converter renders the documents received by the worker.
type converter struct {
	processor *pdfrender.Processor
}

func newConverter(cfg *ConversionConfig, appLogger *logger.Logger) (*converter, error) {
	opts, optsErr := conversionOptions(cfg)
	if optsErr != nil {
		return nil, optsErr
	}

	processor := pdfrender.NewProcessor(&opts, decoder.NewFitz(opts.Workers), nil, appLogger)

	// Every job gets its own work directory; only the rendering settings are checked here.
	template := processor.RequestTemplate()
	template.OutputDir = os.TempDir()

	validateErr := template.ForDocument("-").Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return &converter{processor: processor}, nil
}

// conversionOptions maps the conversion section onto processor options. Zero
// values are left for the processor defaults.
func conversionOptions(cfg *ConversionConfig) (pdfrender.Options, error) {
	opts := pdfrender.Options{
		InputPaths:    nil,
		OutputPath:    "",
		Format:        "",
		DPI:           cfg.DPI,
		Quality:       cfg.Quality,
		Workers:       cfg.Workers,
		RenderTimeout: time.Duration(cfg.RenderTimeoutSeconds) * time.Second,
		Strategy:      pdfrender.StrategyPool,
	}

	if cfg.Format != "" {
		format, err := pdfrender.ParseFormat(cfg.Format)
		if err != nil {
			return pdfrender.Options{}, err
		}

		opts.Format = format
	}

	strategy, err := pdfrender.ParseStrategy(cfg.Strategy)
	if err != nil {
		return pdfrender.Options{}, err
	}

	opts.Strategy = strategy

	return opts, nil
}

// convert renders every page of pdfPath into outputDir, creating it first.
func (c *converter) convert(ctx context.Context, pdfPath, outputDir string) pdfrender.JobResult {
	request := c.processor.RequestTemplate()
	request.OutputDir = outputDir
	request = request.ForDocument(pdfrender.BaseName(pdfPath))

	mkdirErr := os.MkdirAll(outputDir, 0o750)
	if mkdirErr != nil {
		return pdfrender.JobResult{
			Err:       fmt.Errorf("%w: %s: %w", pdfrender.ErrDirectoryCreate, outputDir, mkdirErr),
			Source:    pdfPath,
			BaseName:  request.BaseName,
			Status:    pdfrender.JobFailed,
			Outputs:   nil,
			Failures:  nil,
			PageCount: 0,
		}
	}

	return c.processor.ConvertDocument(ctx, pdfPath, request)
}

// disposition is how a message is settled once its document has been handled.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionNak
	dispositionTerm
)

// dispositionFor settles a conversion outcome. Documents that cannot be opened or
// are locked will never convert, so they are terminated; interrupted work is
// redelivered.
func dispositionFor(result *pdfrender.JobResult) disposition {
	switch {
	case result.Status == pdfrender.JobCompleted:
		return dispositionAck
	case result.Status == pdfrender.JobCanceled, pdfrender.IsCanceled(result.Err):
		return dispositionNak
	case errors.Is(result.Err, pdfrender.ErrDocumentLocked), errors.Is(result.Err, pdfrender.ErrLoadFailure):
		return dispositionTerm
	case result.Status == pdfrender.JobPartiallyFailed:
		return dispositionTerm
	default:
		return dispositionNak
	}
}

// settleReason is the error a message is settled with. For a partially converted
// document it names the 1-based pages that were not written.
func settleReason(result *pdfrender.JobResult) error {
	if result.Status != pdfrender.JobPartiallyFailed {
		return result.Err
	}

	pages := make([]string, 0, len(result.Failures))
	for _, index := range result.FailedPages() {
		pages = append(pages, strconv.Itoa(index+1))
	}

	return fmt.Errorf(
		"%s: pages %s not converted: %w",
		filepath.Base(result.Source),
		strings.Join(pages, ", "),
		result.Err,
	)
}

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionNak:
		return "nak"
	case dispositionTerm:
		return "term"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}
