package decoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

// passwordMarker is printed by pdfinfo when a user password is required.
const passwordMarker = "Incorrect password"

// Ghostscript reads page counts with pdfinfo and renders pages with Ghostscript.
type Ghostscript struct {
	executor pdfrender.CommandExecutor
}

// NewGhostscript returns a decoder that runs the poppler and Ghostscript command
// line tools through executor.
func NewGhostscript(executor pdfrender.CommandExecutor) *Ghostscript {
	return &Ghostscript{executor: executor}
}

// Open inspects source with pdfinfo.
func (decoder *Ghostscript) Open(ctx context.Context, source string) (pdfrender.Document, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: pdf path cannot be empty", pdfrender.ErrLoadFailure)
	}

	outputBytes, execErr := decoder.executor.RunCombined(ctx, "pdfinfo", source)
	if execErr != nil {
		if strings.Contains(string(outputBytes), passwordMarker) {
			return lockedDocument{}, nil
		}

		return nil, fmt.Errorf(
			"%w: pdfinfo execution failed: %w. Output: %s",
			pdfrender.ErrLoadFailure,
			execErr,
			string(outputBytes),
		)
	}

	pageCount, parseErr := parsePdfInfoOutput(string(outputBytes))
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %w", pdfrender.ErrLoadFailure, parseErr)
	}

	return &ghostscriptDocument{
		executor: decoder.executor,
		source:   source,
		pages:    pageCount,
	}, nil
}

// parsePdfInfoOutput scans the text output from the `pdfinfo` command to find and parse
// the page count.
func parsePdfInfoOutput(output string) (int, error) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "Pages:") {
			parts := strings.Fields(line) // e.g., ["Pages:", "123"]
			if len(parts) >= 2 {
				pageCount, convErr := strconv.Atoi(parts[1])
				if convErr == nil && pageCount >= 0 {
					return pageCount, nil
				}
			}
		}
	}

	return 0, errors.New("could not parse 'Pages:' line from pdfinfo output")
}

type ghostscriptDocument struct {
	executor pdfrender.CommandExecutor
	source   string
	pages    int
}

func (doc *ghostscriptDocument) PageCount() int { return doc.pages }

func (doc *ghostscriptDocument) Locked() bool { return false }

// RenderPage runs Ghostscript for a single page into a scratch directory and decodes
// the resulting PNG.
func (doc *ghostscriptDocument) RenderPage(
	ctx context.Context,
	index, dpi int,
) (image.Image, error) {
	if index < 0 || index >= doc.pages {
		return nil, fmt.Errorf("page index %d out of range [0,%d)", index, doc.pages)
	}

	scratchDir, mkdirErr := os.MkdirTemp("", "gs-page-")
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", mkdirErr)
	}
	defer func() { _ = os.RemoveAll(scratchDir) }()

	outPath := filepath.Join(scratchDir, "page.png")
	args := buildGhostscriptArgs(dpi, index+1, outPath, doc.source)

	outputBytes, execErr := doc.executor.RunCombined(ctx, "ghostscript", args...)
	if execErr != nil {
		return nil, fmt.Errorf(
			"ghostscript execution failed: %w. Output: %s",
			execErr,
			string(outputBytes),
		)
	}

	return decodePNG(outPath)
}

func (doc *ghostscriptDocument) Close() error { return nil }

// buildGhostscriptArgs constructs the list of command-line arguments for the Ghostscript
// process.
func buildGhostscriptArgs(dpi, page int, outPath, pdfPath string) []string {
	return []string{
		"-q", "-dNOPAUSE", "-dBATCH", "-dSAFER",
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", dpi), // Equal horizontal and vertical resolution.
		fmt.Sprintf("-dFirstPage=%d", page),
		fmt.Sprintf("-dLastPage=%d", page),
		"-o", outPath,
		"-dTextAlphaBits=4",
		"-dGraphicsAlphaBits=4",
		pdfPath,
	}
}

func decodePNG(path string) (image.Image, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, fmt.Errorf("ghostscript produced no image: %w", openErr)
	}

	defer func() { _ = file.Close() }()

	img, decodeErr := png.Decode(file)
	if decodeErr != nil {
		return nil, fmt.Errorf("could not decode rendered page %s: %w", path, decodeErr)
	}

	return img, nil
}
