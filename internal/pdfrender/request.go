package pdfrender

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Format is an output image format.
type Format string

// Supported output formats.
const (
	FormatJPG  Format = "JPG"
	FormatPNG  Format = "PNG"
	FormatBMP  Format = "BMP"
	FormatTIF  Format = "TIF"
	FormatWEBP Format = "WEBP"
)

const (
	// DefaultDPI is the resolution used when none is configured.
	DefaultDPI = 300
	// DefaultFormat is the image format used when none is configured.
	DefaultFormat = FormatPNG
	// DefaultQuality is the JPG/WEBP encoder quality used when none is configured.
	DefaultQuality = 85

	maxQuality = 100
)

var formatAliases = map[string]Format{
	"JPG":  FormatJPG,
	"JPEG": FormatJPG,
	"PNG":  FormatPNG,
	"BMP":  FormatBMP,
	"TIF":  FormatTIF,
	"TIFF": FormatTIF,
	"WEBP": FormatWEBP,
}

// Formats returns every supported output format.
func Formats() []Format {
	return []Format{FormatJPG, FormatPNG, FormatBMP, FormatTIF, FormatWEBP}
}

// ParseFormat parses a format name case-insensitively. "jpeg" and "tiff" are
// accepted as aliases.
func ParseFormat(name string) (Format, error) {
	format, ok := formatAliases[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, name)
	}

	return format, nil
}

// Extension returns the lowercased file extension for the format, without the dot.
func (format Format) Extension() string {
	return strings.ToLower(string(format))
}

// Request describes where and how the pages of one document are written.
// It is immutable once a job starts and is shared read-only by all page tasks.
type Request struct {
	OutputDir string
	BaseName  string
	Format    Format
	DPI       int
	// Quality applies to JPG and WEBP only.
	Quality int
}

// Validate checks the request fields that do not depend on the document.
func (request Request) Validate() error {
	if request.OutputDir == "" {
		return ErrOutputPathRequired
	}

	if request.BaseName == "" {
		return ErrBaseNameRequired
	}

	if request.DPI <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDPI, request.DPI)
	}

	if _, err := ParseFormat(string(request.Format)); err != nil {
		return err
	}

	if request.Quality < 1 || request.Quality > maxQuality {
		return fmt.Errorf("%w: %d", ErrInvalidQuality, request.Quality)
	}

	return nil
}

// ForDocument returns a copy of the request with the base name replaced.
func (request Request) ForDocument(baseName string) Request {
	request.BaseName = baseName

	return request
}

// FileName returns the image file name for the 0-based page index of a document
// with pageCount pages. Single-page documents carry no page suffix; otherwise the
// suffix is the 1-based page number.
func (request Request) FileName(pageCount, index int) string {
	extension := request.Format.Extension()
	if pageCount == 1 {
		return request.BaseName + "." + extension
	}

	return request.BaseName + "-" + strconv.Itoa(index+1) + "." + extension
}

// OutputPath joins the output directory with FileName.
func (request Request) OutputPath(pageCount, index int) string {
	return filepath.Join(request.OutputDir, request.FileName(pageCount, index))
}
