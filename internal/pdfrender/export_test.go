package pdfrender

import (
	"image"
	"io"
)

// Exported test-only accessors for unexported functions and fields.
// This file is compiled only during tests and does not affect the public API.

// ConfigForTest returns a copy of the processor configuration for assertions in tests.
func (processor *Processor) ConfigForTest() Options { return processor.config }

// ValidateConfigForTest exposes validateConfig.
func (processor *Processor) ValidateConfigForTest() error { return processor.validateConfig() }

// DiscoverInputPDFsForTest exposes discoverInputPDFs.
func (processor *Processor) DiscoverInputPDFsForTest() ([]string, error) {
	return processor.discoverInputPDFs()
}

// WriteImageFileForTest exposes writeImageFile.
func WriteImageFileForTest(outputPath string, img image.Image, format Format, quality int) error {
	return writeImageFile(outputPath, img, format, quality)
}

// EncodeImageForTest exposes encodeImage.
func EncodeImageForTest(w io.Writer, img image.Image, format Format, quality int) error {
	return encodeImage(w, img, format, quality)
}

// RevealCommandForTest exposes revealCommand.
func RevealCommandForTest(goos, dir string) (string, []string) { return revealCommand(goos, dir) }
