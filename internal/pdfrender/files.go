package pdfrender

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// defaultDirMode is the default permissions for created directories.
	defaultDirMode = 0o750
)

// DiscoverPDFs finds all PDF files in a given directory.
// It performs a case-insensitive search and does not recurse into subdirectories.
func DiscoverPDFs(dirPath string) ([]string, error) {
	dirEntries, readErr := os.ReadDir(dirPath)
	if readErr != nil {
		return nil, fmt.Errorf(
			"could not read directory %s: %w",
			dirPath,
			readErr,
		)
	}

	var pdfPaths []string

	for _, entry := range dirEntries {
		if !entry.IsDir() && isPDFName(entry.Name()) {
			pdfPaths = append(pdfPaths, filepath.Join(dirPath, entry.Name()))
		}
	}

	return pdfPaths, nil
}

// ResolveInputs expands directories into the PDFs they contain and keeps files as
// given, preserving the caller's order.
func ResolveInputs(paths []string) ([]string, error) {
	var sources []string

	for _, path := range paths {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return nil, fmt.Errorf("could not stat input %s: %w", path, statErr)
		}

		if !info.IsDir() {
			sources = append(sources, path)

			continue
		}

		found, discoverErr := DiscoverPDFs(path)
		if discoverErr != nil {
			return nil, discoverErr
		}

		sources = append(sources, found...)
	}

	return sources, nil
}

// BaseName returns the file name of path without its extension. It names the
// images written for that document.
func BaseName(path string) string {
	name := filepath.Base(path)

	return strings.TrimSuffix(name, filepath.Ext(name))
}

func isPDFName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// ensureOutputDirectory creates outputDir and its parents when missing.
func ensureOutputDirectory(outputDir string) error {
	mkdirErr := os.MkdirAll(outputDir, defaultDirMode)
	if mkdirErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrDirectoryCreate, outputDir, mkdirErr)
	}

	return nil
}
