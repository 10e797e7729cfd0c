package pdfrender

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

const (
	// defaultFileMode is applied to written images before they are renamed into place.
	defaultFileMode = 0o644
)

// encodeImage writes img to w in the requested format.
func encodeImage(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case FormatJPG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	case FormatBMP:
		return imaging.Encode(w, img, imaging.BMP)
	case FormatTIF:
		return imaging.Encode(w, img, imaging.TIFF)
	case FormatWEBP:
		return webp.Encode(w, img, webp.Options{Quality: quality})
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

// writeImageFile encodes img into a temporary file next to outputPath and renames it
// into place, so a failed write never leaves a partial image behind. An existing
// file at outputPath is replaced.
func writeImageFile(outputPath string, img image.Image, format Format, quality int) error {
	tempFile, createErr := os.CreateTemp(
		filepath.Dir(outputPath),
		"."+filepath.Base(outputPath)+".*.tmp",
	)
	if createErr != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailure, createErr)
	}

	tempPath := tempFile.Name()

	writeErr := writeAndClose(tempFile, img, format, quality)
	if writeErr == nil {
		writeErr = os.Chmod(tempPath, defaultFileMode)
	}

	if writeErr == nil {
		writeErr = os.Rename(tempPath, outputPath)
	}

	if writeErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("%w: %s: %w", ErrWriteFailure, filepath.Base(outputPath), writeErr)
	}

	return nil
}

func writeAndClose(file *os.File, img image.Image, format Format, quality int) error {
	buffered := bufio.NewWriter(file)

	encodeErr := encodeImage(buffered, img, format, quality)
	if encodeErr == nil {
		encodeErr = buffered.Flush()
	}

	closeErr := file.Close()
	if encodeErr != nil {
		return encodeErr
	}

	return closeErr
}
