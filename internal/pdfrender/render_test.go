package pdfrender_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

func TestNewProcessor_Defaults(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	t.Run("Zero values should default correctly", func(t *testing.T) {
		t.Parallel()

		processor := pdfrender.NewProcessor(&pdfrender.Options{
			InputPaths:    nil,
			OutputPath:    "",
			Format:        "",
			DPI:           0,
			Quality:       0,
			Workers:       0,
			RenderTimeout: 0,
			Strategy:      pdfrender.StrategyPool,
		}, &fakeDecoder{}, nil, log)
		cfg := processor.ConfigForTest()
		assert.Equal(t, 300, cfg.DPI)
		assert.Equal(t, 85, cfg.Quality)
		assert.Equal(t, pdfrender.FormatPNG, cfg.Format)
		assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	})

	t.Run("Custom values should be preserved", func(t *testing.T) {
		t.Parallel()

		processor := pdfrender.NewProcessor(&pdfrender.Options{
			InputPaths:    nil,
			OutputPath:    "",
			Format:        pdfrender.FormatJPG,
			DPI:           96,
			Quality:       60,
			Workers:       4,
			RenderTimeout: time.Second,
			Strategy:      pdfrender.StrategyLockstep,
		}, &fakeDecoder{}, nil, log)
		cfg := processor.ConfigForTest()
		assert.Equal(t, 96, cfg.DPI)
		assert.Equal(t, 60, cfg.Quality)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, pdfrender.FormatJPG, cfg.Format)
		assert.Equal(t, pdfrender.StrategyLockstep, cfg.Strategy)
	})
}

func TestRequestFileName(t *testing.T) {
	t.Parallel()

	request := pdfrender.Request{
		OutputDir: "/out",
		BaseName:  "report",
		Format:    pdfrender.FormatTIF,
		DPI:       300,
		Quality:   85,
	}

	t.Run("Single page has no suffix", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "report.tif", request.FileName(1, 0))
		assert.Equal(t, filepath.Join("/out", "report.tif"), request.OutputPath(1, 0))
	})

	t.Run("Multi page carries 1-based suffix", func(t *testing.T) {
		t.Parallel()

		for index := range 12 {
			name := request.FileName(12, index)
			assert.Equal(t, "report-"+strconv.Itoa(index+1)+".tif", name)
		}
	})

	t.Run("Extension is lowercased", func(t *testing.T) {
		t.Parallel()

		for _, format := range pdfrender.Formats() {
			named := request
			named.Format = format
			assert.Equal(t, "report-2."+format.Extension(), named.FileName(3, 1))
			assert.Equal(t, strings.ToLower(string(format)), format.Extension())
		}
	})
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	cases := map[string]pdfrender.Format{
		"png":   pdfrender.FormatPNG,
		" JPG ": pdfrender.FormatJPG,
		"jpeg":  pdfrender.FormatJPG,
		"Tiff":  pdfrender.FormatTIF,
		"tif":   pdfrender.FormatTIF,
		"bmp":   pdfrender.FormatBMP,
		"WebP":  pdfrender.FormatWEBP,
	}
	for input, expected := range cases {
		format, err := pdfrender.ParseFormat(input)
		require.NoError(t, err, input)
		assert.Equal(t, expected, format, input)
	}

	_, err := pdfrender.ParseFormat("gif")
	require.ErrorIs(t, err, pdfrender.ErrInvalidFormat)
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	valid := newTestRequest("/out", "doc")
	require.NoError(t, valid.Validate())

	noOutput := valid
	noOutput.OutputDir = ""
	require.ErrorIs(t, noOutput.Validate(), pdfrender.ErrOutputPathRequired)

	noBase := valid
	noBase.BaseName = ""
	require.ErrorIs(t, noBase.Validate(), pdfrender.ErrBaseNameRequired)

	badDPI := valid
	badDPI.DPI = 0
	require.ErrorIs(t, badDPI.Validate(), pdfrender.ErrInvalidDPI)

	badFormat := valid
	badFormat.Format = "GIF"
	require.ErrorIs(t, badFormat.Validate(), pdfrender.ErrInvalidFormat)

	badQuality := valid
	badQuality.Quality = 101
	require.ErrorIs(t, badQuality.Validate(), pdfrender.ErrInvalidQuality)
}

func TestEncodeImage_AllFormats(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	for _, format := range pdfrender.Formats() {
		var buf bytes.Buffer

		require.NoError(t, pdfrender.EncodeImageForTest(&buf, img, format, 80), format)
		assert.NotZero(t, buf.Len(), format)
	}

	var buf bytes.Buffer

	require.ErrorIs(
		t,
		pdfrender.EncodeImageForTest(&buf, img, "GIF", 80),
		pdfrender.ErrInvalidFormat,
	)
}

func TestWriteImageFile(t *testing.T) {
	t.Parallel()

	t.Run("Writes and overwrites without leftovers", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		target := filepath.Join(dir, "page.png")
		img := image.NewRGBA(image.Rect(0, 0, 3, 5))

		require.NoError(t, pdfrender.WriteImageFileForTest(target, img, pdfrender.FormatPNG, 85))
		require.NoError(t, pdfrender.WriteImageFileForTest(target, img, pdfrender.FormatPNG, 85))

		file, err := os.Open(target)
		require.NoError(t, err)

		defer func() { _ = file.Close() }()

		decoded, err := png.Decode(file)
		require.NoError(t, err)
		assert.Equal(t, 3, decoded.Bounds().Dx())
		assert.Equal(t, 5, decoded.Bounds().Dy())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Encode failure leaves no file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		target := filepath.Join(dir, "page.gif")
		img := image.NewRGBA(image.Rect(0, 0, 3, 5))

		err := pdfrender.WriteImageFileForTest(target, img, "GIF", 85)
		require.ErrorIs(t, err, pdfrender.ErrWriteFailure)

		entries, readErr := os.ReadDir(dir)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("Missing directory is a write failure", func(t *testing.T) {
		t.Parallel()

		target := filepath.Join(t.TempDir(), "missing", "page.png")
		img := image.NewRGBA(image.Rect(0, 0, 1, 1))

		err := pdfrender.WriteImageFileForTest(target, img, pdfrender.FormatPNG, 85)
		require.ErrorIs(t, err, pdfrender.ErrWriteFailure)
	})
}

func TestRevealCommand(t *testing.T) {
	t.Parallel()

	name, args := pdfrender.RevealCommandForTest("darwin", "/out")
	assert.Equal(t, "open", name)
	assert.Equal(t, []string{"/out"}, args)

	name, _ = pdfrender.RevealCommandForTest("windows", "/out")
	assert.Equal(t, "explorer", name)

	name, _ = pdfrender.RevealCommandForTest("linux", "/out")
	assert.Equal(t, "xdg-open", name)
}

type recordingExecutor struct {
	err   error
	names []string
	args  [][]string
}

func (executor *recordingExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return executor.RunCombined(ctx, name, args...)
}

func (executor *recordingExecutor) RunCombined(
	_ context.Context,
	name string,
	args ...string,
) ([]byte, error) {
	executor.names = append(executor.names, name)
	executor.args = append(executor.args, args)

	return []byte("launcher output"), executor.err
}

func TestOpenOutputDirectory(t *testing.T) {
	t.Parallel()

	t.Run("Empty directory is rejected", func(t *testing.T) {
		t.Parallel()

		executor := &recordingExecutor{}
		err := pdfrender.OpenOutputDirectory(context.Background(), executor, "")
		require.ErrorIs(t, err, pdfrender.ErrOutputPathRequired)
		assert.Empty(t, executor.names)
	})

	t.Run("Launcher receives the directory", func(t *testing.T) {
		t.Parallel()

		executor := &recordingExecutor{}
		require.NoError(t, pdfrender.OpenOutputDirectory(context.Background(), executor, "/out"))
		require.Len(t, executor.args, 1)
		assert.Equal(t, []string{"/out"}, executor.args[0])
	})

	t.Run("Launcher failure is reported", func(t *testing.T) {
		t.Parallel()

		executor := &recordingExecutor{err: errors.New("not found")}
		err := pdfrender.OpenOutputDirectory(context.Background(), executor, "/out")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "launcher output")
	})
}
