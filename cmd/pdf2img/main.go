// Command pdf2img converts PDF documents into one image per page.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/pdf-to-image-service/internal/decoder"
	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
	"github.com/book-expert/pdf-to-image-service/internal/progressws"
	"github.com/book-expert/pdf-to-image-service/internal/settings"
)

const (
	decoderFitz        = "fitz"
	decoderGhostscript = "ghostscript"
	defaultConfigPath  = "project.toml"
)

// errConversionIncomplete marks a run in which at least one document failed.
var errConversionIncomplete = errors.New("some documents were not fully converted")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// The root command carries the core application logic; os.Exit runs after the
	// deferred cleanup inside it.
	err := newRootCommand(os.Stderr).ExecuteContext(ctx)

	stop()

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(progressOut io.Writer) *cobra.Command {
	var flgs flags

	root := &cobra.Command{
		Use:   "pdf2img [pdf files or directories...]",
		Short: "Convert every page of PDF documents into an image",
		Long: "pdf2img renders each page of the given PDF documents, or of the PDF files " +
			"found in the given directories, into one image file per page.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &flgs, args, progressOut)
		},
	}

	root.PersistentFlags().StringVar(&flgs.configPath, "config", defaultConfigPath, "Project TOML config file.")
	root.PersistentFlags().StringVar(&flgs.settingsPath, "settings", "", "Remembered preferences file.")

	root.Flags().StringVarP(&flgs.outputPath, "output", "o", "", "Output directory for the page images.")
	root.Flags().StringVarP(&flgs.format, "format", "f", "", "Image format: jpg, png, bmp, tif or webp.")
	root.Flags().IntVar(&flgs.dpi, "dpi", 0, "Resolution in DPI for the output images.")
	root.Flags().IntVar(&flgs.quality, "quality", 0, "Encoder quality for jpg and webp (1-100).")
	root.Flags().IntVarP(&flgs.workers, "workers", "w", 0, "Maximum concurrent page renders.")
	root.Flags().DurationVar(&flgs.timeout, "timeout", 0, "Per-page render timeout, 0 to disable.")
	root.Flags().StringVar(&flgs.strategy, "strategy", "", "Scheduling strategy: pool or lockstep.")
	root.Flags().StringVar(&flgs.decoder, "decoder", "", "PDF decoder: fitz or ghostscript.")
	root.Flags().StringVar(&flgs.progressAddr, "progress-addr", "", "Serve progress over websocket on this address.")
	root.Flags().BoolVar(&flgs.open, "open", false, "Open the output directory when done.")
	root.Flags().BoolVar(&flgs.remember, "remember", false, "Save the output, format, dpi and quality as preferences.")

	root.AddCommand(newSettingsCommand(&flgs))

	return root
}

// run is the main logic function, separated from main to allow for easier testing and
// clean exit handling.
func run(ctx context.Context, flgs *flags, inputs []string, progressOut io.Writer) error {
	cfg, err := safeLoadConfig(flgs.configPath)
	if err != nil {
		return err
	}

	store, err := openStore(flgs, &cfg)
	if err != nil {
		return err
	}

	prefs := settings.StoredPreferences(store)

	merged, err := mergeConfigAndFlags(&cfg, &prefs, flgs, inputs)
	if err != nil {
		return err
	}

	log, err := setupLogger(merged.logDir)
	if err != nil {
		return fmt.Errorf("could not set up logger: %w", err)
	}

	defer func() {
		cerr := log.Close()
		if cerr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", cerr)
		}
	}()

	result, err := convert(ctx, &merged, log, progressOut)
	if err != nil {
		return fmt.Errorf("PDF processing failed: %w", err)
	}

	if flgs.remember {
		rememberErr := settings.SavePreferences(store, preferencesFrom(&merged.options))
		if rememberErr != nil {
			log.Warn("Could not save preferences: %v", rememberErr)
		}
	}

	if flgs.open {
		openErr := pdfrender.OpenOutputDirectory(ctx, pdfrender.NewCommandExecutor(), merged.options.OutputPath)
		if openErr != nil {
			log.Warn("%v", openErr)
		}
	}

	log.Info(
		"Run %s wrote %d page image(s) from %d document(s).",
		result.RunID,
		result.PagesWritten(),
		len(result.Jobs),
	)

	if !result.Success() {
		return fmt.Errorf("%w: %d of %d", errConversionIncomplete, len(result.FailedJobs()), len(result.Jobs))
	}

	return nil
}

// convert builds the processor for merged and runs it, streaming progress to the
// terminal and, when configured, to websocket clients.
func convert(
	ctx context.Context,
	merged *runSettings,
	log *logger.Logger,
	progressOut io.Writer,
) (pdfrender.BatchResult, error) {
	dec, err := newDecoder(merged.decoder, merged.options.Workers)
	if err != nil {
		return pdfrender.BatchResult{}, err
	}

	sinks := pdfrender.MultiSink{newBarSink(progressOut)}

	if merged.progressAddr != "" {
		listener, listenErr := net.Listen("tcp", merged.progressAddr)
		if listenErr != nil {
			return pdfrender.BatchResult{}, fmt.Errorf("progress listener: %w", listenErr)
		}

		serveCtx, stopServing := context.WithCancel(ctx)
		served := make(chan struct{})

		// The terminal event is queued by Process; stop only once it has gone out.
		defer func() {
			stopServing()
			<-served
		}()

		hub := progressws.NewHub(log)

		go func() {
			defer close(served)

			serveErr := progressws.Serve(serveCtx, listener, hub)
			if serveErr != nil {
				log.Error("%v", serveErr)
			}
		}()

		sinks = append(sinks, hub)
	}

	processor := pdfrender.NewProcessor(&merged.options, dec, sinks, log)

	return processor.Process(ctx)
}

func newDecoder(name string, workers int) (pdfrender.Decoder, error) {
	switch name {
	case decoderFitz, "":
		return decoder.NewFitz(workers), nil
	case decoderGhostscript:
		return decoder.NewGhostscript(pdfrender.NewCommandExecutor()), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q: use %s or %s", name, decoderFitz, decoderGhostscript)
	}
}

func openStore(flgs *flags, cfg *config) (*settings.EnvFileStore, error) {
	path, err := settingsPath(flgs, cfg)
	if err != nil {
		return nil, err
	}

	return settings.NewEnvFileStore(path), nil
}

// preferencesFrom returns the preferences a run with opts would remember. A DPI
// outside the presets keeps the default preset.
func preferencesFrom(opts *pdfrender.Options) settings.Preferences {
	prefs := settings.DefaultPreferences()
	prefs.OutputDirectory = opts.OutputPath
	prefs.Format = opts.Format
	prefs.Quality = opts.Quality

	if _, err := settings.ParseResolution(strconv.Itoa(opts.DPI)); err == nil {
		prefs.Resolution = opts.DPI
	}

	return prefs
}

// setupLogger initializes the logger, creating the log directory if needed.
func setupLogger(logDirConfig string) (*logger.Logger, error) {
	logDir := logDirConfig
	if logDir == "" {
		logDir = filepath.Join("logs", "pdf2img")
	}

	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("20060102_150405"))

	log, err := logger.New(logDir, logFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}
