package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
	"github.com/book-expert/pdf-to-image-service/internal/settings"
)

type configPaths struct {
	OutputDir    string `toml:"output_dir"`
	SettingsFile string `toml:"settings_file"`
}

type configLogsDir struct {
	PDF2Img string `toml:"pdf2img"`
}

type configSettings struct {
	Format               string `toml:"format"`
	Strategy             string `toml:"strategy"`
	Decoder              string `toml:"decoder"`
	DPI                  int    `toml:"dpi"`
	Workers              int    `toml:"workers"`
	Quality              int    `toml:"quality"`
	RenderTimeoutSeconds int    `toml:"render_timeout_seconds"`
}

type configProgress struct {
	Addr string `toml:"addr"`
}

// config represents the structure of the project.toml file.
type config struct {
	Paths    configPaths    `toml:"paths"`
	LogsDir  configLogsDir  `toml:"logs_dir"`
	Progress configProgress `toml:"progress"`
	Settings configSettings `toml:"settings"`
}

// safeLoadConfig loads the TOML config, allowing missing file without error.
func safeLoadConfig(path string) (config, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			var emptyCfg config

			return emptyCfg, nil
		}

		return config{}, fmt.Errorf("error loading config file: %w", err)
	}

	return cfg, nil
}

// loadConfig reads and parses the project.toml file.
func loadConfig(path string) (config, error) {
	var cfg config

	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		var zero config

		return zero, fmt.Errorf("failed to decode config file: %w", err)
	}

	return cfg, nil
}

// flags represents the command-line arguments. Zero values mean "not given".
type flags struct {
	configPath   string
	settingsPath string
	outputPath   string
	format       string
	strategy     string
	decoder      string
	progressAddr string
	dpi          int
	workers      int
	quality      int
	timeout      time.Duration
	open         bool
	remember     bool
}

// runSettings is everything a conversion run needs after merging.
type runSettings struct {
	decoder      string
	progressAddr string
	logDir       string
	options      pdfrender.Options
}

// mergeConfigAndFlags combines the config file, the stored preferences and the
// command-line flags. Flags take precedence over preferences, which take precedence
// over the config file. Zero values in prefs mean "not stored".
func mergeConfigAndFlags(
	cfg *config,
	prefs *settings.Preferences,
	flgs *flags,
	inputs []string,
) (runSettings, error) {
	merged := runSettings{
		decoder:      firstNonEmpty(flgs.decoder, cfg.Settings.Decoder, decoderFitz),
		progressAddr: firstNonEmpty(flgs.progressAddr, cfg.Progress.Addr),
		logDir:       cfg.LogsDir.PDF2Img,
		options: pdfrender.Options{
			InputPaths:    inputs,
			OutputPath:    cfg.Paths.OutputDir,
			Format:        "",
			DPI:           cfg.Settings.DPI,
			Quality:       cfg.Settings.Quality,
			Workers:       cfg.Settings.Workers,
			RenderTimeout: time.Duration(cfg.Settings.RenderTimeoutSeconds) * time.Second,
			Strategy:      pdfrender.StrategyPool,
		},
	}

	formatName := cfg.Settings.Format

	// Remembered preferences override config file values.
	if prefs.OutputDirectory != "" {
		merged.options.OutputPath = prefs.OutputDirectory
	}

	if prefs.Resolution > 0 {
		merged.options.DPI = prefs.Resolution
	}

	if prefs.Quality > 0 {
		merged.options.Quality = prefs.Quality
	}

	if prefs.Format != "" {
		formatName = string(prefs.Format)
	}

	// Command-line flags override everything else.
	if flgs.outputPath != "" {
		merged.options.OutputPath = flgs.outputPath
	}

	if flgs.format != "" {
		formatName = flgs.format
	}

	if flgs.dpi > 0 {
		merged.options.DPI = flgs.dpi
	}

	if flgs.quality > 0 {
		merged.options.Quality = flgs.quality
	}

	if flgs.workers > 0 {
		merged.options.Workers = flgs.workers
	}

	if flgs.timeout > 0 {
		merged.options.RenderTimeout = flgs.timeout
	}

	if formatName != "" {
		format, err := pdfrender.ParseFormat(formatName)
		if err != nil {
			return runSettings{}, err
		}

		merged.options.Format = format
	}

	strategy, err := pdfrender.ParseStrategy(firstNonEmpty(flgs.strategy, cfg.Settings.Strategy))
	if err != nil {
		return runSettings{}, err
	}

	merged.options.Strategy = strategy

	return merged, nil
}

// settingsPath resolves the preferences file: flag, then config, then the user
// config directory.
func settingsPath(flgs *flags, cfg *config) (string, error) {
	if path := firstNonEmpty(flgs.settingsPath, cfg.Paths.SettingsFile); path != "" {
		return path, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not locate user config directory: %w", err)
	}

	return filepath.Join(dir, "pdf2img", "settings.env"), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}

	return ""
}
