// Package settings persists the user's conversion preferences as key/value pairs.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

// Preference keys.
const (
	KeyOutputDirectory = "OUTPUT_DIRECTORY"
	KeyResolution      = "RESOLUTION"
	KeyImageFormat     = "IMAGE_FORMAT"
	KeyJPEGQuality     = "JPEG_QUALITY"
)

// ErrUnknownKey is returned when a key outside Keys is written.
var ErrUnknownKey = errors.New("unknown settings key")

// Keys lists the preference keys in display order.
func Keys() []string {
	return []string{KeyOutputDirectory, KeyResolution, KeyImageFormat, KeyJPEGQuality}
}

// Resolutions are the DPI presets offered to the user.
func Resolutions() []int {
	return []int{72, 96, 150, 200, 300, 600}
}

// Store reads and writes single settings values.
type Store interface {
	Read(key string) (string, bool)
	Write(key, value string) error
}

// EnvFileStore keeps settings in a dotenv formatted file.
type EnvFileStore struct {
	path string
	mu   sync.Mutex
}

// NewEnvFileStore returns a store backed by path. The file is created on the first
// write.
func NewEnvFileStore(path string) *EnvFileStore {
	return &EnvFileStore{path: path, mu: sync.Mutex{}}
}

// Path returns the backing file.
func (store *EnvFileStore) Path() string { return store.path }

// Read returns the value stored under key. A missing or unreadable file reads as
// empty.
func (store *EnvFileStore) Read(key string) (string, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	values, err := store.load()
	if err != nil {
		return "", false
	}

	value, ok := values[key]

	return value, ok
}

// Write stores value under key, keeping every other key intact.
func (store *EnvFileStore) Write(key, value string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	values, err := store.load()
	if err != nil {
		return err
	}

	values[key] = value

	dir := filepath.Dir(store.path)

	mkdirErr := os.MkdirAll(dir, 0o750)
	if mkdirErr != nil {
		return fmt.Errorf("create settings directory %s: %w", dir, mkdirErr)
	}

	writeErr := godotenv.Write(values, store.path)
	if writeErr != nil {
		return fmt.Errorf("write settings %s: %w", store.path, writeErr)
	}

	return nil
}

func (store *EnvFileStore) load() (map[string]string, error) {
	values, err := godotenv.Read(store.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", store.path, err)
	}

	return values, nil
}

// Preferences are the remembered conversion settings.
type Preferences struct {
	OutputDirectory string
	Format          pdfrender.Format
	Resolution      int
	Quality         int
}

// DefaultPreferences returns the preferences used when nothing has been saved.
func DefaultPreferences() Preferences {
	return Preferences{
		OutputDirectory: "",
		Format:          pdfrender.DefaultFormat,
		Resolution:      pdfrender.DefaultDPI,
		Quality:         pdfrender.DefaultQuality,
	}
}

// LoadPreferences reads the preferences from store. Missing or invalid values fall
// back to their defaults.
func LoadPreferences(store Store) Preferences {
	prefs := DefaultPreferences()
	stored := StoredPreferences(store)

	prefs.OutputDirectory = stored.OutputDirectory

	if stored.Resolution != 0 {
		prefs.Resolution = stored.Resolution
	}

	if stored.Format != "" {
		prefs.Format = stored.Format
	}

	if stored.Quality != 0 {
		prefs.Quality = stored.Quality
	}

	return prefs
}

// StoredPreferences returns only the valid values present in store. Everything
// else is left at its zero value.
func StoredPreferences(store Store) Preferences {
	var prefs Preferences

	if dir, ok := store.Read(KeyOutputDirectory); ok {
		prefs.OutputDirectory = strings.TrimSpace(dir)
	}

	if raw, ok := store.Read(KeyResolution); ok {
		if dpi, err := ParseResolution(raw); err == nil {
			prefs.Resolution = dpi
		}
	}

	if raw, ok := store.Read(KeyImageFormat); ok {
		if format, err := pdfrender.ParseFormat(raw); err == nil {
			prefs.Format = format
		}
	}

	if raw, ok := store.Read(KeyJPEGQuality); ok {
		if quality, err := ParseQuality(raw); err == nil {
			prefs.Quality = quality
		}
	}

	return prefs
}

// SavePreferences writes every preference to store.
func SavePreferences(store Store, prefs Preferences) error {
	values := map[string]string{
		KeyOutputDirectory: prefs.OutputDirectory,
		KeyResolution:      strconv.Itoa(prefs.Resolution),
		KeyImageFormat:     string(prefs.Format),
		KeyJPEGQuality:     strconv.Itoa(prefs.Quality),
	}

	for _, key := range Keys() {
		err := store.Write(key, values[key])
		if err != nil {
			return err
		}
	}

	return nil
}

// Set validates value for key and writes its normalized form.
func Set(store Store, key, value string) error {
	normalized, err := Normalize(key, value)
	if err != nil {
		return err
	}

	return store.Write(key, normalized)
}

// Normalize validates value for key and returns the form it is stored in.
func Normalize(key, value string) (string, error) {
	value = strings.TrimSpace(value)

	switch key {
	case KeyOutputDirectory:
		return value, nil
	case KeyResolution:
		dpi, err := ParseResolution(value)
		if err != nil {
			return "", err
		}

		return strconv.Itoa(dpi), nil
	case KeyImageFormat:
		format, err := pdfrender.ParseFormat(value)
		if err != nil {
			return "", fmt.Errorf("%s: %w", key, err)
		}

		return string(format), nil
	case KeyJPEGQuality:
		quality, err := ParseQuality(value)
		if err != nil {
			return "", err
		}

		return strconv.Itoa(quality), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}

// ParseResolution accepts one of the Resolutions presets.
func ParseResolution(raw string) (int, error) {
	dpi, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || !slices.Contains(Resolutions(), dpi) {
		return 0, fmt.Errorf("%w: %q is not one of %v", pdfrender.ErrInvalidDPI, raw, Resolutions())
	}

	return dpi, nil
}

// ParseQuality accepts an encoder quality between 1 and 100.
func ParseQuality(raw string) (int, error) {
	quality, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || quality < 1 || quality > 100 {
		return 0, fmt.Errorf("%w: %q", pdfrender.ErrInvalidQuality, raw)
	}

	return quality, nil
}
