package pdfrender_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

var errBrokenPage = errors.New("broken page")

// fakeDocument is a concurrency-observing pdfrender.Document.
type fakeDocument struct {
	failPages   map[int]error
	calls       map[int]int
	events      []renderEvent
	mu          sync.Mutex
	delay       time.Duration
	pages       int
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	closed      atomic.Bool
	locked      bool
}

type renderEvent struct {
	index int
	start bool
}

func newFakeDocument(pages int) *fakeDocument {
	return &fakeDocument{
		failPages: map[int]error{},
		calls:     map[int]int{},
		pages:     pages,
	}
}

func (doc *fakeDocument) PageCount() int { return doc.pages }

func (doc *fakeDocument) Locked() bool { return doc.locked }

func (doc *fakeDocument) RenderPage(_ context.Context, index, _ int) (image.Image, error) {
	current := doc.inFlight.Add(1)
	defer doc.inFlight.Add(-1)

	for {
		seen := doc.maxInFlight.Load()
		if current <= seen || doc.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}

	doc.record(index, true)
	defer doc.record(index, false)

	if doc.delay > 0 {
		time.Sleep(doc.delay)
	}

	if err, ok := doc.failPages[index]; ok {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, G: 10, B: 10, A: 255})

	return img, nil
}

func (doc *fakeDocument) Close() error {
	doc.closed.Store(true)

	return nil
}

func (doc *fakeDocument) record(index int, start bool) {
	doc.mu.Lock()
	defer doc.mu.Unlock()

	if start {
		doc.calls[index]++
	}

	doc.events = append(doc.events, renderEvent{index: index, start: start})
}

func (doc *fakeDocument) callCounts() map[int]int {
	doc.mu.Lock()
	defer doc.mu.Unlock()

	counts := make(map[int]int, len(doc.calls))
	for index, count := range doc.calls {
		counts[index] = count
	}

	return counts
}

func (doc *fakeDocument) totalCalls() int {
	total := 0
	for _, count := range doc.callCounts() {
		total += count
	}

	return total
}

// fakeDecoder serves fakeDocuments by source path.
type fakeDecoder struct {
	docs     map[string]*fakeDocument
	openErrs map[string]error
}

func (decoder *fakeDecoder) Open(_ context.Context, source string) (pdfrender.Document, error) {
	if err, ok := decoder.openErrs[source]; ok {
		return nil, err
	}

	doc, ok := decoder.docs[source]
	if !ok {
		return nil, errors.New("no such document")
	}

	return doc, nil
}

// recordingSink captures every progress event.
type recordingSink struct {
	updates []pdfrender.Progress
	results []pdfrender.BatchResult
	mu      sync.Mutex
}

func (sink *recordingSink) Progress(update pdfrender.Progress) {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	sink.updates = append(sink.updates, update)
}

func (sink *recordingSink) Done(result pdfrender.BatchResult) {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	sink.results = append(sink.results, result)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func newTestRequest(outputDir, baseName string) pdfrender.Request {
	return pdfrender.Request{
		OutputDir: outputDir,
		BaseName:  baseName,
		Format:    pdfrender.FormatPNG,
		DPI:       72,
		Quality:   pdfrender.DefaultQuality,
	}
}

func sequence(n int) []int {
	indices := make([]int, n)
	for index := range indices {
		indices[index] = index
	}

	return indices
}
