package pdfrender

import (
	"fmt"
	"sync"
)

// Progress is a snapshot of a batch run. Completed and Total count documents;
// PagesCompleted and PagesTotal count pages of the document being converted.
type Progress struct {
	Label          string `json:"label"`
	Completed      int    `json:"completed"`
	Total          int    `json:"total"`
	PagesCompleted int    `json:"pagesCompleted"`
	PagesTotal     int    `json:"pagesTotal"`
}

// ProgressSink receives progress updates and the single terminal result of a run.
// Calls are serialized by the caller.
type ProgressSink interface {
	Progress(update Progress)
	Done(result BatchResult)
}

// SinkFuncs adapts plain functions to a ProgressSink. Nil fields are ignored.
type SinkFuncs struct {
	OnProgress func(update Progress)
	OnDone     func(result BatchResult)
}

// Progress implements ProgressSink.
func (funcs SinkFuncs) Progress(update Progress) {
	if funcs.OnProgress != nil {
		funcs.OnProgress(update)
	}
}

// Done implements ProgressSink.
func (funcs SinkFuncs) Done(result BatchResult) {
	if funcs.OnDone != nil {
		funcs.OnDone(result)
	}
}

// MultiSink fans every event out to each sink in order.
type MultiSink []ProgressSink

// Progress implements ProgressSink.
func (sinks MultiSink) Progress(update Progress) {
	for _, sink := range sinks {
		sink.Progress(update)
	}
}

// Done implements ProgressSink.
func (sinks MultiSink) Done(result BatchResult) {
	for _, sink := range sinks {
		sink.Done(result)
	}
}

// DocumentLabel is the label shown while document number (1-based) of total is
// being converted.
func DocumentLabel(number, total int) string {
	return fmt.Sprintf("processing document %d of %d", number, total)
}

// progressTracker owns the run's Progress. Page tasks finish concurrently, so every
// mutation and the emission that follows it happen under one mutex.
type progressTracker struct {
	sink  ProgressSink
	state Progress
	mu    sync.Mutex
}

func newProgressTracker(sink ProgressSink, documents int) *progressTracker {
	if sink == nil {
		sink = SinkFuncs{OnProgress: nil, OnDone: nil}
	}

	return &progressTracker{
		sink: sink,
		state: Progress{
			Label:          "",
			Completed:      0,
			Total:          documents,
			PagesCompleted: 0,
			PagesTotal:     0,
		},
		mu: sync.Mutex{},
	}
}

func (tracker *progressTracker) startDocument(position int) {
	tracker.update(func(state *Progress) {
		state.Label = DocumentLabel(position+1, state.Total)
		state.PagesCompleted = 0
		state.PagesTotal = 0
	})
}

func (tracker *progressTracker) startPages(pages int) {
	tracker.update(func(state *Progress) {
		state.PagesCompleted = 0
		state.PagesTotal = pages
	})
}

func (tracker *progressTracker) pageDone() {
	tracker.update(func(state *Progress) {
		if state.PagesCompleted < state.PagesTotal {
			state.PagesCompleted++
		}
	})
}

func (tracker *progressTracker) documentDone() {
	tracker.update(func(state *Progress) {
		if state.Completed < state.Total {
			state.Completed++
		}
	})
}

func (tracker *progressTracker) done(result BatchResult) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	tracker.sink.Done(result)
}

func (tracker *progressTracker) update(mutate func(state *Progress)) {
	tracker.mu.Lock()
	defer tracker.mu.Unlock()

	mutate(&tracker.state)
	tracker.sink.Progress(tracker.state)
}

