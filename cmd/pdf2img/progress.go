package main

import (
	"io"

	"github.com/cheggaaa/pb/v3"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

const (
	documentsTemplate = `{{string . "prefix"}} {{ bar . " " "━" "━" " " " "}} {{counters .}} {{rtime .}}`
	pagesTemplate     = `  {{ bar . " " "▸" "▹" " " " "}} {{percent .}} {{etime .}}`
)

// barSink renders progress as terminal bars: one for the documents of the run and
// one for the pages of the current document.
type barSink struct {
	out       io.Writer
	documents *pb.ProgressBar
	pages     *pb.ProgressBar
	label     string
}

func newBarSink(out io.Writer) *barSink {
	return &barSink{out: out, documents: nil, pages: nil, label: ""}
}

// Progress implements pdfrender.ProgressSink.
func (sink *barSink) Progress(update pdfrender.Progress) {
	if sink.documents == nil {
		sink.documents = pb.New(update.Total).
			SetTemplateString(documentsTemplate).
			SetWriter(sink.out).
			Start()
	}

	sink.documents.Set("prefix", update.Label)
	sink.documents.SetCurrent(int64(update.Completed))

	if update.Label != sink.label {
		sink.finishPages()
		sink.label = update.Label
	}

	if update.PagesTotal == 0 {
		return
	}

	if sink.pages == nil {
		sink.pages = pb.New(update.PagesTotal).
			SetTemplateString(pagesTemplate).
			SetWriter(sink.out).
			Start()
	}

	sink.pages.SetCurrent(int64(update.PagesCompleted))
}

// Done implements pdfrender.ProgressSink.
func (sink *barSink) Done(pdfrender.BatchResult) {
	sink.finishPages()

	if sink.documents != nil {
		sink.documents.Finish()
		sink.documents = nil
	}
}

func (sink *barSink) finishPages() {
	if sink.pages != nil {
		sink.pages.Finish()
		sink.pages = nil
	}
}
