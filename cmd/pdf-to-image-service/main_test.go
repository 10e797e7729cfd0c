package main

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

func TestConversionOptions(t *testing.T) {
	t.Parallel()

	opts, err := conversionOptions(&ConversionConfig{
		Format:               "jpeg",
		Strategy:             "lockstep",
		DPI:                  150,
		Quality:              70,
		Workers:              3,
		RenderTimeoutSeconds: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, pdfrender.FormatJPG, opts.Format)
	assert.Equal(t, pdfrender.StrategyLockstep, opts.Strategy)
	assert.Equal(t, 150, opts.DPI)
	assert.Equal(t, 70, opts.Quality)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, 20*time.Second, opts.RenderTimeout)

	_, err = conversionOptions(&ConversionConfig{Format: "gif"})
	require.ErrorIs(t, err, pdfrender.ErrInvalidFormat)

	_, err = conversionOptions(&ConversionConfig{Strategy: "eager"})
	require.ErrorIs(t, err, pdfrender.ErrInvalidStrategy)
}

func TestDispositionFor(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		result pdfrender.JobResult
		want   disposition
	}{
		{
			name:   "completed",
			result: pdfrender.JobResult{Status: pdfrender.JobCompleted},
			want:   dispositionAck,
		},
		{
			name:   "canceled",
			result: pdfrender.JobResult{Status: pdfrender.JobCanceled, Err: context.Canceled},
			want:   dispositionNak,
		},
		{
			name:   "deadline expired",
			result: pdfrender.JobResult{Status: pdfrender.JobCanceled, Err: context.DeadlineExceeded},
			want:   dispositionNak,
		},
		{
			name: "locked",
			result: pdfrender.JobResult{
				Status: pdfrender.JobFailed,
				Err:    pdfrender.ErrDocumentLocked,
			},
			want: dispositionTerm,
		},
		{
			name: "unreadable",
			result: pdfrender.JobResult{
				Status: pdfrender.JobFailed,
				Err:    errors.Join(pdfrender.ErrLoadFailure, errors.New("bad xref")),
			},
			want: dispositionTerm,
		},
		{
			name:   "some pages failed",
			result: pdfrender.JobResult{Status: pdfrender.JobPartiallyFailed, Err: pdfrender.ErrRenderFailure},
			want:   dispositionTerm,
		},
		{
			name:   "work directory missing",
			result: pdfrender.JobResult{Status: pdfrender.JobFailed, Err: pdfrender.ErrDirectoryCreate},
			want:   dispositionNak,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := dispositionFor(&tc.result)
			assert.Equal(t, tc.want, got, "got %s", got)
		})
	}
}

func TestSettleReason(t *testing.T) {
	t.Parallel()

	partial := pdfrender.JobResult{
		Err:      pdfrender.ErrRenderFailure,
		Source:   "/work/images/book.pdf",
		BaseName: "book",
		Status:   pdfrender.JobPartiallyFailed,
		Outputs:  nil,
		Failures: []pdfrender.PageFailure{
			{Err: pdfrender.ErrRenderFailure, Index: 1},
			{Err: pdfrender.ErrRenderTimeout, Index: 4},
		},
		PageCount: 6,
	}

	reason := settleReason(&partial)
	require.ErrorIs(t, reason, pdfrender.ErrRenderFailure)
	assert.Contains(t, reason.Error(), "book.pdf: pages 2, 5 not converted")

	locked := pdfrender.JobResult{Status: pdfrender.JobFailed, Err: pdfrender.ErrDocumentLocked}
	assert.Equal(t, pdfrender.ErrDocumentLocked, settleReason(&locked))
}

func TestImageEvents(t *testing.T) {
	t.Parallel()

	header := &events.EventHeader{
		WorkflowID: "wf-1",
		UserID:     "user-1",
		TenantID:   "tenant-1",
		EventID:    "incoming",
		Timestamp:  time.Time{},
	}

	objectName := imageObjectName(header, "book-3.png")
	assert.Equal(t, "tenant-1/wf-1/book-3.png", objectName)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	event := newImageCreatedEvent(header, objectName, 3, 12, now)
	assert.Equal(t, objectName, event.PNGKey)
	assert.Equal(t, 3, event.PageNumber)
	assert.Equal(t, 12, event.TotalPages)
	assert.Equal(t, "wf-1", event.Header.WorkflowID)
	assert.Equal(t, now, event.Header.Timestamp)
	assert.NotEqual(t, "incoming", event.Header.EventID)
	assert.NotEmpty(t, event.Header.EventID)
}

func TestUnmarshalEvent(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(events.PDFCreatedEvent{
		Header: events.EventHeader{
			WorkflowID: "wf",
			UserID:     "user",
			TenantID:   "tenant",
			EventID:    "event",
			Timestamp:  time.Time{},
		},
		PDFKey: "tenant/book.pdf",
	})
	require.NoError(t, err)

	event, err := unmarshalEvent(data)
	require.NoError(t, err)
	assert.Equal(t, "tenant/book.pdf", event.PDFKey)
	assert.Equal(t, "wf", event.Header.WorkflowID)

	_, err = unmarshalEvent([]byte("not json"))
	require.Error(t, err)

	_, err = unmarshalEvent([]byte(`{}`))
	require.Error(t, err)
}

func TestConverter_UnreadableDocumentIsTerminated(t *testing.T) {
	t.Parallel()

	appLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	conv, err := newConverter(&ConversionConfig{DPI: 72, Workers: 2}, appLogger)
	require.NoError(t, err)

	outputDir := filepath.Join(t.TempDir(), "images")
	result := conv.convert(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), outputDir)

	assert.Equal(t, pdfrender.JobFailed, result.Status)
	require.ErrorIs(t, result.Err, pdfrender.ErrLoadFailure)
	assert.Equal(t, dispositionTerm, dispositionFor(&result))
	assert.DirExists(t, outputDir)
}

func TestNewConverter_RejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	appLogger, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	_, err = newConverter(&ConversionConfig{Quality: 101}, appLogger)
	require.ErrorIs(t, err, pdfrender.ErrInvalidQuality)
}
