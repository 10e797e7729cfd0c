package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/book-expert/pdf-to-image-service/internal/pdfrender"
)

// job represents the context for processing a single message.
type job struct {
	msg          jetstream.Msg
	jetStream    jetstream.JetStream
	pdfStore     jetstream.ObjectStore
	imageStore   jetstream.ObjectStore
	cfg          *Config
	converter    *converter
	appLogger    *logger.Logger
	event        *events.PDFCreatedEvent
	header       *events.EventHeader
	workDir      string
	localPDFPath string
}

// handleMessage processes a single message.
func handleMessage(
	ctx context.Context, msg jetstream.Msg, jetStream jetstream.JetStream,
	pdfStore, imageStore jetstream.ObjectStore, cfg *Config, converter *converter,
	appLogger *logger.Logger,
) {
	event, unmarshalErr := unmarshalEvent(msg.Data())
	if unmarshalErr != nil {
		appLogger.Error("Failed to create job: %v", unmarshalErr)

		if termErr := msg.Term(); termErr != nil {
			appLogger.Error("Failed to TERM message: %v", termErr)
		}

		return
	}

	current := &job{
		msg:          msg,
		jetStream:    jetStream,
		pdfStore:     pdfStore,
		imageStore:   imageStore,
		cfg:          cfg,
		converter:    converter,
		appLogger:    appLogger,
		event:        event,
		header:       &event.Header,
		workDir:      "",
		localPDFPath: "",
	}
	current.run(ctx)
}

// unmarshalEvent unmarshals the PDFCreatedEvent carried by a message.
func unmarshalEvent(data []byte) (*events.PDFCreatedEvent, error) {
	var event events.PDFCreatedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PDFCreatedEvent: %w", err)
	}

	if event.PDFKey == "" {
		return nil, fmt.Errorf("PDFCreatedEvent %s carries no PDF key", event.Header.EventID)
	}

	return &event, nil
}

// run executes the full lifecycle of a job.
func (j *job) run(ctx context.Context) {
	j.appLogger.Info(
		"Received job for WorkflowID [%s]: processing PDF key '%s'",
		j.header.WorkflowID,
		j.event.PDFKey,
	)

	if progErr := j.msg.InProgress(); progErr != nil {
		j.appLogger.Warn("Failed to send InProgress update: %v", progErr)
	}

	dirErr := j.setupWorkDir()
	if dirErr != nil {
		j.nak(dirErr)

		return
	}
	defer j.cleanupWorkDir()

	if downloadErr := j.downloadPDF(ctx); downloadErr != nil {
		j.term(downloadErr)

		return
	}

	result := j.converter.convert(ctx, j.localPDFPath, filepath.Join(j.workDir, "images"))

	// Written pages are published even when others failed.
	j.publishImages(ctx, &result)

	switch dispositionFor(&result) {
	case dispositionAck:
		j.ack()
	case dispositionNak:
		j.nak(settleReason(&result))
	case dispositionTerm:
		j.term(settleReason(&result))
	}
}

func (j *job) setupWorkDir() error {
	workDir, err := os.MkdirTemp("", fmt.Sprintf("pdf-%s-", j.header.WorkflowID))
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	j.workDir = workDir
	j.localPDFPath = filepath.Join(workDir, filepath.Base(j.event.PDFKey))

	return nil
}

func (j *job) cleanupWorkDir() {
	if err := os.RemoveAll(j.workDir); err != nil {
		j.appLogger.Warn("Failed to remove temp directory '%s': %v", j.workDir, err)
	}
}

func (j *job) downloadPDF(ctx context.Context) error {
	err := j.pdfStore.GetFile(ctx, j.event.PDFKey, j.localPDFPath)
	if err != nil {
		return fmt.Errorf("failed to get PDF '%s' from object store: %w", j.event.PDFKey, err)
	}

	return nil
}

// publishImages uploads every written page and publishes one event per page.
func (j *job) publishImages(ctx context.Context, result *pdfrender.JobResult) {
	j.appLogger.Info(
		"Job [%s]: %d of %d page image(s) to publish.",
		j.header.WorkflowID,
		len(result.Outputs),
		result.PageCount,
	)

	for _, output := range result.Outputs {
		j.publishSingleImage(ctx, output, result.PageCount)
	}
}

func (j *job) publishSingleImage(ctx context.Context, output pdfrender.PageOutput, totalPages int) {
	objectName := imageObjectName(j.header, filepath.Base(output.Path))

	if uploadErr := uploadFileToObjectStore(ctx, j.imageStore, objectName, output.Path); uploadErr != nil {
		j.appLogger.Error(
			"Job [%s]: Failed to upload '%s': %v",
			j.header.WorkflowID,
			objectName,
			uploadErr,
		)

		return
	}

	j.appLogger.Info("Job [%s]: Uploaded '%s'", j.header.WorkflowID, objectName)

	event := newImageCreatedEvent(j.header, objectName, output.Index+1, totalPages, time.Now())

	publishEventErr := j.publishEvent(ctx, &event)
	if publishEventErr != nil {
		j.appLogger.Error(
			"Job [%s]: Failed to publish event for '%s': %v",
			j.header.WorkflowID,
			objectName,
			publishEventErr,
		)

		return
	}

	j.appLogger.Info("Job [%s]: Published event for '%s'", j.header.WorkflowID, objectName)
}

// imageObjectName is the object store key of a page image.
func imageObjectName(header *events.EventHeader, fileName string) string {
	return fmt.Sprintf("%s/%s/%s", header.TenantID, header.WorkflowID, fileName)
}

// newImageCreatedEvent describes an uploaded page image. The downstream event type
// is shared by every image format.
func newImageCreatedEvent(
	header *events.EventHeader,
	objectName string,
	pageNumber, totalPages int,
	now time.Time,
) events.PNGCreatedEvent {
	return events.PNGCreatedEvent{
		Header: events.EventHeader{
			WorkflowID: header.WorkflowID,
			UserID:     header.UserID,
			TenantID:   header.TenantID,
			EventID:    uuid.NewString(),
			Timestamp:  now,
		},
		PNGKey:     objectName,
		PageNumber: pageNumber,
		TotalPages: totalPages,
	}
}

func (j *job) publishEvent(ctx context.Context, event *events.PNGCreatedEvent) error {
	eventJSON, marshalErr := json.Marshal(event)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal PNGCreatedEvent: %w", marshalErr)
	}

	_, pubErr := j.jetStream.Publish(ctx, j.cfg.NATS.ImageCreatedSubject, eventJSON)
	if pubErr != nil {
		return fmt.Errorf("failed to publish PNGCreatedEvent: %w", pubErr)
	}

	return nil
}

func (j *job) ack() {
	if err := j.msg.Ack(); err != nil {
		j.appLogger.Error("Job [%s]: Failed to acknowledge message: %v", j.header.WorkflowID, err)
	} else {
		j.appLogger.Success("Job [%s]: Processing complete. Acknowledged.", j.header.WorkflowID)
	}
}

func (j *job) nak(reason error) {
	j.appLogger.Error("NAK'ing message for job [%s]: %v", j.header.WorkflowID, reason)

	if err := j.msg.Nak(); err != nil {
		j.appLogger.Error("Failed to NAK message: %v", err)
	}
}

func (j *job) term(reason error) {
	j.appLogger.Error("Terminating message for job [%s]: %v", j.header.WorkflowID, reason)

	if err := j.msg.Term(); err != nil {
		j.appLogger.Error("Failed to TERM message: %v", err)
	}
}

func uploadFileToObjectStore(
	ctx context.Context,
	store jetstream.ObjectStore,
	objectName, filePath string,
) error {
	file, openErr := os.Open(filePath)
	if openErr != nil {
		return fmt.Errorf("failed to open file for upload: %w", openErr)
	}

	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("Warning: failed to close file '%s': %v", filePath, closeErr)
		}
	}()

	meta := jetstream.ObjectMeta{
		Name:        objectName,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
	}

	_, putErr := store.Put(ctx, meta, file)
	if putErr != nil {
		return fmt.Errorf("failed to put file in object store: %w", putErr)
	}

	return nil
}
