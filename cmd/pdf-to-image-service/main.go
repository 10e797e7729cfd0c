// This file orchestrates the pdf-to-image service, initializing and running the NATS
// worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// configURLEnv names the environment variable holding the configuration URL.
const configURLEnv = "PDF_TO_IMAGE_CONFIG_URL"

// Config represents the overall configuration structure for the pdf-to-image-service.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Paths      PathsConfig      `toml:"paths"`
	Conversion ConversionConfig `toml:"conversion"`
}

// PathsConfig holds common path configurations.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// NATSConfig holds NATS-specific configuration for the pdf-to-image-service.
type NATSConfig struct {
	URL                    string `toml:"url"`
	PDFStreamName          string `toml:"pdf_stream_name"`
	PDFConsumerName        string `toml:"pdf_consumer_name"`
	PDFCreatedSubject      string `toml:"pdf_created_subject"`
	PDFObjectStoreBucket   string `toml:"pdf_object_store_bucket"`
	ImageStreamName        string `toml:"image_stream_name"`
	ImageCreatedSubject    string `toml:"image_created_subject"`
	ImageObjectStoreBucket string `toml:"image_object_store_bucket"`
}

// ConversionConfig holds the rendering settings applied to every received document.
type ConversionConfig struct {
	Format               string `toml:"format"`
	Strategy             string `toml:"strategy"`
	DPI                  int    `toml:"dpi"`
	Quality              int    `toml:"quality"`
	Workers              int    `toml:"workers"`
	RenderTimeoutSeconds int    `toml:"render_timeout_seconds"`
}

const (
	natsFetchTimeout = 5 * time.Second
	ackWait          = 30 * time.Second
)

// main is the entry point of the application.
func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)

	runErr := run(ctx)

	stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Printf("Fatal application error: %v", runErr)
		os.Exit(1)
	}

	log.Println("Application shut down gracefully.")
}

// run initializes all components and starts the message processing loop.
func run(ctx context.Context) error {
	// A local .env may provide the configuration URL during development.
	_ = godotenv.Load()

	cfg, appLogger, setupErr := setupConfigAndLogger(os.Getenv(configURLEnv))
	if setupErr != nil {
		return setupErr
	}

	defer func() {
		if closeErr := appLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close app logger: %v", closeErr)
		}
	}()

	converter, converterErr := newConverter(&cfg.Conversion, appLogger)
	if converterErr != nil {
		return fmt.Errorf("invalid conversion settings: %w", converterErr)
	}

	natsConnection, connErr := nats.Connect(cfg.NATS.URL)
	if connErr != nil {
		return fmt.Errorf("failed to connect to NATS: %w", connErr)
	}
	defer natsConnection.Close()

	appLogger.Info("Connected to NATS server at %s", natsConnection.ConnectedUrl())

	jetStream, jsErr := jetstream.New(natsConnection)
	if jsErr != nil {
		return fmt.Errorf("failed to create JetStream context: %w", jsErr)
	}

	jsSetupErr := setupJetStream(ctx, jetStream, cfg)
	if jsSetupErr != nil {
		return fmt.Errorf("failed to set up JetStream resources: %w", jsSetupErr)
	}

	consumer, consumerErr := jetStream.Consumer(
		ctx,
		cfg.NATS.PDFStreamName,
		cfg.NATS.PDFConsumerName,
	)
	if consumerErr != nil {
		return fmt.Errorf("failed to get consumer: %w", consumerErr)
	}

	appLogger.Info("Worker is running, listening for jobs on '%s'...", cfg.NATS.PDFCreatedSubject)

	return processMessages(ctx, consumer, jetStream, cfg, converter, appLogger)
}

// setupConfigAndLogger loads configuration and sets up the main application logger.
func setupConfigAndLogger(configURL string) (*Config, *logger.Logger, error) {
	if configURL == "" {
		return nil, nil, fmt.Errorf("environment variable %s is not set", configURLEnv)
	}

	var cfg Config

	tempLogger, tempLoggerErr := logger.New(os.TempDir(), "pdf-to-image-bootstrap.log")
	if tempLoggerErr != nil {
		return nil, nil, fmt.Errorf("failed to create bootstrap logger: %w", tempLoggerErr)
	}

	defer func() {
		if closeErr := tempLogger.Close(); closeErr != nil {
			log.Printf("Warning: failed to close temp logger: %v", closeErr)
		}
	}()

	loadErr := configurator.LoadFromURL(configURL, &cfg, tempLogger)
	if loadErr != nil {
		return nil, nil, fmt.Errorf(
			"failed to load configuration from URL %s: %w",
			configURL,
			loadErr,
		)
	}

	log.Printf("Configuration loaded from %s", configURL)

	appLogger, loggerErr := logger.New(cfg.Paths.BaseLogsDir, "pdf-to-image-service.log")
	if loggerErr != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", loggerErr)
	}

	return &cfg, appLogger, nil
}

// setupJetStream ensures all required NATS streams and object stores exist.
func setupJetStream(ctx context.Context, jetStream jetstream.JetStream, cfg *Config) error {
	_, streamErr := jetStream.CreateStream(
		ctx,
		newStreamConfig(cfg.NATS.PDFStreamName, cfg.NATS.PDFCreatedSubject),
	)
	if streamErr != nil && !errors.Is(streamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create PDF stream: %w", streamErr)
	}

	stream, streamErr := jetStream.Stream(ctx, cfg.NATS.PDFStreamName)
	if streamErr != nil {
		return fmt.Errorf("failed to get PDF stream handle: %w", streamErr)
	}

	_, consumerErr := stream.CreateOrUpdateConsumer(ctx, newConsumerConfig(&cfg.NATS))
	if consumerErr != nil {
		return fmt.Errorf("failed to create PDF consumer: %w", consumerErr)
	}

	_, imageStreamErr := jetStream.CreateStream(
		ctx,
		newStreamConfig(cfg.NATS.ImageStreamName, cfg.NATS.ImageCreatedSubject),
	)
	if imageStreamErr != nil && !errors.Is(imageStreamErr, jetstream.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create image stream: %w", imageStreamErr)
	}

	for _, bucket := range []string{cfg.NATS.PDFObjectStoreBucket, cfg.NATS.ImageObjectStoreBucket} {
		_, objStoreErr := jetStream.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:   bucket,
			MaxBytes: -1,
			Storage:  jetstream.FileStorage,
			Replicas: 1,
		})
		if objStoreErr != nil && !errors.Is(objStoreErr, jetstream.ErrBucketExists) {
			return fmt.Errorf("failed to create object store '%s': %w", bucket, objStoreErr)
		}
	}

	return nil
}

func newStreamConfig(name, subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:              name,
		Subjects:          []string{subject},
		Retention:         jetstream.WorkQueuePolicy,
		MaxConsumers:      -1,
		MaxMsgs:           -1,
		MaxBytes:          -1,
		Discard:           jetstream.DiscardOld,
		MaxMsgsPerSubject: -1,
		MaxMsgSize:        -1,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
	}
}

func newConsumerConfig(cfg *NATSConfig) jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       cfg.PDFConsumerName,
		FilterSubject: cfg.PDFCreatedSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    -1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
		MaxAckPending: -1,
	}
}

// processMessages implements the core worker loop.
func processMessages(
	ctx context.Context,
	consumer jetstream.Consumer,
	jetStream jetstream.JetStream,
	cfg *Config,
	converter *converter,
	appLogger *logger.Logger,
) error {
	pdfStore, pdfStoreErr := jetStream.ObjectStore(ctx, cfg.NATS.PDFObjectStoreBucket)
	if pdfStoreErr != nil {
		return fmt.Errorf("failed to bind to PDF object store: %w", pdfStoreErr)
	}

	imageStore, imageStoreErr := jetStream.ObjectStore(ctx, cfg.NATS.ImageObjectStoreBucket)
	if imageStoreErr != nil {
		return fmt.Errorf("failed to bind to image object store: %w", imageStoreErr)
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context error in message loop: %w", ctxErr)
		}

		batch, fetchErr := consumer.Fetch(1, jetstream.FetchMaxWait(natsFetchTimeout))
		if fetchErr != nil {
			if errors.Is(fetchErr, context.Canceled) || errors.Is(fetchErr, nats.ErrTimeout) {
				continue
			}

			appLogger.Error("Error fetching messages: %v", fetchErr)

			continue
		}

		for msg := range batch.Messages() {
			handleMessage(ctx, msg, jetStream, pdfStore, imageStore, cfg, converter, appLogger)
		}

		if batchErr := batch.Error(); batchErr != nil {
			appLogger.Error("Error during message batch processing: %v", batchErr)
		}
	}
}
