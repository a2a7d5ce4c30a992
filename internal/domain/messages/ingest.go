package messages

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/blobstore"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/hl7v2"
)

// statusTimeout bounds the status update written after a failed ingestion,
// which runs even when the request context is gone.
const statusTimeout = 5 * time.Second

// IngestResult describes a completed ingestion.
type IngestResult struct {
	File         *FileDescriptor
	MessageCount int
}

// Confirmation is the text returned to the uploader.
func (r *IngestResult) Confirmation() string {
	return "Successfully uploaded " + r.File.Filename()
}

// Coordinator turns a stored file into message records.
type Coordinator struct {
	blobs    blobstore.BlobStore
	files    FileRegistry
	messages MessageRepository
	parser   hl7v2.Parser
	logger   zerolog.Logger
}

func NewCoordinator(blobs blobstore.BlobStore, files FileRegistry, messages MessageRepository, parser hl7v2.Parser, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		blobs:    blobs,
		files:    files,
		messages: messages,
		parser:   parser,
		logger:   logger,
	}
}

// Ingest reads the stored file of f, splits it into messages, parses each one
// and persists all records as one batch. Any failure discards the whole
// batch and marks f failed; f itself stays registered.
func (c *Coordinator) Ingest(ctx context.Context, f *FileDescriptor) (*IngestResult, error) {
	start := time.Now()
	defer func() { ingestionDuration.Observe(time.Since(start).Seconds()) }()

	records, err := c.buildRecords(ctx, f)
	if err != nil {
		return nil, c.fail(ctx, f, err)
	}

	if err := c.messages.CreateBatch(ctx, records); err != nil {
		return nil, c.fail(ctx, f, fmt.Errorf("persist messages: %w", err))
	}

	if err := c.files.UpdateStatus(ctx, f.ID, StatusIngested, len(records)); err != nil {
		c.logger.Error().Err(err).
			Str("file_id", f.ID.String()).
			Str("stored_name", f.StoredName).
			Int("messages", len(records)).
			Msg("messages stored but file status not updated")
		ingestionsTotal.WithLabelValues("failed").Inc()
		return nil, newError(KindIngestion, "ingest", err)
	}
	f.Status = StatusIngested
	f.MessageCount = len(records)

	ingestionsTotal.WithLabelValues("ingested").Inc()
	ingestedMessagesTotal.Add(float64(len(records)))
	c.logger.Info().
		Str("file_id", f.ID.String()).
		Str("stored_name", f.StoredName).
		Str("user_id", f.UserID).
		Int("messages", len(records)).
		Dur("took", time.Since(start)).
		Msg("file ingested")

	return &IngestResult{File: f, MessageCount: len(records)}, nil
}

func (c *Coordinator) buildRecords(ctx context.Context, f *FileDescriptor) ([]*MessageRecord, error) {
	text, err := c.readStored(ctx, f.StoredName)
	if err != nil {
		return nil, err
	}

	raws := hl7v2.SplitMessages(text)
	records := make([]*MessageRecord, 0, len(raws))
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tree, err := c.parser.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse message %d: %w", i, err)
		}
		records = append(records, &MessageRecord{
			ID:                   uuid.New(),
			FileID:               f.ID,
			MessageNumWithinFile: i,
			RawMessage:           raw,
			ParsedMessage:        tree.Children,
		})
	}
	return records, nil
}

func (c *Coordinator) readStored(ctx context.Context, name string) (string, error) {
	rc, err := c.blobs.Open(ctx, name)
	if err != nil {
		return "", fmt.Errorf("open stored file: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read stored file: %w", err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("read stored file: %w", ErrUnreadableContent)
	}
	return string(data), nil
}

// fail marks f failed and returns the ingestion error. The status write
// uses a detached context so a cancelled request still leaves a terminal
// status behind.
func (c *Coordinator) fail(ctx context.Context, f *FileDescriptor, cause error) error {
	ingestionsTotal.WithLabelValues("failed").Inc()

	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()
	if err := c.files.UpdateStatus(statusCtx, f.ID, StatusFailed, 0); err != nil {
		c.logger.Error().Err(err).Str("file_id", f.ID.String()).Msg("failed to mark file as failed")
	} else {
		f.Status = StatusFailed
		f.MessageCount = 0
	}

	c.logger.Error().Err(cause).
		Str("file_id", f.ID.String()).
		Str("stored_name", f.StoredName).
		Str("user_id", f.UserID).
		Msg("ingestion failed, file registered without messages")
	return newError(KindIngestion, "ingest", cause)
}
