package messages

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/blobstore"
)

// AcceptedExtension is the only file suffix accepted for upload. The match
// is case-sensitive.
const AcceptedExtension = ".txt"

// MaxFileNameLength bounds the stored name in bytes. It matches the
// stored_name column and the usual filesystem NAME_MAX.
const MaxFileNameLength = 255

// Upload is an incoming file. A nil Content means no file was sent.
type Upload struct {
	UserID   string
	FileName string
	Content  []byte
}

// UploadGate admits uploads: it applies the name policy, stores the bytes
// and registers the file against the uploader.
type UploadGate struct {
	blobs  blobstore.BlobStore
	files  FileRegistry
	logger zerolog.Logger
}

func NewUploadGate(blobs blobstore.BlobStore, files FileRegistry, logger zerolog.Logger) *UploadGate {
	return &UploadGate{blobs: blobs, files: files, logger: logger}
}

// Admit stores the upload under its base name and registers a pending
// FileDescriptor. The blob is created with create-if-absent semantics, so of
// two concurrent uploads with the same name exactly one wins and the other
// gets ErrNameConflict.
func (g *UploadGate) Admit(ctx context.Context, up Upload) (*FileDescriptor, error) {
	const op = "admit"

	name := baseName(strings.TrimSpace(up.FileName))
	if up.Content == nil || name == "" {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, newError(KindAdmission, op, ErrMissingFile)
	}
	if !strings.HasSuffix(name, AcceptedExtension) {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, newError(KindAdmission, op, ErrUnsupportedType)
	}
	if len(name) > MaxFileNameLength {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, newError(KindAdmission, op, ErrNameTooLong)
	}
	// NUL is valid UTF-8 but cannot be stored in Postgres TEXT or JSONB.
	if !utf8.Valid(up.Content) || bytes.IndexByte(up.Content, 0) >= 0 {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, newError(KindAdmission, op, ErrUnreadableContent)
	}

	meta, err := g.blobs.Create(ctx, name, bytes.NewReader(up.Content))
	if err != nil {
		switch {
		case errors.Is(err, blobstore.ErrBlobExists):
			uploadsTotal.WithLabelValues("conflict").Inc()
			return nil, newError(KindAdmission, op, ErrNameConflict)
		case errors.Is(err, blobstore.ErrInvalidName):
			uploadsTotal.WithLabelValues("rejected").Inc()
			return nil, newError(KindAdmission, op, ErrUnsupportedType)
		case errors.Is(err, blobstore.ErrFileTooLarge):
			uploadsTotal.WithLabelValues("rejected").Inc()
			return nil, newError(KindAdmission, op, ErrUnreadableContent)
		default:
			uploadsTotal.WithLabelValues("error").Inc()
			return nil, newError(KindIngestion, op, err)
		}
	}

	f := &FileDescriptor{
		ID:         uuid.New(),
		UserID:     up.UserID,
		StoredName: name,
		Status:     StatusPending,
		Size:       meta.Size,
		SHA256:     meta.Hash,
	}
	if err := g.files.Register(ctx, f); err != nil {
		g.discardBlob(ctx, name)
		if errors.Is(err, ErrNameConflict) {
			uploadsTotal.WithLabelValues("conflict").Inc()
			return nil, newError(KindAdmission, op, ErrNameConflict)
		}
		uploadsTotal.WithLabelValues("error").Inc()
		g.logger.Error().Err(err).
			Str("user_id", up.UserID).
			Str("stored_name", name).
			Msg("file registration failed, stored blob removed")
		return nil, newError(KindIngestion, op, err)
	}

	uploadsTotal.WithLabelValues("accepted").Inc()
	g.logger.Info().
		Str("user_id", up.UserID).
		Str("file_id", f.ID.String()).
		Str("stored_name", name).
		Int("bytes", len(up.Content)).
		Msg("upload admitted")
	return f, nil
}

func (g *UploadGate) discardBlob(ctx context.Context, name string) {
	if err := g.blobs.Delete(context.WithoutCancel(ctx), name); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		g.logger.Error().Err(err).Str("stored_name", name).Msg("failed to remove orphaned blob")
	}
}
