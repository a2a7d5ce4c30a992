package messages

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Service is the entry point for the HTTP layer: upload then ingest, file
// listings, and scoped message lookups.
type Service struct {
	gate     *UploadGate
	coord    *Coordinator
	files    FileRegistry
	resolver *Resolver
}

func NewService(gate *UploadGate, coord *Coordinator, files FileRegistry, resolver *Resolver) *Service {
	return &Service{
		gate:     gate,
		coord:    coord,
		files:    files,
		resolver: resolver,
	}
}

// Upload admits the file and ingests it. Upload and ingestion are two steps:
// when ingestion fails the file stays registered with status failed.
func (s *Service) Upload(ctx context.Context, up Upload) (*IngestResult, error) {
	f, err := s.gate.Admit(ctx, up)
	if err != nil {
		return nil, err
	}
	return s.coord.Ingest(ctx, f)
}

// ListFiles returns the user's files, newest first. A user without files gets
// an empty, non-nil slice.
func (s *Service) ListFiles(ctx context.Context, userID string) ([]FileView, error) {
	files, err := s.files.ListByUser(ctx, userID)
	if err != nil {
		return nil, newError(KindIngestion, "list files", err)
	}
	views := make([]FileView, 0, len(files))
	for _, f := range files {
		views = append(views, f.View())
	}
	return views, nil
}

// GetFile returns one of the user's files. Malformed ids and files owned by
// someone else are both not found.
func (s *Service) GetFile(ctx context.Context, userID, fileID string) (*FileDetail, error) {
	f, err := s.ownedFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}

	return &FileDetail{FileView: f.View(), Size: f.Size, SHA256: f.SHA256}, nil
}

// GetMessage resolves ref within one of the user's files.
func (s *Service) GetMessage(ctx context.Context, userID, fileID string, ref MessageRef) (*MessageRecord, error) {
	f, err := s.ownedFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	return s.resolver.ResolveRef(ctx, f.ID, ref)
}

func (s *Service) ownedFile(ctx context.Context, userID, fileID string) (*FileDescriptor, error) {
	if !IsIdentifier(fileID) {
		return nil, newError(KindNotFound, "get file", ErrFileNotFound)
	}
	f, err := s.files.GetForUser(ctx, userID, uuid.MustParse(fileID))
	if errors.Is(err, ErrFileNotFound) {
		return nil, newError(KindNotFound, "get file", ErrFileNotFound)
	}
	if err != nil {
		return nil, newError(KindIngestion, "get file", err)
	}
	return f, nil
}
