package messages

import (
	"context"

	"github.com/google/uuid"
)

// FileRegistry stores file descriptors per user. Implementations return
// ErrNameConflict when the stored name is taken and ErrFileNotFound for
// unknown or foreign files.
type FileRegistry interface {
	// Register persists f, assigning Seq and UploadedAt.
	Register(ctx context.Context, f *FileDescriptor) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status FileStatus, messageCount int) error
	ListByUser(ctx context.Context, userID string) ([]*FileDescriptor, error)
	GetForUser(ctx context.Context, userID string, id uuid.UUID) (*FileDescriptor, error)
}

// MessageRepository stores message records. CreateBatch is all or nothing.
// Lookups are scoped to a file and return ErrMessageNotFound on a miss.
type MessageRepository interface {
	CreateBatch(ctx context.Context, records []*MessageRecord) error
	GetByID(ctx context.Context, fileID, id uuid.UUID) (*MessageRecord, error)
	GetByIndex(ctx context.Context, fileID uuid.UUID, n int) (*MessageRecord, error)
}
