package messages

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/hl7v2"
)

// FileStatus tracks whether the messages of an uploaded file were stored.
type FileStatus string

const (
	StatusPending  FileStatus = "pending"
	StatusIngested FileStatus = "ingested"
	StatusFailed   FileStatus = "failed"
)

// FileDescriptor is the registered record of one uploaded file. Listings are
// ordered by Seq, newest first. Size and SHA256 describe the stored bytes and
// are recorded once at admission.
type FileDescriptor struct {
	ID           uuid.UUID  `json:"id"`
	UserID       string     `json:"-"`
	StoredName   string     `json:"-"`
	Status       FileStatus `json:"status"`
	MessageCount int        `json:"messageCount"`
	Size         int64      `json:"-"`
	SHA256       string     `json:"-"`
	Seq          int64      `json:"-"`
	UploadedAt   time.Time  `json:"uploadedAt"`
}

// Filename returns the stored name without any directory prefix.
func (f *FileDescriptor) Filename() string {
	return baseName(f.StoredName)
}

// FileView is the JSON shape of a file in listings.
type FileView struct {
	ID           uuid.UUID  `json:"id"`
	Filename     string     `json:"filename"`
	Status       FileStatus `json:"status"`
	MessageCount int        `json:"messageCount"`
	UploadedAt   time.Time  `json:"uploadedAt"`
}

func (f *FileDescriptor) View() FileView {
	return FileView{
		ID:           f.ID,
		Filename:     f.Filename(),
		Status:       f.Status,
		MessageCount: f.MessageCount,
		UploadedAt:   f.UploadedAt,
	}
}

// FileDetail adds the stored file's size and checksum to a FileView.
type FileDetail struct {
	FileView
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// MessageRecord is one message of a file, raw and parsed. Records are never
// updated after creation.
type MessageRecord struct {
	ID                   uuid.UUID    `json:"id"`
	FileID               uuid.UUID    `json:"fileId"`
	MessageNumWithinFile int          `json:"messageNumWithinFile"`
	RawMessage           string       `json:"rawMessage"`
	ParsedMessage        []hl7v2.Node `json:"parsedMessage"`
	CreatedAt            time.Time    `json:"createdAt"`
}

// baseName strips everything up to the last slash or backslash, so client
// supplied names like C:\dir\batch.txt keep only batch.txt.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
