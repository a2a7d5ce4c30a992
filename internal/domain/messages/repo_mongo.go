package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/hl7v2"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/mongodb"
)

const (
	filesCollection    = "file_descriptors"
	messagesCollection = "hl7_messages"
)

// MongoIndexes are the indexes the document repositories rely on: unique
// stored names, newest-first listings per user and unique message positions
// per file.
func MongoIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		filesCollection: {
			{Keys: bson.D{{Key: "stored_name", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "seq", Value: -1}}},
		},
		messagesCollection: {
			{
				Keys:    bson.D{{Key: "file_id", Value: 1}, {Key: "message_num_within_file", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}

type fileDoc struct {
	ID           string    `bson:"_id"`
	UserID       string    `bson:"user_id"`
	StoredName   string    `bson:"stored_name"`
	Status       string    `bson:"status"`
	MessageCount int       `bson:"message_count"`
	Size         int64     `bson:"size_bytes"`
	SHA256       string    `bson:"sha256"`
	Seq          int64     `bson:"seq"`
	UploadedAt   time.Time `bson:"uploaded_at"`
}

func (d *fileDoc) toModel() (*FileDescriptor, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("file document id %q: %w", d.ID, err)
	}
	return &FileDescriptor{
		ID:           id,
		UserID:       d.UserID,
		StoredName:   d.StoredName,
		Status:       FileStatus(d.Status),
		MessageCount: d.MessageCount,
		Size:         d.Size,
		SHA256:       d.SHA256,
		Seq:          d.Seq,
		UploadedAt:   d.UploadedAt,
	}, nil
}

type fileRegistryMongo struct {
	db  *mongo.Database
	col *mongo.Collection
	now func() time.Time
}

func NewFileRegistryMongo(db *mongo.Database) FileRegistry {
	return &fileRegistryMongo{db: db, col: db.Collection(filesCollection), now: time.Now}
}

func (r *fileRegistryMongo) Register(ctx context.Context, f *FileDescriptor) error {
	seq, err := mongodb.NextSeq(ctx, r.db, filesCollection)
	if err != nil {
		return err
	}
	if f.Status == "" {
		f.Status = StatusPending
	}
	doc := fileDoc{
		ID:           f.ID.String(),
		UserID:       f.UserID,
		StoredName:   f.StoredName,
		Status:       string(f.Status),
		MessageCount: f.MessageCount,
		Size:         f.Size,
		SHA256:       f.SHA256,
		Seq:          seq,
		UploadedAt:   r.now().UTC().Truncate(time.Millisecond),
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrNameConflict
		}
		return fmt.Errorf("insert file descriptor: %w", err)
	}
	f.Seq = doc.Seq
	f.UploadedAt = doc.UploadedAt
	return nil
}

func (r *fileRegistryMongo) UpdateStatus(ctx context.Context, id uuid.UUID, status FileStatus, messageCount int) error {
	res, err := r.col.UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{
		"status":        string(status),
		"message_count": messageCount,
	}})
	if err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (r *fileRegistryMongo) ListByUser(ctx context.Context, userID string) ([]*FileDescriptor, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	cur, err := r.col.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find files: %w", err)
	}
	defer cur.Close(ctx)

	var items []*FileDescriptor
	for cur.Next(ctx) {
		var doc fileDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode file: %w", err)
		}
		f, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, cur.Err()
}

func (r *fileRegistryMongo) GetForUser(ctx context.Context, userID string, id uuid.UUID) (*FileDescriptor, error) {
	var doc fileDoc
	err := r.col.FindOne(ctx, bson.M{"_id": id.String(), "user_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find file: %w", err)
	}
	return doc.toModel()
}

type messageDoc struct {
	ID                   string       `bson:"_id"`
	FileID               string       `bson:"file_id"`
	MessageNumWithinFile int          `bson:"message_num_within_file"`
	RawMessage           string       `bson:"raw_message"`
	ParsedMessage        []hl7v2.Node `bson:"parsed_message"`
	CreatedAt            time.Time    `bson:"created_at"`
}

func (d *messageDoc) toModel() (*MessageRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("message document id %q: %w", d.ID, err)
	}
	fileID, err := uuid.Parse(d.FileID)
	if err != nil {
		return nil, fmt.Errorf("message document file_id %q: %w", d.FileID, err)
	}
	return &MessageRecord{
		ID:                   id,
		FileID:               fileID,
		MessageNumWithinFile: d.MessageNumWithinFile,
		RawMessage:           d.RawMessage,
		ParsedMessage:        d.ParsedMessage,
		CreatedAt:            d.CreatedAt,
	}, nil
}

type messageRepoMongo struct {
	col *mongo.Collection
	now func() time.Time
}

func NewMessageRepoMongo(db *mongo.Database) MessageRepository {
	return &messageRepoMongo{col: db.Collection(messagesCollection), now: time.Now}
}

// CreateBatch inserts the records with one InsertMany. A standalone server
// has no multi-document transactions, so a failed insert is compensated by
// deleting whatever part of the batch landed.
func (r *messageRepoMongo) CreateBatch(ctx context.Context, records []*MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	createdAt := r.now().UTC().Truncate(time.Millisecond)
	docs := make([]interface{}, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, m := range records {
		doc := messageDoc{
			ID:                   m.ID.String(),
			FileID:               m.FileID.String(),
			MessageNumWithinFile: m.MessageNumWithinFile,
			RawMessage:           m.RawMessage,
			ParsedMessage:        m.ParsedMessage,
			CreatedAt:            createdAt,
		}
		docs = append(docs, doc)
		ids = append(ids, doc.ID)
	}

	if _, err := r.col.InsertMany(ctx, docs); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, delErr := r.col.DeleteMany(cleanupCtx, bson.M{"_id": bson.M{"$in": ids}}); delErr != nil {
			return fmt.Errorf("insert messages: %w (cleanup failed: %v)", err, delErr)
		}
		return fmt.Errorf("insert messages: %w", err)
	}
	for _, m := range records {
		m.CreatedAt = createdAt
	}
	return nil
}

func (r *messageRepoMongo) findOne(ctx context.Context, filter bson.M) (*MessageRecord, error) {
	var doc messageDoc
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return doc.toModel()
}

func (r *messageRepoMongo) GetByID(ctx context.Context, fileID, id uuid.UUID) (*MessageRecord, error) {
	return r.findOne(ctx, bson.M{"_id": id.String(), "file_id": fileID.String()})
}

func (r *messageRepoMongo) GetByIndex(ctx context.Context, fileID uuid.UUID, n int) (*MessageRecord, error) {
	return r.findOne(ctx, bson.M{"file_id": fileID.String(), "message_num_within_file": n})
}
