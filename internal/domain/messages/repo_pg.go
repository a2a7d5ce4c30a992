package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/db"
)

const pgUniqueViolation = "23505"

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type fileRegistryPG struct{ pool *pgxpool.Pool }

func NewFileRegistryPG(pool *pgxpool.Pool) FileRegistry {
	return &fileRegistryPG{pool: pool}
}

func (r *fileRegistryPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const fileCols = `id, user_id, stored_name, status, message_count, size_bytes, sha256, seq, uploaded_at`

func scanFile(row pgx.Row) (*FileDescriptor, error) {
	var f FileDescriptor
	err := row.Scan(&f.ID, &f.UserID, &f.StoredName, &f.Status, &f.MessageCount, &f.Size, &f.SHA256, &f.Seq, &f.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	return &f, err
}

func (r *fileRegistryPG) Register(ctx context.Context, f *FileDescriptor) error {
	if f.Status == "" {
		f.Status = StatusPending
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO file_descriptors (id, user_id, stored_name, status, message_count, size_bytes, sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING seq, uploaded_at`,
		f.ID, f.UserID, f.StoredName, f.Status, f.MessageCount, f.Size, f.SHA256).Scan(&f.Seq, &f.UploadedAt)
	if isUniqueViolation(err) {
		return ErrNameConflict
	}
	return err
}

func (r *fileRegistryPG) UpdateStatus(ctx context.Context, id uuid.UUID, status FileStatus, messageCount int) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE file_descriptors SET status = $2, message_count = $3 WHERE id = $1`,
		id, status, messageCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}

func (r *fileRegistryPG) ListByUser(ctx context.Context, userID string) ([]*FileDescriptor, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+fileCols+` FROM file_descriptors WHERE user_id = $1 ORDER BY seq DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*FileDescriptor
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (r *fileRegistryPG) GetForUser(ctx context.Context, userID string, id uuid.UUID) (*FileDescriptor, error) {
	return scanFile(r.conn(ctx).QueryRow(ctx,
		`SELECT `+fileCols+` FROM file_descriptors WHERE id = $1 AND user_id = $2`, id, userID))
}

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const msgCols = `id, file_id, message_num_within_file, raw_message, parsed_message, created_at`

func scanMessage(row pgx.Row) (*MessageRecord, error) {
	var (
		m      MessageRecord
		parsed []byte
	)
	err := row.Scan(&m.ID, &m.FileID, &m.MessageNumWithinFile, &m.RawMessage, &parsed, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(parsed, &m.ParsedMessage); err != nil {
		return nil, fmt.Errorf("decode parsed_message of %s: %w", m.ID, err)
	}
	return &m, nil
}

// CreateBatch inserts all records in one transaction, joining the caller's
// transaction when ctx carries one.
func (r *messageRepoPG) CreateBatch(ctx context.Context, records []*MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, m := range records {
			parsed, err := json.Marshal(m.ParsedMessage)
			if err != nil {
				return fmt.Errorf("encode message %d: %w", m.MessageNumWithinFile, err)
			}
			batch.Queue(`
				INSERT INTO hl7_messages (id, file_id, message_num_within_file, raw_message, parsed_message)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING created_at`,
				m.ID, m.FileID, m.MessageNumWithinFile, m.RawMessage, parsed)
		}

		br := r.conn(ctx).SendBatch(ctx, batch)
		for _, m := range records {
			if err := br.QueryRow().Scan(&m.CreatedAt); err != nil {
				br.Close()
				return fmt.Errorf("insert message %d: %w", m.MessageNumWithinFile, err)
			}
		}
		return br.Close()
	})
}

func (r *messageRepoPG) GetByID(ctx context.Context, fileID, id uuid.UUID) (*MessageRecord, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+msgCols+` FROM hl7_messages WHERE file_id = $1 AND id = $2`, fileID, id))
}

func (r *messageRepoPG) GetByIndex(ctx context.Context, fileID uuid.UUID, n int) (*MessageRecord, error) {
	return scanMessage(r.conn(ctx).QueryRow(ctx,
		`SELECT `+msgCols+` FROM hl7_messages WHERE file_id = $1 AND message_num_within_file = $2`, fileID, n))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
