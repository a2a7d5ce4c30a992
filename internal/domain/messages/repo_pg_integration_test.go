package messages

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/db"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/hl7v2"
	"github.com/amida-tech/hl7-telescoper-api-server/migrations"
)

// testSchema is not public, so the repositories only find their tables
// through the pool's search_path.
const testSchema = "hl7"

// setupTestPool starts PostgreSQL in a container and applies the migrations
// to testSchema. Set TEST_INTEGRATION to run.
func setupTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		postgres.WithDatabase("telescoper_test"),
		postgres.WithUsername("telescoper"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, Schema: testSchema, MaxConns: 4, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	migrator := db.NewMigrator(pool, migrations.FS)
	require.Equal(t, testSchema, migrator.Schema())
	applied, err := migrator.Up(ctx)
	require.NoError(t, err)
	require.Positive(t, applied)

	statuses, err := migrator.Status(ctx)
	require.NoError(t, err)
	for _, st := range statuses {
		require.True(t, st.Applied, st.Name)
	}
	again, err := migrator.Up(ctx)
	require.NoError(t, err)
	require.Zero(t, again)
	return pool
}

func TestPG_FileRegistry(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	files := NewFileRegistryPG(pool)

	first := &FileDescriptor{ID: uuid.New(), UserID: "u1", StoredName: "first.txt", Status: StatusPending,
		Size: 42, SHA256: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"}
	require.NoError(t, files.Register(ctx, first))
	assert.NotZero(t, first.Seq)
	assert.False(t, first.UploadedAt.IsZero())

	stored, err := files.GetForUser(ctx, "u1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Size, stored.Size)
	assert.Equal(t, first.SHA256, stored.SHA256)

	second := &FileDescriptor{ID: uuid.New(), UserID: "u1", StoredName: "second.txt", Status: StatusPending}
	require.NoError(t, files.Register(ctx, second))

	dup := &FileDescriptor{ID: uuid.New(), UserID: "u2", StoredName: "first.txt", Status: StatusPending}
	assert.ErrorIs(t, files.Register(ctx, dup), ErrNameConflict)

	require.NoError(t, files.UpdateStatus(ctx, first.ID, StatusIngested, 3))

	list, err := files.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Equal(t, StatusIngested, list[1].Status)
	assert.Equal(t, 3, list[1].MessageCount)

	empty, err := files.ListByUser(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = files.GetForUser(ctx, "u2", first.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestPG_MessageRepository(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	files := NewFileRegistryPG(pool)
	repo := NewMessageRepoPG(pool)

	f := &FileDescriptor{ID: uuid.New(), UserID: "u1", StoredName: "batch.txt", Status: StatusPending}
	require.NoError(t, files.Register(ctx, f))

	engine := hl7v2.NewEngine()
	var records []*MessageRecord
	for i, raw := range []string{msgA, msgB, msgC} {
		tree, err := engine.Parse(raw)
		require.NoError(t, err)
		records = append(records, &MessageRecord{
			ID:                   uuid.New(),
			FileID:               f.ID,
			MessageNumWithinFile: i,
			RawMessage:           raw,
			ParsedMessage:        tree.Children,
		})
	}
	require.NoError(t, repo.CreateBatch(ctx, records))

	for i, want := range records {
		byIndex, err := repo.GetByIndex(ctx, f.ID, i)
		require.NoError(t, err)
		byID, err := repo.GetByID(ctx, f.ID, want.ID)
		require.NoError(t, err)

		assert.Equal(t, want.ID, byIndex.ID)
		assert.Equal(t, want.RawMessage, byIndex.RawMessage)
		assert.Equal(t, want.ParsedMessage, byIndex.ParsedMessage)
		assert.Equal(t, byIndex.ID, byID.ID)
	}

	_, err := repo.GetByIndex(ctx, f.ID, 3)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = repo.GetByID(ctx, uuid.New(), records[0].ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestPG_MessageRepository_BatchIsAtomic(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	files := NewFileRegistryPG(pool)
	repo := NewMessageRepoPG(pool)

	f := &FileDescriptor{ID: uuid.New(), UserID: "u1", StoredName: "atomic.txt", Status: StatusPending}
	require.NoError(t, files.Register(ctx, f))

	// The second record repeats position 0 and violates the unique key.
	records := []*MessageRecord{
		{ID: uuid.New(), FileID: f.ID, MessageNumWithinFile: 0, RawMessage: msgA},
		{ID: uuid.New(), FileID: f.ID, MessageNumWithinFile: 0, RawMessage: msgB},
	}
	require.Error(t, repo.CreateBatch(ctx, records))

	_, err := repo.GetByIndex(ctx, f.ID, 0)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}
