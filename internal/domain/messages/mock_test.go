package messages

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/blobstore"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/hl7v2"
)

// -- Mock Repositories --

type mockFileRegistry struct {
	mu          sync.Mutex
	files       map[uuid.UUID]*FileDescriptor
	seq         int64
	registerErr error
	updateErr   error
	listErr     error
	updates     []FileStatus
}

func newMockFileRegistry() *mockFileRegistry {
	return &mockFileRegistry{files: make(map[uuid.UUID]*FileDescriptor)}
}

func (m *mockFileRegistry) Register(_ context.Context, f *FileDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	for _, existing := range m.files {
		if existing.StoredName == f.StoredName {
			return ErrNameConflict
		}
	}
	m.seq++
	f.Seq = m.seq
	f.UploadedAt = time.Now().UTC()
	cp := *f
	m.files[f.ID] = &cp
	return nil
}

func (m *mockFileRegistry) UpdateStatus(_ context.Context, id uuid.UUID, status FileStatus, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, status)
	if m.updateErr != nil {
		return m.updateErr
	}
	f, ok := m.files[id]
	if !ok {
		return ErrFileNotFound
	}
	f.Status = status
	f.MessageCount = count
	return nil
}

func (m *mockFileRegistry) ListByUser(_ context.Context, userID string) ([]*FileDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*FileDescriptor
	for _, f := range m.files {
		if f.UserID == userID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

func (m *mockFileRegistry) GetForUser(_ context.Context, userID string, id uuid.UUID) (*FileDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.UserID != userID {
		return nil, ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *mockFileRegistry) get(id uuid.UUID) *FileDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[id]
}

type mockMessageRepo struct {
	mu           sync.Mutex
	records      []*MessageRecord
	createErr    error
	getErr       error
	byIDCalls    int
	byIndexCalls int
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{}
}

func (m *mockMessageRepo) CreateBatch(_ context.Context, records []*MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	now := time.Now().UTC()
	for _, r := range records {
		r.CreatedAt = now
	}
	m.records = append(m.records, records...)
	return nil
}

func (m *mockMessageRepo) GetByID(_ context.Context, fileID, id uuid.UUID) (*MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIDCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, r := range m.records {
		if r.FileID == fileID && r.ID == id {
			return r, nil
		}
	}
	return nil, ErrMessageNotFound
}

func (m *mockMessageRepo) GetByIndex(_ context.Context, fileID uuid.UUID, n int) (*MessageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIndexCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, r := range m.records {
		if r.FileID == fileID && r.MessageNumWithinFile == n {
			return r, nil
		}
	}
	return nil, ErrMessageNotFound
}

func (m *mockMessageRepo) forFile(fileID uuid.UUID) []*MessageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*MessageRecord
	for _, r := range m.records {
		if r.FileID == fileID {
			out = append(out, r)
		}
	}
	return out
}

func (m *mockMessageRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byIDCalls + m.byIndexCalls
}

// failingParser rejects any message containing bad.
type failingParser struct {
	bad string
}

func (p failingParser) Parse(raw string) (*hl7v2.Tree, error) {
	if strings.Contains(raw, p.bad) {
		return nil, errors.New("parse failure")
	}
	return hl7v2.NewEngine().Parse(raw)
}

// -- Fixture --

type fixture struct {
	blobs    *blobstore.InMemoryBlobStore
	files    *mockFileRegistry
	messages *mockMessageRepo
	cache    *Cache
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithParser(t, hl7v2.NewEngine())
}

func newFixtureWithParser(t *testing.T, parser hl7v2.Parser) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &fixture{
		blobs:    blobstore.NewInMemoryBlobStore(),
		files:    newMockFileRegistry(),
		messages: newMockMessageRepo(),
		cache:    NewCache(64, time.Minute),
	}
	gate := NewUploadGate(f.blobs, f.files, logger)
	coord := NewCoordinator(f.blobs, f.files, f.messages, parser, logger)
	resolver := NewResolver(f.messages, f.cache)
	f.svc = NewService(gate, coord, f.files, resolver)
	return f
}

const (
	msgA = "MSH|^~\\&|LAB|FAC|EHR|FAC|20240115||ORU^R01|A1|P|2.5.1\nPID|1||111"
	msgB = "MSH|^~\\&|LAB|FAC|EHR|FAC|20240116||ADT^A01|B1|P|2.5.1\nPID|1||222"
	msgC = "MSH|^~\\&|LAB|FAC|EHR|FAC|20240117||ADT^A08|C1|P|2.5.1\nPID|1||333"
)

func batch(msgs ...string) []byte {
	return []byte(strings.Join(msgs, "\n\n"))
}
