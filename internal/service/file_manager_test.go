package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"Loop/internal/chunker"
	"Loop/internal/chunkstore"
	"Loop/internal/storage"
	"Loop/model"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opLog records the order of store operations across fakes so tests can
// assert sequencing, like chunks being deleted before their record.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeRecordStore struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord
	log     *opLog
}

func newFakeRecordStore(log *opLog) *fakeRecordStore {
	return &fakeRecordStore{records: map[string]*model.FileRecord{}, log: log}
}

func (s *fakeRecordStore) Create(_ context.Context, record *model.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.ID] = &clone
	s.log.add("record.create %s", record.ID)
	return nil
}

func (s *fakeRecordStore) Get(_ context.Context, fileID string) (*model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	clone := *record
	return &clone, nil
}

func (s *fakeRecordStore) Finalize(_ context.Context, fileID string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[fileID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	record.ChunkCount = chunkCount
	record.Status = model.StatusReady
	s.log.add("record.finalize %s", fileID)
	return nil
}

func (s *fakeRecordStore) MarkFailed(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[fileID]; ok {
		record.Status = model.StatusFailed
	}
	s.log.add("record.markFailed %s", fileID)
	return nil
}

func (s *fakeRecordStore) Delete(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fileID)
	s.log.add("record.delete %s", fileID)
	return nil
}

func (s *fakeRecordStore) List(_ context.Context, scope model.Scope, _ ListOptions) ([]model.FileRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("record.list")
	var out []model.FileRecord
	for _, record := range s.records {
		if record.Status == model.StatusReady && record.Scope() == scope {
			out = append(out, *record)
		}
	}
	return out, int64(len(out)), nil
}

func (s *fakeRecordStore) ListStalePending(_ context.Context, olderThan time.Time, _ int) ([]model.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FileRecord
	for _, record := range s.records {
		if record.Status == model.StatusPending && record.UploadedAt.Before(olderThan) {
			out = append(out, *record)
		}
	}
	return out, nil
}

type fakeChunkStore struct {
	mu     sync.Mutex
	chunks map[string][]chunker.Fragment
	log    *opLog

	writeCalls int
	failOnCall int // 1-based write call that fails, 0 for never
}

func newFakeChunkStore(log *opLog) *fakeChunkStore {
	return &fakeChunkStore{chunks: map[string][]chunker.Fragment{}, log: log}
}

func (s *fakeChunkStore) WriteChunks(_ context.Context, fileID string, fragments []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	s.log.add("chunks.write %s", fileID)
	if s.failOnCall != 0 && s.writeCalls == s.failOnCall {
		// Half the batch made it before the store gave out.
		written := make([]int, 0, len(fragments)/2)
		for i := 0; i < len(fragments)/2; i++ {
			s.chunks[fileID] = append(s.chunks[fileID], chunker.Fragment{Index: i, Data: fragments[i]})
			written = append(written, i)
		}
		return 0, &chunkstore.PartialWriteError{
			FileID:  fileID,
			Written: written,
			Total:   len(fragments),
			Err:     errors.New("store unavailable"),
		}
	}
	for i, data := range fragments {
		s.chunks[fileID] = append(s.chunks[fileID], chunker.Fragment{Index: i, Data: data})
	}
	return len(fragments), nil
}

func (s *fakeChunkStore) ReadChunks(_ context.Context, fileID string) ([]chunker.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.add("chunks.read %s", fileID)
	fragments := s.chunks[fileID]
	if len(fragments) == 0 {
		return nil, fmt.Errorf("%w: %s", chunkstore.ErrNoChunks, fileID)
	}
	return append([]chunker.Fragment(nil), fragments...), nil
}

func (s *fakeChunkStore) CountChunks(_ context.Context, fileID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.chunks[fileID])), nil
}

func (s *fakeChunkStore) DeleteChunks(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, fileID)
	s.log.add("chunks.delete %s", fileID)
	return nil
}

func (s *fakeChunkStore) OrphanFileIDs(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return nil, nil
}

func (s *fakeChunkStore) dropFragment(fileID string, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.chunks[fileID][:0]
	for _, frag := range s.chunks[fileID] {
		if frag.Index != index {
			kept = append(kept, frag)
		}
	}
	s.chunks[fileID] = kept
}

type fakeCleanup struct {
	mu       sync.Mutex
	enqueued []string
}

func (c *fakeCleanup) PublishCleanup(_ context.Context, fileID, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueued = append(c.enqueued, fileID)
	return nil
}

type fakeObjectStore struct {
	objects map[string][]byte // "bucket/object" -> payload
	removed []string
}

func (s *fakeObjectStore) GetObject(_ context.Context, bucket, object string) (io.ReadCloser, storage.ObjectInfo, error) {
	payload, ok := s.objects[bucket+"/"+object]
	if !ok {
		return nil, storage.ObjectInfo{}, fmt.Errorf("object %s/%s not found", bucket, object)
	}
	return io.NopCloser(bytes.NewReader(payload)), storage.ObjectInfo{
		ObjectName: object,
		Size:       int64(len(payload)),
	}, nil
}

func (s *fakeObjectStore) RemoveObject(_ context.Context, bucket, object string) error {
	s.removed = append(s.removed, bucket+"/"+object)
	delete(s.objects, bucket+"/"+object)
	return nil
}

type managerFixture struct {
	manager *FileManager
	records *fakeRecordStore
	chunks  *fakeChunkStore
	cleanup *fakeCleanup
	objects *fakeObjectStore
	log     *opLog
}

func newFixture(opts Options) *managerFixture {
	log := &opLog{}
	f := &managerFixture{
		records: newFakeRecordStore(log),
		chunks:  newFakeChunkStore(log),
		cleanup: &fakeCleanup{},
		objects: &fakeObjectStore{objects: map[string][]byte{}},
		log:     log,
	}
	f.manager = NewFileManager(f.records, f.chunks, f.objects, f.cleanup, opts)
	return f
}

func testMeta(name string) UploadMeta {
	return UploadMeta{
		Name:      name,
		MimeType:  "application/pdf",
		OwnerID:   "user-1",
		OwnerName: "Ada",
		Scope:     model.TeamScope("team-1"),
	}
}

func TestUploadFinalizesAndDownloadsRoundTrip(t *testing.T) {
	f := newFixture(Options{ChunkSize: 10})
	payload := []byte("the quick brown fox jumps over the lazy dog")

	record, err := f.manager.Upload(context.Background(), payload, testMeta("report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, record.Status)
	assert.Equal(t, model.StorageChunked, record.StorageType)
	assert.Equal(t, int64(len(payload)), record.Size)
	assert.Greater(t, record.ChunkCount, 1)

	got, downloaded, err := f.manager.Download(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, "report.pdf", downloaded.Name)

	ops := f.log.list()
	assert.Equal(t, "record.create "+record.ID, ops[0], "pending stub exists before any chunk write")
	assert.Equal(t, "chunks.write "+record.ID, ops[1])
	assert.Equal(t, "record.finalize "+record.ID, ops[2], "count patched only after chunks persist")
}

func TestUploadChunkCountMatchesEncodedLength(t *testing.T) {
	f := newFixture(Options{})
	payload := make([]byte, 1200*1024)
	rand.New(rand.NewSource(7)).Read(payload)

	record, err := f.manager.Upload(context.Background(), payload, testMeta("video.bin"))
	require.NoError(t, err)

	// Fragments cover the encoded text, not the raw bytes: base64 plus the
	// data-URI header inflate a 1.2MB payload past three fragments.
	encodedLen := len("data:application/pdf;base64,") + base64.StdEncoding.EncodedLen(len(payload))
	wantChunks := (encodedLen + DefaultChunkSize - 1) / DefaultChunkSize
	assert.Equal(t, wantChunks, record.ChunkCount)

	got, _, err := f.manager.Download(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUploadEmptyPayload(t *testing.T) {
	f := newFixture(Options{})

	record, err := f.manager.Upload(context.Background(), nil, testMeta("empty.txt"))
	require.NoError(t, err)
	assert.Equal(t, 1, record.ChunkCount, "the data-URI envelope itself still needs one fragment")

	got, _, err := f.manager.Download(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUploadManyIsolatesFailures(t *testing.T) {
	f := newFixture(Options{ChunkSize: 10})
	f.chunks.failOnCall = 2

	results := f.manager.UploadMany(context.Background(), []UploadInput{
		{Payload: []byte("first file contents"), Meta: testMeta("a.txt")},
		{Payload: []byte("second file contents"), Meta: testMeta("b.txt")},
		{Payload: []byte("third file contents"), Meta: testMeta("c.txt")},
	})
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Equal(t, model.StatusReady, results[0].Record.Status)

	require.Error(t, results[1].Err)
	var partial *chunkstore.PartialWriteError
	require.ErrorAs(t, results[1].Err, &partial)
	assert.NotEmpty(t, partial.Written)

	require.NoError(t, results[2].Err, "a failed sibling never aborts the batch")

	// The failed file's stub is marked failed and queued for cleanup.
	failed, err := f.records.Get(context.Background(), partial.FileID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, []string{partial.FileID}, f.cleanup.enqueued)
}

func TestDownloadMissingRecord(t *testing.T) {
	f := newFixture(Options{})
	_, _, err := f.manager.Download(context.Background(), "no-such-file")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDownloadPendingRecord(t *testing.T) {
	f := newFixture(Options{})
	record := &model.FileRecord{ID: "pending-1", StorageType: model.StorageChunked, Status: model.StatusPending}
	require.NoError(t, f.records.Create(context.Background(), record))

	_, _, err := f.manager.Download(context.Background(), "pending-1")
	assert.ErrorIs(t, err, ErrIncompleteFile)
}

func TestDownloadMissingFragment(t *testing.T) {
	f := newFixture(Options{ChunkSize: 10})
	record, err := f.manager.Upload(context.Background(), []byte("a payload long enough for five or more chunks"), testMeta("gap.txt"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, record.ChunkCount, 5)

	f.chunks.dropFragment(record.ID, 3)

	_, _, err = f.manager.Download(context.Background(), record.ID)
	assert.ErrorIs(t, err, ErrIncompleteFile)
}

func TestDownloadAllChunksGone(t *testing.T) {
	f := newFixture(Options{ChunkSize: 10})
	record, err := f.manager.Upload(context.Background(), []byte("short payload"), testMeta("gone.txt"))
	require.NoError(t, err)

	require.NoError(t, f.chunks.DeleteChunks(context.Background(), record.ID))

	_, _, err = f.manager.Download(context.Background(), record.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestDownloadLegacyInline(t *testing.T) {
	f := newFixture(Options{})
	payload := []byte("inline legacy payload")
	record := &model.FileRecord{
		ID:          "legacy-inline",
		Name:        "old.txt",
		MimeType:    "text/plain",
		StorageType: model.StorageInline,
		Status:      model.StatusReady,
		InlineData:  "data:text/plain;base64," + base64.StdEncoding.EncodeToString(payload),
	}
	require.NoError(t, f.records.Create(context.Background(), record))

	got, _, err := f.manager.Download(context.Background(), "legacy-inline")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadLegacyObject(t *testing.T) {
	f := newFixture(Options{})
	payload := []byte("object storage payload")
	f.objects.objects["legacy/docs/old.doc"] = payload
	record := &model.FileRecord{
		ID:          "legacy-url",
		Name:        "old.doc",
		StorageType: model.StorageURL,
		Status:      model.StatusReady,
		Bucket:      "legacy",
		Object:      "docs/old.doc",
	}
	require.NoError(t, f.records.Create(context.Background(), record))

	got, _, err := f.manager.Download(context.Background(), "legacy-url")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadLegacyURLWithoutLocation(t *testing.T) {
	f := newFixture(Options{})
	record := &model.FileRecord{
		ID:          "legacy-empty",
		StorageType: model.StorageURL,
		Status:      model.StatusReady,
	}
	require.NoError(t, f.records.Create(context.Background(), record))

	_, _, err := f.manager.Download(context.Background(), "legacy-empty")
	assert.ErrorIs(t, err, ErrNoPayload)
}

func TestDeleteIdempotentAndChunksFirst(t *testing.T) {
	f := newFixture(Options{ChunkSize: 10})
	record, err := f.manager.Upload(context.Background(), []byte("delete me twice"), testMeta("bye.txt"))
	require.NoError(t, err)

	require.NoError(t, f.manager.Delete(context.Background(), record.ID))
	require.NoError(t, f.manager.Delete(context.Background(), record.ID), "second delete still succeeds")

	_, _, err = f.manager.Download(context.Background(), record.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)

	ops := f.log.list()
	chunkDelete, recordDelete := -1, -1
	for i, op := range ops {
		switch op {
		case "chunks.delete " + record.ID:
			if chunkDelete == -1 {
				chunkDelete = i
			}
		case "record.delete " + record.ID:
			if recordDelete == -1 {
				recordDelete = i
			}
		}
	}
	require.NotEqual(t, -1, chunkDelete)
	require.NotEqual(t, -1, recordDelete)
	assert.Less(t, chunkDelete, recordDelete, "fragments go before their record")
}

func TestDeleteRemovesLegacyObject(t *testing.T) {
	f := newFixture(Options{})
	f.objects.objects["legacy/img/pic.png"] = []byte("pixels")
	record := &model.FileRecord{
		ID:          "legacy-del",
		StorageType: model.StorageURL,
		Status:      model.StatusReady,
		Bucket:      "legacy",
		Object:      "img/pic.png",
	}
	require.NoError(t, f.records.Create(context.Background(), record))

	require.NoError(t, f.manager.Delete(context.Background(), "legacy-del"))
	assert.Equal(t, []string{"legacy/img/pic.png"}, f.objects.removed)
}

func TestListIsMetadataOnly(t *testing.T) {
	f := newFixture(Options{ChunkSize: 10})
	_, err := f.manager.Upload(context.Background(), []byte("listed file body"), testMeta("list.txt"))
	require.NoError(t, err)

	records, total, err := f.manager.List(context.Background(), model.TeamScope("team-1"), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, records, 1)

	for _, op := range f.log.list() {
		assert.NotContains(t, op, "chunks.read", "listing must not read chunk rows")
	}
}

func TestUploadImageIsDownscaled(t *testing.T) {
	f := newFixture(Options{ImageMaxWidth: 800, ImageQuality: 70})

	img := image.NewRGBA(image.Rect(0, 0, 2000, 1000))
	for x := 0; x < 2000; x += 10 {
		for y := 0; y < 1000; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	meta := testMeta("photo.png")
	meta.MimeType = "image/png"
	record, err := f.manager.Upload(context.Background(), buf.Bytes(), meta)
	require.NoError(t, err)
	assert.Equal(t, "image/png", record.MimeType, "declared type survives recompression")

	payload, _, err := f.manager.Download(context.Background(), record.ID)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, 800, decoded.Bounds().Dx())
	assert.Equal(t, 400, decoded.Bounds().Dy())
}
