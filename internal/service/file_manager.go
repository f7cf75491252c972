package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"Loop/internal/chunker"
	"Loop/internal/chunkstore"
	"Loop/internal/codec"
	"Loop/internal/storage"
	"Loop/model"
	"Loop/utils"
)

// DefaultChunkSize is the fragment ceiling imposed by the backing store's
// per-record size limit, in encoded characters.
const DefaultChunkSize = 500000

// UploadMeta describes one incoming file.
type UploadMeta struct {
	Name      string
	MimeType  string
	OwnerID   string
	OwnerName string
	Scope     model.Scope
}

// UploadInput pairs a payload with its metadata for batch uploads.
type UploadInput struct {
	Payload []byte
	Meta    UploadMeta
}

// UploadResult is the per-file outcome of a batch upload. A failed file
// carries its error and never aborts its siblings.
type UploadResult struct {
	Name   string
	Record *model.FileRecord
	Err    error
}

// CleanupPublisher enqueues orphan cleanup for files whose chunk batch did
// not fully persist or whose upload was abandoned.
type CleanupPublisher interface {
	PublishCleanup(ctx context.Context, fileID, reason string) error
}

// Options tune the upload pipeline; zero values take the defaults the
// reference client used.
type Options struct {
	ChunkSize     int
	ImageMaxWidth int
	ImageQuality  int
}

// FileManager orchestrates the encode-split-store pipeline over injected
// stores so callers and tests can substitute their own.
type FileManager struct {
	records RecordStore
	chunks  chunkstore.Store
	objects storage.Store    // legacy url-backed payloads, may be nil
	cleanup CleanupPublisher // may be nil

	chunkSize     int
	imageMaxWidth int
	imageQuality  int
}

// NewFileManager wires a FileManager.
func NewFileManager(records RecordStore, chunks chunkstore.Store, objects storage.Store, cleanup CleanupPublisher, opts Options) *FileManager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ImageMaxWidth <= 0 {
		opts.ImageMaxWidth = 800
	}
	if opts.ImageQuality <= 0 {
		opts.ImageQuality = 70
	}
	return &FileManager{
		records:       records,
		chunks:        chunks,
		objects:       objects,
		cleanup:       cleanup,
		chunkSize:     opts.ChunkSize,
		imageMaxWidth: opts.ImageMaxWidth,
		imageQuality:  opts.ImageQuality,
	}
}

// Upload stores one file: preprocess images, encode, create a pending
// metadata record, write the fragments, then patch the record with the
// final chunk count. On failure after the stub exists the record is marked
// failed and a cleanup task is enqueued; the stub itself is left for the
// sweep, matching the reference behavior of retrying as a fresh upload.
func (m *FileManager) Upload(ctx context.Context, payload []byte, meta UploadMeta) (*model.FileRecord, error) {
	processed := payload
	if codec.IsImage(meta.MimeType) {
		processed = codec.PreprocessImage(payload, meta.MimeType, m.imageMaxWidth, m.imageQuality)
	}
	encoded := codec.Encode(processed, meta.MimeType)

	record := &model.FileRecord{
		ID:             utils.GetToken(),
		Name:           meta.Name,
		MimeType:       meta.MimeType,
		Size:           int64(len(processed)),
		UploadedBy:     meta.OwnerID,
		UploadedByName: meta.OwnerName,
		StorageType:    model.StorageChunked,
		Status:         model.StatusPending,
	}
	record.SetScope(meta.Scope)

	if err := m.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create file record: %w", err)
	}

	fragments, err := chunker.Split(encoded, m.chunkSize)
	if err != nil {
		m.abandon(ctx, record.ID, err)
		return nil, err
	}

	count, err := m.chunks.WriteChunks(ctx, record.ID, fragments)
	if err != nil {
		m.abandon(ctx, record.ID, err)
		return nil, err
	}

	if err := m.records.Finalize(ctx, record.ID, count); err != nil {
		m.abandon(ctx, record.ID, err)
		return nil, fmt.Errorf("finalize file record: %w", err)
	}
	record.ChunkCount = count
	record.Status = model.StatusReady
	return record, nil
}

// abandon marks a half-written upload as failed and hands its fragments to
// the cleanup pipeline. Best effort: the sweep catches whatever this
// misses.
func (m *FileManager) abandon(ctx context.Context, fileID string, cause error) {
	if err := m.records.MarkFailed(ctx, fileID); err != nil {
		log.Printf("mark file %s failed: %v", fileID, err)
	}
	if m.cleanup == nil {
		return
	}
	if err := m.cleanup.PublishCleanup(ctx, fileID, cause.Error()); err != nil {
		log.Printf("enqueue cleanup for file %s: %v", fileID, err)
	}
}

// UploadMany stores a batch of files independently. One bad file does not
// abort its siblings.
func (m *FileManager) UploadMany(ctx context.Context, files []UploadInput) []UploadResult {
	results := make([]UploadResult, 0, len(files))
	for _, file := range files {
		record, err := m.Upload(ctx, file.Payload, file.Meta)
		if err != nil {
			log.Printf("upload %s: %v", file.Meta.Name, err)
		}
		results = append(results, UploadResult{
			Name:   file.Meta.Name,
			Record: record,
			Err:    err,
		})
	}
	return results
}

// Download reconstructs a file's payload. Chunked records are validated
// against their chunk count before reassembly; legacy records fall back to
// inline data or their external location.
func (m *FileManager) Download(ctx context.Context, fileID string) ([]byte, *model.FileRecord, error) {
	record, err := m.records.Get(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	var payload []byte
	switch record.Variant() {
	case model.StorageInline:
		payload, err = codec.Decode(record.InlineData)
	case model.StorageURL:
		payload, err = m.fetchExternal(ctx, record)
	default:
		payload, err = m.downloadChunked(ctx, record)
	}
	if err != nil {
		return nil, nil, err
	}
	return payload, record, nil
}

func (m *FileManager) downloadChunked(ctx context.Context, record *model.FileRecord) ([]byte, error) {
	if record.Status != model.StatusReady || record.ChunkCount <= 0 {
		return nil, fmt.Errorf("%w: upload of %s never completed", ErrIncompleteFile, record.ID)
	}
	fragments, err := m.chunks.ReadChunks(ctx, record.ID)
	if errors.Is(err, chunkstore.ErrNoChunks) {
		return nil, fmt.Errorf("%w: chunks of %s are gone", ErrFileNotFound, record.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	if len(fragments) != record.ChunkCount {
		return nil, fmt.Errorf("%w: have %d of %d chunks for %s",
			ErrIncompleteFile, len(fragments), record.ChunkCount, record.ID)
	}
	encoded, err := chunker.Join(fragments, record.ChunkCount)
	if err != nil {
		return nil, err
	}
	return codec.Decode(encoded)
}

// fetchExternal retrieves a legacy payload hosted outside the document
// store: a MinIO object when the record names one, a plain URL otherwise.
func (m *FileManager) fetchExternal(ctx context.Context, record *model.FileRecord) ([]byte, error) {
	if record.Bucket != "" && record.Object != "" {
		if m.objects == nil {
			return nil, fmt.Errorf("%w: object storage not configured", ErrNoPayload)
		}
		reader, _, err := m.objects.GetObject(ctx, record.Bucket, record.Object)
		if err != nil {
			return nil, fmt.Errorf("fetch object %s/%s: %w", record.Bucket, record.Object, err)
		}
		defer reader.Close()
		return io.ReadAll(reader)
	}
	if record.URL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoPayload, record.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, record.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", record.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", record.URL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Delete removes a file, fragments first so an interruption leaves a
// reconcilable metadata record rather than ownerless fragments. Deleting
// an already-deleted file succeeds.
func (m *FileManager) Delete(ctx context.Context, fileID string) error {
	record, err := m.records.Get(ctx, fileID)
	if errors.Is(err, ErrFileNotFound) {
		record = nil
	} else if err != nil {
		return err
	}

	if err := m.chunks.DeleteChunks(ctx, fileID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if record != nil && record.Variant() == model.StorageURL &&
		record.Bucket != "" && record.Object != "" && m.objects != nil {
		if err := m.objects.RemoveObject(ctx, record.Bucket, record.Object); err != nil {
			log.Printf("remove legacy object %s/%s: %v", record.Bucket, record.Object, err)
		}
	}
	return m.records.Delete(ctx, fileID)
}

// List returns file metadata for a scope. Metadata only: listing cost is
// independent of how many chunk rows exist.
func (m *FileManager) List(ctx context.Context, scope model.Scope, opts ListOptions) ([]model.FileRecord, int64, error) {
	return m.records.List(ctx, scope, opts)
}
