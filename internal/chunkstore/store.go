package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"Loop/internal/chunker"
	"Loop/model"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// ErrNoChunks reports that a file has no fragment rows at all.
var ErrNoChunks = errors.New("chunkstore: no chunks for file")

// PartialWriteError reports a chunk batch that did not fully persist.
// Written holds the indices that made it to the store so the caller can
// retry or clean up the orphaned fragments.
type PartialWriteError struct {
	FileID  string
	Written []int
	Total   int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("chunkstore: wrote %d of %d chunks for file %s: %v",
		len(e.Written), e.Total, e.FileID, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// Store persists a file's ordered fragments as independently addressable
// records keyed by (fileID, chunkIndex).
type Store interface {
	// WriteChunks writes every fragment as its own record, concurrently and
	// in no particular order. It returns the fragment count on success; any
	// failure surfaces as *PartialWriteError.
	WriteChunks(ctx context.Context, fileID string, fragments []string) (int, error)
	// ReadChunks returns all fragments for a file ascending by index.
	ReadChunks(ctx context.Context, fileID string) ([]chunker.Fragment, error)
	// CountChunks returns the number of fragment records for a file.
	CountChunks(ctx context.Context, fileID string) (int64, error)
	// DeleteChunks removes every fragment for a file. Deleting a file with
	// no fragments is a no-op, never an error.
	DeleteChunks(ctx context.Context, fileID string) error
	// OrphanFileIDs lists file ids that own fragments older than the cutoff
	// but have no file record, for the reconciliation sweep.
	OrphanFileIDs(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// GormStore stores fragments as rows in the file_chunk table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore builds a Store over a gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// WriteChunks issues one insert per fragment through an errgroup. The
// batch is all-or-nothing from the caller's perspective even though the
// store has no multi-record transaction: on any failure the successfully
// written indices are reported back instead of a finalized count.
func (s *GormStore) WriteChunks(ctx context.Context, fileID string, fragments []string) (int, error) {
	total := len(fragments)
	var (
		mu      sync.Mutex
		written []int
	)
	g, gctx := errgroup.WithContext(ctx)
	for index, data := range fragments {
		index, data := index, data
		g.Go(func() error {
			chunk := &model.FileChunk{
				FileID:      fileID,
				ChunkIndex:  index,
				Data:        data,
				TotalChunks: total,
			}
			if err := s.db.WithContext(gctx).Create(chunk).Error; err != nil {
				return fmt.Errorf("chunk %d: %w", index, err)
			}
			mu.Lock()
			written = append(written, index)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sort.Ints(written)
		return 0, &PartialWriteError{FileID: fileID, Written: written, Total: total, Err: err}
	}
	return total, nil
}

// ReadChunks fetches every fragment row for a file ordered by index.
func (s *GormStore) ReadChunks(ctx context.Context, fileID string) ([]chunker.Fragment, error) {
	var chunks []model.FileChunk
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoChunks, fileID)
	}
	fragments := make([]chunker.Fragment, 0, len(chunks))
	for _, chunk := range chunks {
		fragments = append(fragments, chunker.Fragment{
			Index: chunk.ChunkIndex,
			Data:  chunk.Data,
		})
	}
	return fragments, nil
}

// CountChunks returns the number of fragment rows for a file.
func (s *GormStore) CountChunks(ctx context.Context, fileID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.FileChunk{}).
		Where("file_id = ?", fileID).
		Count(&count).Error
	return count, err
}

// DeleteChunks removes all fragment rows for a file.
func (s *GormStore) DeleteChunks(ctx context.Context, fileID string) error {
	return s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Delete(&model.FileChunk{}).Error
}

// OrphanFileIDs returns distinct file ids that have fragment rows older
// than the cutoff but no owning file record.
func (s *GormStore) OrphanFileIDs(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var fileIDs []string
	err := s.db.WithContext(ctx).
		Model(&model.FileChunk{}).
		Distinct("file_id").
		Where("created_at < ?", olderThan).
		Where("file_id NOT IN (?)",
			s.db.Model(&model.FileRecord{}).Select("id"),
		).
		Limit(limit).
		Pluck("file_id", &fileIDs).Error
	return fileIDs, err
}
