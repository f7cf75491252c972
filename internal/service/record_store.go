package service

import (
	"errors"
	"fmt"
	"time"

	"Loop/model"
	"Loop/utils"

	"golang.org/x/net/context"
	"gorm.io/gorm"
)

const fileRecordCacheTTL = 5 * time.Minute

// ListOptions narrows and orders a metadata listing.
type ListOptions struct {
	Query     string // name substring, empty for no filter
	OrderBy   string // uploaded_at, name or size; uploaded_at if empty
	OrderDesc bool
	Page      int
	PageSize  int
}

// RecordStore owns file metadata records. Listing operates on metadata
// only and never touches chunk rows.
type RecordStore interface {
	Create(ctx context.Context, record *model.FileRecord) error
	Get(ctx context.Context, fileID string) (*model.FileRecord, error)
	// Finalize patches the chunk count and flips the record to ready. Until
	// it runs the record stays pending and invisible to listings.
	Finalize(ctx context.Context, fileID string, chunkCount int) error
	MarkFailed(ctx context.Context, fileID string) error
	// Delete removes the record; deleting an absent record is a no-op.
	Delete(ctx context.Context, fileID string) error
	List(ctx context.Context, scope model.Scope, opts ListOptions) ([]model.FileRecord, int64, error)
	// ListStalePending returns pending records older than the cutoff, for
	// the reconciliation sweep.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.FileRecord, error)
}

// GormRecordStore keeps records in MySQL with a Redis look-aside cache
// for single-record reads.
type GormRecordStore struct {
	db    *gorm.DB
	cache utils.Cache
}

// NewGormRecordStore builds a RecordStore. The cache may be nil.
func NewGormRecordStore(db *gorm.DB, cache utils.Cache) *GormRecordStore {
	return &GormRecordStore{db: db, cache: cache}
}

func recordCacheKey(fileID string) string {
	return "file:record:" + fileID
}

func (s *GormRecordStore) invalidate(ctx context.Context, fileID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, recordCacheKey(fileID))
}

// Create inserts a new metadata record.
func (s *GormRecordStore) Create(ctx context.Context, record *model.FileRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// Get reads one record, via cache when possible.
func (s *GormRecordStore) Get(ctx context.Context, fileID string) (*model.FileRecord, error) {
	if s.cache != nil {
		var cached model.FileRecord
		if err := s.cache.Get(ctx, recordCacheKey(fileID), &cached); err == nil && cached.ID != "" {
			return &cached, nil
		}
	}
	var record model.FileRecord
	err := s.db.WithContext(ctx).Where("id = ?", fileID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, recordCacheKey(fileID), &record, fileRecordCacheTTL)
	}
	return &record, nil
}

// Finalize patches the chunk count and marks the record ready.
func (s *GormRecordStore) Finalize(ctx context.Context, fileID string, chunkCount int) error {
	result := s.db.WithContext(ctx).
		Model(&model.FileRecord{}).
		Where("id = ?", fileID).
		Updates(map[string]interface{}{
			"chunk_count": chunkCount,
			"status":      model.StatusReady,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	s.invalidate(ctx, fileID)
	return nil
}

// MarkFailed flips the record to failed so readers can tell a dead upload
// from one still in flight.
func (s *GormRecordStore) MarkFailed(ctx context.Context, fileID string) error {
	err := s.db.WithContext(ctx).
		Model(&model.FileRecord{}).
		Where("id = ?", fileID).
		Update("status", model.StatusFailed).Error
	if err != nil {
		return err
	}
	s.invalidate(ctx, fileID)
	return nil
}

// Delete removes the metadata record.
func (s *GormRecordStore) Delete(ctx context.Context, fileID string) error {
	err := s.db.WithContext(ctx).
		Where("id = ?", fileID).
		Delete(&model.FileRecord{}).Error
	if err != nil {
		return err
	}
	s.invalidate(ctx, fileID)
	return nil
}

// sanitizeOrderBy maps caller sort keys onto columns. Anything else falls
// back to upload time.
func sanitizeOrderBy(orderBy string) string {
	switch orderBy {
	case "name":
		return "name"
	case "size":
		return "size"
	case "date", "uploaded_at", "":
		return "uploaded_at"
	default:
		return "uploaded_at"
	}
}

func scopeQuery(db *gorm.DB, scope model.Scope) *gorm.DB {
	if scope.Type == model.ScopeDirect {
		return db.Where(
			"scope_type = ? AND participant_a = ? AND participant_b = ?",
			model.ScopeDirect, scope.Participants[0], scope.Participants[1],
		)
	}
	return db.Where("scope_type = ? AND team_id = ?", model.ScopeTeam, scope.TeamID)
}

// List returns ready records in a scope, filtered and ordered over
// metadata columns only.
func (s *GormRecordStore) List(ctx context.Context, scope model.Scope, opts ListOptions) ([]model.FileRecord, int64, error) {
	query := scopeQuery(
		s.db.WithContext(ctx).Model(&model.FileRecord{}), scope,
	).Where("status = ?", model.StatusReady)

	if opts.Query != "" {
		query = query.Where("name LIKE ?", fmt.Sprintf("%%%s%%", opts.Query))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := sanitizeOrderBy(opts.OrderBy)
	if opts.OrderDesc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	var records []model.FileRecord
	err := query.Order(order).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListStalePending returns pending records created before the cutoff.
func (s *GormRecordStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]model.FileRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []model.FileRecord
	err := s.db.WithContext(ctx).
		Where("status = ? AND uploaded_at < ?", model.StatusPending, olderThan).
		Limit(limit).
		Find(&records).Error
	return records, err
}
