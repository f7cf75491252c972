package chunkstore

import (
	"context"
	"os"
	"testing"
	"time"

	"Loop/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormMysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB connects to the database named by LOOP_TEST_DSN, e.g.
// root:root@tcp(localhost:3306)/loop_test?charset=utf8mb4&parseTime=True
// Tests are skipped when the variable is unset.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("LOOP_TEST_DSN")
	if dsn == "" {
		t.Skip("LOOP_TEST_DSN not set")
	}
	db, err := gorm.Open(gormMysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.FileRecord{}, &model.FileChunk{}))
	return db
}

func cleanupFile(t *testing.T, db *gorm.DB, fileID string) {
	t.Helper()
	t.Cleanup(func() {
		db.Where("file_id = ?", fileID).Delete(&model.FileChunk{})
		db.Where("id = ?", fileID).Delete(&model.FileRecord{})
	})
}

func TestWriteReadDeleteChunks(t *testing.T) {
	db := testDB(t)
	store := NewGormStore(db)
	ctx := context.Background()
	fileID := uuid.NewString()
	cleanupFile(t, db, fileID)

	count, err := store.WriteChunks(ctx, fileID, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	fragments, err := store.ReadChunks(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, fragments, 3)
	for i, frag := range fragments {
		assert.Equal(t, i, frag.Index, "fragments come back ascending by index")
	}
	assert.Equal(t, "alpha", fragments[0].Data)
	assert.Equal(t, "gamma", fragments[2].Data)

	n, err := store.CountChunks(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, store.DeleteChunks(ctx, fileID))
	_, err = store.ReadChunks(ctx, fileID)
	assert.ErrorIs(t, err, ErrNoChunks)

	require.NoError(t, store.DeleteChunks(ctx, fileID), "deleting again is a no-op")
}

func TestWriteChunksDuplicateIndexRejected(t *testing.T) {
	db := testDB(t)
	store := NewGormStore(db)
	ctx := context.Background()
	fileID := uuid.NewString()
	cleanupFile(t, db, fileID)

	// A leftover row from a half-written batch occupies index 1; the unique
	// (file_id, chunk_index) key must reject the colliding insert.
	require.NoError(t, db.Create(&model.FileChunk{
		FileID:      fileID,
		ChunkIndex:  1,
		Data:        "stale",
		TotalChunks: 3,
	}).Error)

	_, err := store.WriteChunks(ctx, fileID, []string{"a", "b", "c"})
	require.Error(t, err)

	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, fileID, partial.FileID)
	assert.Equal(t, 3, partial.Total)
	assert.NotContains(t, partial.Written, 1)
	for _, index := range partial.Written {
		assert.Contains(t, []int{0, 2}, index)
	}
}

func TestReadChunksMissingFile(t *testing.T) {
	db := testDB(t)
	store := NewGormStore(db)

	_, err := store.ReadChunks(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestOrphanFileIDs(t *testing.T) {
	db := testDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	orphanID := uuid.NewString()
	ownedID := uuid.NewString()
	cleanupFile(t, db, orphanID)
	cleanupFile(t, db, ownedID)

	_, err := store.WriteChunks(ctx, orphanID, []string{"lost"})
	require.NoError(t, err)

	require.NoError(t, db.Create(&model.FileRecord{
		ID:          ownedID,
		Name:        "owned.txt",
		MimeType:    "text/plain",
		ScopeType:   model.ScopeTeam,
		TeamID:      "team-orphan-test",
		StorageType: model.StorageChunked,
		Status:      model.StatusReady,
		ChunkCount:  1,
	}).Error)
	_, err = store.WriteChunks(ctx, ownedID, []string{"kept"})
	require.NoError(t, err)

	// A cutoff in the future makes the just-written rows old enough.
	ids, err := store.OrphanFileIDs(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.Contains(t, ids, orphanID)
	assert.NotContains(t, ids, ownedID)
}
