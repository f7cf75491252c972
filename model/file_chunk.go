package model

import "time"

// FileChunk is one encoded fragment of a file's payload. The composite
// unique index rejects duplicate fragments for the same (file, index),
// so a retried write cannot leave two rows for one position.
type FileChunk struct {
	ID uint64 `gorm:"primaryKey"`

	FileID string `gorm:"column:file_id;size:36;not null;uniqueIndex:idx_file_chunk"`

	ChunkIndex  int    `gorm:"column:chunk_index;not null;uniqueIndex:idx_file_chunk"`
	Data        string `gorm:"column:data;type:longtext;not null"`
	TotalChunks int    `gorm:"column:total_chunks;not null"`

	CreatedAt time.Time
}

// TableName returns the database table name.
func (FileChunk) TableName() string {
	return "file_chunk"
}
