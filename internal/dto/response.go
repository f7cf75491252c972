package dto

import "time"

// SharedWith mirrors the scope tag the client renders next to a file.
type SharedWith struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// FileInfo is the metadata view of one file.
type FileInfo struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Size           int64      `json:"size"`
	MimeType       string     `json:"type"`
	UploadedBy     string     `json:"uploaded_by"`
	UploadedByName string     `json:"uploaded_by_name"`
	UploadedAt     time.Time  `json:"uploaded_at"`
	StorageType    string     `json:"storage_type"`
	ChunkCount     int        `json:"chunk_count"`
	SharedWith     SharedWith `json:"shared_with"`
	Participants   []string   `json:"participants,omitempty"`
}

// FileUploadResult is the per-file outcome of an upload request. Failed
// files report their error without failing the whole batch.
type FileUploadResult struct {
	Name       string `json:"name"`
	FileID     string `json:"file_id,omitempty"`
	Size       int64  `json:"size,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FileListResponse pages through file metadata.
type FileListResponse struct {
	Files []FileInfo `json:"files"`
	Total int64      `json:"total"`
}
