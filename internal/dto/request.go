package dto

// FileListRequest narrows a metadata listing. Exactly one of TeamID or
// PeerID selects the scope; PeerID means the direct conversation between
// the caller and that user.
type FileListRequest struct {
	TeamID    string `json:"team_id"`
	PeerID    string `json:"peer_id"`
	Query     string `json:"query"`
	OrderBy   string `json:"order_by"`   // date, name or size
	OrderDesc bool   `json:"order_desc"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
}

type FileDeleteRequest struct {
	FileID string `json:"file_id" binding:"required"`
}
