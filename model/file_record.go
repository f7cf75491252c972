package model

import "time"

// Upload lifecycle of a FileRecord. A record is created pending, becomes
// ready only after every chunk row is durably written and the count is
// patched back, and is marked failed when a chunk batch does not complete.
const (
	StatusPending = 0
	StatusReady   = 1
	StatusFailed  = 2
)

// Payload source backing a record. Only chunked records are written today;
// inline and url are legacy shapes that predate chunked storage and must
// stay downloadable.
const (
	StorageChunked = "chunked"
	StorageInline  = "inline"
	StorageURL     = "url"
)

const (
	ScopeTeam   = "team"
	ScopeDirect = "direct"
)

// Scope identifies where a file is shared: a team space or a direct
// conversation between exactly two users.
type Scope struct {
	Type         string
	TeamID       string
	Participants [2]string
}

// TeamScope returns the scope for a team file space.
func TeamScope(teamID string) Scope {
	return Scope{Type: ScopeTeam, TeamID: teamID}
}

// DirectScope returns the scope for a two-user conversation. Participants
// are stored sorted so the pair addresses the same space from either side.
func DirectScope(a, b string) Scope {
	if b < a {
		a, b = b, a
	}
	return Scope{Type: ScopeDirect, Participants: [2]string{a, b}}
}

type FileRecord struct {
	ID string `gorm:"primaryKey;size:36"`

	Name     string `gorm:"column:name;size:255;not null"`
	MimeType string `gorm:"column:mime_type;size:128;not null"`
	Size     int64  `gorm:"column:size;not null"`

	UploadedBy     string `gorm:"column:uploaded_by;size:36;not null;index"`
	UploadedByName string `gorm:"column:uploaded_by_name;size:255"`

	ScopeType    string `gorm:"column:scope_type;size:16;not null;index:idx_scope"`
	TeamID       string `gorm:"column:team_id;size:36;index:idx_scope"`
	ParticipantA string `gorm:"column:participant_a;size:36;index:idx_participants"`
	ParticipantB string `gorm:"column:participant_b;size:36;index:idx_participants"`

	StorageType string `gorm:"column:storage_type;size:16;not null;default:chunked"`
	ChunkCount  int    `gorm:"column:chunk_count;not null;default:0"`
	Status      int    `gorm:"column:status;not null;default:0"`

	// Legacy payload fields, never set on new uploads.
	InlineData string `gorm:"column:inline_data;type:longtext"`
	URL        string `gorm:"column:url;size:1024"`
	Bucket     string `gorm:"column:bucket;size:64"`
	Object     string `gorm:"column:object;size:512"`

	UploadedAt time.Time `gorm:"column:uploaded_at;autoCreateTime;index"`
}

// TableName returns the database table name.
func (FileRecord) TableName() string {
	return "file_record"
}

// SetScope copies a sharing scope onto the record's columns.
func (r *FileRecord) SetScope(s Scope) {
	r.ScopeType = s.Type
	r.TeamID = s.TeamID
	r.ParticipantA = s.Participants[0]
	r.ParticipantB = s.Participants[1]
}

// Scope reconstructs the sharing scope from the record's columns.
func (r *FileRecord) Scope() Scope {
	if r.ScopeType == ScopeDirect {
		return DirectScope(r.ParticipantA, r.ParticipantB)
	}
	return TeamScope(r.TeamID)
}

// Variant resolves which payload source backs the record. Resolved once at
// read time instead of probing optional fields at every call site.
func (r *FileRecord) Variant() string {
	if r.StorageType == StorageChunked || r.ChunkCount > 0 {
		return StorageChunked
	}
	if r.InlineData != "" {
		return StorageInline
	}
	if r.URL != "" || r.Object != "" {
		return StorageURL
	}
	return StorageChunked
}
