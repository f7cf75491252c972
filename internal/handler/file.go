package handler

import (
	"Loop/internal/chunker"
	"Loop/internal/codec"
	"Loop/internal/dto"
	"Loop/internal/service"
	"Loop/model"
	"Loop/utils"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
)

// FileHandler exposes the file vault over HTTP.
type FileHandler struct {
	manager *service.FileManager
}

// NewFileHandler wires the handler to its file manager.
func NewFileHandler(manager *service.FileManager) *FileHandler {
	return &FileHandler{manager: manager}
}

// scopeFromRequest resolves the sharing scope for the calling user. A
// team id selects the team file space; a peer id selects the direct
// conversation between the caller and that user.
func scopeFromRequest(c *gin.Context, teamID, peerID string) (model.Scope, error) {
	if teamID != "" {
		return model.TeamScope(teamID), nil
	}
	if peerID != "" {
		userID := c.MustGet("user_id").(string)
		return model.DirectScope(userID, peerID), nil
	}
	return model.Scope{}, errors.New("team_id or peer_id required")
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// Upload stores one or more files into a scope. Files are processed
// independently: a failed file reports its error in the per-file results
// and never aborts its siblings.
func (h *FileHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files required"})
		return
	}

	scope, err := scopeFromRequest(c, c.PostForm("team_id"), c.PostForm("peer_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.MustGet("user_id").(string)
	username, _ := c.Get("username")
	ownerName, _ := username.(string)

	inputs := make([]service.UploadInput, 0, len(fileHeaders))
	results := make([]dto.FileUploadResult, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		payload, err := readUpload(fh)
		if err != nil {
			results = append(results, dto.FileUploadResult{
				Name:  fh.Filename,
				Error: "read upload: " + err.Error(),
			})
			continue
		}
		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		inputs = append(inputs, service.UploadInput{
			Payload: payload,
			Meta: service.UploadMeta{
				Name:      fh.Filename,
				MimeType:  mimeType,
				OwnerID:   userID,
				OwnerName: ownerName,
				Scope:     scope,
			},
		})
	}

	for _, result := range h.manager.UploadMany(c.Request.Context(), inputs) {
		out := dto.FileUploadResult{Name: result.Name}
		if result.Err != nil {
			out.Error = uploadErrorMessage(result.Err)
		} else {
			out.FileID = result.Record.ID
			out.Size = result.Record.Size
			out.ChunkCount = result.Record.ChunkCount
		}
		results = append(results, out)
	}

	utils.Success(c, results)
}

// uploadErrorMessage folds internal failures into something the client
// can show; details stay in the server log.
func uploadErrorMessage(err error) string {
	log.Printf("upload failed: %v", err)
	return "upload failed, please retry"
}

// Download streams the reconstructed payload.
func (h *FileHandler) Download(c *gin.Context) {
	fileID := c.Param("fileID")
	payload, record, err := h.manager.Download(c.Request.Context(), fileID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileNotFound), errors.Is(err, service.ErrNoPayload):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		case errors.Is(err, service.ErrIncompleteFile):
			c.JSON(http.StatusConflict, gin.H{"error": "file is incomplete, ask the owner to re-upload"})
		case errors.Is(err, chunker.ErrReassembly), errors.Is(err, codec.ErrDecode):
			log.Printf("download %s: corrupt payload: %v", fileID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to download file"})
		default:
			log.Printf("download %s: %v", fileID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to download file"})
		}
		return
	}

	name := utils.SanitizeHeaderFilename(record.Name)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	c.Data(http.StatusOK, record.MimeType, payload)
}

// Delete removes a file and its fragments. Deleting twice succeeds both
// times.
func (h *FileHandler) Delete(c *gin.Context) {
	var req dto.FileDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := h.manager.Delete(c.Request.Context(), req.FileID); err != nil {
		log.Printf("delete %s: %v", req.FileID, err)
		utils.Fail(c, errors.New("failed to delete file"))
		return
	}
	utils.Success(c, gin.H{"file_id": req.FileID})
}

// List returns file metadata in a scope, filtered and sorted.
func (h *FileHandler) List(c *gin.Context) {
	var req dto.FileListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	h.list(c, req)
}

// Search is List with a required name filter.
func (h *FileHandler) Search(c *gin.Context) {
	var req dto.FileListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query required"})
		return
	}
	h.list(c, req)
}

func (h *FileHandler) list(c *gin.Context, req dto.FileListRequest) {
	scope, err := scopeFromRequest(c, req.TeamID, req.PeerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, total, err := h.manager.List(c.Request.Context(), scope, service.ListOptions{
		Query:     req.Query,
		OrderBy:   req.OrderBy,
		OrderDesc: req.OrderDesc,
		Page:      req.Page,
		PageSize:  req.PageSize,
	})
	if err != nil {
		log.Printf("list files: %v", err)
		utils.Fail(c, errors.New("failed to load files"))
		return
	}

	files := make([]dto.FileInfo, 0, len(records))
	for _, record := range records {
		files = append(files, toFileInfo(&record))
	}
	utils.Success(c, dto.FileListResponse{Files: files, Total: total})
}

func toFileInfo(record *model.FileRecord) dto.FileInfo {
	info := dto.FileInfo{
		ID:             record.ID,
		Name:           record.Name,
		Size:           record.Size,
		MimeType:       record.MimeType,
		UploadedBy:     record.UploadedBy,
		UploadedByName: record.UploadedByName,
		UploadedAt:     record.UploadedAt,
		StorageType:    record.Variant(),
		ChunkCount:     record.ChunkCount,
	}
	if record.ScopeType == model.ScopeDirect {
		info.SharedWith = dto.SharedWith{Type: "user", ID: record.ParticipantB}
		info.Participants = []string{record.ParticipantA, record.ParticipantB}
	} else {
		info.SharedWith = dto.SharedWith{Type: "team", ID: record.TeamID}
	}
	return info
}
